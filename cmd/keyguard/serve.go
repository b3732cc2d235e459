package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/keyguard/internal/server"
)

const version = "0.3.0"

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start Chrome and serve the HTTP API, the script bridge and MCP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		a, err := startApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "keyguard", Version: version}, nil)
		a.svc.RegisterMCP(mcpSrv)

		h := server.New(a.svc,
			server.WithExecutor(a.exec),
			server.WithMCP(mcpSrv),
			server.WithTokenHash(cfg.Server.TokenHash),
			server.WithLogger(logger),
		).Handler()

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.Bridge.Timeout + 30*time.Second,
			IdleTimeout:       60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("server starting", "addr", cfg.Server.Addr, "auth", cfg.Server.TokenHash != "")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return err
			}
		}
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
		logger.Info("server stopped")
		return nil
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start Chrome and serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := startApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := mcp.NewServer(&mcp.Implementation{Name: "keyguard", Version: version}, nil)
		a.svc.RegisterMCP(srv)
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd, mcpCmd)
}
