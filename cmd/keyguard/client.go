package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/keyguard/internal/bridge"
	"github.com/hazyhaar/keyguard/internal/lint"
)

var (
	serverURL   string
	serverToken string
)

func readAllStdin() ([]byte, error) { return io.ReadAll(os.Stdin) }

var runCmd = &cobra.Command{
	Use:   "run <script|-|@file>",
	Short: "Run a script in the active tab of a running keyguard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := readScript(args[0])
		if err != nil {
			return err
		}
		t := bridge.NewHTTP(strings.TrimRight(serverURL, "/")+"/api/bridge", bridge.WithBearerToken(serverToken))
		resp, err := bridge.NewClient(t, bridge.WithClientLogger(logger)).Run(cmd.Context(), code)
		if err != nil {
			return err
		}
		if err := printJSON(resp); err != nil {
			return err
		}
		if !resp.OK() {
			return fmt.Errorf("script failed: %s", resp.Err())
		}
		return nil
	},
}

var pressCmd = &cobra.Command{
	Use:   "press <chord>...",
	Short: "Press keys in the active tab of a running keyguard, e.g. Ctrl+S Enter",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 30 * time.Second}
		for _, chord := range args {
			body, _ := json.Marshal(map[string]string{"chord": chord})
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
				strings.TrimRight(serverURL, "/")+"/api/keys", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			if serverToken != "" {
				req.Header.Set("Authorization", "Bearer "+serverToken)
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("press %s: status %d: %s", chord, resp.StatusCode, bytes.TrimSpace(data))
			}
			fmt.Fprintf(os.Stdout, "%s\t%s\n", chord, bytes.TrimSpace(data))
		}
		return nil
	},
}

var lintCmd = &cobra.Command{
	Use:   "lint <script|-|@file>",
	Short: "Syntax-check a script without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		code, err := readScript(args[0])
		if err != nil {
			return err
		}
		res := lint.Check(code)
		if err := printJSON(res); err != nil {
			return err
		}
		if !res.OK {
			return fmt.Errorf("%d syntax error(s)", len(res.Errors))
		}
		return nil
	},
}

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token <token>",
	Short: "Print the bcrypt hash to put in server.token_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		fmt.Println(string(hash))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, pressCmd} {
		c.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:8790", "keyguard server URL")
		c.Flags().StringVar(&serverToken, "token", os.Getenv("KEYGUARD_TOKEN"), "bearer token (default $KEYGUARD_TOKEN)")
	}
	rootCmd.AddCommand(runCmd, pressCmd, lintCmd, hashTokenCmd)
}
