package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/hazyhaar/keyguard/internal/bridge"
	"github.com/hazyhaar/keyguard/internal/browser"
	"github.com/hazyhaar/keyguard/internal/config"
	"github.com/hazyhaar/keyguard/internal/dbopen"
	"github.com/hazyhaar/keyguard/internal/gateway"
	"github.com/hazyhaar/keyguard/internal/intercept"
	"github.com/hazyhaar/keyguard/internal/kvstore"
	"github.com/hazyhaar/keyguard/internal/rules"
	"github.com/hazyhaar/keyguard/internal/service"
	"github.com/hazyhaar/keyguard/internal/sink"
)

// ruleStore opens the database and loads the rules. The returned close
// function releases both.
func ruleStore(ctx context.Context, cfg *config.Config) (*rules.Store, *kvstore.SQLite, func(), error) {
	db, err := dbopen.Open(cfg.Store.Path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	kv, err := kvstore.OpenSQLite(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	store := rules.New(kv, logger)
	if err := store.Load(ctx); err != nil {
		store.Close()
		db.Close()
		return nil, nil, nil, err
	}
	return store, kv, closeAll(store, db), nil
}

func closeAll(store *rules.Store, db *sql.DB) func() {
	return func() {
		store.Close()
		db.Close()
	}
}

func buildSinks(cfg *config.Config) *sink.Router {
	var sinks []sink.Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, sink.NewStdout(os.Stdout, sc.Keys))
		case "webhook":
			opts := []sink.WebhookOption{sink.WithWebhookLogger(logger)}
			if sc.Keys {
				opts = append(opts, sink.WithWebhookKeys())
			}
			sinks = append(sinks, sink.NewWebhook(sc.URL, opts...))
		case "log":
			sinks = append(sinks, logSink(logger, sc.Keys))
		}
	}
	return sink.NewRouter(logger, sinks...)
}

// logSink writes records to the process log instead of a separate stream.
func logSink(l *slog.Logger, keys bool) *sink.Callback {
	if l == nil {
		l = slog.Default()
	}
	onRun := func(ctx context.Context, run bridge.Run) error {
		l.InfoContext(ctx, "run finished", "run_id", run.ID, "command", run.Command,
			"status", run.Response.Status, "duration_ms", run.Duration, "error", run.Error)
		return nil
	}
	var onKey sink.KeyFunc
	if keys {
		onKey = func(ctx context.Context, rec sink.KeyRecord) error {
			l.InfoContext(ctx, "key handled", "key_id", rec.ID, "code", rec.Code,
				"command", rec.Command, "decision", rec.Decision, "forwarded", rec.Forwarded)
			return nil
		}
	}
	return sink.NewCallback(onRun, onKey)
}

// app is a running keyguard: browser, rules and the operations over them.
type app struct {
	svc    *service.Service
	exec   *bridge.Executor
	client *bridge.Client
	mgr    *browser.Manager
	sinks  *sink.Router
	close  func()
}

func (a *app) Close() {
	a.client.Wait()
	a.sinks.Close()
	if err := a.mgr.Close(); err != nil {
		logger.Warn("browser close", "error", err)
	}
	a.close()
}

// startApp wires every component and starts Chrome. Watching the store for
// writes from other processes runs until ctx ends.
func startApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, kv, closeStore, err := ruleStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	go kv.Watch(ctx, cfg.Store.WatchInterval)

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Mode:             browser.Mode(cfg.Browser.Mode),
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Stealth:          cfg.Browser.StealthEnabled(),
		StartURL:         cfg.Browser.StartURL,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Logger:           logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		closeStore()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	sinks := buildSinks(cfg)
	logger.Info("sinks ready", "count", sinks.Len())
	exec := bridge.NewExecutor(mgr, browser.NewDebugger(mgr),
		bridge.WithTimeout(cfg.Bridge.Timeout), bridge.WithExecutorLogger(logger))

	var transport bridge.Transport = bridge.NewLocal(exec)
	if cfg.Bridge.ExecutorURL != "" {
		transport = bridge.NewHTTP(cfg.Bridge.ExecutorURL,
			bridge.WithBearerToken(cfg.Bridge.ExecutorToken), bridge.WithRunTimeout(cfg.Bridge.Timeout))
	}
	client := bridge.NewClient(transport, bridge.WithReporter(sinks), bridge.WithClientLogger(logger))

	ic := intercept.New(store, client, intercept.WithLogger(logger))
	gw := gateway.New(ic, mgr, mgr, gateway.WithSink(sinks), gateway.WithLogger(logger))

	return &app{
		svc: &service.Service{
			Rules:   store,
			Gateway: gw,
			Runner:  client,
			Tabs:    mgr,
			Logger:  logger,
		},
		exec:   exec,
		client: client,
		mgr:    mgr,
		sinks:  sinks,
		close:  closeStore,
	}, nil
}
