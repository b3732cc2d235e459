// Package watch turns writes made by other processes into change
// notifications. It polls a version read from the database and runs an
// action whenever that version moves.
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// VersionFunc reads the current version of the watched data.
type VersionFunc func(ctx context.Context, db *sql.DB) (int64, error)

// MaxColumn reads MAX(column) of table, 0 when the table is empty.
// Writers must bump the column on every change.
func MaxColumn(table, column string) VersionFunc {
	q := "SELECT COALESCE(MAX(" + ident(column) + "), 0) FROM " + ident(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, q).Scan(&v)
		return v, err
	}
}

func ident(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

// Watcher polls a VersionFunc on a fixed interval.
type Watcher struct {
	db       *sql.DB
	version  VersionFunc
	interval time.Duration
	logger   *slog.Logger

	seen     atomic.Int64
	failures atomic.Int64
}

// New creates a Watcher. interval defaults to one second.
func New(db *sql.DB, version VersionFunc, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{db: db, version: version, interval: interval, logger: logger}
}

// Version returns the last version the action was run for.
func (w *Watcher) Version() int64 { return w.seen.Load() }

// Failures counts failed version reads and failed actions.
func (w *Watcher) Failures() int64 { return w.failures.Load() }

// Run polls until ctx is done. The action runs once per observed version
// change. A failed action leaves the version unchanged so the next tick
// runs it again.
func (w *Watcher) Run(ctx context.Context, action func(context.Context) error) {
	if v, err := w.version(ctx, w.db); err == nil {
		w.seen.Store(v)
	} else {
		w.logger.Warn("watch: read version", "error", err)
	}

	tick := time.NewTicker(w.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		v, err := w.version(ctx, w.db)
		switch {
		case err != nil:
			w.failures.Add(1)
			w.logger.Warn("watch: read version", "error", err)
		case v == w.seen.Load():
		default:
			if err := action(ctx); err != nil {
				w.failures.Add(1)
				w.logger.Error("watch: change action", "version", v, "error", err)
				continue
			}
			w.seen.Store(v)
		}
	}
}
