package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/keyguard/internal/dbopen"
	"github.com/hazyhaar/keyguard/internal/watch"
)

// Schema for the kv table. version is bumped on every write so that a
// MAX(version) poll sees changes from any connection or process.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLite is a Store backed by the kv table.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
	hub    hub

	// mu guards last, the snapshot notifications are diffed against.
	mu   sync.Mutex
	last map[string]string
}

// OpenSQLite prepares the schema and takes the initial snapshot. No
// notifications are emitted for values already present.
func OpenSQLite(ctx context.Context, db *sql.DB, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("kvstore: schema: %w", err)
	}
	s := &SQLite{db: db, logger: logger}
	snap, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	s.last = snap
	return s, nil
}

func (s *SQLite) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	q := `SELECT key, value FROM kv WHERE key IN (?` + strings.Repeat(",?", len(keys)-1) + `)`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("kvstore: get: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("kvstore: scan: %w", err)
		}
		out[k] = json.RawMessage(v)
	}
	return out, rows.Err()
}

func (s *SQLite) Set(ctx context.Context, items map[string]json.RawMessage) error {
	if len(items) == 0 {
		return nil
	}
	for k, v := range items {
		if !json.Valid(v) {
			return fmt.Errorf("kvstore: set %q: value is not valid JSON", k)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var ver int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM kv`).Scan(&ver); err != nil {
			return err
		}
		for k, v := range items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO kv (key, value, version, updated_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value,
					version = excluded.version, updated_at = excluded.updated_at`,
				k, string(v), ver, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kvstore: set: %w", err)
	}

	next := make(map[string]string, len(s.last)+len(items))
	for k, v := range s.last {
		next[k] = v
	}
	for k, v := range items {
		next[k] = string(v)
	}
	s.publishLocked(next)
	return nil
}

func (s *SQLite) Subscribe(l Listener) func() { return s.hub.subscribe(l) }

// Refresh re-reads the table and notifies listeners of anything written
// behind this process's back.
func (s *SQLite) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.readAll(ctx)
	if err != nil {
		return err
	}
	s.publishLocked(snap)
	return nil
}

// Watch polls for external writes until ctx is cancelled.
func (s *SQLite) Watch(ctx context.Context, interval time.Duration) {
	watch.New(s.db, watch.MaxColumn("kv", "version"), interval, s.logger).Run(ctx, s.Refresh)
}

func (s *SQLite) publishLocked(snap map[string]string) {
	changes := diff(s.last, snap)
	s.last = snap
	if len(changes) > 0 {
		keys := make([]string, len(changes))
		for i, c := range changes {
			keys[i] = c.Key
		}
		s.logger.Debug("kvstore: changed", "keys", keys)
	}
	s.hub.emit(changes)
}

func (s *SQLite) readAll(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv`)
	if err != nil {
		return nil, fmt.Errorf("kvstore: read: %w", err)
	}
	defer rows.Close()
	snap := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("kvstore: scan: %w", err)
		}
		snap[k] = v
	}
	return snap, rows.Err()
}
