package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/keyguard/internal/dbopen"
)

func TestDSN(t *testing.T) {
	dsn := dbopen.DSN("kg.db", 2500*time.Millisecond)
	if !strings.HasPrefix(dsn, "kg.db?") {
		t.Fatalf("dsn: got %q", dsn)
	}
	for _, want := range []string{"busy_timeout%282500%29", "journal_mode%28WAL%29"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q: missing %s", dsn, want)
		}
	}
}

func TestOpenMemory_BusyTimeout(t *testing.T) {
	db := dbopen.OpenMemory(t)

	var ms int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&ms); err != nil {
		t.Fatal(err)
	}
	if ms != 10_000 {
		t.Fatalf("busy_timeout: got %d, want 10000", ms)
	}
}

func TestOpen_FileWithSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kg.db")
	db, err := dbopen.Open(path,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(`CREATE TABLE IF NOT EXISTS t (k TEXT PRIMARY KEY)`))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode: got %q, want wal", mode)
	}
	if _, err := db.Exec(`INSERT INTO t (k) VALUES ('a')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestRunTx_RollbackOnError(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE t (k TEXT PRIMARY KEY)`))
	boom := errors.New("boom")

	err := dbopen.RunTx(context.Background(), db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (k) VALUES ('a')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunTx: got %v, want boom", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("rows after rollback: got %d, want 0", n)
	}
}

func TestIsBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kg.db")
	holder, err := dbopen.Open(path, dbopen.WithSchema(`CREATE TABLE t (k TEXT)`))
	if err != nil {
		t.Fatal(err)
	}
	defer holder.Close()
	waiter, err := dbopen.Open(path, dbopen.WithBusyTimeout(0))
	if err != nil {
		t.Fatal(err)
	}
	defer waiter.Close()

	ctx := context.Background()
	tx, err := holder.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`INSERT INTO t (k) VALUES ('held')`); err != nil {
		t.Fatal(err)
	}

	_, err = waiter.Exec(`INSERT INTO t (k) VALUES ('blocked')`)
	if !dbopen.IsBusy(err) {
		t.Fatalf("IsBusy(%v): got false, want true", err)
	}
	if dbopen.IsBusy(nil) || dbopen.IsBusy(errors.New("database is locked")) {
		t.Fatal("IsBusy: true for a non-sqlite error")
	}
}
