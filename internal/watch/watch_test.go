package watch_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/keyguard/internal/dbopen"
	"github.com/hazyhaar/keyguard/internal/watch"
)

func TestRun_FiresOnVersionBump(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE t (v INTEGER)`))
	w := watch.New(db, watch.MaxColumn("t", "v"), 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired atomic.Int64
	go w.Run(ctx, func(context.Context) error {
		fired.Add(1)
		return nil
	})

	time.Sleep(30 * time.Millisecond)
	if _, err := db.Exec(`INSERT INTO t (v) VALUES (7)`); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fired.Load() != 1 {
		t.Fatalf("fired: got %d, want 1", fired.Load())
	}

	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("fired after quiet period: got %d, want 1", fired.Load())
	}
	if w.Version() != 7 {
		t.Fatalf("Version: got %d, want 7", w.Version())
	}
}

func TestRun_RetriesFailedAction(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE t (v INTEGER)`))
	w := watch.New(db, watch.MaxColumn("t", "v"), 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int64
	go w.Run(ctx, func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	time.Sleep(30 * time.Millisecond)
	if _, err := db.Exec(`INSERT INTO t (v) VALUES (1)`); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for w.Version() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if w.Version() != 1 {
		t.Fatalf("Version: got %d, want 1 after retry", w.Version())
	}
	if calls.Load() < 2 {
		t.Fatalf("calls: got %d, want >= 2", calls.Load())
	}
	if w.Failures() == 0 {
		t.Fatal("Failures = 0, want the failed action counted")
	}
}
