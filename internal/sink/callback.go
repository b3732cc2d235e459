package sink

import (
	"context"

	"github.com/hazyhaar/keyguard/internal/bridge"
)

// RunFunc is called for each finished run.
type RunFunc func(ctx context.Context, run bridge.Run) error

// KeyFunc is called for each handled keystroke.
type KeyFunc func(ctx context.Context, rec KeyRecord) error

// Callback delivers records through Go function calls, for embedding
// keyguard in a larger process.
type Callback struct {
	onRun RunFunc
	onKey KeyFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onRun RunFunc, onKey KeyFunc) *Callback {
	return &Callback{onRun: onRun, onKey: onKey}
}

func (c *Callback) SendRun(ctx context.Context, run bridge.Run) error {
	if c.onRun != nil {
		return c.onRun(ctx, run)
	}
	return nil
}

func (c *Callback) SendKey(ctx context.Context, rec KeyRecord) error {
	if c.onKey != nil {
		return c.onKey(ctx, rec)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
