// Package sink delivers script-run results and keystroke decisions to
// output backends. It is where non-200 runs become visible to whoever
// configured the rule.
package sink

import (
	"context"
	"time"

	"github.com/hazyhaar/keyguard/internal/bridge"
)

// KeyRecord describes one keystroke the gateway handled.
type KeyRecord struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Code      string    `json:"code"`
	Command   string    `json:"command,omitempty"`
	Decision  string    `json:"decision"`
	URL       string    `json:"url,omitempty"`
	Forwarded bool      `json:"forwarded"`
}

// Sink is the output interface. Implementations deliver records to
// different backends (stdout, webhook, in-process callback).
type Sink interface {
	SendRun(ctx context.Context, run bridge.Run) error
	SendKey(ctx context.Context, rec KeyRecord) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
