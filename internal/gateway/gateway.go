// Package gateway is the only path by which keystrokes reach the page.
// Each keydown is judged by the interceptor against the active tab's URL
// before it is delivered, so a suppressed key is never seen by the page.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/keyguard/internal/bridge"
	"github.com/hazyhaar/keyguard/internal/idgen"
	"github.com/hazyhaar/keyguard/internal/intercept"
	"github.com/hazyhaar/keyguard/internal/keyevent"
	"github.com/hazyhaar/keyguard/internal/sink"
)

// KeySender delivers an allowed key to a tab.
type KeySender interface {
	DispatchKey(ctx context.Context, tabID string, ev keyevent.Event) error
}

// KeySink receives one record per handled key.
type KeySink interface {
	SendKey(ctx context.Context, rec sink.KeyRecord) error
}

// Result reports what happened to one keystroke.
type Result struct {
	Decision  string `json:"decision"`
	Command   string `json:"command,omitempty"`
	Forwarded bool   `json:"forwarded"`
	TabID     string `json:"tab_id"`
	URL       string `json:"url"`
}

// Gateway judges and forwards keystrokes.
type Gateway struct {
	ic     *intercept.Interceptor
	tabs   bridge.TabResolver
	keys   KeySender
	sink   KeySink
	ids    idgen.Generator
	logger *slog.Logger

	mu      sync.Mutex
	lastTab string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithSink reports every key to s.
func WithSink(s KeySink) Option {
	return func(g *Gateway) { g.sink = s }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a Gateway.
func New(ic *intercept.Interceptor, tabs bridge.TabResolver, keys KeySender, opts ...Option) *Gateway {
	g := &Gateway{
		ic:     ic,
		tabs:   tabs,
		keys:   keys,
		ids:    idgen.Prefixed("key_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Press runs one keydown through the interceptor and forwards it to the
// active tab when allowed.
func (g *Gateway) Press(ctx context.Context, ev keyevent.Event) (Result, error) {
	if ev.Code == "" {
		return Result{}, fmt.Errorf("%w: empty code", ErrInvalidKey)
	}
	tab, err := g.tabs.ActiveTab(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("gateway: %w", err)
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	// Each page has its own debounce state.
	g.mu.Lock()
	switched := g.lastTab != "" && g.lastTab != tab.ID
	g.lastTab = tab.ID
	g.mu.Unlock()
	if switched {
		g.ic.Reset()
	}

	decision := g.ic.HandleKeydown(&ev, tab.URL)
	res := Result{Decision: decision.String(), TabID: tab.ID, URL: tab.URL}
	if cmd, ok := keyevent.Classify(ev); ok {
		res.Command = string(cmd)
	}

	if !ev.Suppressed() {
		if err := g.keys.DispatchKey(ctx, tab.ID, ev); err != nil {
			return res, fmt.Errorf("gateway: forward: %w", err)
		}
		res.Forwarded = true
	}

	if g.sink != nil {
		rec := sink.KeyRecord{
			ID:        g.ids(),
			Time:      ev.Time.UTC(),
			Code:      ev.Code,
			Command:   res.Command,
			Decision:  res.Decision,
			URL:       tab.URL,
			Forwarded: res.Forwarded,
		}
		if err := g.sink.SendKey(ctx, rec); err != nil {
			g.logger.Warn("gateway: report failed", "error", err)
		}
	}
	return res, nil
}
