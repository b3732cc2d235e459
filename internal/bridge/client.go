package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/keyguard/internal/idgen"
	"github.com/hazyhaar/keyguard/internal/keyevent"
)

// Reporter receives the record of every finished run.
type Reporter interface {
	SendRun(ctx context.Context, run Run) error
}

// Client is the requester side of the bridge.
type Client struct {
	transport Transport
	reporter  Reporter
	ids       idgen.Generator
	logger    *slog.Logger

	wg sync.WaitGroup
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithReporter delivers run records to r.
func WithReporter(r Reporter) ClientOption {
	return func(c *Client) { c.reporter = r }
}

// WithIDGenerator sets the run ID generator.
func WithIDGenerator(g idgen.Generator) ClientOption {
	return func(c *Client) { c.ids = g }
}

// WithClientLogger sets a custom logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client sending requests over t.
func NewClient(t Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: t,
		ids:       idgen.Prefixed("run_", idgen.Default),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Run evaluates code and waits for the Response. The error is non-nil only
// when the request could not be delivered.
func (c *Client) Run(ctx context.Context, code string) (Response, error) {
	run, err := c.do(ctx, "", code)
	return run.Response, err
}

// Dispatch starts a run for a shortcut and returns at once. The result is
// delivered to the reporter only.
func (c *Client) Dispatch(cmd keyevent.Command, script string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.do(context.Background(), string(cmd), script)
	}()
}

// Wait blocks until every dispatched run has finished.
func (c *Client) Wait() { c.wg.Wait() }

func (c *Client) do(ctx context.Context, cmd, code string) (Run, error) {
	run := Run{
		ID:        c.ids(),
		Command:   cmd,
		Code:      code,
		StartedAt: time.Now().UTC(),
	}
	resp, err := c.transport.RoundTrip(ctx, NewRequest(code))
	run.Duration = time.Since(run.StartedAt).Milliseconds()
	run.Response = resp
	if err != nil {
		run.Error = err.Error()
		c.logger.Error("bridge: run not delivered", "run", run.ID, "command", cmd, "error", err)
	} else if !resp.OK() {
		c.logger.Warn("bridge: run failed", "run", run.ID, "command", cmd, "status", resp.Status, "detail", resp.Err())
	}

	if c.reporter != nil {
		if err := c.reporter.SendRun(context.WithoutCancel(ctx), run); err != nil {
			c.logger.Warn("bridge: report failed", "run", run.ID, "error", err)
		}
	}
	return run, err
}
