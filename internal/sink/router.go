package sink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/keyguard/internal/bridge"
)

// Router delivers every record to all of its sinks. A failing sink does
// not stop delivery to the others; the failures are logged and joined.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a Router over sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Len returns the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) SendRun(ctx context.Context, run bridge.Run) error {
	return r.each("run", func(s Sink) error { return s.SendRun(ctx, run) })
}

func (r *Router) SendKey(ctx context.Context, rec KeyRecord) error {
	return r.each("key", func(s Sink) error { return s.SendKey(ctx, rec) })
}

func (r *Router) Close() error {
	var errs []error
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

func (r *Router) each(what string, send func(Sink) error) error {
	var errs []error
	for i, s := range r.sinks {
		if err := send(s); err != nil {
			r.logger.Warn("sink: delivery failed", "record", what, "sink", i, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
