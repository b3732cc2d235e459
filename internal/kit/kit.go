// Package kit is the endpoint layer shared by the HTTP API and the MCP
// tools.
package kit

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Endpoint handles one decoded request.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain applies mws so that mws[0] runs first.
func Chain(mws ...Middleware) Middleware {
	return func(ep Endpoint) Endpoint {
		for i := range mws {
			ep = mws[len(mws)-1-i](ep)
		}
		return ep
	}
}

// Logging records each call of the endpoint called name. Failures are
// logged at warn, successes at debug.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ep Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			began := time.Now()
			out, err := ep(ctx, req)

			call := CallFrom(ctx)
			l := logger.With("endpoint", name, "transport", call.Transport,
				"elapsed_ms", time.Since(began).Milliseconds())
			if call.TraceID != "" {
				l = l.With("trace_id", call.TraceID)
			}
			if err != nil {
				l.WarnContext(ctx, "endpoint error", "error", err)
				return out, err
			}
			l.DebugContext(ctx, "endpoint ok")
			return out, nil
		}
	}
}

// ErrPanic wraps a value recovered from a panicking endpoint.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("kit: endpoint panic: %v", e.Value)
}

// Recovery turns a panic in the endpoint into an *ErrPanic.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ep Endpoint) Endpoint {
		return func(ctx context.Context, req any) (out any, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "endpoint panic recovered",
						"panic", r, "stack", string(debug.Stack()))
					out, err = nil, &ErrPanic{Value: r}
				}
			}()
			return ep(ctx, req)
		}
	}
}
