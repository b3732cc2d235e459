package kit

import "context"

// Call describes where an endpoint invocation came from.
type Call struct {
	Transport  string // "http" or "mcp"
	TraceID    string
	RemoteAddr string
}

type callKey struct{}

// WithCall stores c in ctx, keeping fields of an enclosing Call that c
// leaves empty.
func WithCall(ctx context.Context, c Call) context.Context {
	prev := CallFrom(ctx)
	if c.Transport == "" {
		c.Transport = prev.Transport
	}
	if c.TraceID == "" {
		c.TraceID = prev.TraceID
	}
	if c.RemoteAddr == "" {
		c.RemoteAddr = prev.RemoteAddr
	}
	return context.WithValue(ctx, callKey{}, c)
}

// CallFrom returns the Call stored in ctx. Transport defaults to "http".
func CallFrom(ctx context.Context) Call {
	c, _ := ctx.Value(callKey{}).(Call)
	if c.Transport == "" {
		c.Transport = "http"
	}
	return c
}
