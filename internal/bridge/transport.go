package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxMessage caps request and response bodies (4 MiB).
const maxMessage int64 = 4 << 20

// httpGrace is added to the run timeout to form the HTTP client timeout,
// so the executor's own timeout fires first.
const httpGrace = 10 * time.Second

// Transport carries one Request to an executor and returns its Response.
type Transport interface {
	RoundTrip(ctx context.Context, req Request) (Response, error)
}

// Local delivers requests to an executor in the same process.
type Local struct {
	exec *Executor
}

// NewLocal wraps an in-process executor.
func NewLocal(e *Executor) *Local { return &Local{exec: e} }

func (l *Local) RoundTrip(ctx context.Context, req Request) (Response, error) {
	return l.exec.Handle(ctx, req)
}

// HTTP posts requests as JSON to a remote executor endpoint.
type HTTP struct {
	url        string
	token      string
	runTimeout time.Duration
	client     *http.Client
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithBearerToken sends an Authorization header on every request.
func WithBearerToken(token string) HTTPOption {
	return func(h *HTTP) { h.token = token }
}

// WithRunTimeout matches the client timeout to the executor's run timeout.
// It has no effect together with WithHTTPClient.
func WithRunTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) { h.runTimeout = d }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// NewHTTP creates a transport targeting url, typically
// "http://host:8790/api/bridge".
func NewHTTP(url string, opts ...HTTPOption) *HTTP {
	h := &HTTP{url: url, runTimeout: DefaultTimeout}
	for _, o := range opts {
		o(h)
	}
	if h.client == nil {
		if h.runTimeout <= 0 {
			h.runTimeout = DefaultTimeout
		}
		h.client = &http.Client{Timeout: h.runTimeout + httpGrace}
	}
	return h
}

func (h *HTTP) RoundTrip(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("bridge/http: marshal: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("bridge/http: new request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		hreq.Header.Set("Authorization", "Bearer "+h.token)
	}

	hresp, err := h.client.Do(hreq)
	if err != nil {
		return Response{}, fmt.Errorf("bridge/http: do request: %w", err)
	}
	defer hresp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(hresp.Body, maxMessage))
	if err != nil {
		return Response{}, fmt.Errorf("bridge/http: read response: %w", err)
	}
	switch {
	case hresp.StatusCode == http.StatusUnprocessableEntity:
		return Response{}, fmt.Errorf("%w: %s", ErrUnknownType, bytes.TrimSpace(data))
	case hresp.StatusCode != http.StatusOK:
		return Response{}, fmt.Errorf("bridge/http: status %d: %s", hresp.StatusCode, bytes.TrimSpace(data))
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("bridge/http: decode: %w", err)
	}
	return resp, nil
}

// Handler serves the executor side of the HTTP transport. The bridge
// Response is always the body of a 200; transport problems use other
// status codes. A run outlives a dropped connection and is bounded by the
// executor's timeout instead.
func Handler(e *Executor, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(io.LimitReader(r.Body, maxMessage)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
			return
		}
		resp, err := e.Handle(context.WithoutCancel(r.Context()), req)
		if errors.Is(err, ErrUnknownType) {
			logger.Debug("bridge: ignored request", "type", req.Type)
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
