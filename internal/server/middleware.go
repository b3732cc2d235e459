package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/keyguard/internal/idgen"
	"github.com/hazyhaar/keyguard/internal/kit"
)

type contextKey string

const loggerKey contextKey = "server_logger"

// securityHeaders sets the headers an API that never serves HTML needs.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// traceID tags each request with an ID carried in the context, the
// X-Trace-ID response header and a per-request logger.
func (s *Server) traceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Trace-ID")
		if len(id) > 64 || !idgen.Valid(id) {
			id = idgen.New()
		}
		w.Header().Set("X-Trace-ID", id)

		ctx := kit.WithCall(r.Context(), kit.Call{Transport: "http", TraceID: id, RemoteAddr: r.RemoteAddr})
		l := s.logger.With(
			"trace_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		ctx = context.WithValue(ctx, loggerKey, l)
		l.Debug("request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func logger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return fallback
}

func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// tokenCheck verifies bearer tokens against a bcrypt hash and caches the
// last accepted token. mu guards accepted only.
type tokenCheck struct {
	hash    []byte
	compare func(hash, password []byte) error

	mu       sync.Mutex
	accepted string
}

func (c *tokenCheck) ok(token string) bool {
	c.mu.Lock()
	cached := c.accepted
	c.mu.Unlock()
	if cached != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cached)) == 1 {
		return true
	}
	if c.compare(c.hash, []byte(token)) != nil {
		return false
	}
	c.mu.Lock()
	c.accepted = token
	c.mu.Unlock()
	return true
}

// requireToken checks the bearer token against a bcrypt hash.
func requireToken(hash string) func(http.Handler) http.Handler {
	check := &tokenCheck{hash: []byte(hash), compare: bcrypt.CompareHashAndPassword}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" || !check.ok(token) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="keyguard"`)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
