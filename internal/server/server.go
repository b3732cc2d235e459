// Package server exposes the keyguard operations over HTTP with chi, and
// mounts the MCP tools and the executor side of the script bridge.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/keyguard/internal/bridge"
	"github.com/hazyhaar/keyguard/internal/rules"
	"github.com/hazyhaar/keyguard/internal/service"
)

const maxBody = 1 << 20

// Server routes HTTP requests to the service.
type Server struct {
	svc       *service.Service
	exec      *bridge.Executor
	mcp       *mcp.Server
	tokenHash string
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithExecutor serves the bridge executor at /api/bridge so other
// instances can run scripts in this browser.
func WithExecutor(e *bridge.Executor) Option {
	return func(s *Server) { s.exec = e }
}

// WithMCP serves srv over streamable HTTP at /mcp.
func WithMCP(srv *mcp.Server) Option {
	return func(s *Server) { s.mcp = srv }
}

// WithTokenHash requires a bearer token matching the bcrypt hash on every
// route except /healthz.
func WithTokenHash(hash string) Option {
	return func(s *Server) { s.tokenHash = hash }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server.
func New(svc *service.Service, opts ...Option) *Server {
	s := &Server{svc: svc, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(securityHeaders)
	r.Use(s.traceID)
	r.Use(limitBody(maxBody))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if s.tokenHash != "" {
			r.Use(requireToken(s.tokenHash))
		}

		r.Post("/api/keys", s.handlePress)
		r.Post("/api/run", s.handleRun)
		r.Post("/api/lint", s.handleLint)
		if s.exec != nil {
			r.Method(http.MethodPost, "/api/bridge", bridge.Handler(s.exec, s.logger))
		}

		r.Route("/api/rules", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, s.svc.ListRules())
			})
			r.Put("/do-nothing/{command}", s.handleSetDoNothing)
			r.Put("/custom/{command}", s.handleSetCustom)
			r.Put("/{kind}/{command}/active", s.handleSetActive)
			r.Delete("/{kind}/{command}", s.handleDelete)
			r.Get("/extension", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, s.svc.Rules.Extension())
			})
			r.Put("/extension", s.handleSetExtension)
		})

		r.Route("/api/tabs", func(r chi.Router) {
			r.Get("/", s.handleListTabs)
			r.Post("/", s.handleOpenTab)
			r.Post("/{id}/activate", s.handleActivateTab)
		})

		if s.mcp != nil {
			srv := s.mcp
			r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
		}
	})
	return r
}

func (s *Server) handlePress(w http.ResponseWriter, r *http.Request) {
	var req service.PressRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.Press(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type codeReq struct {
	Code string `json:"code"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req codeReq
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.svc.RunScript(r.Context(), req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLint(w http.ResponseWriter, r *http.Request) {
	var req codeReq
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Lint(req.Code))
}

func (s *Server) handleSetDoNothing(w http.ResponseWriter, r *http.Request) {
	var req service.DoNothingRequest
	if !decode(w, r, &req) {
		return
	}
	req.Command = chi.URLParam(r, "command")
	res, err := s.svc.SetDoNothing(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSetCustom(w http.ResponseWriter, r *http.Request) {
	var req service.CustomRequest
	if !decode(w, r, &req) {
		return
	}
	req.Command = chi.URLParam(r, "command")
	res, err := s.svc.SetCustom(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsActive bool `json:"isActive"`
	}
	if !decode(w, r, &req) {
		return
	}
	cmd := chi.URLParam(r, "command")
	if err := s.svc.SetActive(r.Context(), chi.URLParam(r, "kind"), cmd, req.IsActive); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"command": cmd, "isActive": req.IsActive})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	cmd := chi.URLParam(r, "command")
	if err := s.svc.DeleteRule(r.Context(), chi.URLParam(r, "kind"), cmd); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "command": cmd})
}

func (s *Server) handleSetExtension(w http.ResponseWriter, r *http.Request) {
	var req rules.ExtensionRule
	if !decode(w, r, &req) {
		return
	}
	ext, err := s.svc.SetDelayEnter(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ext)
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request) {
	tabs, err := s.svc.ListTabs(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tabs)
}

func (s *Server) handleOpenTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}
	tab, err := s.svc.OpenTab(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tab)
}

func (s *Server) handleActivateTab(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.ActivateTab(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active", "id": id})
}

// --- Helpers ---

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case service.IsBadRequest(err):
		code = http.StatusBadRequest
	case errors.Is(err, bridge.ErrNoActiveTab):
		code = http.StatusConflict
	case errors.Is(err, service.ErrNoTabs):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		logger(r.Context(), s.logger).Error("server: request failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
