package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNoActiveTab is returned by a TabResolver when no tab is focused.
var ErrNoActiveTab = errors.New("bridge: no active tab")

// Tab identifies a debuggable page.
type Tab struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// TabResolver finds the active tab of the current window.
type TabResolver interface {
	ActiveTab(ctx context.Context) (Tab, error)
}

// Session is one debugger attachment to a tab. ID is empty when the
// attach did not succeed.
type Session struct {
	TabID string
	ID    string
}

// Debugger is the debugging-protocol surface the executor drives. Detach
// only releases the given session; a Session with an empty ID releases
// nothing, so a failed run cannot tear down another run's attachment.
type Debugger interface {
	Attach(ctx context.Context, tabID, version string) (Session, error)
	SendCommand(ctx context.Context, s Session, method string, params any) (json.RawMessage, error)
	Detach(ctx context.Context, s Session) error
}

// DefaultTimeout bounds attach, enable and evaluate for one run.
const DefaultTimeout = 30 * time.Second

const detachTimeout = 5 * time.Second

// Executor answers run requests. Runs are independent: each attaches,
// evaluates and detaches on its own.
type Executor struct {
	tabs    TabResolver
	dbg     Debugger
	timeout time.Duration
	logger  *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeout bounds a run. Zero disables the bound.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithExecutorLogger sets a custom logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor over tabs and dbg.
func NewExecutor(tabs TabResolver, dbg Debugger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		tabs:    tabs,
		dbg:     dbg,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Handle answers req. Requests of another type return ErrUnknownType.
func (e *Executor) Handle(ctx context.Context, req Request) (Response, error) {
	if req.Type != TypeRunCustomScript {
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownType, req.Type)
	}
	return e.Execute(ctx, req.Code), nil
}

// Execute evaluates code in the active tab. Failures are reported in the
// Response, never as a Go error.
func (e *Executor) Execute(ctx context.Context, code string) Response {
	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	tab, err := e.tabs.ActiveTab(runCtx)
	if err != nil || tab.ID == "" {
		if err != nil && !errors.Is(err, ErrNoActiveTab) {
			e.logger.Warn("bridge: resolve tab failed", "error", err)
		}
		return noActiveTab()
	}

	var resp Response
	sess, err := e.dbg.Attach(runCtx, tab.ID, ProtocolVersion)
	if err != nil {
		e.logger.Error("bridge: attach failed", "tab", tab.ID, "error", err)
		resp = failure(AttachErrorName, "Debugger Attach Failed: "+err.Error())
		sess = Session{TabID: tab.ID}
	} else {
		resp = e.evaluate(runCtx, sess, code)
	}

	// Detach on a fresh context so a timed-out run still releases the tab.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachTimeout)
	defer cancel()
	if err := e.dbg.Detach(dctx, sess); err != nil {
		e.logger.Debug("bridge: detach failed", "tab", tab.ID, "error", err)
	}

	e.logger.Info("bridge: run finished", "tab", tab.ID, "url", tab.URL, "status", resp.Status)
	return resp
}

func (e *Executor) evaluate(ctx context.Context, sess Session, code string) Response {
	tabID := sess.TabID
	if _, err := e.dbg.SendCommand(ctx, sess, "Runtime.enable", nil); err != nil {
		return e.commandFailed(tabID, err)
	}
	raw, err := e.dbg.SendCommand(ctx, sess, "Runtime.evaluate", EvaluateParams{
		Expression:            code,
		IncludeCommandLineAPI: true,
		AwaitPromise:          true,
		UserGesture:           true,
		ReturnByValue:         true,
	})
	if err != nil {
		return e.commandFailed(tabID, err)
	}

	var res EvaluateResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			return e.commandFailed(tabID, fmt.Errorf("decode evaluate reply: %w", err))
		}
	}
	if d := res.ExceptionDetails; d != nil {
		details := &ExceptionDetails{Description: d.Text}
		if d.Exception != nil {
			details.Name = d.Exception.ClassName
			details.Description = d.Exception.Description
		}
		return Response{Status: StatusException, ExceptionDetails: details}
	}

	resp := Response{Status: StatusOK}
	if res.Result != nil && len(res.Result.Value) > 0 {
		resp.Result = res.Result.Value
	}
	return resp
}

func (e *Executor) commandFailed(tabID string, err error) Response {
	e.logger.Error("bridge: command failed", "tab", tabID, "error", err)
	return failure(SendCommandErrorName, "Debugger Command Failed: "+err.Error())
}
