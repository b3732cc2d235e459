// Package intercept decides, for every keydown, whether the key reaches the
// page. It applies the Enter debounce first, then Custom rules, then
// Do-Nothing rules, and hands matching Custom scripts to a Dispatcher
// without waiting for them.
package intercept

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/keyguard/internal/keyevent"
	"github.com/hazyhaar/keyguard/internal/rules"
	"github.com/hazyhaar/keyguard/internal/urlpattern"
)

// Rules is the read side of the rule store.
type Rules interface {
	Custom(cmd keyevent.Command) (rules.CustomRule, bool)
	DoNothing(cmd keyevent.Command) (rules.DoNothingRule, bool)
	Extension() rules.ExtensionRule
}

// Dispatcher runs a Custom script in the background. Dispatch must return
// immediately.
type Dispatcher interface {
	Dispatch(cmd keyevent.Command, script string)
}

// Decision is the outcome of one keydown.
type Decision int

const (
	Allow Decision = iota
	BlockDelayEnter
	BlockDoNothing
	BlockCustom
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case BlockDelayEnter:
		return "block_delay_enter"
	case BlockDoNothing:
		return "block_do_nothing"
	case BlockCustom:
		return "block_custom"
	}
	return "unknown"
}

// Blocked reports whether the key was suppressed.
func (d Decision) Blocked() bool { return d != Allow }

// Interceptor holds the two-slot rolling state of the previous keydown.
type Interceptor struct {
	rules    Rules
	dispatch Dispatcher
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	lastCode string
	lastTime time.Time
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithClock replaces time.Now. Events carrying their own Time ignore it.
func WithClock(now func() time.Time) Option {
	return func(i *Interceptor) { i.now = now }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interceptor) { i.logger = l }
}

// New creates an Interceptor reading from r. d may be nil, in which case
// matching Custom rules still suppress the key but run nothing.
func New(r Rules, d Dispatcher, opts ...Option) *Interceptor {
	i := &Interceptor{
		rules:    r,
		dispatch: d,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(i)
	}
	if i.logger == nil {
		i.logger = slog.Default()
	}
	return i
}

// HandleKeydown runs one keydown against the rules for the page at href.
// Suppressed events have PreventDefault and StopImmediatePropagation
// called on them.
func (i *Interceptor) HandleKeydown(ev *keyevent.Event, href string) Decision {
	now := ev.Time
	if now.IsZero() {
		now = i.now()
	}

	i.mu.Lock()
	exempt := ev.IsEnter() && (ev.Shift || i.lastCode == keyevent.CodeEnter)
	var elapsed time.Duration = -1
	if !i.lastTime.IsZero() {
		elapsed = now.Sub(i.lastTime)
	}
	i.lastCode = ev.Code
	i.lastTime = now
	i.mu.Unlock()

	if !exempt && ev.IsEnter() && elapsed >= 0 {
		ext := i.rules.Extension()
		if ext.IsActiveDelayEnter && elapsed < ext.Delay() {
			suppress(ev)
			i.logger.Debug("intercept: enter delayed", "elapsed", elapsed, "href", href)
			return BlockDelayEnter
		}
	}

	cmd, ok := keyevent.Classify(*ev)
	if !ok {
		return Allow
	}

	if cr, ok := i.rules.Custom(cmd); ok && cr.IsActive && urlpattern.MatchesAny(cr.URLs.Sorted(), href) {
		suppress(ev)
		if i.dispatch != nil {
			i.dispatch.Dispatch(cmd, cr.Script)
		}
		i.logger.Info("intercept: custom rule", "command", cmd, "href", href)
		return BlockCustom
	}

	if dr, ok := i.rules.DoNothing(cmd); ok && dr.IsActive && urlpattern.MatchesAny(dr.URLs.Sorted(), href) {
		suppress(ev)
		i.logger.Info("intercept: blocked", "command", cmd, "href", href)
		return BlockDoNothing
	}
	return Allow
}

// Reset forgets the previous keydown.
func (i *Interceptor) Reset() {
	i.mu.Lock()
	i.lastCode = ""
	i.lastTime = time.Time{}
	i.mu.Unlock()
}

func suppress(ev *keyevent.Event) {
	ev.PreventDefault()
	ev.StopImmediatePropagation()
}
