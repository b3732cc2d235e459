// Package service is the operation layer behind the HTTP API, the MCP
// tools and the CLI: rule editing, key presses, script runs, tabs and
// lint, with the input validation a settings screen would do.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/hazyhaar/keyguard/internal/bridge"
	"github.com/hazyhaar/keyguard/internal/gateway"
	"github.com/hazyhaar/keyguard/internal/keyevent"
	"github.com/hazyhaar/keyguard/internal/lint"
	"github.com/hazyhaar/keyguard/internal/rules"
	"github.com/hazyhaar/keyguard/internal/urlpattern"
)

var (
	ErrInvalidURL      = errors.New("service: invalid url pattern")
	ErrNotAcknowledged = errors.New("service: custom scripts require acknowledgeRisks")
	ErrUnknownKind     = errors.New("service: unknown rule kind")
	ErrNoTabs          = errors.New("service: no browser attached")
)

// Rule kinds.
const (
	KindDoNothing = "do-nothing"
	KindCustom    = "custom"
)

// Runner evaluates a script in the active tab.
type Runner interface {
	Run(ctx context.Context, code string) (bridge.Response, error)
}

// Tabs manages browser tabs.
type Tabs interface {
	Tabs(ctx context.Context) ([]bridge.Tab, error)
	Open(ctx context.Context, url string) (bridge.Tab, error)
	Activate(ctx context.Context, tabID string) error
}

// Service wires the operations together. Gateway, Runner and Tabs may be
// nil when no browser is attached (the rule commands of the CLI).
type Service struct {
	Rules   *rules.Store
	Gateway *gateway.Gateway
	Runner  Runner
	Tabs    Tabs
	Logger  *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// onMac selects the glyphs used for RuleResult.Display.
var onMac = runtime.GOOS == "darwin"

// RuleResult acknowledges a rule edit.
type RuleResult struct {
	Command  string       `json:"command"`
	Display  string       `json:"display"`
	Warnings []string     `json:"warnings,omitempty"`
	Lint     *lint.Result `json:"lint,omitempty"`
}

// DoNothingRequest creates or replaces a Do-Nothing rule.
type DoNothingRequest struct {
	Command  string   `json:"command"`
	URLs     []string `json:"urls"`
	IsActive bool     `json:"isActive"`
}

// CustomRequest creates or replaces a Custom rule.
type CustomRequest struct {
	Command           string   `json:"command"`
	URLs              []string `json:"urls"`
	IsActive          bool     `json:"isActive"`
	Script            string   `json:"script"`
	ScriptDescription string   `json:"scriptDescription,omitempty"`
	// AcknowledgeRisks confirms the author wrote and reviewed the script
	// and accepts the consequences of running it.
	AcknowledgeRisks bool `json:"acknowledgeRisks"`
}

// ListRules returns every rule set in stored form.
func (s *Service) ListRules() rules.Snapshot {
	return s.Rules.Snapshot()
}

// SetDoNothing validates and stores a Do-Nothing rule.
func (s *Service) SetDoNothing(ctx context.Context, req DoNothingRequest) (RuleResult, error) {
	cmd, err := keyevent.ParseCommand(req.Command)
	if err != nil {
		return RuleResult{}, err
	}
	if err := validateURLs(req.URLs); err != nil {
		return RuleResult{}, err
	}
	if err := s.Rules.SetDoNothing(ctx, string(cmd), req.URLs, req.IsActive); err != nil {
		return RuleResult{}, err
	}
	res := RuleResult{Command: string(cmd), Display: cmd.Display(onMac)}
	if cr, ok := s.Rules.Custom(cmd); ok && cr.IsActive {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s has an active Custom rule; this Do-Nothing rule is ignored where both match", cmd))
	}
	return res, nil
}

// SetCustom validates and stores a Custom rule. Syntax problems in the
// script are reported, not rejected.
func (s *Service) SetCustom(ctx context.Context, req CustomRequest) (RuleResult, error) {
	cmd, err := keyevent.ParseCommand(req.Command)
	if err != nil {
		return RuleResult{}, err
	}
	if err := validateURLs(req.URLs); err != nil {
		return RuleResult{}, err
	}
	if !req.AcknowledgeRisks {
		return RuleResult{}, ErrNotAcknowledged
	}
	if err := s.Rules.SetCustom(ctx, string(cmd), req.URLs, req.IsActive, req.Script, req.ScriptDescription); err != nil {
		return RuleResult{}, err
	}

	res := RuleResult{Command: string(cmd), Display: cmd.Display(onMac)}
	if lr := lint.Check(req.Script); !lr.OK || len(lr.Warnings) > 0 {
		res.Lint = &lr
	}
	if dr, ok := s.Rules.DoNothing(cmd); ok && dr.IsActive {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s also has an active Do-Nothing rule; it is ignored where this rule matches", cmd))
	}
	return res, nil
}

// SetActive flips a rule's active flag. Absent rules are left alone.
func (s *Service) SetActive(ctx context.Context, kind, command string, active bool) error {
	switch kind {
	case KindDoNothing:
		return s.Rules.SetDoNothingActive(ctx, command, active)
	case KindCustom:
		return s.Rules.SetCustomActive(ctx, command, active)
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, kind, command string) error {
	switch kind {
	case KindDoNothing:
		return s.Rules.DeleteDoNothing(ctx, command)
	case KindCustom:
		return s.Rules.DeleteCustom(ctx, command)
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// SetDelayEnter replaces the delay-enter record.
func (s *Service) SetDelayEnter(ctx context.Context, ext rules.ExtensionRule) (rules.ExtensionRule, error) {
	if err := s.Rules.SetExtension(ctx, ext); err != nil {
		return rules.ExtensionRule{}, err
	}
	return s.Rules.Extension(), nil
}

// PressRequest is one keystroke, given either as a chord ("Ctrl+S") or as
// raw event fields.
type PressRequest struct {
	Chord string `json:"chord,omitempty"`
	keyevent.Event
}

// Press sends a key through the gateway.
func (s *Service) Press(ctx context.Context, req PressRequest) (gateway.Result, error) {
	if s.Gateway == nil {
		return gateway.Result{}, ErrNoTabs
	}
	ev := req.Event
	if req.Chord != "" {
		parsed, err := gateway.ParseChord(req.Chord)
		if err != nil {
			return gateway.Result{}, err
		}
		ev = parsed
	}
	return s.Gateway.Press(ctx, ev)
}

// RunScript evaluates code in the active tab and waits for the result.
func (s *Service) RunScript(ctx context.Context, code string) (bridge.Response, error) {
	if s.Runner == nil {
		return bridge.Response{}, ErrNoTabs
	}
	return s.Runner.Run(ctx, code)
}

// Lint syntax-checks a script.
func (s *Service) Lint(code string) lint.Result {
	return lint.Check(code)
}

// ListTabs lists browser tabs.
func (s *Service) ListTabs(ctx context.Context) ([]bridge.Tab, error) {
	if s.Tabs == nil {
		return nil, ErrNoTabs
	}
	return s.Tabs.Tabs(ctx)
}

// OpenTab opens url in a new active tab.
func (s *Service) OpenTab(ctx context.Context, url string) (bridge.Tab, error) {
	if s.Tabs == nil {
		return bridge.Tab{}, ErrNoTabs
	}
	tab, err := s.Tabs.Open(ctx, url)
	if err != nil {
		return bridge.Tab{}, err
	}
	s.logger().Info("service: tab opened", "tab", tab.ID, "url", url)
	return tab, nil
}

// ActivateTab makes a tab the target of keys and scripts.
func (s *Service) ActivateTab(ctx context.Context, tabID string) error {
	if s.Tabs == nil {
		return ErrNoTabs
	}
	return s.Tabs.Activate(ctx, tabID)
}

// IsBadRequest reports whether err comes from invalid caller input.
func IsBadRequest(err error) bool {
	return errors.Is(err, keyevent.ErrInvalidCommand) ||
		errors.Is(err, ErrInvalidURL) ||
		errors.Is(err, ErrNotAcknowledged) ||
		errors.Is(err, ErrUnknownKind) ||
		errors.Is(err, gateway.ErrInvalidKey) ||
		errors.Is(err, rules.ErrInvalidDelay) ||
		errors.Is(err, bridge.ErrUnknownType)
}

func validateURLs(urls []string) error {
	for _, u := range urls {
		if u == "" {
			continue
		}
		if !urlpattern.Valid(u) {
			return fmt.Errorf("%w: %q", ErrInvalidURL, u)
		}
	}
	return nil
}
