// Package rules holds the runtime copies of the three rule sets (Do-Nothing,
// Custom, Extension) and keeps them in sync with the persisted store.
//
// Storage uses a raw JSON form (URL arrays); memory uses URL sets. The
// conversion functions in this file are the only bridge between the two:
// RawToDoNothing(DoNothingToRaw(m)) is equivalent to m, and likewise for
// Custom rules.
package rules

import (
	"log/slog"
	"sort"
	"time"

	"github.com/hazyhaar/keyguard/internal/keyevent"
)

// Persisted keys. The names match the browser extension's sync storage.
const (
	KeyDoNothing = "doNothingRulesMap"
	KeyCustom    = "customRulesMap"
	KeyExtension = "extensionRules"
)

// DefaultDelayTime applies when the Extension rule carries no delay.
const DefaultDelayTime = 500

// URLSet is an unordered set of URL patterns.
type URLSet map[string]struct{}

// NewURLSet builds a set from patterns, dropping empty strings.
func NewURLSet(patterns ...string) URLSet {
	s := make(URLSet, len(patterns))
	for _, p := range patterns {
		if p != "" {
			s[p] = struct{}{}
		}
	}
	return s
}

// Has reports membership.
func (s URLSet) Has(p string) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the patterns in lexical order.
func (s URLSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same patterns.
func (s URLSet) Equal(o URLSet) bool {
	if len(s) != len(o) {
		return false
	}
	for p := range s {
		if !o.Has(p) {
			return false
		}
	}
	return true
}

// DoNothingRule suppresses a shortcut on matching pages.
type DoNothingRule struct {
	URLs     URLSet
	IsActive bool
}

// CustomRule suppresses a shortcut and runs Script in the page instead.
type CustomRule struct {
	URLs              URLSet
	IsActive          bool
	Script            string
	ScriptDescription string
}

// ExtensionRule is the single global delay-enter record.
type ExtensionRule struct {
	IsActiveDelayEnter bool `json:"isActiveDelayEnter"`
	// DelayTime is in milliseconds and may be fractional.
	DelayTime float64 `json:"delayTime,omitempty"`
}

// Delay returns the effective delay.
func (e ExtensionRule) Delay() time.Duration {
	ms := e.DelayTime
	if ms <= 0 {
		ms = DefaultDelayTime
	}
	return time.Duration(ms * float64(time.Millisecond))
}

type (
	DoNothingRules map[keyevent.Command]DoNothingRule
	CustomRules    map[keyevent.Command]CustomRule
)

// RawDoNothingRule is the stored form of a DoNothingRule.
type RawDoNothingRule struct {
	URLs     []string `json:"urls"`
	IsActive bool     `json:"isActive"`
}

// RawCustomRule is the stored form of a CustomRule.
type RawCustomRule struct {
	URLs              []string `json:"urls"`
	IsActive          bool     `json:"isActive"`
	Script            string   `json:"script"`
	ScriptDescription string   `json:"scriptDescription,omitempty"`
}

type (
	RawDoNothingRules map[string]RawDoNothingRule
	RawCustomRules    map[string]RawCustomRule
)

// RawToDoNothing converts the stored form to runtime rules. Keys are
// canonicalised; entries whose key is not a valid command are dropped.
func RawToDoNothing(raw RawDoNothingRules, logger *slog.Logger) DoNothingRules {
	out := make(DoNothingRules, len(raw))
	for k, r := range raw {
		cmd, ok := commandKey(k, logger)
		if !ok {
			continue
		}
		out[cmd] = DoNothingRule{URLs: NewURLSet(r.URLs...), IsActive: r.IsActive}
	}
	return out
}

// DoNothingToRaw converts runtime rules to the stored form.
func DoNothingToRaw(m DoNothingRules) RawDoNothingRules {
	out := make(RawDoNothingRules, len(m))
	for cmd, r := range m {
		out[string(cmd)] = RawDoNothingRule{URLs: r.URLs.Sorted(), IsActive: r.IsActive}
	}
	return out
}

// RawToCustom converts the stored form to runtime rules.
func RawToCustom(raw RawCustomRules, logger *slog.Logger) CustomRules {
	out := make(CustomRules, len(raw))
	for k, r := range raw {
		cmd, ok := commandKey(k, logger)
		if !ok {
			continue
		}
		out[cmd] = CustomRule{
			URLs:              NewURLSet(r.URLs...),
			IsActive:          r.IsActive,
			Script:            r.Script,
			ScriptDescription: r.ScriptDescription,
		}
	}
	return out
}

// CustomToRaw converts runtime rules to the stored form.
func CustomToRaw(m CustomRules) RawCustomRules {
	out := make(RawCustomRules, len(m))
	for cmd, r := range m {
		out[string(cmd)] = RawCustomRule{
			URLs:              r.URLs.Sorted(),
			IsActive:          r.IsActive,
			Script:            r.Script,
			ScriptDescription: r.ScriptDescription,
		}
	}
	return out
}

func commandKey(k string, logger *slog.Logger) (keyevent.Command, bool) {
	cmd, err := keyevent.ParseCommand(k)
	if err == nil {
		if !keyevent.Command(k).Valid() && logger != nil {
			logger.Debug("rules: normalised stored command", "stored", k, "command", cmd)
		}
		return cmd, true
	}
	if logger != nil {
		logger.Warn("rules: dropping stored rule with invalid command", "command", k, "error", err)
	}
	return "", false
}
