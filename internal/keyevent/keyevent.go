// Package keyevent turns raw keydown events into canonical shortcut
// identifiers of the form "<Modifier>+<Key>".
//
// Exactly one modifier is kept (Meta > Ctrl > Alt, Shift is never primary)
// and the key is either a single alphanumeric character or one of a fixed
// set of named keys. Anything else is not a shortcut and is left alone.
package keyevent

import (
	"errors"
	"strings"
	"time"
)

// Modifier is the primary modifier of a shortcut.
type Modifier string

const (
	ModMeta Modifier = "Meta"
	ModCtrl Modifier = "Ctrl"
	ModAlt  Modifier = "Alt"
)

// Modifiers lists the valid primary modifiers in precedence order.
var Modifiers = []Modifier{ModMeta, ModCtrl, ModAlt}

// NamedKeys is the enumeration of multi-character keys a shortcut may use.
var NamedKeys = []string{
	"ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight",
	"PageUp", "PageDown",
	"Home", "End",
	"Comma", "Period",
	"Space",
	"Insert", "Delete",
}

var namedIndex = func() map[string]string {
	m := make(map[string]string, len(NamedKeys))
	for _, k := range NamedKeys {
		m[strings.ToLower(k)] = k
	}
	return m
}()

// codePrefixes are the positional prefixes of KeyboardEvent.code values.
var codePrefixes = []string{"Key", "Digit", "Numpad"}

// CodeEnter is the physical code of the Enter key.
const CodeEnter = "Enter"

// ErrInvalidCommand is returned when a command identifier does not have
// exactly one valid modifier and one valid key.
var ErrInvalidCommand = errors.New("keyevent: invalid command")

// Event is one keydown as seen by the interceptor. It mirrors the subset of
// the DOM KeyboardEvent the core needs, including the two suppression calls.
type Event struct {
	Code  string    `json:"code"`
	Key   string    `json:"key,omitempty"`
	Meta  bool      `json:"meta,omitempty"`
	Ctrl  bool      `json:"ctrl,omitempty"`
	Alt   bool      `json:"alt,omitempty"`
	Shift bool      `json:"shift,omitempty"`
	Time  time.Time `json:"-"`

	defaultPrevented   bool
	propagationStopped bool
}

// PreventDefault marks the event so its default action does not run.
func (e *Event) PreventDefault() { e.defaultPrevented = true }

// StopImmediatePropagation marks the event so no later listener sees it.
func (e *Event) StopImmediatePropagation() { e.propagationStopped = true }

// DefaultPrevented reports whether PreventDefault was called.
func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// PropagationStopped reports whether StopImmediatePropagation was called.
func (e *Event) PropagationStopped() bool { return e.propagationStopped }

// Suppressed reports whether the event was both prevented and stopped.
func (e *Event) Suppressed() bool { return e.defaultPrevented && e.propagationStopped }

// IsEnter reports whether the physical key is Enter.
func (e *Event) IsEnter() bool { return e.Code == CodeEnter }

// PrimaryModifier returns the highest-precedence modifier held, or "".
func (e Event) PrimaryModifier() Modifier {
	switch {
	case e.Meta:
		return ModMeta
	case e.Ctrl:
		return ModCtrl
	case e.Alt:
		return ModAlt
	}
	return ""
}

// TriggerKey normalises the physical code into a shortcut key, or "" if
// the code does not name a valid key.
func TriggerKey(code string) string {
	k := code
	stripped := false
	for _, p := range codePrefixes {
		if strings.HasPrefix(code, p) {
			k = code[len(p):]
			stripped = true
			break
		}
	}
	if !stripped && len(k) == 1 {
		k = strings.ToUpper(k)
	}
	return canonicalKey(k)
}

// ValidKey reports whether k is a single alphanumeric character or a named
// key (case-insensitive).
func ValidKey(k string) bool {
	return canonicalKey(strings.TrimSpace(k)) != ""
}

func canonicalKey(k string) string {
	if len(k) == 1 {
		c := k[0]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'Z':
			return k
		case c >= 'a' && c <= 'z':
			return strings.ToUpper(k)
		}
		return ""
	}
	if named, ok := namedIndex[strings.ToLower(k)]; ok {
		return named
	}
	return ""
}

// Classify returns the command identifier for ev, or false when no modifier
// is held or the key is not part of the shortcut vocabulary.
func Classify(ev Event) (Command, bool) {
	mod := ev.PrimaryModifier()
	if mod == "" {
		return "", false
	}
	key := TriggerKey(ev.Code)
	if key == "" {
		return "", false
	}
	return Command(string(mod) + "+" + key), true
}
