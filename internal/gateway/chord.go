package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/keyguard/internal/keyevent"
)

// ErrInvalidKey is returned for chords and events that name no usable key.
var ErrInvalidKey = errors.New("gateway: invalid key")

// ParseChord turns text such as "Ctrl+Shift+S", "Enter" or "Meta+ArrowUp"
// into a keydown event. Any number of modifiers may precede the key.
func ParseChord(s string) (keyevent.Event, error) {
	parts := strings.Split(strings.TrimSpace(s), "+")
	key := strings.TrimSpace(parts[len(parts)-1])
	if key == "" {
		return keyevent.Event{}, fmt.Errorf("%w: chord %q: missing key", ErrInvalidKey, s)
	}

	var ev keyevent.Event
	for _, p := range parts[:len(parts)-1] {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "meta", "cmd", "win":
			ev.Meta = true
		case "ctrl", "control":
			ev.Ctrl = true
		case "alt", "option":
			ev.Alt = true
		case "shift":
			ev.Shift = true
		default:
			return keyevent.Event{}, fmt.Errorf("%w: chord %q: unknown modifier %q", ErrInvalidKey, s, p)
		}
	}

	code, ok := codeFor(key)
	if !ok {
		return keyevent.Event{}, fmt.Errorf("%w: chord %q: unknown key %q", ErrInvalidKey, s, key)
	}
	ev.Code = code
	return ev, nil
}

var extraCodes = []string{"Enter", "Tab", "Escape", "Backspace"}

func codeFor(key string) (string, bool) {
	if len(key) == 1 {
		c := key[0]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			return "Key" + strings.ToUpper(key), true
		case c >= '0' && c <= '9':
			return "Digit" + key, true
		}
		return "", false
	}
	for _, k := range keyevent.NamedKeys {
		if strings.EqualFold(k, key) {
			return k, true
		}
	}
	for _, k := range extraCodes {
		if strings.EqualFold(k, key) {
			return k, true
		}
	}
	// Raw codes pass through: KeyA, Digit1, Numpad5.
	if keyevent.TriggerKey(key) != "" {
		return key, true
	}
	return "", false
}
