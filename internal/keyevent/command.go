package keyevent

import (
	"fmt"
	"strings"
)

// Command is a canonical shortcut identifier such as "Ctrl+S" or
// "Meta+ArrowUp".
type Command string

// Modifier returns the modifier segment.
func (c Command) Modifier() Modifier {
	mod, _, _ := strings.Cut(string(c), "+")
	return Modifier(mod)
}

// Key returns the key segment.
func (c Command) Key() string {
	_, key, _ := strings.Cut(string(c), "+")
	return key
}

// Valid reports whether c is already in canonical form.
func (c Command) Valid() bool {
	p, err := ParseCommand(string(c))
	return err == nil && p == c
}

// ParseCommand validates s and returns its canonical form. The input must
// have exactly two "+"-separated segments: a modifier (case-insensitive)
// and a valid key.
func ParseCommand(s string) (Command, error) {
	parts := strings.Split(strings.TrimSpace(s), "+")
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: %q: want <Modifier>+<Key>", ErrInvalidCommand, s)
	}
	var mod Modifier
	for _, m := range Modifiers {
		if strings.EqualFold(strings.TrimSpace(parts[0]), string(m)) {
			mod = m
			break
		}
	}
	if mod == "" {
		return "", fmt.Errorf("%w: %q: unknown modifier %q", ErrInvalidCommand, s, parts[0])
	}
	key := canonicalKey(strings.TrimSpace(parts[1]))
	if key == "" {
		return "", fmt.Errorf("%w: %q: unknown key %q", ErrInvalidCommand, s, parts[1])
	}
	return Command(string(mod) + "+" + key), nil
}

var keyGlyphs = map[string]string{
	"ArrowUp":    "↑",
	"ArrowDown":  "↓",
	"ArrowLeft":  "←",
	"ArrowRight": "→",
	"PageUp":     "⇞",
	"PageDown":   "⇟",
	"Home":       "↖",
	"End":        "↘",
	"Comma":      ",",
	"Period":     ".",
	"Space":      "Space",
	"Insert":     "Ins",
	"Delete":     "Del",
}

// Display renders c for humans: "⌘↑" on macOS, "Win↑" elsewhere.
func (c Command) Display(mac bool) string {
	var mod string
	switch c.Modifier() {
	case ModMeta:
		mod = "Win"
		if mac {
			mod = "⌘"
		}
	case ModCtrl:
		mod = "Ctrl"
		if mac {
			mod = "⌃"
		}
	case ModAlt:
		mod = "Alt"
		if mac {
			mod = "⌥"
		}
	default:
		mod = string(c.Modifier())
	}
	key := c.Key()
	if g, ok := keyGlyphs[key]; ok {
		key = g
	}
	return mod + key
}
