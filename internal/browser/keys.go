package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/keyguard/internal/keyevent"
)

var namedVirtualKeys = map[string]int{
	"Backspace":  8,
	"Tab":        9,
	"Enter":      13,
	"Escape":     27,
	"Space":      32,
	"PageUp":     33,
	"PageDown":   34,
	"End":        35,
	"Home":       36,
	"ArrowLeft":  37,
	"ArrowUp":    38,
	"ArrowRight": 39,
	"ArrowDown":  40,
	"Insert":     45,
	"Delete":     46,
	"Comma":      188,
	"Period":     190,
}

// namedKeyValues are the KeyboardEvent.key values of non-character codes.
var namedKeyValues = map[string]string{
	"Space":  " ",
	"Comma":  ",",
	"Period": ".",
}

// DispatchKey delivers a keydown/keyup pair for ev to the tab.
func (m *Manager) DispatchKey(ctx context.Context, tabID string, ev keyevent.Event) error {
	page, err := m.page(ctx, tabID)
	if err != nil {
		return err
	}

	down := proto.InputDispatchKeyEvent{
		Type:                  proto.InputDispatchKeyEventTypeRawKeyDown,
		Modifiers:             modifiers(ev),
		Code:                  ev.Code,
		Key:                   keyValue(ev),
		WindowsVirtualKeyCode: virtualKeyCode(ev.Code),
	}
	if text := keyText(ev); text != "" {
		down.Type = proto.InputDispatchKeyEventTypeKeyDown
		down.Text = text
		down.UnmodifiedText = text
	}
	if err := down.Call(page); err != nil {
		return fmt.Errorf("browser: key down %s: %w", ev.Code, err)
	}

	up := down
	up.Type = proto.InputDispatchKeyEventTypeKeyUp
	up.Text = ""
	up.UnmodifiedText = ""
	if err := up.Call(page); err != nil {
		return fmt.Errorf("browser: key up %s: %w", ev.Code, err)
	}
	return nil
}

// modifiers is the CDP modifier bit field of ev.
func modifiers(ev keyevent.Event) int {
	m := 0
	if ev.Alt {
		m |= input.ModifierAlt
	}
	if ev.Ctrl {
		m |= input.ModifierControl
	}
	if ev.Meta {
		m |= input.ModifierMeta
	}
	if ev.Shift {
		m |= input.ModifierShift
	}
	return m
}

// virtualKeyCode derives the Windows virtual key code from a physical code.
func virtualKeyCode(code string) int {
	if vk, ok := namedVirtualKeys[code]; ok {
		return vk
	}
	for _, p := range []string{"Key", "Digit"} {
		if rest, ok := strings.CutPrefix(code, p); ok && len(rest) == 1 {
			return int(rest[0])
		}
	}
	if rest, ok := strings.CutPrefix(code, "Numpad"); ok && len(rest) == 1 && rest[0] >= '0' && rest[0] <= '9' {
		return 96 + int(rest[0]-'0')
	}
	return 0
}

// keyValue fills in KeyboardEvent.key when the caller only sent a code.
func keyValue(ev keyevent.Event) string {
	if ev.Key != "" {
		return ev.Key
	}
	if v, ok := namedKeyValues[ev.Code]; ok {
		return v
	}
	for _, p := range []string{"Key", "Digit", "Numpad"} {
		if rest, ok := strings.CutPrefix(ev.Code, p); ok && len(rest) == 1 {
			if p == "Key" && !ev.Shift {
				return strings.ToLower(rest)
			}
			return rest
		}
	}
	return ev.Code
}

// keyText is the text a key inserts, or "" for keys held with Ctrl, Meta
// or Alt and for non-printing keys.
func keyText(ev keyevent.Event) string {
	if ev.Ctrl || ev.Meta || ev.Alt {
		return ""
	}
	if ev.Code == keyevent.CodeEnter {
		return "\r"
	}
	k := keyValue(ev)
	if len([]rune(k)) == 1 {
		return k
	}
	return ""
}
