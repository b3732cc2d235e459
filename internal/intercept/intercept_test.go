package intercept

import (
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/keyguard/internal/keyevent"
	"github.com/hazyhaar/keyguard/internal/rules"
)

type fakeRules struct {
	custom    rules.CustomRules
	doNothing rules.DoNothingRules
	ext       rules.ExtensionRule
}

func (f *fakeRules) Custom(cmd keyevent.Command) (rules.CustomRule, bool) {
	r, ok := f.custom[cmd]
	return r, ok
}

func (f *fakeRules) DoNothing(cmd keyevent.Command) (rules.DoNothingRule, bool) {
	r, ok := f.doNothing[cmd]
	return r, ok
}

func (f *fakeRules) Extension() rules.ExtensionRule { return f.ext }

type dispatch struct {
	cmd    keyevent.Command
	script string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatch
}

func (f *fakeDispatcher) Dispatch(cmd keyevent.Command, script string) {
	f.mu.Lock()
	f.calls = append(f.calls, dispatch{cmd, script})
	f.mu.Unlock()
}

const page = "https://example.com/page"

func press(i *Interceptor, at time.Time, ev keyevent.Event) (Decision, *keyevent.Event) {
	ev.Time = at
	d := i.HandleKeydown(&ev, page)
	return d, &ev
}

func TestHandleKeydown_NoModifierAllowed(t *testing.T) {
	r := &fakeRules{doNothing: rules.DoNothingRules{
		"Ctrl+S": {URLs: rules.NewURLSet("https://example.com"), IsActive: true},
	}}
	i := New(r, nil)
	d, ev := press(i, time.Now(), keyevent.Event{Code: "KeyS"})
	if d != Allow || ev.DefaultPrevented() {
		t.Fatalf("plain S: got %v, prevented=%v", d, ev.DefaultPrevented())
	}
}

func TestHandleKeydown_DoNothing(t *testing.T) {
	r := &fakeRules{doNothing: rules.DoNothingRules{
		"Ctrl+S": {URLs: rules.NewURLSet("https://example.com"), IsActive: true},
		"Ctrl+P": {URLs: rules.NewURLSet("https://other.com"), IsActive: true},
		"Ctrl+K": {URLs: rules.NewURLSet("https://example.com"), IsActive: false},
	}}
	i := New(r, nil)
	base := time.Now()

	cases := []struct {
		code string
		want Decision
	}{
		{"KeyS", BlockDoNothing},
		{"KeyP", Allow},
		{"KeyK", Allow},
		{"KeyZ", Allow},
	}
	for n, c := range cases {
		d, ev := press(i, base.Add(time.Duration(n)*time.Second), keyevent.Event{Code: c.code, Ctrl: true})
		if d != c.want {
			t.Errorf("Ctrl+%s: got %v, want %v", c.code, d, c.want)
		}
		if d.Blocked() != ev.Suppressed() {
			t.Errorf("Ctrl+%s: decision %v but suppressed=%v", c.code, d, ev.Suppressed())
		}
	}
}

func TestHandleKeydown_CustomTakesPrecedence(t *testing.T) {
	urls := rules.NewURLSet("https://example.com")
	r := &fakeRules{
		custom:    rules.CustomRules{"Ctrl+S": {URLs: urls, IsActive: true, Script: "save()"}},
		doNothing: rules.DoNothingRules{"Ctrl+S": {URLs: urls, IsActive: true}},
	}
	var fd fakeDispatcher
	i := New(r, &fd)

	d, ev := press(i, time.Now(), keyevent.Event{Code: "KeyS", Ctrl: true})
	if d != BlockCustom {
		t.Fatalf("decision: got %v, want %v", d, BlockCustom)
	}
	if !ev.Suppressed() {
		t.Error("custom match did not suppress the event")
	}
	if len(fd.calls) != 1 || fd.calls[0].script != "save()" || fd.calls[0].cmd != "Ctrl+S" {
		t.Fatalf("dispatches: got %+v", fd.calls)
	}
}

func TestHandleKeydown_InactiveCustomFallsThrough(t *testing.T) {
	urls := rules.NewURLSet("https://example.com")
	r := &fakeRules{
		custom:    rules.CustomRules{"Ctrl+S": {URLs: urls, IsActive: false, Script: "save()"}},
		doNothing: rules.DoNothingRules{"Ctrl+S": {URLs: urls, IsActive: true}},
	}
	var fd fakeDispatcher
	i := New(r, &fd)

	d, _ := press(i, time.Now(), keyevent.Event{Code: "KeyS", Ctrl: true})
	if d != BlockDoNothing {
		t.Fatalf("decision: got %v, want %v", d, BlockDoNothing)
	}
	if len(fd.calls) != 0 {
		t.Fatalf("inactive custom rule dispatched: %+v", fd.calls)
	}
}

func TestHandleKeydown_CustomOtherOrigin(t *testing.T) {
	r := &fakeRules{custom: rules.CustomRules{
		"Alt+K": {URLs: rules.NewURLSet("https://*.example.com"), IsActive: true, Script: "x"},
	}}
	var fd fakeDispatcher
	i := New(r, &fd)

	// The page is the apex domain, which a wildcard does not cover.
	d, _ := press(i, time.Now(), keyevent.Event{Code: "KeyK", Alt: true})
	if d != Allow || len(fd.calls) != 0 {
		t.Fatalf("decision: got %v with %d dispatches, want allow", d, len(fd.calls))
	}
}

func delayRules() *fakeRules {
	return &fakeRules{ext: rules.ExtensionRule{IsActiveDelayEnter: true}}
}

func TestDelayEnter_LoneEnterAfterTypingIsBlocked(t *testing.T) {
	i := New(delayRules(), nil)
	base := time.Now()

	press(i, base, keyevent.Event{Code: "KeyH"})
	d, ev := press(i, base.Add(100*time.Millisecond), keyevent.Event{Code: "Enter"})
	if d != BlockDelayEnter || !ev.Suppressed() {
		t.Fatalf("enter after 100ms: got %v, suppressed=%v", d, ev.Suppressed())
	}
}

func TestDelayEnter_AfterThresholdAllowed(t *testing.T) {
	i := New(delayRules(), nil)
	base := time.Now()

	press(i, base, keyevent.Event{Code: "KeyH"})
	d, _ := press(i, base.Add(501*time.Millisecond), keyevent.Event{Code: "Enter"})
	if d != Allow {
		t.Fatalf("enter after 501ms: got %v, want allow", d)
	}
}

func TestDelayEnter_ConsecutiveEnterAllowed(t *testing.T) {
	i := New(delayRules(), nil)
	base := time.Now()

	press(i, base, keyevent.Event{Code: "Enter"})
	d, ev := press(i, base.Add(50*time.Millisecond), keyevent.Event{Code: "Enter"})
	if d != Allow || ev.DefaultPrevented() {
		t.Fatalf("second enter: got %v, prevented=%v", d, ev.DefaultPrevented())
	}
}

func TestDelayEnter_ShiftEnterNeverBlocked(t *testing.T) {
	i := New(delayRules(), nil)
	base := time.Now()

	press(i, base, keyevent.Event{Code: "KeyA"})
	d, _ := press(i, base.Add(10*time.Millisecond), keyevent.Event{Code: "Enter", Shift: true})
	if d != Allow {
		t.Fatalf("shift+enter: got %v, want allow", d)
	}
}

func TestDelayEnter_FirstEverEnterAllowed(t *testing.T) {
	i := New(delayRules(), nil)
	d, _ := press(i, time.Now(), keyevent.Event{Code: "Enter"})
	if d != Allow {
		t.Fatalf("first enter: got %v, want allow", d)
	}
}

func TestDelayEnter_InactiveRule(t *testing.T) {
	i := New(&fakeRules{}, nil)
	base := time.Now()
	press(i, base, keyevent.Event{Code: "KeyA"})
	d, _ := press(i, base.Add(time.Millisecond), keyevent.Event{Code: "Enter"})
	if d != Allow {
		t.Fatalf("enter with delay off: got %v, want allow", d)
	}
}

func TestDelayEnter_CustomDelay(t *testing.T) {
	r := &fakeRules{ext: rules.ExtensionRule{IsActiveDelayEnter: true, DelayTime: 1000}}
	i := New(r, nil)
	base := time.Now()

	press(i, base, keyevent.Event{Code: "KeyA"})
	d, _ := press(i, base.Add(700*time.Millisecond), keyevent.Event{Code: "Enter"})
	if d != BlockDelayEnter {
		t.Fatalf("enter after 700ms with 1000ms delay: got %v, want %v", d, BlockDelayEnter)
	}
}

func TestDelayEnter_StateUpdatedOnBlockedPath(t *testing.T) {
	i := New(delayRules(), nil)
	base := time.Now()

	press(i, base, keyevent.Event{Code: "KeyA"})
	if d, _ := press(i, base.Add(100*time.Millisecond), keyevent.Event{Code: "Enter"}); d != BlockDelayEnter {
		t.Fatalf("first enter: got %v", d)
	}
	// The blocked Enter still counts as the previous key.
	if d, _ := press(i, base.Add(150*time.Millisecond), keyevent.Event{Code: "Enter"}); d != Allow {
		t.Fatalf("enter after blocked enter: got %v, want allow", d)
	}
}

func TestDelayEnter_StateUpdatedOnExemptPath(t *testing.T) {
	i := New(delayRules(), nil)
	base := time.Now()

	press(i, base, keyevent.Event{Code: "KeyA"})
	press(i, base.Add(600*time.Millisecond), keyevent.Event{Code: "Enter", Shift: true})
	// A letter right after, then Enter: the shift+enter timestamp is the
	// reference, not the first key.
	press(i, base.Add(610*time.Millisecond), keyevent.Event{Code: "KeyB"})
	if d, _ := press(i, base.Add(620*time.Millisecond), keyevent.Event{Code: "Enter"}); d != BlockDelayEnter {
		t.Fatalf("enter 10ms after a letter: got %v, want %v", d, BlockDelayEnter)
	}
}

func TestWithClock(t *testing.T) {
	now := time.Unix(1000, 0)
	i := New(delayRules(), nil, WithClock(func() time.Time { return now }))

	i.HandleKeydown(&keyevent.Event{Code: "KeyA"}, page)
	now = now.Add(20 * time.Millisecond)
	if d := i.HandleKeydown(&keyevent.Event{Code: "Enter"}, page); d != BlockDelayEnter {
		t.Fatalf("clocked enter: got %v, want %v", d, BlockDelayEnter)
	}

	i.Reset()
	now = now.Add(time.Millisecond)
	if d := i.HandleKeydown(&keyevent.Event{Code: "Enter"}, page); d != Allow {
		t.Fatalf("enter after reset: got %v, want allow", d)
	}
}
