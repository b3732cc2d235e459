package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/keyguard/internal/bridge"
	"github.com/hazyhaar/keyguard/internal/keyevent"
)

func TestVirtualKeyCode(t *testing.T) {
	cases := map[string]int{
		"KeyA":      'A',
		"KeyZ":      'Z',
		"Digit7":    '7',
		"Numpad3":   99,
		"Enter":     13,
		"ArrowUp":   38,
		"Comma":     188,
		"F13":       0,
		"NumpadAdd": 0,
		"Unknown":   0,
	}
	for code, want := range cases {
		if got := virtualKeyCode(code); got != want {
			t.Errorf("virtualKeyCode(%q): got %d, want %d", code, got, want)
		}
	}
}

func TestModifiers(t *testing.T) {
	cases := []struct {
		ev   keyevent.Event
		want int
	}{
		{keyevent.Event{}, 0},
		{keyevent.Event{Alt: true}, 1},
		{keyevent.Event{Ctrl: true, Shift: true}, input.ModifierControl | input.ModifierShift},
		{keyevent.Event{Meta: true, Alt: true}, 5},
		{keyevent.Event{Alt: true, Ctrl: true, Meta: true, Shift: true}, 15},
	}
	for _, c := range cases {
		if got := modifiers(c.ev); got != c.want {
			t.Errorf("modifiers(%+v): got %d, want %d", c.ev, got, c.want)
		}
	}
}

func TestKeyText(t *testing.T) {
	cases := []struct {
		ev   keyevent.Event
		want string
	}{
		{keyevent.Event{Code: "KeyA"}, "a"},
		{keyevent.Event{Code: "KeyA", Shift: true}, "A"},
		{keyevent.Event{Code: "KeyA", Key: "q"}, "q"},
		{keyevent.Event{Code: "KeyS", Ctrl: true}, ""},
		{keyevent.Event{Code: "Enter"}, "\r"},
		{keyevent.Event{Code: "Space"}, " "},
		{keyevent.Event{Code: "ArrowUp"}, ""},
		{keyevent.Event{Code: "Digit4"}, "4"},
	}
	for _, c := range cases {
		if got := keyText(c.ev); got != c.want {
			t.Errorf("keyText(%+v): got %q, want %q", c.ev, got, c.want)
		}
	}
}

func TestBlockedTypes(t *testing.T) {
	set, unknown := blockedTypes([]string{"images", "Font", " stylesheets ", "videos"})
	for _, want := range []proto.NetworkResourceType{
		proto.NetworkResourceTypeImage,
		proto.NetworkResourceTypeFont,
		proto.NetworkResourceTypeStylesheet,
	} {
		if !set[want] {
			t.Errorf("blockedTypes: %s not blocked", want)
		}
	}
	if set[proto.NetworkResourceTypeDocument] {
		t.Error("blockedTypes: document blocked")
	}
	if len(unknown) != 1 || unknown[0] != "videos" {
		t.Errorf("unknown: got %v, want [videos]", unknown)
	}
}

func TestCompatibleVersion(t *testing.T) {
	cases := []struct {
		req, actual string
		want        bool
	}{
		{"1.3", "1.3", true},
		{"1.3", "1.2", true},
		{"2.0", "1.3", false},
		{"", "1.3", false},
	}
	for _, c := range cases {
		if got := compatibleVersion(c.req, c.actual); got != c.want {
			t.Errorf("compatibleVersion(%q, %q): got %v, want %v", c.req, c.actual, got, c.want)
		}
	}
}

func TestPickActive(t *testing.T) {
	tabs := []bridge.Tab{{ID: "a"}, {ID: "b"}}
	if tab, ok := pickActive(tabs, "b"); !ok || tab.ID != "b" {
		t.Fatalf("pickActive(b): got %+v, %v", tab, ok)
	}
	if _, ok := pickActive(tabs, "gone"); ok {
		t.Fatal("pickActive returned a closed tab")
	}
	if _, ok := pickActive(tabs, ""); ok {
		t.Fatal("pickActive with no choice returned a tab")
	}
}

func TestManager_NotStarted(t *testing.T) {
	m := NewManager(Config{})
	if _, err := m.ActiveTab(context.Background()); !errors.Is(err, ErrNoBrowser) {
		t.Fatalf("ActiveTab before Start: got %v, want ErrNoBrowser", err)
	}
	d := NewDebugger(m)
	if _, err := d.Attach(context.Background(), "t", bridge.ProtocolVersion); !errors.Is(err, ErrNoBrowser) {
		t.Fatalf("Attach before Start: got %v, want ErrNoBrowser", err)
	}
	if len(d.sessions) != 0 {
		t.Fatalf("failed attach kept its slot: %v", d.sessions)
	}
	if err := d.Detach(context.Background(), bridge.Session{TabID: "t"}); err == nil {
		t.Fatal("Detach without session: want error")
	}
}

// fakeTargets replaces the CDP calls of a Debugger.
func fakeTargets(d *Debugger, opened chan<- string, release <-chan struct{}) *[]proto.TargetSessionID {
	var closed []proto.TargetSessionID
	n := 0
	d.open = func(_ context.Context, tabID, _ string) (proto.TargetSessionID, error) {
		if opened != nil {
			opened <- tabID
			<-release
		}
		n++
		return proto.TargetSessionID(fmt.Sprintf("session-%d", n)), nil
	}
	d.close = func(_ context.Context, sid proto.TargetSessionID) error {
		closed = append(closed, sid)
		return nil
	}
	return &closed
}

func TestDebugger_FailedRunKeepsOwnerSession(t *testing.T) {
	d := NewDebugger(NewManager(Config{}))
	closed := fakeTargets(d, nil, nil)
	ctx := context.Background()

	a, err := d.Attach(ctx, "T", bridge.ProtocolVersion)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Attach(ctx, "T", bridge.ProtocolVersion); err == nil {
		t.Fatal("second attach on a held tab: want error")
	}
	if err := d.Detach(ctx, bridge.Session{TabID: "T"}); err == nil {
		t.Fatal("detach of a failed attach: want error")
	}
	if !d.owns(a) || len(*closed) != 0 {
		t.Fatalf("owner session released by another run: sessions %v, closed %v", d.sessions, *closed)
	}

	if err := d.Detach(ctx, a); err != nil {
		t.Fatalf("owner detach: %v", err)
	}
	if len(*closed) != 1 || (*closed)[0] != proto.TargetSessionID(a.ID) {
		t.Fatalf("closed: got %v, want [%s]", *closed, a.ID)
	}
}

func TestDebugger_OverlappingAttachReservesTab(t *testing.T) {
	d := NewDebugger(NewManager(Config{}))
	opened := make(chan string, 1)
	release := make(chan struct{})
	fakeTargets(d, opened, release)
	ctx := context.Background()

	type result struct {
		s   bridge.Session
		err error
	}
	first := make(chan result, 1)
	go func() {
		s, err := d.Attach(ctx, "T", bridge.ProtocolVersion)
		first <- result{s, err}
	}()
	<-opened

	if _, err := d.Attach(ctx, "T", bridge.ProtocolVersion); err == nil {
		t.Fatal("attach during an attach in flight: want error")
	}
	close(release)

	r := <-first
	if r.err != nil || r.s.ID == "" {
		t.Fatalf("first attach: got %+v, %v", r.s, r.err)
	}
	if !d.owns(r.s) {
		t.Fatalf("sessions: got %v, want T owned by %s", d.sessions, r.s.ID)
	}
}

func TestManager_StartAfterClose(t *testing.T) {
	m := NewManager(Config{ResourceBlocking: []string{"images", "bogus"}})
	if !m.blocked[proto.NetworkResourceTypeImage] || len(m.blocked) != 1 {
		t.Fatalf("blocked: got %v", m.blocked)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(context.Background()); !errors.Is(err, errClosed) {
		t.Fatalf("Start after Close: got %v, want errClosed", err)
	}
}
