package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/keyguard/internal/bridge"
	"github.com/hazyhaar/keyguard/internal/intercept"
	"github.com/hazyhaar/keyguard/internal/keyevent"
	"github.com/hazyhaar/keyguard/internal/kvstore"
	"github.com/hazyhaar/keyguard/internal/rules"
	"github.com/hazyhaar/keyguard/internal/sink"
)

type fixedTab struct {
	tab bridge.Tab
	err error
}

func (f fixedTab) ActiveTab(context.Context) (bridge.Tab, error) { return f.tab, f.err }

type sentKey struct {
	tab string
	ev  keyevent.Event
}

type recordingSender struct{ sent []sentKey }

func (r *recordingSender) DispatchKey(_ context.Context, tab string, ev keyevent.Event) error {
	r.sent = append(r.sent, sentKey{tab, ev})
	return nil
}

type keyLog struct{ recs []sink.KeyRecord }

func (k *keyLog) SendKey(_ context.Context, rec sink.KeyRecord) error {
	k.recs = append(k.recs, rec)
	return nil
}

func setup(t *testing.T) (*Gateway, *recordingSender, *keyLog) {
	t.Helper()
	ctx := context.Background()
	store := rules.New(kvstore.NewMemory(), nil)
	t.Cleanup(store.Close)
	if err := store.SetDoNothing(ctx, "Ctrl+S", []string{"https://example.com"}, true); err != nil {
		t.Fatal(err)
	}
	var sender recordingSender
	var log keyLog
	tab := fixedTab{tab: bridge.Tab{ID: "T1", URL: "https://example.com/doc"}}
	g := New(intercept.New(store, nil), tab, &sender, WithSink(&log))
	return g, &sender, &log
}

func TestPress_BlockedKeyNotForwarded(t *testing.T) {
	g, sender, log := setup(t)

	res, err := g.Press(context.Background(), keyevent.Event{Code: "KeyS", Ctrl: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != intercept.BlockDoNothing.String() || res.Forwarded || res.Command != "Ctrl+S" {
		t.Fatalf("result: got %+v", res)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("blocked key reached the page: %+v", sender.sent)
	}
	if len(log.recs) != 1 || log.recs[0].Forwarded || log.recs[0].Decision != "block_do_nothing" {
		t.Fatalf("key records: got %+v", log.recs)
	}
}

func TestPress_AllowedKeyForwarded(t *testing.T) {
	g, sender, _ := setup(t)

	res, err := g.Press(context.Background(), keyevent.Event{Code: "KeyP", Ctrl: true})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Forwarded || res.Decision != "allow" {
		t.Fatalf("result: got %+v", res)
	}
	if len(sender.sent) != 1 || sender.sent[0].tab != "T1" || sender.sent[0].ev.Code != "KeyP" {
		t.Fatalf("sent: got %+v", sender.sent)
	}
}

func TestPress_NoActiveTab(t *testing.T) {
	g := New(intercept.New(rules.New(kvstore.NewMemory(), nil), nil),
		fixedTab{err: bridge.ErrNoActiveTab}, &recordingSender{})
	_, err := g.Press(context.Background(), keyevent.Event{Code: "KeyA"})
	if !errors.Is(err, bridge.ErrNoActiveTab) {
		t.Fatalf("Press: got %v, want ErrNoActiveTab", err)
	}
}

type switchingTabs struct{ tabs []bridge.Tab }

func (s *switchingTabs) ActiveTab(context.Context) (bridge.Tab, error) {
	tab := s.tabs[0]
	if len(s.tabs) > 1 {
		s.tabs = s.tabs[1:]
	}
	return tab, nil
}

func TestPress_TabSwitchResetsDebounce(t *testing.T) {
	ctx := context.Background()
	store := rules.New(kvstore.NewMemory(), nil)
	t.Cleanup(store.Close)
	if err := store.SetExtension(ctx, rules.ExtensionRule{IsActiveDelayEnter: true, DelayTime: 500}); err != nil {
		t.Fatal(err)
	}
	tabs := &switchingTabs{tabs: []bridge.Tab{
		{ID: "T1", URL: "https://a.com"},
		{ID: "T2", URL: "https://b.com"},
	}}
	g := New(intercept.New(store, nil), tabs, &recordingSender{})

	base := time.Unix(1000, 0)
	press := func(code string, at time.Duration) Result {
		t.Helper()
		res, err := g.Press(ctx, keyevent.Event{Code: code, Time: base.Add(at)})
		if err != nil {
			t.Fatal(err)
		}
		return res
	}
	press("KeyA", 0)
	if res := press("Enter", 10*time.Millisecond); res.Decision != "allow" || !res.Forwarded {
		t.Fatalf("first enter on new tab: got %+v", res)
	}
	press("KeyB", 20*time.Millisecond)
	if res := press("Enter", 30*time.Millisecond); res.Decision != intercept.BlockDelayEnter.String() {
		t.Fatalf("enter on same tab: got %s, want %s", res.Decision, intercept.BlockDelayEnter)
	}
}

func TestParseChord(t *testing.T) {
	cases := []struct {
		in   string
		want keyevent.Event
	}{
		{"Ctrl+S", keyevent.Event{Code: "KeyS", Ctrl: true}},
		{"ctrl+shift+s", keyevent.Event{Code: "KeyS", Ctrl: true, Shift: true}},
		{"Meta+ArrowUp", keyevent.Event{Code: "ArrowUp", Meta: true}},
		{"Enter", keyevent.Event{Code: "Enter"}},
		{"Shift+Enter", keyevent.Event{Code: "Enter", Shift: true}},
		{"Alt+7", keyevent.Event{Code: "Digit7", Alt: true}},
		{"Ctrl+Numpad5", keyevent.Event{Code: "Numpad5", Ctrl: true}},
		{"cmd+space", keyevent.Event{Code: "Space", Meta: true}},
	}
	for _, c := range cases {
		got, err := ParseChord(c.in)
		if err != nil {
			t.Errorf("ParseChord(%q): %v", c.in, err)
			continue
		}
		if got.Code != c.want.Code || got.Ctrl != c.want.Ctrl || got.Shift != c.want.Shift ||
			got.Meta != c.want.Meta || got.Alt != c.want.Alt {
			t.Errorf("ParseChord(%q): got %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestParseChord_Invalid(t *testing.T) {
	for _, in := range []string{"", "Ctrl+", "Hyper+S", "Ctrl+F13", "Ctrl+?"} {
		if _, err := ParseChord(in); err == nil {
			t.Errorf("ParseChord(%q): want error", in)
		}
	}
}
