package service

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/keyguard/internal/bridge"
	"github.com/hazyhaar/keyguard/internal/gateway"
	"github.com/hazyhaar/keyguard/internal/intercept"
	"github.com/hazyhaar/keyguard/internal/keyevent"
	"github.com/hazyhaar/keyguard/internal/kvstore"
	"github.com/hazyhaar/keyguard/internal/rules"
)

type fakeBrowser struct {
	tab    bridge.Tab
	opened []string
	sent   []keyevent.Event
}

func (f *fakeBrowser) ActiveTab(context.Context) (bridge.Tab, error) { return f.tab, nil }

func (f *fakeBrowser) DispatchKey(_ context.Context, _ string, ev keyevent.Event) error {
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeBrowser) Tabs(context.Context) ([]bridge.Tab, error) { return []bridge.Tab{f.tab}, nil }

func (f *fakeBrowser) Open(_ context.Context, url string) (bridge.Tab, error) {
	f.opened = append(f.opened, url)
	f.tab = bridge.Tab{ID: "T2", URL: url}
	return f.tab, nil
}

func (f *fakeBrowser) Activate(context.Context, string) error { return nil }

type fakeRunner struct{ codes []string }

func (r *fakeRunner) Run(_ context.Context, code string) (bridge.Response, error) {
	r.codes = append(r.codes, code)
	return bridge.Response{Status: bridge.StatusOK}, nil
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(keyevent.Command, string) {}

func newService(t *testing.T) (*Service, *fakeBrowser, *fakeRunner) {
	t.Helper()
	store := rules.New(kvstore.NewMemory(), nil)
	t.Cleanup(store.Close)
	b := &fakeBrowser{tab: bridge.Tab{ID: "T1", URL: "https://example.com/page"}}
	r := &fakeRunner{}
	gw := gateway.New(intercept.New(store, nopDispatcher{}), b, b)
	return &Service{Rules: store, Gateway: gw, Runner: r, Tabs: b}, b, r
}

func TestSetDoNothing_Canonicalises(t *testing.T) {
	s, _, _ := newService(t)
	res, err := s.SetDoNothing(context.Background(), DoNothingRequest{
		Command: "ctrl+s", URLs: []string{"https://example.com"}, IsActive: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Command != "Ctrl+S" || len(res.Warnings) != 0 {
		t.Fatalf("result: got %+v", res)
	}
	if want := keyevent.Command("Ctrl+S").Display(onMac); res.Display != want {
		t.Fatalf("display: got %q, want %q", res.Display, want)
	}
	if _, ok := s.Rules.DoNothing("Ctrl+S"); !ok {
		t.Fatal("rule not stored")
	}
}

func TestSetDoNothing_RejectsBadInput(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	_, err := s.SetDoNothing(ctx, DoNothingRequest{Command: "Ctrl+Shift+S"})
	if !errors.Is(err, keyevent.ErrInvalidCommand) || !IsBadRequest(err) {
		t.Fatalf("bad command: got %v", err)
	}
	_, err = s.SetDoNothing(ctx, DoNothingRequest{Command: "Ctrl+S", URLs: []string{"ftp://example.com"}})
	if !errors.Is(err, ErrInvalidURL) || !IsBadRequest(err) {
		t.Fatalf("bad url: got %v", err)
	}
	_, err = s.SetDoNothing(ctx, DoNothingRequest{Command: "Ctrl+S", URLs: []string{"https://*.example.com/*"}})
	if !errors.Is(err, ErrInvalidURL) || !IsBadRequest(err) {
		t.Fatalf("wildcard path: got %v", err)
	}
	if len(s.Rules.DoNothingRules()) != 0 {
		t.Fatal("rejected rule was stored")
	}
}

func TestSetCustom_RequiresAcknowledgement(t *testing.T) {
	s, _, _ := newService(t)
	_, err := s.SetCustom(context.Background(), CustomRequest{
		Command: "Alt+K", URLs: []string{"https://example.com"}, Script: "1",
	})
	if !errors.Is(err, ErrNotAcknowledged) {
		t.Fatalf("SetCustom: got %v, want ErrNotAcknowledged", err)
	}
	if _, ok := s.Rules.Custom("Alt+K"); ok {
		t.Fatal("unacknowledged rule was stored")
	}
}

func TestSetCustom_ShadowWarningAndLint(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()
	if _, err := s.SetDoNothing(ctx, DoNothingRequest{Command: "Ctrl+S", IsActive: true}); err != nil {
		t.Fatal(err)
	}

	res, err := s.SetCustom(ctx, CustomRequest{
		Command: "Ctrl+S", URLs: []string{"https://example.com"}, IsActive: true,
		Script: "let x = ;", AcknowledgeRisks: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("warnings: got %v, want 1", res.Warnings)
	}
	if res.Lint == nil || res.Lint.OK {
		t.Errorf("lint: got %+v, want syntax error", res.Lint)
	}

	res, err = s.SetDoNothing(ctx, DoNothingRequest{Command: "Ctrl+S", IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("do-nothing warnings: got %v, want 1", res.Warnings)
	}
}

func TestSetActiveAndDelete(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()
	if _, err := s.SetDoNothing(ctx, DoNothingRequest{Command: "Ctrl+P", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetActive(ctx, KindDoNothing, "Ctrl+P", false); err != nil {
		t.Fatal(err)
	}
	if r, _ := s.Rules.DoNothing("Ctrl+P"); r.IsActive {
		t.Fatal("rule still active")
	}
	if err := s.DeleteRule(ctx, KindDoNothing, "Ctrl+P"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Rules.DoNothing("Ctrl+P"); ok {
		t.Fatal("rule not deleted")
	}
	if err := s.DeleteRule(ctx, "other", "Ctrl+P"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("unknown kind: got %v", err)
	}
}

func TestPress_Chord(t *testing.T) {
	s, b, _ := newService(t)
	ctx := context.Background()
	if _, err := s.SetDoNothing(ctx, DoNothingRequest{Command: "Ctrl+S", URLs: []string{"https://example.com"}, IsActive: true}); err != nil {
		t.Fatal(err)
	}

	res, err := s.Press(ctx, PressRequest{Chord: "Ctrl+S"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != "block_do_nothing" || res.Forwarded {
		t.Fatalf("result: got %+v", res)
	}

	res, err = s.Press(ctx, PressRequest{Event: keyevent.Event{Code: "KeyA"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Forwarded || len(b.sent) != 1 {
		t.Fatalf("plain key: got %+v, sent %d", res, len(b.sent))
	}

	if _, err := s.Press(ctx, PressRequest{Chord: "Hyper+S"}); !IsBadRequest(err) {
		t.Fatalf("bad chord: got %v", err)
	}
}

func TestWithoutBrowser(t *testing.T) {
	s := &Service{Rules: rules.New(kvstore.NewMemory(), nil)}
	t.Cleanup(s.Rules.Close)
	ctx := context.Background()

	if _, err := s.Press(ctx, PressRequest{Chord: "Ctrl+S"}); !errors.Is(err, ErrNoTabs) {
		t.Errorf("Press: got %v", err)
	}
	if _, err := s.RunScript(ctx, "1"); !errors.Is(err, ErrNoTabs) {
		t.Errorf("RunScript: got %v", err)
	}
	if _, err := s.ListTabs(ctx); !errors.Is(err, ErrNoTabs) {
		t.Errorf("ListTabs: got %v", err)
	}
}

func TestRunScriptAndTabs(t *testing.T) {
	s, b, r := newService(t)
	ctx := context.Background()

	resp, err := s.RunScript(ctx, "document.title")
	if err != nil || !resp.OK() {
		t.Fatalf("RunScript: got %+v, %v", resp, err)
	}
	if len(r.codes) != 1 || r.codes[0] != "document.title" {
		t.Fatalf("runner codes: got %v", r.codes)
	}

	tab, err := s.OpenTab(ctx, "https://example.org")
	if err != nil {
		t.Fatal(err)
	}
	if tab.ID != "T2" || len(b.opened) != 1 {
		t.Fatalf("OpenTab: got %+v", tab)
	}
}
