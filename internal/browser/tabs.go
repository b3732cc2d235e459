package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/keyguard/internal/bridge"
)

const navigateTimeout = 30 * time.Second

// Open creates a tab, navigates it to pageURL, and makes it active.
func (m *Manager) Open(ctx context.Context, pageURL string) (bridge.Tab, error) {
	b, err := m.browserCtx(ctx)
	if err != nil {
		return bridge.Tab{}, err
	}

	var page *rod.Page
	if m.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return bridge.Tab{}, fmt.Errorf("browser: create tab: %w", err)
	}

	var router *rod.HijackRouter
	if len(m.blocked) > 0 {
		if router, err = blockResources(page, m.blocked); err != nil {
			page.Close()
			return bridge.Tab{}, fmt.Errorf("browser: resource blocking: %w", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		if router != nil {
			router.Stop()
		}
		page.Close()
		return bridge.Tab{}, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	id := string(page.TargetID)
	m.mu.Lock()
	m.pages[id] = page
	if router != nil {
		m.routers[id] = router
	}
	m.active = id
	m.mu.Unlock()

	m.cfg.Logger.Info("browser: tab opened", "tab", id, "url", pageURL)
	return bridge.Tab{ID: id, URL: pageURL}, nil
}

// Activate focuses the tab and makes it the target of keys and scripts.
func (m *Manager) Activate(ctx context.Context, tabID string) error {
	b, err := m.browserCtx(ctx)
	if err != nil {
		return err
	}
	if err := (proto.TargetActivateTarget{TargetID: proto.TargetTargetID(tabID)}).Call(b); err != nil {
		return fmt.Errorf("browser: activate %s: %w", tabID, err)
	}
	m.mu.Lock()
	m.active = tabID
	m.mu.Unlock()
	return nil
}

// Tabs lists the page targets of the browser.
func (m *Manager) Tabs(ctx context.Context) ([]bridge.Tab, error) {
	b, err := m.browserCtx(ctx)
	if err != nil {
		return nil, err
	}
	res, err := proto.TargetGetTargets{}.Call(b)
	if err != nil {
		return nil, fmt.Errorf("browser: list targets: %w", err)
	}
	tabs := make([]bridge.Tab, 0, len(res.TargetInfos))
	for _, info := range res.TargetInfos {
		if string(info.Type) != "page" {
			continue
		}
		tabs = append(tabs, bridge.Tab{ID: string(info.TargetID), URL: info.URL, Title: info.Title})
	}
	return tabs, nil
}

// ActiveTab returns the tab last opened or activated through the manager.
// When that tab is gone, or none was chosen, the first visible page wins.
func (m *Manager) ActiveTab(ctx context.Context) (bridge.Tab, error) {
	tabs, err := m.Tabs(ctx)
	if err != nil {
		return bridge.Tab{}, err
	}

	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()
	if tab, ok := pickActive(tabs, active); ok {
		return tab, nil
	}

	b, err := m.browserCtx(ctx)
	if err != nil {
		return bridge.Tab{}, err
	}
	for _, t := range tabs {
		page, err := b.PageFromTarget(proto.TargetTargetID(t.ID))
		if err != nil {
			continue
		}
		res, err := page.Context(ctx).Eval(`() => document.visibilityState`)
		if err != nil || res.Value.Str() != "visible" {
			continue
		}
		m.mu.Lock()
		m.active = t.ID
		m.mu.Unlock()
		return t, nil
	}
	return bridge.Tab{}, bridge.ErrNoActiveTab
}

// pickActive returns the tab with id active, if it still exists.
func pickActive(tabs []bridge.Tab, active string) (bridge.Tab, bool) {
	if active == "" {
		return bridge.Tab{}, false
	}
	for _, t := range tabs {
		if t.ID == active {
			return t, true
		}
	}
	return bridge.Tab{}, false
}

func (m *Manager) page(ctx context.Context, tabID string) (*rod.Page, error) {
	m.mu.RLock()
	p, ok := m.pages[tabID]
	m.mu.RUnlock()
	if ok {
		return p.Context(ctx), nil
	}
	b, err := m.browserCtx(ctx)
	if err != nil {
		return nil, err
	}
	p, err = b.PageFromTarget(proto.TargetTargetID(tabID))
	if err != nil {
		return nil, fmt.Errorf("browser: page %s: %w", tabID, err)
	}
	m.mu.Lock()
	m.pages[tabID] = p
	m.mu.Unlock()
	return p.Context(ctx), nil
}
