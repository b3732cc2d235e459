// Package browser owns the Chrome instance keyguard drives: launch or
// connect, tab tracking, key delivery, and the debugging sessions the
// script bridge attaches to the active tab.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Mode selects how a local Chrome is launched.
type Mode string

const (
	ModeHeadless Mode = "headless"
	ModeHeadful  Mode = "headful" // under Xvfb
)

var (
	// ErrNoBrowser is returned when the manager has not been started.
	ErrNoBrowser = errors.New("browser: not started")
	errClosed    = errors.New("browser: manager is closed")
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome. Empty
	// launches a local one.
	RemoteURL string

	// Mode of a local Chrome. Default: ModeHeadless.
	Mode Mode

	// XvfbDisplay hosts a headful Chrome. Default: ":99".
	XvfbDisplay string

	// Stealth opens tabs through go-rod/stealth and hides the automation
	// flag of a local Chrome.
	Stealth bool

	// StartURL is opened as the first active tab.
	StartURL string

	// ResourceBlocking names resource classes (images, fonts, media,
	// stylesheets, scripts) failed in tabs keyguard opens.
	ResourceBlocking []string

	Logger *slog.Logger
}

// Manager runs Chrome and remembers which tab keys and scripts go to.
type Manager struct {
	cfg     Config
	blocked map[proto.NetworkResourceType]bool

	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	closed  bool
	active  string
	pages   map[string]*rod.Page
	routers map[string]*rod.HijackRouter
}

// NewManager creates a Manager. Chrome starts on Start.
func NewManager(cfg Config) *Manager {
	if cfg.Mode == "" {
		cfg.Mode = ModeHeadless
	}
	if cfg.XvfbDisplay == "" {
		cfg.XvfbDisplay = ":99"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	blocked, unknown := blockedTypes(cfg.ResourceBlocking)
	if len(unknown) > 0 {
		cfg.Logger.Warn("browser: unknown resource types ignored", "types", unknown)
	}
	return &Manager{
		cfg:     cfg,
		blocked: blocked,
		pages:   make(map[string]*rod.Page),
		routers: make(map[string]*rod.HijackRouter),
	}
}

// Start brings Chrome up and opens the start URL, if any. A start URL that
// fails to load is logged, not returned.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errClosed
	}
	b, err := m.connect()
	if err != nil {
		m.shutdownLocked()
		m.mu.Unlock()
		return nil, err
	}
	m.browser = b
	m.mu.Unlock()

	if m.cfg.StartURL != "" {
		if _, err := m.Open(ctx, m.cfg.StartURL); err != nil {
			m.cfg.Logger.Warn("browser: start url", "url", m.cfg.StartURL, "error", err)
		}
	}
	return b, nil
}

// Browser returns the rod handle, nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

func (m *Manager) browserCtx(ctx context.Context) (*rod.Browser, error) {
	if b := m.Browser(); b != nil {
		return b.Context(ctx), nil
	}
	return nil, ErrNoBrowser
}

// Close stops Chrome and Xvfb. The manager cannot be restarted.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.shutdownLocked()
}

func (m *Manager) connect() (*rod.Browser, error) {
	wsURL := m.cfg.RemoteURL
	if wsURL == "" {
		u, err := m.launchLocal()
		if err != nil {
			return nil, err
		}
		wsURL = u
	} else {
		m.cfg.Logger.Info("browser: connecting", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) launchLocal() (string, error) {
	l := launcher.New().Headless(m.cfg.Mode != ModeHeadful)
	if m.cfg.Mode == ModeHeadful {
		if err := m.startXvfb(); err != nil {
			return "", err
		}
		l = l.Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
	}
	if m.cfg.Stealth {
		l = l.Set("disable-blink-features", "AutomationControlled")
	}
	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("browser: launch: %w", err)
	}
	m.lnch = l
	m.cfg.Logger.Info("browser: chrome launched", "mode", m.cfg.Mode, "url", u)
	return u, nil
}

func (m *Manager) shutdownLocked() error {
	for id, r := range m.routers {
		if err := r.Stop(); err != nil {
			m.cfg.Logger.Debug("browser: stop router", "tab", id, "error", err)
		}
	}
	clear(m.routers)
	clear(m.pages)
	m.active = ""

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
	return err
}
