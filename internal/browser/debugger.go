package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/keyguard/internal/bridge"
)

// pending marks a tab whose attach is in flight.
const pending = ""

// Debugger attaches flattened CDP sessions to tabs on behalf of the script
// bridge. A tab holds at most one session; a slot is reserved before the
// attach starts and released only by the session that owns it.
type Debugger struct {
	mgr *Manager

	// open and close talk to the browser; tests replace them.
	open  func(ctx context.Context, tabID, version string) (proto.TargetSessionID, error)
	close func(ctx context.Context, sid proto.TargetSessionID) error

	mu       sync.Mutex
	sessions map[string]proto.TargetSessionID
}

// NewDebugger creates a Debugger over the manager's browser.
func NewDebugger(mgr *Manager) *Debugger {
	d := &Debugger{mgr: mgr, sessions: make(map[string]proto.TargetSessionID)}
	d.open = d.attachTarget
	d.close = d.detachTarget
	return d
}

// Attach opens a session on tabID. version must share its major number
// with the browser's protocol version.
func (d *Debugger) Attach(ctx context.Context, tabID, version string) (bridge.Session, error) {
	d.mu.Lock()
	if _, busy := d.sessions[tabID]; busy {
		d.mu.Unlock()
		return bridge.Session{}, fmt.Errorf("another debugger is already attached to the tab with id: %s", tabID)
	}
	d.sessions[tabID] = pending
	d.mu.Unlock()

	sid, err := d.open(ctx, tabID, version)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		delete(d.sessions, tabID)
		return bridge.Session{}, err
	}
	d.sessions[tabID] = sid
	return bridge.Session{TabID: tabID, ID: string(sid)}, nil
}

// SendCommand runs a raw CDP method in the session.
func (d *Debugger) SendCommand(ctx context.Context, s bridge.Session, method string, params any) (json.RawMessage, error) {
	if !d.owns(s) {
		return nil, notAttached(s.TabID)
	}
	b, err := d.mgr.browserCtx(ctx)
	if err != nil {
		return nil, err
	}
	res, err := b.Call(ctx, s.ID, method, params)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(res), nil
}

// Detach closes s. A session that does not own its tab is left alone.
func (d *Debugger) Detach(ctx context.Context, s bridge.Session) error {
	d.mu.Lock()
	if s.ID == pending || string(d.sessions[s.TabID]) != s.ID {
		d.mu.Unlock()
		return notAttached(s.TabID)
	}
	delete(d.sessions, s.TabID)
	d.mu.Unlock()

	return d.close(ctx, proto.TargetSessionID(s.ID))
}

func (d *Debugger) owns(s bridge.Session) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	sid, ok := d.sessions[s.TabID]
	return ok && s.ID != pending && string(sid) == s.ID
}

func notAttached(tabID string) error {
	return fmt.Errorf("debugger is not attached to the tab with id: %s", tabID)
}

func (d *Debugger) attachTarget(ctx context.Context, tabID, version string) (proto.TargetSessionID, error) {
	b, err := d.mgr.browserCtx(ctx)
	if err != nil {
		return "", err
	}
	v, err := proto.BrowserGetVersion{}.Call(b)
	if err != nil {
		return "", fmt.Errorf("get protocol version: %w", err)
	}
	if !compatibleVersion(version, v.ProtocolVersion) {
		return "", fmt.Errorf("requested protocol version %s is not supported (browser speaks %s)", version, v.ProtocolVersion)
	}
	res, err := proto.TargetAttachToTarget{
		TargetID: proto.TargetTargetID(tabID),
		Flatten:  true,
	}.Call(b)
	if err != nil {
		return "", fmt.Errorf("attach to %s: %w", tabID, err)
	}
	return res.SessionID, nil
}

func (d *Debugger) detachTarget(ctx context.Context, sid proto.TargetSessionID) error {
	b, err := d.mgr.browserCtx(ctx)
	if err != nil {
		return err
	}
	return proto.TargetDetachFromTarget{SessionID: sid}.Call(b)
}

func compatibleVersion(requested, actual string) bool {
	rMajor, _, _ := strings.Cut(requested, ".")
	aMajor, _, _ := strings.Cut(actual, ".")
	return rMajor != "" && rMajor == aMajor
}
