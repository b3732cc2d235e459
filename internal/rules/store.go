package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/keyguard/internal/keyevent"
	"github.com/hazyhaar/keyguard/internal/kvstore"
)

// Store is the runtime cache of the three rule sets. Each set is rebuilt in
// full from its persisted key on Load and on every change notification for
// that key; nothing is patched incrementally.
//
// Maps are published as immutable snapshots: readers never see a partially
// updated set, and returned rules must not be mutated.
type Store struct {
	kv     kvstore.Store
	logger *slog.Logger
	unsub  func()

	mu        sync.RWMutex
	doNothing DoNothingRules
	custom    CustomRules
	ext       ExtensionRule

	// writeMu serialises read-modify-persist cycles. It is never held while
	// mu is held, so change notifications triggered by a write can apply.
	writeMu sync.Mutex
}

// New creates a Store over kv and subscribes to its change notifications.
// Call Load to populate it.
func New(kv kvstore.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		kv:        kv,
		logger:    logger,
		doNothing: DoNothingRules{},
		custom:    CustomRules{},
	}
	s.unsub = kv.Subscribe(func(c kvstore.Change) {
		if err := s.ApplyChange(c.Key, c.NewValue); err != nil {
			s.logger.Error("rules: apply change failed", "key", c.Key, "error", err)
		}
	})
	return s
}

// Close stops listening for change notifications.
func (s *Store) Close() {
	if s.unsub != nil {
		s.unsub()
	}
}

// Load reads all three keys from storage and replaces the in-memory sets.
func (s *Store) Load(ctx context.Context) error {
	vals, err := s.kv.Get(ctx, KeyDoNothing, KeyCustom, KeyExtension)
	if err != nil {
		return fmt.Errorf("rules: load: %w", err)
	}
	for _, k := range []string{KeyDoNothing, KeyCustom, KeyExtension} {
		if err := s.ApplyChange(k, vals[k]); err != nil {
			return fmt.Errorf("rules: load: %w", err)
		}
	}
	s.mu.RLock()
	s.logger.Info("rules: loaded",
		"do_nothing", len(s.doNothing),
		"custom", len(s.custom),
		"delay_enter", s.ext.IsActiveDelayEnter)
	s.mu.RUnlock()
	return nil
}

// ApplyChange rebuilds the set stored under key from newValue. Unknown keys
// are ignored. A nil value resets the set to empty. Malformed JSON leaves
// the current set untouched and is reported.
func (s *Store) ApplyChange(key string, newValue json.RawMessage) error {
	switch key {
	case KeyDoNothing:
		var raw RawDoNothingRules
		if err := decode(newValue, &raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		m := RawToDoNothing(raw, s.logger)
		s.mu.Lock()
		s.doNothing = m
		s.mu.Unlock()
	case KeyCustom:
		var raw RawCustomRules
		if err := decode(newValue, &raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		m := RawToCustom(raw, s.logger)
		s.mu.Lock()
		s.custom = m
		s.mu.Unlock()
	case KeyExtension:
		var ext ExtensionRule
		if err := decode(newValue, &ext); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		s.mu.Lock()
		s.ext = ext
		s.mu.Unlock()
	}
	return nil
}

func decode(v json.RawMessage, dst any) error {
	if len(v) == 0 || string(v) == "null" {
		return nil
	}
	return json.Unmarshal(v, dst)
}

// DoNothing returns the Do-Nothing rule for cmd.
func (s *Store) DoNothing(cmd keyevent.Command) (DoNothingRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.doNothing[cmd]
	return r, ok
}

// Custom returns the Custom rule for cmd.
func (s *Store) Custom(cmd keyevent.Command) (CustomRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.custom[cmd]
	return r, ok
}

// Extension returns the delay-enter record.
func (s *Store) Extension() ExtensionRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ext
}

// DoNothingRules returns the current Do-Nothing snapshot.
func (s *Store) DoNothingRules() DoNothingRules {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doNothing
}

// CustomRules returns the current Custom snapshot.
func (s *Store) CustomRules() CustomRules {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.custom
}

// Snapshot is every rule set in stored form.
type Snapshot struct {
	DoNothing RawDoNothingRules `json:"doNothing"`
	Custom    RawCustomRules    `json:"custom"`
	Extension ExtensionRule     `json:"extension"`
}

// Snapshot returns all rule sets in stored form.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		DoNothing: DoNothingToRaw(s.doNothing),
		Custom:    CustomToRaw(s.custom),
		Extension: s.ext,
	}
}

// --- Do-Nothing mutations ---

// SetDoNothing creates or replaces the rule for command.
func (s *Store) SetDoNothing(ctx context.Context, command string, urls []string, active bool) error {
	cmd, err := keyevent.ParseCommand(command)
	if err != nil {
		return err
	}
	return s.updateDoNothing(ctx, func(m DoNothingRules) bool {
		m[cmd] = DoNothingRule{URLs: NewURLSet(urls...), IsActive: active}
		return true
	})
}

// DeleteDoNothing removes the rule for command.
func (s *Store) DeleteDoNothing(ctx context.Context, command string) error {
	cmd, err := keyevent.ParseCommand(command)
	if err != nil {
		return err
	}
	return s.updateDoNothing(ctx, func(m DoNothingRules) bool {
		delete(m, cmd)
		return true
	})
}

// SetDoNothingActive flips IsActive. It is a no-op when the rule is absent.
func (s *Store) SetDoNothingActive(ctx context.Context, command string, active bool) error {
	cmd, err := keyevent.ParseCommand(command)
	if err != nil {
		return err
	}
	return s.updateDoNothing(ctx, func(m DoNothingRules) bool {
		r, ok := m[cmd]
		if !ok {
			return false
		}
		r.IsActive = active
		m[cmd] = r
		return true
	})
}

func (s *Store) updateDoNothing(ctx context.Context, mutate func(DoNothingRules) bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.DoNothingRules()
	next := make(DoNothingRules, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	if !mutate(next) {
		return nil
	}

	raw := DoNothingToRaw(next)
	if err := s.persist(ctx, KeyDoNothing, raw); err != nil {
		return err
	}
	m := RawToDoNothing(raw, s.logger)
	s.mu.Lock()
	s.doNothing = m
	s.mu.Unlock()
	return nil
}

// --- Custom mutations ---

// SetCustom creates or replaces the rule for command.
func (s *Store) SetCustom(ctx context.Context, command string, urls []string, active bool, script, description string) error {
	cmd, err := keyevent.ParseCommand(command)
	if err != nil {
		return err
	}
	return s.updateCustom(ctx, func(m CustomRules) bool {
		m[cmd] = CustomRule{
			URLs:              NewURLSet(urls...),
			IsActive:          active,
			Script:            script,
			ScriptDescription: description,
		}
		return true
	})
}

// DeleteCustom removes the rule for command.
func (s *Store) DeleteCustom(ctx context.Context, command string) error {
	cmd, err := keyevent.ParseCommand(command)
	if err != nil {
		return err
	}
	return s.updateCustom(ctx, func(m CustomRules) bool {
		delete(m, cmd)
		return true
	})
}

// SetCustomActive flips IsActive. It is a no-op when the rule is absent.
func (s *Store) SetCustomActive(ctx context.Context, command string, active bool) error {
	cmd, err := keyevent.ParseCommand(command)
	if err != nil {
		return err
	}
	return s.updateCustom(ctx, func(m CustomRules) bool {
		r, ok := m[cmd]
		if !ok {
			return false
		}
		r.IsActive = active
		m[cmd] = r
		return true
	})
}

func (s *Store) updateCustom(ctx context.Context, mutate func(CustomRules) bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.CustomRules()
	next := make(CustomRules, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	if !mutate(next) {
		return nil
	}

	raw := CustomToRaw(next)
	if err := s.persist(ctx, KeyCustom, raw); err != nil {
		return err
	}
	m := RawToCustom(raw, s.logger)
	s.mu.Lock()
	s.custom = m
	s.mu.Unlock()
	return nil
}

// --- Extension ---

// ErrInvalidDelay is returned for a negative delay time.
var ErrInvalidDelay = errors.New("rules: negative delay time")

// SetExtension replaces the delay-enter record.
func (s *Store) SetExtension(ctx context.Context, ext ExtensionRule) error {
	if ext.DelayTime < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDelay, ext.DelayTime)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.persist(ctx, KeyExtension, ext); err != nil {
		return err
	}
	s.mu.Lock()
	s.ext = ext
	s.mu.Unlock()
	return nil
}

func (s *Store) persist(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("rules: marshal %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, map[string]json.RawMessage{key: data}); err != nil {
		return fmt.Errorf("rules: persist %s: %w", key, err)
	}
	return nil
}
