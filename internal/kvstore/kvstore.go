// Package kvstore is the persisted configuration store: string keys mapped
// to JSON values, with a change notification per key carrying the old and
// new value.
package kvstore

import (
	"context"
	"encoding/json"
	"sync"
)

// Change describes one key whose value moved. A nil NewValue means the key
// was removed.
type Change struct {
	Key      string          `json:"key"`
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
}

// Listener receives change notifications. Listeners must not call Set
// synchronously.
type Listener func(Change)

// Store is the contract the rule store depends on.
type Store interface {
	// Get returns the values of the requested keys. Missing keys are absent
	// from the result.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
	// Set writes every item and notifies listeners for the keys whose value
	// actually changed.
	Set(ctx context.Context, items map[string]json.RawMessage) error
	// Subscribe registers l and returns a function that removes it.
	Subscribe(l Listener) (unsubscribe func())
}

// hub fans change notifications out to listeners.
type hub struct {
	mu        sync.Mutex
	next      int
	listeners map[int]Listener
}

func (h *hub) subscribe(l Listener) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listeners == nil {
		h.listeners = make(map[int]Listener)
	}
	id := h.next
	h.next++
	h.listeners[id] = l
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

func (h *hub) emit(changes []Change) {
	if len(changes) == 0 {
		return
	}
	h.mu.Lock()
	ls := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		ls = append(ls, l)
	}
	h.mu.Unlock()
	for _, c := range changes {
		for _, l := range ls {
			l(c)
		}
	}
}

// diff compares two snapshots and returns one Change per moved key.
func diff(old, cur map[string]string) []Change {
	var out []Change
	for k, v := range cur {
		if ov, ok := old[k]; !ok || ov != v {
			c := Change{Key: k, NewValue: json.RawMessage(v)}
			if ok {
				c.OldValue = json.RawMessage(ov)
			}
			out = append(out, c)
		}
	}
	for k, ov := range old {
		if _, ok := cur[k]; !ok {
			out = append(out, Change{Key: k, OldValue: json.RawMessage(ov)})
		}
	}
	return out
}

// Memory is an in-process Store. It is the default in tests.
type Memory struct {
	mu   sync.Mutex
	data map[string]string
	hub  hub
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, keys ...string) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = json.RawMessage(v)
		}
	}
	return out, nil
}

func (m *Memory) Set(_ context.Context, items map[string]json.RawMessage) error {
	m.mu.Lock()
	var changes []Change
	for k, v := range items {
		ov, ok := m.data[k]
		if ok && ov == string(v) {
			continue
		}
		c := Change{Key: k, NewValue: v}
		if ok {
			c.OldValue = json.RawMessage(ov)
		}
		m.data[k] = string(v)
		changes = append(changes, c)
	}
	m.mu.Unlock()
	m.hub.emit(changes)
	return nil
}

func (m *Memory) Subscribe(l Listener) func() { return m.hub.subscribe(l) }
