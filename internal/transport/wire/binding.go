// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package wire

import (
	"slices"
	"sync"

	"github.com/ManuGH/chanrelay/internal/realtime"
)

// Binding is the realtime.Channel handed out by adapters.
type Binding struct {
	name string
	mu   sync.RWMutex
	cb   func(event string, payload realtime.Payload)
}

// NewBinding creates a channel handle routed to cb. A nil cb leaves it
// unbound until BindAll.
func NewBinding(name string, cb func(event string, payload realtime.Payload)) *Binding {
	return &Binding{name: name, cb: cb}
}

// Name returns the channel name.
func (b *Binding) Name() string { return b.name }

// BindAll replaces the event callback.
func (b *Binding) BindAll(cb func(event string, payload realtime.Payload)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cb = cb
}

// Deliver hands one event to the callback. It reports false when nothing is bound.
func (b *Binding) Deliver(event string, payload realtime.Payload) bool {
	b.mu.RLock()
	cb := b.cb
	b.mu.RUnlock()
	if cb == nil {
		return false
	}
	cb(event, payload)
	return true
}

// ChannelSet is the per-session set of subscribed channels. It is not safe
// for concurrent use; adapters guard it with their own lock.
type ChannelSet struct {
	bindings map[string]*Binding
}

// NewChannelSet creates an empty set.
func NewChannelSet() *ChannelSet {
	return &ChannelSet{bindings: make(map[string]*Binding)}
}

// GetOrCreate returns the binding for name and whether it was just created.
// A new binding starts bound to cb; an existing one is rebound when cb is
// not nil.
func (s *ChannelSet) GetOrCreate(name string, cb func(event string, payload realtime.Payload)) (*Binding, bool) {
	if b, ok := s.bindings[name]; ok {
		if cb != nil {
			b.BindAll(cb)
		}
		return b, false
	}
	b := NewBinding(name, cb)
	s.bindings[name] = b
	return b, true
}

// Get returns the binding for name or nil.
func (s *ChannelSet) Get(name string) *Binding {
	return s.bindings[name]
}

// Names returns the channel names, sorted.
func (s *ChannelSet) Names() []string {
	out := make([]string, 0, len(s.bindings))
	for name := range s.bindings {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Remove forgets name.
func (s *ChannelSet) Remove(name string) {
	delete(s.bindings, name)
}

// Reset forgets every channel; used when a new session starts.
func (s *ChannelSet) Reset() {
	s.bindings = make(map[string]*Binding)
}

// Len returns the number of channels.
func (s *ChannelSet) Len() int { return len(s.bindings) }
