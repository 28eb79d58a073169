// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package wire

import (
	"sync"

	"github.com/ManuGH/chanrelay/internal/realtime"
)

// Session tracks the channels of the current broker session and the handle
// (a PubSub, a socket) they were subscribed on. C is that handle type.
type Session[C any] struct {
	mu        sync.Mutex
	channels  *ChannelSet
	current   C
	connected bool
	sessions  int
	hooks     Hooks
}

// NewSession creates a disconnected session.
func NewSession[C any]() *Session[C] {
	return &Session[C]{channels: NewChannelSet()}
}

// Track records name. subscribe reports whether the caller must subscribe
// now on handle; it is false for known channels and while disconnected
// (the channel stays pending until Establish).
func (s *Session[C]) Track(name string, cb func(event string, payload realtime.Payload)) (b *Binding, handle C, subscribe bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, created := s.channels.GetOrCreate(name, cb)
	return b, s.current, created && s.connected
}

// Untrack forgets name after a failed subscribe.
func (s *Session[C]) Untrack(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels.Remove(name)
}

// Establish starts a session on handle. The first session returns the
// pending channels to subscribe; later sessions start empty and report
// reconnect so the caller can fire the hooks.
func (s *Session[C]) Establish(handle C) (pending []string, reconnect bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions++
	reconnect = s.sessions > 1
	if reconnect {
		s.channels.Reset()
	}
	s.current = handle
	s.connected = true
	return s.channels.Names(), reconnect
}

// Drop marks the session as disconnected.
func (s *Session[C]) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero C
	s.current = zero
	s.connected = false
}

// Lookup returns the binding for name, or nil.
func (s *Session[C]) Lookup(name string) *Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels.Get(name)
}

// Deliver routes a decoded event to name's binding.
func (s *Session[C]) Deliver(name, event string, payload realtime.Payload) bool {
	b := s.Lookup(name)
	return b != nil && b.Deliver(event, payload)
}

// Connected reports whether a session is active.
func (s *Session[C]) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// OnReconnect registers a reconnect hook.
func (s *Session[C]) OnReconnect(fn func()) { s.hooks.Add(fn) }

// FireReconnect runs the reconnect hooks.
func (s *Session[C]) FireReconnect() { s.hooks.Fire() }
