// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package realtime

import (
	"slices"
	"sync"

	"github.com/ManuGH/chanrelay/internal/metrics"
)

// Registry is the set of subscribed channel names. It outlives any single
// physical connection and is replayed against every new session.
type Registry struct {
	mu    sync.Mutex
	names map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Add records name after subscribe succeeds. subscribe runs under the
// registry lock, so concurrent Adds of one name reach the transport once.
func (r *Registry) Add(name string, subscribe func() error) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.names[name]; ok {
		return false, nil
	}
	if subscribe != nil {
		if err := subscribe(); err != nil {
			return false, err
		}
	}
	r.names[name] = struct{}{}
	metrics.ChannelsSubscribed.Inc()
	return true, nil
}

// Contains reports whether name has been subscribed.
func (r *Registry) Contains(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.names[name]
	return ok
}

// Names returns the subscribed channel names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.names))
	for name := range r.names {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of subscribed channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

// Each calls fn for every name in sorted order while holding the registry
// lock, so no Add can interleave with a replay pass.
func (r *Registry) Each(fn func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fn(name)
	}
}
