// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package realtime

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync/atomic"
)

// Payload is an opaque event body. Transport-delivered payloads are
// json.RawMessage; locally emitted payloads are passed through untouched.
type Payload = any

// Handler receives the payload of one event. A returned error or a panic is
// contained by the bus.
type Handler func(payload Payload) error

// Options are transport specific connection options (e.g. "cluster").
type Options map[string]any

// Clone returns a deep copy of nested maps and slices.
func (o Options) Clone() Options {
	if o == nil {
		return Options{}
	}
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Options(t).Clone())
	case Options:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Configuration is the immutable record stored by Configure.
type Configuration struct {
	Key     string
	Options Options
}

func (c Configuration) clone() Configuration {
	return Configuration{Key: c.Key, Options: c.Options.Clone()}
}

// Redacted returns the options with the key masked, for logs and status output.
func (c Configuration) Redacted() map[string]any {
	out := maps.Clone(map[string]any(c.Options))
	if out == nil {
		out = map[string]any{}
	}
	if c.Key != "" {
		out["key"] = "***"
	}
	return out
}

// Message is one inbound event. It only lives for a single dispatch pass.
type Message struct {
	Channel string
	Event   string
	Payload Payload
}

// Subscription is the handle returned by On and Once.
type Subscription struct {
	bus     *Bus
	id      string
	event   string
	handler Handler
	removed atomic.Bool
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Event returns the event name the handler is registered for.
func (s *Subscription) Event() string { return s.event }

// Active reports whether the handler is still registered.
func (s *Subscription) Active() bool { return !s.removed.Load() }

// Decode converts a payload into v. Raw JSON payloads are unmarshalled
// directly; any other value is round-tripped through JSON.
func Decode(payload Payload, v any) error {
	var raw []byte
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
