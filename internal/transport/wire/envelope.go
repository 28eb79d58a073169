// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed classifies inbound messages that cannot be dispatched.
var ErrMalformed = errors.New("malformed message")

// Envelope is the wire format used on broker transports (redis, nats, kafka):
//
//	{"event": "job.finished", "data": {"state": "passed"}}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var null = json.RawMessage("null")

// Decode parses an envelope. A missing data field decodes as JSON null.
func Decode(b []byte) (string, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return "", nil, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	if len(env.Data) == 0 {
		return env.Event, null, nil
	}
	return env.Event, env.Data, nil
}

// Encode builds an envelope for event with data marshalled as JSON.
func Encode(event string, data any) ([]byte, error) {
	if event == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	var raw json.RawMessage
	switch t := data.(type) {
	case json.RawMessage:
		raw = t
	case nil:
		raw = null
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("encode data: %w", err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
