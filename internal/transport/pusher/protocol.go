// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pusher

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/coder/websocket"
)

const (
	eventEstablished         = "pusher:connection_established"
	eventError               = "pusher:error"
	eventPing                = "pusher:ping"
	eventPong                = "pusher:pong"
	eventSubscribe           = "pusher:subscribe"
	eventSubscriptionError   = "pusher:subscription_error"
	eventSubscriptionSuccess = "pusher_internal:subscription_succeeded"

	prefixProtocol = "pusher:"
	prefixInternal = "pusher_internal:"
)

// frame is one protocol message in either direction.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type establishedData struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type errorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func subscribeFrame(channel string) frame {
	data, _ := json.Marshal(map[string]string{"channel": channel})
	return frame{Event: eventSubscribe, Data: data}
}

func pingFrame() frame { return frame{Event: eventPing, Data: json.RawMessage(`{}`)} }
func pongFrame() frame { return frame{Event: eventPong, Data: json.RawMessage(`{}`)} }

// decodeData unwraps the string-encoded data the service sends. A string
// holding JSON is returned as that JSON; any other string stays a JSON string.
func decodeData(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	if raw[0] != '"' {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	if inner := strings.TrimSpace(s); inner != "" && json.Valid([]byte(inner)) {
		return json.RawMessage(inner)
	}
	return raw
}

// decodeInto unmarshals protocol data that may arrive string-encoded.
func decodeInto(raw json.RawMessage, v any) error {
	return json.Unmarshal(decodeData(raw), v)
}

type action int

const (
	actionStop action = iota
	actionGiveUp
	actionBackoff
	actionReconnect
)

func (a action) String() string {
	switch a {
	case actionStop:
		return "stop"
	case actionGiveUp:
		return "give_up"
	case actionBackoff:
		return "backoff"
	default:
		return "reconnect"
	}
}

// classifyClose maps a session error to the next step. Sessions that never
// got established always back off.
func classifyClose(err error, established bool) action {
	code := int(websocket.CloseStatus(err))
	switch {
	case code >= 4000 && code <= 4099:
		return actionGiveUp
	case code >= 4100 && code <= 4199:
		return actionBackoff
	case !established:
		return actionBackoff
	default:
		return actionReconnect
	}
}
