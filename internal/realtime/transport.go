// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package realtime

import "context"

// Transport opens the physical connection to the messaging backend.
type Transport interface {
	// Name identifies the transport in logs and metrics.
	Name() string
	// Connect validates options and starts connecting. It must not block on
	// the network: connectivity failures are logged by the transport and
	// recovered by its own reconnect policy.
	Connect(ctx context.Context, key string, options Options) (Connection, error)
}

// Connection is one logical connection that survives physical reconnects.
type Connection interface {
	// SubscribeChannel subscribes to name in the current session and routes
	// every event of the channel to fn. fn is bound before the backend
	// subscription starts, so no event of the new subscription is missed.
	// It is idempotent per session (a repeated call rebinds fn) and records
	// the channel as pending while disconnected.
	SubscribeChannel(ctx context.Context, name string, fn func(event string, payload Payload)) (Channel, error)
	// OnReconnect registers fn to run after every re-established session.
	// A new session has no channels; the caller replays its subscriptions.
	OnReconnect(fn func())
	// Close stops the connection and its goroutines.
	Close() error
}

// Channel is a subscribed channel handle.
type Channel interface {
	Name() string
	// BindAll routes every event of the channel to cb, replacing any
	// earlier binding.
	BindAll(cb func(event string, payload Payload))
}
