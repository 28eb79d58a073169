// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned by transport-dependent calls issued before Configure.
	ErrNotConfigured = errors.New("realtime bus not configured")

	// ErrAlreadyConfigured is returned when Configure is called a second time.
	ErrAlreadyConfigured = errors.New("realtime bus already configured")

	// ErrNoTransport is returned by Configure when the bus was built without a transport.
	ErrNoTransport = errors.New("realtime bus has no transport")

	// ErrInvalidChannel is returned by Listen for an empty channel name.
	ErrInvalidChannel = errors.New("invalid channel name")

	// ErrClosed is returned by Listen after Close.
	ErrClosed = errors.New("realtime bus closed")

	// ErrHandlerPanic classifies handler failures caused by a recovered panic.
	ErrHandlerPanic = errors.New("handler panicked")
)

// HandlerError describes one contained handler failure. It never reaches the
// transport or other handlers; it is logged and handed to the failure hook.
type HandlerError struct {
	Event          string
	Channel        string // empty for locally emitted events
	SubscriptionID string
	Err            error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s for event %q failed: %v", e.SubscriptionID, e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
