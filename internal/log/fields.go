// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID      = "request_id"
	FieldTraceID        = "trace_id"
	FieldSubscriptionID = "subscription_id"
	FieldSocketID       = "socket_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldTransport = "transport"

	// Relay fields
	FieldChannel   = "channel"
	FieldEventName = "event_name"
	FieldHandlers  = "handlers"

	// Network fields
	FieldAddr = "addr"
	FieldURL  = "url"
)
