// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	// Relay attributes
	RealtimeEventKey    = "realtime.event"
	RealtimeChannelKey  = "realtime.channel"
	RealtimeSourceKey   = "realtime.source"
	RealtimeHandlersKey = "realtime.handlers"
	TransportKey        = "realtime.transport"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// DispatchAttributes creates attributes for one dispatch pass.
func DispatchAttributes(event, channel, source string, handlers int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(RealtimeEventKey, event),
		attribute.String(RealtimeSourceKey, source),
		attribute.Int(RealtimeHandlersKey, handlers),
	}
	if channel != "" {
		attrs = append(attrs, attribute.String(RealtimeChannelKey, channel))
	}
	return attrs
}
