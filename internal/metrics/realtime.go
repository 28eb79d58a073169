// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch sources.
const (
	SourceTransport = "transport"
	SourceLocal     = "local"
)

// Handler failure reasons.
const (
	FailureError = "error"
	FailurePanic = "panic"
)

var (
	EventsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanrelay_events_dispatched_total",
		Help: "Total number of dispatch passes that reached at least one handler",
	}, []string{"source"})

	EventsUnhandledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanrelay_events_unhandled_total",
		Help: "Total number of events discarded because no handler was registered",
	}, []string{"source"})

	HandlerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanrelay_handler_failures_total",
		Help: "Total number of contained handler failures by reason",
	}, []string{"reason"}) // reason=error|panic

	ChannelsSubscribed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chanrelay_channels_subscribed",
		Help: "Number of channels recorded in the channel registry",
	})

	HandlersRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chanrelay_handlers_registered",
		Help: "Number of event handlers currently registered",
	})

	TransportReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanrelay_transport_reconnects_total",
		Help: "Total number of re-established transport sessions",
	}, []string{"transport"})

	TransportMalformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanrelay_transport_malformed_total",
		Help: "Total number of inbound wire messages that could not be decoded",
	}, []string{"transport"})

	StreamDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chanrelay_stream_drops_total",
		Help: "Total number of events dropped for slow event stream clients",
	})
)

// IncDispatched records a dispatch pass; handlers==0 counts as unhandled.
func IncDispatched(source string, handlers int) {
	if source == "" {
		source = "unknown"
	}
	if handlers == 0 {
		EventsUnhandledTotal.WithLabelValues(source).Inc()
		return
	}
	EventsDispatchedTotal.WithLabelValues(source).Inc()
}

// IncHandlerFailure records a contained handler failure.
func IncHandlerFailure(reason string) {
	if reason == "" {
		reason = FailureError
	}
	HandlerFailuresTotal.WithLabelValues(reason).Inc()
}

// IncReconnect records a re-established transport session.
func IncReconnect(transport string) {
	TransportReconnectsTotal.WithLabelValues(transport).Inc()
}

// IncMalformed records an undecodable inbound message.
func IncMalformed(transport string) {
	TransportMalformedTotal.WithLabelValues(transport).Inc()
}
