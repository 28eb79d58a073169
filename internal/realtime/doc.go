// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package realtime implements the channel event bus: a single logical
// connection to a hosted pub/sub service, a registry of subscribed channels,
// and an event-name keyed handler table that every inbound message is routed
// through regardless of the channel it arrived on.
//
// Transport deliveries are dispatched one at a time. Handlers run
// synchronously on the delivering goroutine and must hand long work off to
// their own goroutines.
package realtime
