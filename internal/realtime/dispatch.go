// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package realtime

import (
	"context"
	"errors"
	"fmt"

	xglog "github.com/ManuGH/chanrelay/internal/log"
	"github.com/ManuGH/chanrelay/internal/metrics"
	"github.com/ManuGH/chanrelay/internal/telemetry"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// deliver is the entry point for transport events. Deliveries from all
// channels are serialized, which preserves per-channel order.
func (b *Bus) deliver(msg Message) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.logger.Debug().
		Str(xglog.FieldEvent, "realtime.inbound").
		Str(xglog.FieldChannel, msg.Channel).
		Str(xglog.FieldEventName, msg.Event).
		Msg("inbound event")

	b.dispatch(msg, metrics.SourceTransport)
}

// dispatch runs one pass over the handlers registered for msg.Event when the
// pass starts. Handlers removed mid-pass are skipped; handlers added mid-pass
// wait for the next message.
func (b *Bus) dispatch(msg Message, source string) int {
	subs := b.snapshot(msg.Event)

	_, span := b.tracer.Start(context.Background(), "realtime.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(telemetry.DispatchAttributes(msg.Event, msg.Channel, source, len(subs))...),
	)
	defer span.End()

	invoked := 0
	for _, sub := range subs {
		if sub.removed.Load() {
			continue
		}
		invoked++
		if herr := b.invoke(sub, msg); herr != nil {
			span.RecordError(herr)
			span.SetStatus(codes.Error, "handler failed")
			b.fail(herr)
		}
	}

	metrics.IncDispatched(source, invoked)
	return invoked
}

func (b *Bus) invoke(sub *Subscription, msg Message) (herr *HandlerError) {
	defer func() {
		if r := recover(); r != nil {
			herr = &HandlerError{
				Event:          msg.Event,
				Channel:        msg.Channel,
				SubscriptionID: sub.id,
				Err:            fmt.Errorf("%w: %v", ErrHandlerPanic, r),
			}
		}
	}()

	if err := sub.handler(msg.Payload); err != nil {
		return &HandlerError{
			Event:          msg.Event,
			Channel:        msg.Channel,
			SubscriptionID: sub.id,
			Err:            err,
		}
	}
	return nil
}

func (b *Bus) fail(herr *HandlerError) {
	reason := metrics.FailureError
	if errors.Is(herr, ErrHandlerPanic) {
		reason = metrics.FailurePanic
	}
	metrics.IncHandlerFailure(reason)

	b.logger.Error().
		Err(herr.Err).
		Str(xglog.FieldEvent, "realtime.handler_failed").
		Str(xglog.FieldEventName, herr.Event).
		Str(xglog.FieldChannel, herr.Channel).
		Str(xglog.FieldSubscriptionID, herr.SubscriptionID).
		Str("reason", reason).
		Msg("event handler failed")

	if b.onFailure != nil {
		b.onFailure(herr)
	}
}
