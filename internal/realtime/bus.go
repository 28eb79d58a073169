// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package realtime

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	xglog "github.com/ManuGH/chanrelay/internal/log"
	"github.com/ManuGH/chanrelay/internal/metrics"
	"github.com/ManuGH/chanrelay/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Option customises a Bus.
type Option func(*Bus)

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithTracer replaces the tracer used for dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(b *Bus) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithFailureHook registers fn to observe contained handler failures.
// fn runs on the dispatching goroutine.
func WithFailureHook(fn func(*HandlerError)) Option {
	return func(b *Bus) { b.onFailure = fn }
}

// Bus is the channel event bus. Build one per process with New and pass it to
// every consumer.
type Bus struct {
	transport Transport
	logger    zerolog.Logger
	tracer    trace.Tracer
	onFailure func(*HandlerError)

	mu     sync.RWMutex
	cfg    *Configuration
	conn   Connection
	closed bool

	registry *Registry

	handlersMu sync.Mutex
	handlers   map[string][]*Subscription // copy-on-write

	// serializes transport deliveries
	deliverMu sync.Mutex
}

// New creates an unconfigured bus on top of t. Handlers may be registered
// immediately; Listen requires Configure.
func New(t Transport, opts ...Option) *Bus {
	b := &Bus{
		transport: t,
		logger:    xglog.WithComponent("realtime"),
		tracer:    telemetry.Tracer("github.com/ManuGH/chanrelay/internal/realtime"),
		registry:  NewRegistry(),
		handlers:  make(map[string][]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Configure stores the configuration and opens the transport connection.
// It may be called once; later calls fail with ErrAlreadyConfigured.
func (b *Bus) Configure(ctx context.Context, key string, options Options) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.closed:
		return ErrClosed
	case b.cfg != nil:
		return ErrAlreadyConfigured
	case b.transport == nil:
		return ErrNoTransport
	}

	cfg := Configuration{Key: key, Options: options.Clone()}
	conn, err := b.transport.Connect(ctx, cfg.Key, cfg.Options.Clone())
	if err != nil {
		return fmt.Errorf("connect %s transport: %w", b.transport.Name(), err)
	}
	conn.OnReconnect(b.replay)

	b.cfg = &cfg
	b.conn = conn

	b.logger.Info().
		Str(xglog.FieldEvent, "realtime.configured").
		Str(xglog.FieldTransport, b.transport.Name()).
		Interface("options", cfg.Redacted()).
		Msg("realtime bus configured")
	return nil
}

// IsConfigured reports whether Configure has succeeded.
func (b *Bus) IsConfigured() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg != nil
}

// Configuration returns a copy of the stored configuration.
func (b *Bus) Configuration() (Configuration, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cfg == nil {
		return Configuration{}, false
	}
	return b.cfg.clone(), true
}

// TransportName returns the name of the underlying transport.
func (b *Bus) TransportName() string {
	if b.transport == nil {
		return ""
	}
	return b.transport.Name()
}

func (b *Bus) connection() (Connection, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.conn == nil {
		return nil, ErrNotConfigured
	}
	return b.conn, nil
}

// Listen subscribes to channel and routes its events through the handler
// table by event name. Listening twice to the same channel is a no-op.
func (b *Bus) Listen(ctx context.Context, channel string) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	if strings.TrimSpace(channel) == "" {
		return ErrInvalidChannel
	}

	added, err := b.registry.Add(channel, func() error {
		return b.bind(ctx, conn, channel)
	})
	if err != nil {
		return fmt.Errorf("listen %q: %w", channel, err)
	}
	if added {
		b.logger.Info().
			Str(xglog.FieldEvent, "realtime.channel_listen").
			Str(xglog.FieldChannel, channel).
			Msg("listening to channel")
	}
	return nil
}

// Channels returns the subscribed channel names.
func (b *Bus) Channels() []string {
	return b.registry.Names()
}

func (b *Bus) bind(ctx context.Context, conn Connection, name string) error {
	_, err := conn.SubscribeChannel(ctx, name, func(event string, payload Payload) {
		b.deliver(Message{Channel: name, Event: event, Payload: payload})
	})
	return err
}

// replay re-subscribes every registered channel on a fresh session.
func (b *Bus) replay() {
	conn, err := b.connection()
	if err != nil {
		return
	}
	metrics.IncReconnect(b.transport.Name())

	replayed := 0
	b.registry.Each(func(name string) {
		if err := b.bind(context.Background(), conn, name); err != nil {
			b.logger.Warn().
				Err(err).
				Str(xglog.FieldEvent, "realtime.replay_failed").
				Str(xglog.FieldChannel, name).
				Msg("failed to re-subscribe channel after reconnect")
			return
		}
		replayed++
	})

	b.logger.Info().
		Str(xglog.FieldEvent, "realtime.replayed").
		Str(xglog.FieldTransport, b.transport.Name()).
		Int("channels", replayed).
		Msg("re-subscribed channels after reconnect")
}

// On appends h to the handlers for event.
func (b *Bus) On(event string, h Handler) *Subscription {
	if h == nil {
		panic("realtime: nil handler")
	}
	sub := &Subscription{bus: b, id: uuid.NewString(), event: event, handler: h}
	b.add(sub)
	return sub
}

// Once registers h for a single invocation. The subscription is removed
// before h runs.
func (b *Bus) Once(event string, h Handler) *Subscription {
	if h == nil {
		panic("realtime: nil handler")
	}
	sub := &Subscription{bus: b, id: uuid.NewString(), event: event}
	sub.handler = func(payload Payload) error {
		if !sub.removed.CompareAndSwap(false, true) {
			return nil
		}
		b.remove(sub)
		return h(payload)
	}
	b.add(sub)
	return sub
}

// Off removes exactly sub. It is a no-op for nil or removed subscriptions and
// may be called from inside any handler: a handler removed before its turn in
// an in-flight dispatch pass is skipped. Subscriptions of other buses are
// ignored.
func (b *Bus) Off(sub *Subscription) {
	if sub == nil || sub.bus != b || !sub.removed.CompareAndSwap(false, true) {
		return
	}
	b.remove(sub)
}

func (b *Bus) add(sub *Subscription) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()

	cur := b.handlers[sub.event]
	next := make([]*Subscription, len(cur), len(cur)+1)
	copy(next, cur)
	b.handlers[sub.event] = append(next, sub)
	metrics.HandlersRegistered.Inc()
}

func (b *Bus) remove(sub *Subscription) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()

	cur := b.handlers[sub.event]
	next := make([]*Subscription, 0, len(cur))
	for _, s := range cur {
		if s != sub {
			next = append(next, s)
		}
	}
	if len(next) == len(cur) {
		return
	}
	if len(next) == 0 {
		delete(b.handlers, sub.event)
	} else {
		b.handlers[sub.event] = next
	}
	metrics.HandlersRegistered.Dec()
}

func (b *Bus) snapshot(event string) []*Subscription {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	return b.handlers[event]
}

// ListenerCount returns the number of handlers registered for event.
func (b *Bus) ListenerCount(event string) int {
	return len(b.snapshot(event))
}

// EventNames returns the event names with at least one handler, sorted.
func (b *Bus) EventNames() []string {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()

	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Emit dispatches a local event on the calling goroutine. Handlers cannot
// tell it apart from a transport-delivered event.
func (b *Bus) Emit(event string, payload Payload) {
	b.dispatch(Message{Event: event, Payload: payload}, metrics.SourceLocal)
}

// Close closes the transport connection. The handler table is left intact.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close %s connection: %w", b.transport.Name(), err)
	}
	b.logger.Info().
		Str(xglog.FieldEvent, "realtime.closed").
		Str(xglog.FieldTransport, b.transport.Name()).
		Msg("realtime bus closed")
	return nil
}
