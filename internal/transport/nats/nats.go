// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package nats relays events published on NATS subjects. The subject is the
// channel name and messages carry the wire.Envelope JSON format.
//
// The NATS client resubscribes on its own after a reconnect, so channel
// subscriptions persist across sessions and replays from the bus are no-ops.
package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/chanrelay/internal/log"
	"github.com/ManuGH/chanrelay/internal/metrics"
	"github.com/ManuGH/chanrelay/internal/realtime"
	"github.com/ManuGH/chanrelay/internal/transport/wire"
)

// Name is the transport kind.
const Name = "nats"

const defaultReconnectWait = 2 * time.Second

// Transport connects to a NATS server. A non-empty key is used as the auth token.
type Transport struct {
	logger zerolog.Logger
}

// New creates a NATS transport.
func New() *Transport {
	return &Transport{logger: xglog.WithComponent("transport.nats")}
}

// Name implements realtime.Transport.
func (t *Transport) Name() string { return Name }

// Connect dials the server. An unreachable server is not an error: the client
// keeps retrying in the background.
//
// Options: url (default nats://127.0.0.1:4222), reconnectWait (duration), name.
func (t *Transport) Connect(_ context.Context, key string, options realtime.Options) (realtime.Connection, error) {
	wait, err := wire.Duration(options, "reconnectWait", defaultReconnectWait)
	if err != nil {
		return nil, err
	}
	url := wire.String(options, "url", natsgo.DefaultURL)
	c := &Conn{
		logger: t.logger.With().Str(xglog.FieldTransport, Name).Str(xglog.FieldURL, url).Logger(),
		subs:   make(map[string]*natsgo.Subscription),
		set:    wire.NewChannelSet(),
	}

	opts := []natsgo.Option{
		natsgo.Name(wire.String(options, "name", "chanrelay")),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(wait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			c.logger.Warn().Err(err).Str("event", "transport.disconnected").Msg("nats connection lost")
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			c.logger.Info().Str("event", "transport.connected").Bool("reconnect", true).Str(xglog.FieldURL, nc.ConnectedUrlRedacted()).Msg("nats reconnected")
			c.hooks.Fire()
		}),
		natsgo.ClosedHandler(func(*natsgo.Conn) {
			c.logger.Debug().Str("event", "transport.closed").Msg("nats connection closed")
		}),
	}
	if key != "" {
		opts = append(opts, natsgo.Token(key))
	}

	nc, err := natsgo.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	c.nc = nc
	return c, nil
}

// Conn wraps one NATS client connection.
type Conn struct {
	nc     *natsgo.Conn
	logger zerolog.Logger
	hooks  wire.Hooks

	mu   sync.Mutex
	subs map[string]*natsgo.Subscription
	set  *wire.ChannelSet
}

// SubscribeChannel implements realtime.Connection. While the client is
// reconnecting the subscription is buffered and sent once connected.
func (c *Conn) SubscribeChannel(_ context.Context, name string, fn func(event string, payload realtime.Payload)) (realtime.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, created := c.set.GetOrCreate(name, fn)
	if !created {
		return b, nil
	}
	sub, err := c.nc.Subscribe(name, func(m *natsgo.Msg) { c.deliver(b, m) })
	if err != nil {
		c.set.Remove(name)
		return nil, fmt.Errorf("nats subscribe %s: %w", name, err)
	}
	c.subs[name] = sub
	return b, nil
}

// OnReconnect implements realtime.Connection.
func (c *Conn) OnReconnect(fn func()) { c.hooks.Add(fn) }

// Close closes the client; buffered messages are dropped.
func (c *Conn) Close() error {
	c.nc.Close()
	return nil
}

func (c *Conn) deliver(b *wire.Binding, m *natsgo.Msg) {
	event, payload, err := wire.Decode(m.Data)
	if err != nil {
		metrics.IncMalformed(Name)
		c.logger.Warn().Err(err).Str("event", "transport.malformed").Str(xglog.FieldChannel, m.Subject).Msg("dropping nats message")
		return
	}
	if !b.Deliver(event, payload) {
		c.logger.Debug().Str(xglog.FieldChannel, m.Subject).Str(xglog.FieldEventName, event).Msg("ignoring message for unbound channel")
	}
}

func (c *Conn) subscribed(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[name]
	return ok && sub.IsValid()
}
