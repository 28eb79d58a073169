// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package redis relays events published on Redis PUBLISH/SUBSCRIBE channels.
// Messages carry the wire.Envelope JSON format.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/chanrelay/internal/log"
	"github.com/ManuGH/chanrelay/internal/metrics"
	"github.com/ManuGH/chanrelay/internal/realtime"
	"github.com/ManuGH/chanrelay/internal/transport/wire"
)

// Name is the transport kind.
const Name = "redis"

const (
	defaultAddr           = "127.0.0.1:6379"
	defaultHealthInterval = 30 * time.Second
)

// Transport connects to a Redis server. The configured key is the password.
type Transport struct {
	logger     zerolog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// New creates a Redis transport.
func New() *Transport {
	return &Transport{
		logger:     xglog.WithComponent("transport.redis"),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Name implements realtime.Transport.
func (t *Transport) Name() string { return Name }

// Connect validates options and starts the receive loop.
//
// Options: addr (host:port), db (number), healthCheckInterval (duration).
func (t *Transport) Connect(ctx context.Context, key string, options realtime.Options) (realtime.Connection, error) {
	db, err := wire.Int(options, "db", 0)
	if err != nil {
		return nil, err
	}
	if db < 0 {
		return nil, fmt.Errorf("%w: db must not be negative", wire.ErrInvalidOption)
	}
	health, err := wire.Duration(options, "healthCheckInterval", defaultHealthInterval)
	if err != nil {
		return nil, err
	}
	addr := wire.String(options, "addr", defaultAddr)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: key,
		DB:       db,
	})
	return newConn(ctx, client, health, t), nil
}

func newConn(ctx context.Context, client *redis.Client, health time.Duration, t *Transport) *Conn {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Conn{
		client:  client,
		logger:  t.logger.With().Str(xglog.FieldTransport, Name).Str(xglog.FieldAddr, client.Options().Addr).Logger(),
		health:  health,
		session: wire.NewSession[*redis.PubSub](),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.run(runCtx, wire.NewBackOff(t.minBackoff, t.maxBackoff))
	return c
}

// Conn is a logical Redis subscription connection.
type Conn struct {
	client  *redis.Client
	logger  zerolog.Logger
	health  time.Duration
	session *wire.Session[*redis.PubSub]

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// SubscribeChannel implements realtime.Connection.
func (c *Conn) SubscribeChannel(ctx context.Context, name string, fn func(event string, payload realtime.Payload)) (realtime.Channel, error) {
	b, ps, subscribe := c.session.Track(name, fn)
	if !subscribe {
		return b, nil
	}
	if err := ps.Subscribe(ctx, name); err != nil {
		c.session.Untrack(name)
		return nil, fmt.Errorf("redis subscribe %s: %w", name, err)
	}
	return b, nil
}

// OnReconnect implements realtime.Connection.
func (c *Conn) OnReconnect(fn func()) { c.session.OnReconnect(fn) }

// Close stops the receive loop and closes the client.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		err = c.client.Close()
	})
	return err
}

func (c *Conn) run(ctx context.Context, bo *backoff.ExponentialBackOff) {
	defer close(c.done)
	for {
		if err := c.client.Ping(ctx).Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			c.logger.Warn().Err(err).Str("event", "transport.connect_failed").Dur("retry_in", wait).Msg("redis unreachable")
			if !wire.Sleep(ctx, wait) {
				return
			}
			continue
		}
		bo.Reset()

		ps := c.client.Subscribe(ctx)
		pending, reconnect := c.session.Establish(ps)
		if len(pending) > 0 {
			if err := ps.Subscribe(ctx, pending...); err != nil {
				c.logger.Warn().Err(err).Str("event", "transport.subscribe_failed").Strs("channels", pending).Msg("pending subscribe failed")
			}
		}
		c.logger.Info().Str("event", "transport.connected").Bool("reconnect", reconnect).Msg("redis session established")
		if reconnect {
			c.session.FireReconnect()
		}

		err := c.receive(ctx, ps)
		c.session.Drop()
		_ = ps.Close()
		if ctx.Err() != nil {
			return
		}
		wait := bo.NextBackOff()
		c.logger.Warn().Err(err).Str("event", "transport.disconnected").Dur("retry_in", wait).Msg("redis session lost")
		if !wire.Sleep(ctx, wait) {
			return
		}
	}
}

// receive reads until the PubSub fails. Read timeouts trigger a health ping.
func (c *Conn) receive(ctx context.Context, ps *redis.PubSub) error {
	stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
	defer stop()
	for {
		msg, err := ps.ReceiveTimeout(ctx, c.health)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if perr := ps.Ping(ctx); perr != nil {
					return perr
				}
				continue
			}
			return err
		}
		switch m := msg.(type) {
		case *redis.Message:
			c.deliver(m.Channel, []byte(m.Payload))
		case *redis.Subscription:
			c.logger.Debug().Str("event", "transport.subscribed").Str(xglog.FieldChannel, m.Channel).Str("kind", m.Kind).Msg("subscription changed")
		}
	}
}

func (c *Conn) deliver(channel string, data []byte) {
	event, payload, err := wire.Decode(data)
	if err != nil {
		metrics.IncMalformed(Name)
		c.logger.Warn().Err(err).Str("event", "transport.malformed").Str(xglog.FieldChannel, channel).Msg("dropping redis message")
		return
	}
	if !c.session.Deliver(channel, event, payload) {
		c.logger.Debug().Str(xglog.FieldChannel, channel).Str(xglog.FieldEventName, event).Msg("ignoring message for unbound channel")
	}
}
