// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package memory is an in-process transport for tests and local development.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuGH/chanrelay/internal/realtime"
	"github.com/ManuGH/chanrelay/internal/transport/wire"
)

// Name is the transport kind.
const Name = "memory"

// ErrClosed is returned when subscribing on a closed connection.
var ErrClosed = errors.New("memory connection closed")

// Transport fans published events out to every open connection subscribed
// to the channel.
//
// Publish delivers synchronously on the caller's goroutine. Do not call it
// from a handler dispatched by the same bus: transport deliveries are
// serialized and the call would deadlock.
type Transport struct {
	mu         sync.Mutex
	conns      []*Conn
	connects   int
	subscribes map[string]int
}

// New creates an empty in-process transport.
func New() *Transport {
	return &Transport{subscribes: make(map[string]int)}
}

// Name implements realtime.Transport.
func (t *Transport) Name() string { return Name }

// Connect implements realtime.Transport. The key and options are ignored.
func (t *Transport) Connect(_ context.Context, _ string, _ realtime.Options) (realtime.Connection, error) {
	c := &Conn{t: t, channels: wire.NewChannelSet()}
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.connects++
	t.mu.Unlock()
	return c, nil
}

// Publish delivers event to every connection subscribed to channel in its
// current session and returns the number of connections reached.
func (t *Transport) Publish(channel, event string, payload realtime.Payload) int {
	var targets []*wire.Binding
	for _, c := range t.open() {
		c.mu.Lock()
		if b := c.channels.Get(channel); b != nil {
			targets = append(targets, b)
		}
		c.mu.Unlock()
	}
	n := 0
	for _, b := range targets {
		if b.Deliver(event, payload) {
			n++
		}
	}
	return n
}

// Reconnect simulates a dropped session on every open connection: channel
// sets are cleared and reconnect callbacks fire.
func (t *Transport) Reconnect() {
	for _, c := range t.open() {
		c.mu.Lock()
		c.channels.Reset()
		c.mu.Unlock()
		c.hooks.Fire()
	}
}

// Connects returns how many times Connect was called.
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// SubscribeCount returns how many session subscriptions were made for channel.
func (t *Transport) SubscribeCount(channel string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribes[channel]
}

func (t *Transport) open() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		if !c.isClosed() {
			out = append(out, c)
		}
	}
	return out
}

func (t *Transport) countSubscribe(channel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribes[channel]++
}

// Conn is one in-process connection.
type Conn struct {
	t     *Transport
	hooks wire.Hooks

	mu       sync.Mutex
	channels *wire.ChannelSet
	closed   bool
}

// SubscribeChannel implements realtime.Connection.
func (c *Conn) SubscribeChannel(_ context.Context, name string, fn func(event string, payload realtime.Payload)) (realtime.Channel, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	b, created := c.channels.GetOrCreate(name, fn)
	c.mu.Unlock()
	if created {
		c.t.countSubscribe(name)
	}
	return b, nil
}

// OnReconnect implements realtime.Connection.
func (c *Conn) OnReconnect(fn func()) { c.hooks.Add(fn) }

// Close implements realtime.Connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
