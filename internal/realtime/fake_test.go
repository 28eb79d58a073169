// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu         sync.Mutex
	connects   int
	connectErr error
	conn       *fakeConn
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Connect(_ context.Context, key string, options Options) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	f.conn = &fakeConn{
		key:        key,
		options:    options,
		channels:   make(map[string]*fakeChannel),
		subscribes: make(map[string]int),
	}
	return f.conn, nil
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

type fakeConn struct {
	mu           sync.Mutex
	key          string
	options      Options
	channels     map[string]*fakeChannel
	subscribes   map[string]int
	reconnectFns []func()
	subscribeErr error
	closed       bool
	// early events are pushed while SubscribeChannel is still running.
	early []string
}

func (c *fakeConn) SubscribeChannel(_ context.Context, name string, fn func(string, Payload)) (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes[name]++
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	ch, ok := c.channels[name]
	if !ok {
		ch = &fakeChannel{name: name}
		c.channels[name] = ch
	}
	if fn != nil {
		ch.BindAll(fn)
	}
	for _, event := range c.early {
		ch.emit(event, nil)
	}
	return ch, nil
}

func (c *fakeConn) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectFns = append(c.reconnectFns, fn)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) subscribeCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes[name]
}

// deliver simulates the transport pushing one raw event.
func (c *fakeConn) deliver(channel, event string, payload Payload) bool {
	c.mu.Lock()
	ch := c.channels[channel]
	c.mu.Unlock()
	if ch == nil {
		return false
	}
	return ch.emit(event, payload)
}

// reconnect starts a fresh session without channels and fires callbacks.
func (c *fakeConn) reconnect() {
	c.mu.Lock()
	c.channels = make(map[string]*fakeChannel)
	fns := append([]func(){}, c.reconnectFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type fakeChannel struct {
	name string
	mu   sync.Mutex
	cb   func(string, Payload)
}

func (ch *fakeChannel) Name() string { return ch.name }

func (ch *fakeChannel) BindAll(cb func(string, Payload)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.cb = cb
}

func (ch *fakeChannel) emit(event string, payload Payload) bool {
	ch.mu.Lock()
	cb := ch.cb
	ch.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(event, payload)
	return true
}

// logSink collects JSON log lines written by the bus.
type logSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *logSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *logSink) records(t *testing.T, event string) []map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(s.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["event"] == event {
			out = append(out, entry)
		}
	}
	return out
}

func newTestBus(t *testing.T, opts ...Option) (*Bus, *fakeTransport, *logSink) {
	t.Helper()
	sink := &logSink{}
	ft := &fakeTransport{}
	opts = append([]Option{WithLogger(zerolog.New(sink).Level(zerolog.InfoLevel))}, opts...)
	return New(ft, opts...), ft, sink
}

func configured(t *testing.T, opts ...Option) (*Bus, *fakeConn, *logSink) {
	t.Helper()
	b, ft, sink := newTestBus(t, opts...)
	require.NoError(t, b.Configure(context.Background(), "K", Options{"cluster": "eu"}))
	t.Cleanup(func() { _ = b.Close() })
	return b, ft.conn, sink
}
