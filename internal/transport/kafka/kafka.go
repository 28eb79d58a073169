// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package kafka relays events from Kafka topics, one reader per channel.
// The topic is topicPrefix + channel and messages carry the wire.Envelope
// JSON format. Readers reconnect internally, so reconnect hooks never fire.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	xglog "github.com/ManuGH/chanrelay/internal/log"
	"github.com/ManuGH/chanrelay/internal/metrics"
	"github.com/ManuGH/chanrelay/internal/realtime"
	"github.com/ManuGH/chanrelay/internal/transport/wire"
)

// Name is the transport kind.
const Name = "kafka"

// ErrNoBrokers is returned by Connect when the brokers option is empty.
var ErrNoBrokers = errors.New("kafka brokers are missing")

// ErrClosed is returned when subscribing on a closed connection.
var ErrClosed = errors.New("kafka connection closed")

type reader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// Transport creates Kafka readers.
type Transport struct {
	logger     zerolog.Logger
	newReader  func(kafkago.ReaderConfig) reader
	minBackoff time.Duration
	maxBackoff time.Duration
}

// New creates a Kafka transport.
func New() *Transport {
	return &Transport{
		logger:     xglog.WithComponent("transport.kafka"),
		newReader:  func(cfg kafkago.ReaderConfig) reader { return kafkago.NewReader(cfg) },
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Name implements realtime.Transport.
func (t *Transport) Name() string { return Name }

// Connect validates options. No network traffic happens until a channel is
// subscribed.
//
// Options: brokers (list or comma string, required), topicPrefix, groupId
// (defaults to a unique group so every process sees every event) and
// startOffset ("latest" or "earliest", default "latest"). A group without
// committed offsets starts at startOffset. The key is not used.
func (t *Transport) Connect(ctx context.Context, key string, options realtime.Options) (realtime.Connection, error) {
	brokers := wire.Strings(options, "brokers")
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	start, err := startOffset(wire.String(options, "startOffset", "latest"))
	if err != nil {
		return nil, err
	}
	group := wire.String(options, "groupId", "")
	if group == "" {
		group = "chanrelay-" + uuid.New().String()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Conn{
		t:       t,
		brokers: brokers,
		prefix:  wire.String(options, "topicPrefix", ""),
		group:   group,
		start:   start,
		logger:  t.logger.With().Str(xglog.FieldTransport, Name).Str("group_id", group).Logger(),
		ctx:     runCtx,
		cancel:  cancel,
		set:     wire.NewChannelSet(),
	}, nil
}

func startOffset(v string) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "latest", "":
		return kafkago.LastOffset, nil
	case "earliest":
		return kafkago.FirstOffset, nil
	default:
		return 0, fmt.Errorf("%w: startOffset=%q, want latest or earliest", wire.ErrInvalidOption, v)
	}
}

// Conn owns one reader per subscribed channel.
type Conn struct {
	t       *Transport
	brokers []string
	prefix  string
	group   string
	start   int64
	logger  zerolog.Logger
	hooks   wire.Hooks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	set     *wire.ChannelSet
	readers []reader
}

// SubscribeChannel starts a reader for the channel's topic. fn is bound
// before the reader goroutine starts.
func (c *Conn) SubscribeChannel(_ context.Context, name string, fn func(event string, payload realtime.Payload)) (realtime.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	b, created := c.set.GetOrCreate(name, fn)
	if !created {
		return b, nil
	}
	topic := c.prefix + name
	r := c.t.newReader(kafkago.ReaderConfig{
		Brokers:     c.brokers,
		GroupID:     c.group,
		Topic:       topic,
		StartOffset: c.start,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	c.readers = append(c.readers, r)
	c.wg.Add(1)
	go c.read(r, b, topic)
	return b, nil
}

// OnReconnect implements realtime.Connection.
func (c *Conn) OnReconnect(fn func()) { c.hooks.Add(fn) }

// Close stops every reader and waits for the read loops.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	readers := c.readers
	c.mu.Unlock()

	c.cancel()
	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.wg.Wait()
	return errors.Join(errs...)
}

func (c *Conn) read(r reader, b *wire.Binding, topic string) {
	defer c.wg.Done()
	bo := wire.NewBackOff(c.t.minBackoff, c.t.maxBackoff)
	for {
		m, err := r.ReadMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			c.logger.Warn().Err(err).Str("event", "transport.read_failed").Str("topic", topic).Dur("retry_in", wait).Msg("kafka read failed")
			if !wire.Sleep(c.ctx, wait) {
				return
			}
			continue
		}
		bo.Reset()
		event, payload, err := wire.Decode(m.Value)
		if err != nil {
			metrics.IncMalformed(Name)
			c.logger.Warn().Err(err).Str("event", "transport.malformed").Str("topic", topic).Int64("offset", m.Offset).Msg("dropping kafka message")
			continue
		}
		if !b.Deliver(event, payload) {
			c.logger.Debug().Str(xglog.FieldChannel, b.Name()).Str(xglog.FieldEventName, event).Msg("ignoring message for unbound channel")
		}
	}
}
