// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pusher implements the Pusher Channels client protocol (version 7)
// over a WebSocket. Only public channels are supported.
package pusher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/chanrelay/internal/log"
	"github.com/ManuGH/chanrelay/internal/metrics"
	"github.com/ManuGH/chanrelay/internal/realtime"
	"github.com/ManuGH/chanrelay/internal/transport/wire"
)

// Name is the transport kind.
const Name = "pusher"

// ErrAuthRequired is returned for private and presence channels, whose
// authorization handshake is not implemented.
var ErrAuthRequired = errors.New("channel requires authorization")

const (
	writeTimeout = 10 * time.Second
	minBackoff   = time.Second
	maxBackoff   = 30 * time.Second
)

// Transport dials Pusher Channels.
type Transport struct {
	logger     zerolog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// New creates a Pusher transport.
func New() *Transport {
	return &Transport{
		logger:     xglog.WithComponent("transport.pusher"),
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
}

// Name implements realtime.Transport.
func (t *Transport) Name() string { return Name }

// Connect validates options and starts the connection loop in the background.
func (t *Transport) Connect(ctx context.Context, key string, options realtime.Options) (realtime.Connection, error) {
	s, err := parseSettings(key, options)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Conn{
		settings:   s,
		logger:     t.logger.With().Str(xglog.FieldTransport, Name).Logger(),
		minBackoff: t.minBackoff,
		maxBackoff: t.maxBackoff,
		cancel:     cancel,
		done:       make(chan struct{}),
		channels:   wire.NewChannelSet(),
	}
	go c.run(runCtx)
	return c, nil
}

// Conn is a logical Pusher connection that survives reconnects.
type Conn struct {
	settings   settings
	logger     zerolog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
	hooks      wire.Hooks

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	ws       *websocket.Conn
	socketID string
	sessions int
	channels *wire.ChannelSet
}

// SubscribeChannel implements realtime.Connection.
func (c *Conn) SubscribeChannel(ctx context.Context, name string, fn func(event string, payload realtime.Payload)) (realtime.Channel, error) {
	if strings.HasPrefix(name, "private-") || strings.HasPrefix(name, "presence-") {
		return nil, fmt.Errorf("%w: %s", ErrAuthRequired, name)
	}
	c.mu.Lock()
	b, created := c.channels.GetOrCreate(name, fn)
	ws := c.ws
	c.mu.Unlock()

	if created && ws != nil {
		if err := c.send(ctx, ws, subscribeFrame(name)); err != nil {
			// The session is going away; the next one resubscribes.
			c.logger.Warn().Err(err).Str("event", "transport.subscribe_failed").Str(xglog.FieldChannel, name).Msg("subscribe frame not sent")
		}
	}
	return b, nil
}

// OnReconnect implements realtime.Connection.
func (c *Conn) OnReconnect(fn func()) { c.hooks.Add(fn) }

// SocketID returns the id of the current session, or "" while disconnected.
func (c *Conn) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// Close stops the connection loop and waits for it to exit.
func (c *Conn) Close() error {
	c.closeOnce.Do(c.cancel)
	<-c.done
	return nil
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)
	bo := wire.NewBackOff(c.minBackoff, c.maxBackoff)
	for {
		ws, _, err := websocket.Dial(ctx, c.settings.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			c.logger.Warn().Err(err).
				Str("event", "transport.connect_failed").
				Dur("retry_in", wait).
				Msg("pusher connect failed")
			if !wire.Sleep(ctx, wait) {
				return
			}
			continue
		}

		next, established := c.session(ctx, ws)
		if established {
			bo.Reset()
		}
		switch next {
		case actionStop:
			return
		case actionGiveUp:
			c.logger.Error().Str("event", "transport.gave_up").Msg("pusher rejected the connection; not reconnecting")
			return
		case actionBackoff:
			wait := bo.NextBackOff()
			c.logger.Info().Str("event", "transport.reconnect_scheduled").Dur("retry_in", wait).Msg("pusher session ended")
			if !wire.Sleep(ctx, wait) {
				return
			}
		case actionReconnect:
			c.logger.Info().Str("event", "transport.reconnect_scheduled").Msg("pusher session ended; reconnecting")
		}
	}
}

// session runs one WebSocket session until it ends. The reader runs on its own
// goroutine because cancelling a read context closes the socket.
func (c *Conn) session(ctx context.Context, ws *websocket.Conn) (next action, established bool) {
	readCtx, stopRead := context.WithCancel(ctx)
	frames := make(chan []byte)
	readErr := make(chan error, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			_, data, err := ws.Read(readCtx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-readCtx.Done():
				return
			}
		}
	}()
	defer func() {
		c.endSession(ws)
		stopRead()
		_ = ws.CloseNow()
		<-readerDone
	}()

	activity := c.settings.activityTimeout
	timer := time.NewTimer(activity)
	defer timer.Stop()
	awaitingPong := false

	for {
		select {
		case <-ctx.Done():
			return actionStop, established
		case err := <-readErr:
			next := classifyClose(err, established)
			c.logger.Info().Err(err).
				Str("event", "transport.disconnected").
				Int("close_code", int(websocket.CloseStatus(err))).
				Str("next", next.String()).
				Msg("pusher session closed")
			return next, established
		case data := <-frames:
			awaitingPong = false
			var f frame
			if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
				metrics.IncMalformed(Name)
				c.logger.Warn().Err(err).Str("event", "transport.malformed").Msg("dropping undecodable pusher frame")
				resetTimer(timer, activity)
				continue
			}
			if f.Event == eventEstablished && !established {
				var d establishedData
				if err := decodeInto(f.Data, &d); err != nil {
					metrics.IncMalformed(Name)
					c.logger.Warn().Err(err).Str("event", "transport.malformed").Msg("bad connection_established data")
					return actionBackoff, false
				}
				if server := time.Duration(d.ActivityTimeout) * time.Second; server > 0 && server < activity {
					activity = server
				}
				established = true
				c.establish(ctx, ws, d.SocketID)
			} else {
				c.handle(ctx, ws, f)
			}
			resetTimer(timer, activity)
		case <-timer.C:
			if awaitingPong {
				c.logger.Warn().Str("event", "transport.pong_timeout").Msg("no pong from pusher; reconnecting")
				if established {
					return actionReconnect, true
				}
				return actionBackoff, false
			}
			if err := c.send(ctx, ws, pingFrame()); err != nil {
				c.logger.Debug().Err(err).Str("event", "transport.ping_failed").Msg("ping not sent")
			}
			awaitingPong = true
			timer.Reset(c.settings.pongTimeout)
		}
	}
}

// establish publishes the session and subscribes pending channels. On a
// re-established session the channel set starts empty and reconnect hooks
// replay the caller's subscriptions.
func (c *Conn) establish(ctx context.Context, ws *websocket.Conn, socketID string) {
	c.mu.Lock()
	c.sessions++
	reconnect := c.sessions > 1
	if reconnect {
		c.channels.Reset()
	}
	pending := c.channels.Names()
	c.ws = ws
	c.socketID = socketID
	c.mu.Unlock()

	c.logger.Info().
		Str("event", "transport.connected").
		Str(xglog.FieldSocketID, socketID).
		Bool("reconnect", reconnect).
		Msg("pusher session established")

	for _, name := range pending {
		if err := c.send(ctx, ws, subscribeFrame(name)); err != nil {
			c.logger.Warn().Err(err).Str("event", "transport.subscribe_failed").Str(xglog.FieldChannel, name).Msg("subscribe frame not sent")
		}
	}
	if reconnect {
		c.hooks.Fire()
	}
}

func (c *Conn) endSession(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == ws {
		c.ws = nil
		c.socketID = ""
	}
}

func (c *Conn) handle(ctx context.Context, ws *websocket.Conn, f frame) {
	switch {
	case f.Event == eventPing:
		if err := c.send(ctx, ws, pongFrame()); err != nil {
			c.logger.Debug().Err(err).Str("event", "transport.pong_failed").Msg("pong not sent")
		}
	case f.Event == eventPong:
	case f.Event == eventError:
		var d errorData
		_ = decodeInto(f.Data, &d)
		c.logger.Warn().
			Str("event", "transport.server_error").
			Int("code", d.Code).
			Str("message", d.Message).
			Msg("pusher reported an error")
	case f.Event == eventSubscriptionError:
		c.logger.Warn().
			Str("event", "transport.subscription_error").
			Str(xglog.FieldChannel, f.Channel).
			RawJSON("data", decodeData(f.Data)).
			Msg("pusher refused a subscription")
	case f.Event == eventSubscriptionSuccess:
		c.logger.Debug().Str("event", "transport.subscribed").Str(xglog.FieldChannel, f.Channel).Msg("channel subscribed")
	case strings.HasPrefix(f.Event, prefixInternal), strings.HasPrefix(f.Event, prefixProtocol):
	case f.Channel == "":
		c.logger.Debug().Str(xglog.FieldEventName, f.Event).Msg("ignoring event without channel")
	default:
		c.mu.Lock()
		b := c.channels.Get(f.Channel)
		c.mu.Unlock()
		if b == nil || !b.Deliver(f.Event, decodeData(f.Data)) {
			c.logger.Debug().Str(xglog.FieldChannel, f.Channel).Str(xglog.FieldEventName, f.Event).Msg("ignoring event for unbound channel")
		}
	}
}

func (c *Conn) send(ctx context.Context, ws *websocket.Conn, f frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, b)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
