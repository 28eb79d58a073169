// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pusher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/chanrelay/internal/realtime"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) handler(p realtime.Payload) error {
	var v struct {
		State string `json:"state"`
	}
	if err := realtime.Decode(p, &v); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, v.State)
	return nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func newBus(t *testing.T, srv *fakeServer, extra realtime.Options) *realtime.Bus {
	t.Helper()
	opts := realtime.Options{"host": srv.host(), "useTLS": false}
	for k, v := range extra {
		opts[k] = v
	}
	bus := realtime.New(fastTransport())
	require.NoError(t, bus.Configure(context.Background(), "app-key", opts))
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestJobFinishedScenario(t *testing.T) {
	srv := newFakeServer(t)
	bus := newBus(t, srv, nil)

	rec := &recorder{}
	bus.On("job.finished", rec.handler)
	require.NoError(t, bus.Listen(context.Background(), "job-42"))

	waitFor(t, func() bool { return srv.subscribeCount("job-42") == 1 }, "subscribe frame")

	srv.mu.Lock()
	q, path := srv.queries[0], srv.paths[0]
	srv.mu.Unlock()
	assert.Equal(t, "/app/app-key", path)
	assert.Equal(t, "7", q.Get("protocol"))
	assert.Equal(t, clientName, q.Get("client"))
	assert.Equal(t, "false", q.Get("flash"))

	srv.push(frame{Event: "job.finished", Channel: "job-42", Data: json.RawMessage(`"{\"state\":\"passed\"}"`)})
	srv.push(frame{Event: "job.finished", Channel: "elsewhere", Data: json.RawMessage(`"{\"state\":\"ignored\"}"`)})
	srv.push(frame{Event: "job.finished", Channel: "job-42", Data: json.RawMessage(`{"state":"object"}`)})

	waitFor(t, func() bool { return len(rec.got()) == 2 }, "two deliveries")
	assert.Equal(t, []string{"passed", "object"}, rec.got())
}

func TestListenWhileConnectedSendsSubscribeOnce(t *testing.T) {
	srv := newFakeServer(t)
	bus := newBus(t, srv, nil)
	waitFor(t, func() bool { return srv.connCount() == 1 }, "connected")

	require.NoError(t, bus.Listen(context.Background(), "a"))
	require.NoError(t, bus.Listen(context.Background(), "a"))
	waitFor(t, func() bool { return srv.subscribeCount("a") == 1 }, "subscribe a")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, srv.subscribeCount("a"))
}

func TestReconnectResubscribes(t *testing.T) {
	srv := newFakeServer(t)
	bus := newBus(t, srv, nil)
	rec := &recorder{}
	bus.On("job.finished", rec.handler)
	require.NoError(t, bus.Listen(context.Background(), "job-42"))
	waitFor(t, func() bool { return srv.subscribeCount("job-42") == 1 }, "first subscribe")

	srv.drop(websocket.StatusCode(4200))

	waitFor(t, func() bool { return srv.connCount() == 2 }, "reconnected")
	waitFor(t, func() bool { return srv.subscribeCount("job-42") == 2 }, "replayed subscribe")

	srv.push(frame{Event: "job.finished", Channel: "job-42", Data: json.RawMessage(`"{\"state\":\"after\"}"`)})
	waitFor(t, func() bool { return len(rec.got()) == 1 }, "delivery after reconnect")
	assert.Equal(t, []string{"after"}, rec.got())
}

func TestBackoffCodeReconnects(t *testing.T) {
	srv := newFakeServer(t)
	newBus(t, srv, nil)
	waitFor(t, func() bool { return srv.connCount() == 1 }, "connected")

	srv.drop(websocket.StatusCode(4100))
	waitFor(t, func() bool { return srv.connCount() == 2 }, "reconnected after backoff")
}

func TestFatalCodeGivesUp(t *testing.T) {
	srv := newFakeServer(t)
	newBus(t, srv, nil)
	waitFor(t, func() bool { return srv.connCount() == 1 }, "connected")

	srv.drop(websocket.StatusCode(4001))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, srv.connCount())
}

func TestAnswersServerPing(t *testing.T) {
	srv := newFakeServer(t)
	newBus(t, srv, nil)
	waitFor(t, func() bool { return srv.connCount() == 1 }, "connected")

	srv.push(pingFrame())
	waitFor(t, func() bool { return srv.receivedEvents(eventPong) == 1 }, "pong")
}

func TestClientPingsAfterInactivity(t *testing.T) {
	srv := newFakeServer(t)
	newBus(t, srv, realtime.Options{"activityTimeout": "50ms"})

	waitFor(t, func() bool { return srv.receivedEvents(eventPing) >= 2 }, "client pings")
	assert.Equal(t, 1, srv.connCount(), "pongs keep the session alive")
}

func TestMissingPongReconnects(t *testing.T) {
	srv := newFakeServer(t)
	srv.mu.Lock()
	srv.silent = true
	srv.mu.Unlock()
	newBus(t, srv, realtime.Options{"activityTimeout": "30ms", "pongTimeout": "30ms"})

	waitFor(t, func() bool { return srv.connCount() >= 2 }, "reconnect after pong timeout")
}

func TestPrivateChannelsRequireAuth(t *testing.T) {
	srv := newFakeServer(t)
	bus := newBus(t, srv, nil)

	for _, name := range []string{"private-orders", "presence-room"} {
		err := bus.Listen(context.Background(), name)
		require.ErrorIs(t, err, ErrAuthRequired)
	}
	assert.Empty(t, bus.Channels())
}

func TestConfigureRejectsMissingKey(t *testing.T) {
	bus := realtime.New(New())
	err := bus.Configure(context.Background(), "", nil)
	require.ErrorIs(t, err, ErrMissingKey)
	assert.False(t, bus.IsConfigured())
}

func TestCloseStopsGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := newFakeServer(t)
	tr := fastTransport()
	conn, err := tr.Connect(context.Background(), "app-key", realtime.Options{"host": srv.host(), "useTLS": false})
	require.NoError(t, err)
	waitFor(t, func() bool { return conn.(*Conn).SocketID() != "" }, "established")

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	srv.srv.CloseClientConnections()
	srv.srv.Close()
}

func TestCloseWhileDialFailing(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tr := fastTransport()
	conn, err := tr.Connect(context.Background(), "app-key", realtime.Options{"host": "127.0.0.1:1", "useTLS": false})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, conn.Close())
}
