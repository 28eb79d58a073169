// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/chanrelay/internal/realtime"
	"github.com/ManuGH/chanrelay/internal/transport/wire"
)

func fastTransport() *Transport {
	tr := New()
	tr.minBackoff = 10 * time.Millisecond
	tr.maxBackoff = 50 * time.Millisecond
	return tr
}

func setup(t *testing.T) (*miniredis.Miniredis, *realtime.Bus) {
	t.Helper()
	mr := miniredis.RunT(t)
	bus := realtime.New(fastTransport())
	require.NoError(t, bus.Configure(context.Background(), "", realtime.Options{"addr": mr.Addr()}))
	t.Cleanup(func() { _ = bus.Close() })
	return mr, bus
}

func waitSubscribed(t *testing.T, mr *miniredis.Miniredis, channel string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(channel)[channel] == 1
	}, 3*time.Second, 10*time.Millisecond, "subscription on %s", channel)
}

func publish(t *testing.T, mr *miniredis.Miniredis, channel, event string, data any) {
	t.Helper()
	b, err := wire.Encode(event, data)
	require.NoError(t, err)
	mr.Publish(channel, string(b))
}

type collector struct {
	mu  sync.Mutex
	got []string
}

func (c *collector) handler(p realtime.Payload) error {
	var v struct {
		State string `json:"state"`
	}
	if err := realtime.Decode(p, &v); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, v.State)
	return nil
}

func (c *collector) states() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func TestRelaysEnvelopes(t *testing.T) {
	mr, bus := setup(t)
	col := &collector{}
	bus.On("job.finished", col.handler)

	require.NoError(t, bus.Listen(context.Background(), "job-42"))
	require.NoError(t, bus.Listen(context.Background(), "job-42"))
	waitSubscribed(t, mr, "job-42")

	publish(t, mr, "job-42", "job.finished", map[string]string{"state": "passed"})
	mr.Publish("job-42", "not json")
	publish(t, mr, "job-42", "job.finished", map[string]string{"state": "second"})

	require.Eventually(t, func() bool { return len(col.states()) == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"passed", "second"}, col.states())
}

func TestReconnectReplaysChannels(t *testing.T) {
	mr, bus := setup(t)
	col := &collector{}
	bus.On("job.finished", col.handler)
	require.NoError(t, bus.Listen(context.Background(), "job-42"))
	waitSubscribed(t, mr, "job-42")

	mr.Restart()
	waitSubscribed(t, mr, "job-42")

	publish(t, mr, "job-42", "job.finished", map[string]string{"state": "after-restart"})
	require.Eventually(t, func() bool { return len(col.states()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"after-restart"}, col.states())
}

func TestListenWhileServerDownIsPending(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	bus := realtime.New(fastTransport())
	require.NoError(t, bus.Configure(context.Background(), "", realtime.Options{"addr": addr}))
	t.Cleanup(func() { _ = bus.Close() })
	require.NoError(t, bus.Listen(context.Background(), "late"))

	mr2 := miniredis.NewMiniRedis()
	require.NoError(t, mr2.StartAddr(addr))
	t.Cleanup(mr2.Close)
	waitSubscribed(t, mr2, "late")
}

func TestConnectRejectsBadOptions(t *testing.T) {
	tr := New()
	_, err := tr.Connect(context.Background(), "", realtime.Options{"db": "x"})
	require.ErrorIs(t, err, wire.ErrInvalidOption)
	_, err = tr.Connect(context.Background(), "", realtime.Options{"db": -1})
	require.ErrorIs(t, err, wire.ErrInvalidOption)
}

func TestPasswordIsKey(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	bus := realtime.New(fastTransport())
	require.NoError(t, bus.Configure(context.Background(), "s3cret", realtime.Options{"addr": mr.Addr()}))
	t.Cleanup(func() { _ = bus.Close() })
	require.NoError(t, bus.Listen(context.Background(), "secured"))
	waitSubscribed(t, mr, "secured")

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	assert.Error(t, rdb.Ping(context.Background()).Err(), "server requires auth")
}

func TestCloseStopsGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mr := miniredis.RunT(t)
	tr := fastTransport()
	conn, err := tr.Connect(context.Background(), "", realtime.Options{"addr": mr.Addr()})
	require.NoError(t, err)
	_, err = conn.SubscribeChannel(context.Background(), "a", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	mr.Close()
}
