// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenBeforeConfigureFails(t *testing.T) {
	b, ft, _ := newTestBus(t)

	err := b.Listen(context.Background(), "job-42")
	require.ErrorIs(t, err, ErrNotConfigured)
	require.Equal(t, 0, ft.connectCount())
	require.Nil(t, ft.conn)
	require.False(t, b.IsConfigured())
	require.Empty(t, b.Channels())
}

func TestHandlersUsableBeforeConfigure(t *testing.T) {
	b, _, _ := newTestBus(t)

	var got []Payload
	b.On("ping", func(p Payload) error {
		got = append(got, p)
		return nil
	})
	b.Emit("ping", 1)

	require.Equal(t, []Payload{1}, got)
}

func TestConfigureTwiceIsRejected(t *testing.T) {
	b, ft, _ := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, b.Configure(ctx, "K", Options{"cluster": "eu"}))
	require.True(t, b.IsConfigured())

	err := b.Configure(ctx, "other", Options{"cluster": "us2"})
	require.ErrorIs(t, err, ErrAlreadyConfigured)
	require.Equal(t, 1, ft.connectCount())

	cfg, ok := b.Configuration()
	require.True(t, ok)
	require.Equal(t, "K", cfg.Key)
	require.Equal(t, "eu", cfg.Options["cluster"])
}

func TestConfigureCopiesOptions(t *testing.T) {
	b, ft, _ := newTestBus(t)
	opts := Options{"cluster": "eu", "nested": map[string]any{"a": 1}}

	require.NoError(t, b.Configure(context.Background(), "K", opts))
	opts["cluster"] = "mutated"
	opts["nested"].(map[string]any)["a"] = 2

	cfg, _ := b.Configuration()
	require.Equal(t, "eu", cfg.Options["cluster"])
	require.Equal(t, 1, cfg.Options["nested"].(map[string]any)["a"])
	require.Equal(t, "eu", ft.conn.options["cluster"])
	require.Equal(t, "***", cfg.Redacted()["key"])
}

func TestConfigureWithoutTransport(t *testing.T) {
	b := New(nil)
	require.ErrorIs(t, b.Configure(context.Background(), "K", nil), ErrNoTransport)
	require.False(t, b.IsConfigured())
}

func TestConfigureTransportErrorLeavesBusUnconfigured(t *testing.T) {
	b, ft, _ := newTestBus(t)
	ft.connectErr = errors.New("bad options")

	err := b.Configure(context.Background(), "K", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad options")
	require.False(t, b.IsConfigured())
	require.ErrorIs(t, b.Listen(context.Background(), "a"), ErrNotConfigured)
}

func TestListenIsIdempotent(t *testing.T) {
	b, conn, sink := configured(t)
	ctx := context.Background()

	require.NoError(t, b.Listen(ctx, "job-42"))
	require.NoError(t, b.Listen(ctx, "job-42"))

	require.Equal(t, 1, conn.subscribeCount("job-42"))
	require.Equal(t, []string{"job-42"}, b.Channels())

	records := sink.records(t, "realtime.channel_listen")
	require.Len(t, records, 1)
	require.Equal(t, "job-42", records[0]["channel"])
	require.Equal(t, "info", records[0]["level"])
}

func TestListenConcurrentSameChannelSubscribesOnce(t *testing.T) {
	b, conn, _ := configured(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Listen(context.Background(), "shared"))
		}()
	}
	wg.Wait()

	require.Equal(t, 1, conn.subscribeCount("shared"))
}

func TestListenDeliversEventsArrivingDuringSubscribe(t *testing.T) {
	b, conn, _ := configured(t)
	conn.early = []string{"job.started"}

	var got []string
	b.On("job.started", func(Payload) error {
		got = append(got, "job.started")
		return nil
	})
	require.NoError(t, b.Listen(context.Background(), "job-42"))
	require.Equal(t, []string{"job.started"}, got)
}

func TestInboundDebugLogOmitsPayload(t *testing.T) {
	sink := &logSink{}
	b, conn, _ := configured(t, WithLogger(zerolog.New(sink).Level(zerolog.DebugLevel)))
	require.NoError(t, b.Listen(context.Background(), "job-42"))
	require.True(t, conn.deliver("job-42", "job.finished", json.RawMessage(`{"token":"s3cret"}`)))

	records := sink.records(t, "realtime.inbound")
	require.Len(t, records, 1)
	assert.Equal(t, "debug", records[0]["level"])
	assert.Equal(t, "job.finished", records[0]["event_name"])
	assert.NotContains(t, records[0], "payload")
}

func TestListenRejectsEmptyChannel(t *testing.T) {
	b, _, _ := configured(t)
	require.ErrorIs(t, b.Listen(context.Background(), "  "), ErrInvalidChannel)
}

func TestListenSubscribeFailureCanBeRetried(t *testing.T) {
	b, conn, _ := configured(t)
	conn.subscribeErr = errors.New("refused")

	require.Error(t, b.Listen(context.Background(), "a"))
	require.Empty(t, b.Channels())

	conn.subscribeErr = nil
	require.NoError(t, b.Listen(context.Background(), "a"))
	require.Equal(t, []string{"a"}, b.Channels())
	require.Equal(t, 2, conn.subscribeCount("a"))
}

func TestDispatchInRegistrationOrderExactlyOnce(t *testing.T) {
	b, _, _ := configured(t)

	var calls []string
	for i := 1; i <= 5; i++ {
		name := fmt.Sprintf("h%d", i)
		b.On("job.finished", func(Payload) error {
			calls = append(calls, name)
			return nil
		})
	}
	b.On("job.started", func(Payload) error {
		calls = append(calls, "other")
		return nil
	})

	b.Emit("job.finished", nil)

	want := []string{"h1", "h2", "h3", "h4", "h5"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Fatalf("dispatch order mismatch (-want +got):\n%s", diff)
	}
}

func TestScenarioJobFinishedOnChannel(t *testing.T) {
	b, conn, _ := configured(t)
	require.NoError(t, b.Listen(context.Background(), "job-42"))

	var received []map[string]string
	b.On("job.finished", func(p Payload) error {
		var v map[string]string
		if err := Decode(p, &v); err != nil {
			return err
		}
		received = append(received, v)
		return nil
	})

	require.True(t, conn.deliver("job-42", "job.finished", json.RawMessage(`{"state":"passed"}`)))

	require.Equal(t, []map[string]string{{"state": "passed"}}, received)
}

func TestScenarioFailingHandlerIsContained(t *testing.T) {
	var hooked []*HandlerError
	b, conn, sink := configured(t, WithFailureHook(func(e *HandlerError) { hooked = append(hooked, e) }))
	require.NoError(t, b.Listen(context.Background(), "job-42"))

	var first, second int
	b.On("job.finished", func(Payload) error {
		first++
		return errors.New("boom")
	})
	b.On("job.finished", func(Payload) error {
		second++
		return nil
	})

	conn.deliver("job-42", "job.finished", json.RawMessage(`{}`))

	require.Equal(t, 1, first)
	require.Equal(t, 1, second)

	records := sink.records(t, "realtime.handler_failed")
	require.Len(t, records, 1)
	require.Equal(t, "job.finished", records[0]["event_name"])
	require.Equal(t, "job-42", records[0]["channel"])

	require.Len(t, hooked, 1)
	require.Equal(t, "job-42", hooked[0].Channel)
	require.EqualError(t, hooked[0].Err, "boom")
}

func TestPanickingHandlerDoesNotStopLaterHandlersOrMessages(t *testing.T) {
	var hooked []*HandlerError
	b, _, sink := configured(t, WithFailureHook(func(e *HandlerError) { hooked = append(hooked, e) }))

	var after int
	b.On("tick", func(Payload) error { panic("kaboom") })
	b.On("tick", func(Payload) error {
		after++
		return nil
	})

	b.Emit("tick", nil)
	b.Emit("tick", nil)

	require.Equal(t, 2, after)
	require.Len(t, hooked, 2)
	require.ErrorIs(t, hooked[0], ErrHandlerPanic)
	require.Len(t, sink.records(t, "realtime.handler_failed"), 2)
}

func TestRoutingDependsOnlyOnEventName(t *testing.T) {
	b, conn, _ := configured(t)
	ctx := context.Background()
	require.NoError(t, b.Listen(ctx, "a"))
	require.NoError(t, b.Listen(ctx, "b"))

	var pings []string
	b.On("ping", func(p Payload) error {
		var s string
		require.NoError(t, Decode(p, &s))
		pings = append(pings, s)
		return nil
	})

	conn.deliver("a", "ping", json.RawMessage(`"from-a-1"`))
	conn.deliver("b", "ping", json.RawMessage(`"from-b-1"`))
	conn.deliver("a", "pong", json.RawMessage(`"ignored"`))
	conn.deliver("b", "ping", json.RawMessage(`"from-b-2"`))
	conn.deliver("a", "ping", json.RawMessage(`"from-a-2"`))

	want := []string{"from-a-1", "from-b-1", "from-b-2", "from-a-2"}
	if diff := cmp.Diff(want, pings); diff != "" {
		t.Fatalf("pings mismatch (-want +got):\n%s", diff)
	}
}

func TestOffDuringOwnInvocation(t *testing.T) {
	b, _, _ := configured(t)

	var calls []string
	var self *Subscription
	self = b.On("evt", func(Payload) error {
		calls = append(calls, "self")
		b.Off(self)
		return nil
	})
	b.On("evt", func(Payload) error {
		calls = append(calls, "next")
		return nil
	})

	b.Emit("evt", nil)
	b.Emit("evt", nil)

	require.Equal(t, []string{"self", "next", "next"}, calls)
	require.False(t, self.Active())
	require.Equal(t, 1, b.ListenerCount("evt"))
}

func TestOffBeforeTurnSkipsHandlerInCurrentPass(t *testing.T) {
	b, _, _ := configured(t)

	var calls []string
	var victim *Subscription
	b.On("evt", func(Payload) error {
		calls = append(calls, "first")
		b.Off(victim)
		return nil
	})
	victim = b.On("evt", func(Payload) error {
		calls = append(calls, "victim")
		return nil
	})

	b.Emit("evt", nil)
	require.Equal(t, []string{"first"}, calls)
}

func TestOffAfterTurnIsHarmless(t *testing.T) {
	b, _, _ := configured(t)

	var calls []string
	var early *Subscription
	early = b.On("evt", func(Payload) error {
		calls = append(calls, "early")
		return nil
	})
	b.On("evt", func(Payload) error {
		calls = append(calls, "late")
		b.Off(early)
		b.Off(early)
		return nil
	})

	b.Emit("evt", nil)
	b.Emit("evt", nil)
	require.Equal(t, []string{"early", "late", "late"}, calls)
}

func TestOffNilAndForeignSubscription(t *testing.T) {
	b, _, _ := configured(t)
	other := New(&fakeTransport{})

	foreign := other.On("evt", func(Payload) error { return nil })
	b.Off(nil)
	b.Off(foreign)

	require.Equal(t, 0, b.ListenerCount("evt"))
	require.Equal(t, 1, other.ListenerCount("evt"))
	require.True(t, foreign.Active())
}

func TestOnAddedDuringDispatchWaitsForNextMessage(t *testing.T) {
	b, _, _ := configured(t)

	var late int
	added := false
	b.On("evt", func(Payload) error {
		if !added {
			added = true
			b.On("evt", func(Payload) error {
				late++
				return nil
			})
		}
		return nil
	})

	b.Emit("evt", nil)
	require.Equal(t, 0, late)
	b.Emit("evt", nil)
	require.Equal(t, 1, late)
}

func TestOnceFiresSingleTime(t *testing.T) {
	b, _, _ := configured(t)

	var n int
	sub := b.Once("evt", func(Payload) error {
		n++
		return nil
	})
	b.Emit("evt", nil)
	b.Emit("evt", nil)

	require.Equal(t, 1, n)
	require.False(t, sub.Active())
	require.Empty(t, b.EventNames())
}

func TestOnNilHandlerPanics(t *testing.T) {
	b, _, _ := newTestBus(t)
	require.Panics(t, func() { b.On("evt", nil) })
	require.Panics(t, func() { b.Once("evt", nil) })
}

func TestEventNamesAndListenerCount(t *testing.T) {
	b, _, _ := newTestBus(t)
	noop := func(Payload) error { return nil }

	b.On("b", noop)
	s := b.On("a", noop)
	b.On("a", noop)

	require.Equal(t, []string{"a", "b"}, b.EventNames())
	require.Equal(t, 2, b.ListenerCount("a"))

	b.Off(s)
	require.Equal(t, 1, b.ListenerCount("a"))
	require.Equal(t, 0, b.ListenerCount("missing"))
}

func TestUnmatchedEventIsDiscarded(t *testing.T) {
	b, conn, _ := configured(t)
	require.NoError(t, b.Listen(context.Background(), "a"))
	require.NotPanics(t, func() {
		conn.deliver("a", "nobody.listens", json.RawMessage(`1`))
	})
	require.Equal(t, 0, b.dispatch(Message{Event: "nobody.listens"}, "local"))
}

func TestReconnectReplaysRegistry(t *testing.T) {
	b, conn, sink := configured(t)
	ctx := context.Background()
	require.NoError(t, b.Listen(ctx, "a"))
	require.NoError(t, b.Listen(ctx, "b"))

	var got []string
	b.On("ping", func(p Payload) error {
		var s string
		require.NoError(t, Decode(p, &s))
		got = append(got, s)
		return nil
	})

	conn.reconnect()

	require.Equal(t, 2, conn.subscribeCount("a"))
	require.Equal(t, 2, conn.subscribeCount("b"))
	require.True(t, conn.deliver("a", "ping", json.RawMessage(`"after"`)))
	require.Equal(t, []string{"after"}, got)

	records := sink.records(t, "realtime.replayed")
	require.Len(t, records, 1)
	require.EqualValues(t, 2, records[0]["channels"])

	// replay does not log first-subscription records again
	require.Len(t, sink.records(t, "realtime.channel_listen"), 2)
}

func TestCloseStopsListening(t *testing.T) {
	b, ft, _ := newTestBus(t)
	require.NoError(t, b.Configure(context.Background(), "K", nil))

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	require.True(t, ft.conn.closed)
	require.ErrorIs(t, b.Listen(context.Background(), "a"), ErrClosed)
	require.ErrorIs(t, b.Configure(context.Background(), "K", nil), ErrClosed)
}

func TestConcurrentRegistrationAndDispatch(t *testing.T) {
	b, conn, _ := configured(t)
	require.NoError(t, b.Listen(context.Background(), "a"))

	var delivered atomic.Int64
	stable := b.On("evt", func(Payload) error {
		delivered.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s := b.On("evt", func(Payload) error { return nil })
				b.Off(s)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if j%2 == 0 {
					conn.deliver("a", "evt", nil)
				} else {
					b.Emit("evt", nil)
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(8*200), delivered.Load())
	require.True(t, stable.Active())
	require.Equal(t, 1, b.ListenerCount("evt"))
}

func TestTransportDeliveriesAreSerialized(t *testing.T) {
	b, conn, _ := configured(t)
	ctx := context.Background()
	require.NoError(t, b.Listen(ctx, "a"))
	require.NoError(t, b.Listen(ctx, "b"))

	var inFlight, maxInFlight atomic.Int32
	b.On("evt", func(Payload) error {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		inFlight.Add(-1)
		return nil
	})

	var wg sync.WaitGroup
	for _, ch := range []string{"a", "b", "a", "b"} {
		wg.Add(1)
		go func(ch string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				conn.deliver(ch, "evt", nil)
			}
		}(ch)
	}
	wg.Wait()

	require.Equal(t, int32(1), maxInFlight.Load())
}

func TestHandlerMayEmitReentrantly(t *testing.T) {
	b, conn, _ := configured(t)
	require.NoError(t, b.Listen(context.Background(), "a"))

	var echoed int
	b.On("outer", func(p Payload) error {
		b.Emit("inner", p)
		return nil
	})
	b.On("inner", func(Payload) error {
		echoed++
		return nil
	})

	conn.deliver("a", "outer", json.RawMessage(`{}`))
	require.Equal(t, 1, echoed)
}
