// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pusher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

// fakeServer speaks enough of the Pusher protocol for client tests.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	// silent suppresses pong replies.
	silent bool

	mu         sync.Mutex
	conns      []*websocket.Conn
	queries    []url.Values
	paths      []string
	subscribes map[string]int
	received   []frame
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	s := &fakeServer{t: t, subscribes: make(map[string]int)}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakeServer) host() string {
	return strings.TrimPrefix(s.srv.URL, "http://")
}

func (s *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()

	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.queries = append(s.queries, r.URL.Query())
	s.paths = append(s.paths, r.URL.Path)
	n := len(s.conns)
	s.mu.Unlock()

	ctx := r.Context()
	established, _ := json.Marshal(map[string]any{"socket_id": "1." + string(rune('0'+n)), "activity_timeout": 120})
	s.write(ctx, c, frame{Event: eventEstablished, Data: quote(established)})

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, f)
		silent := s.silent
		s.mu.Unlock()

		switch f.Event {
		case eventSubscribe:
			var d struct{ Channel string }
			_ = json.Unmarshal(f.Data, &d)
			s.mu.Lock()
			s.subscribes[d.Channel]++
			s.mu.Unlock()
			s.write(ctx, c, frame{Event: eventSubscriptionSuccess, Channel: d.Channel, Data: json.RawMessage(`"{}"`)})
		case eventPing:
			if !silent {
				s.write(ctx, c, pongFrame())
			}
		}
	}
}

func (s *fakeServer) write(ctx context.Context, c *websocket.Conn, f frame) {
	b, err := json.Marshal(f)
	if err != nil {
		s.t.Errorf("marshal frame: %v", err)
		return
	}
	_ = c.Write(ctx, websocket.MessageText, b)
}

// push sends f on the newest connection.
func (s *fakeServer) push(f frame) {
	s.mu.Lock()
	c := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.write(ctx, c, f)
}

// drop closes the newest connection with code.
func (s *fakeServer) drop(code websocket.StatusCode) {
	s.mu.Lock()
	c := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	_ = c.Close(code, "test")
}

func (s *fakeServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *fakeServer) subscribeCount(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes[channel]
}

func (s *fakeServer) receivedEvents(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.received {
		if f.Event == event {
			n++
		}
	}
	return n
}

func quote(b []byte) json.RawMessage {
	q, _ := json.Marshal(string(b))
	return q
}

func fastTransport() *Transport {
	tr := New()
	tr.minBackoff = 10 * time.Millisecond
	tr.maxBackoff = 50 * time.Millisecond
	return tr
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msg)
}
