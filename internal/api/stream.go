// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	xglog "github.com/ManuGH/chanrelay/internal/log"
	"github.com/ManuGH/chanrelay/internal/metrics"
	"github.com/ManuGH/chanrelay/internal/realtime"
)

// encodeSSEData renders a payload as single-line JSON.
func encodeSSEData(p realtime.Payload) ([]byte, error) {
	var raw []byte
	switch t := p.(type) {
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	default:
		return json.Marshal(p)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("compact payload: %w", err)
	}
	return buf.Bytes(), nil
}

// handleStream relays one event name as Server-Sent Events. A slow client
// loses events once its buffer is full; the bus is never blocked.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	event := chi.URLParam(r, "event")
	if strings.ContainsAny(event, "\r\n") {
		writeError(w, http.StatusBadRequest, "invalid_event", nil)
		return
	}
	logger := xglog.WithComponentFromContext(r.Context(), "api").With().
		Str(xglog.FieldEventName, event).Logger()
	rc := http.NewResponseController(w)

	queue := make(chan []byte, s.cfg.StreamBuffer)
	sub := s.bus.On(event, func(p realtime.Payload) error {
		data, err := encodeSSEData(p)
		if err != nil {
			return err
		}
		select {
		case queue <- data:
		default:
			metrics.StreamDropsTotal.Inc()
		}
		return nil
	})
	defer s.bus.Off(sub)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, ": subscribed\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		logger.Warn().Err(err).Str(xglog.FieldEvent, "api.stream_unsupported").Msg("streaming not supported")
		return
	}
	logger.Debug().Str(xglog.FieldEvent, "api.stream_open").Msg("stream opened")

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-r.Context().Done():
			logger.Debug().Str(xglog.FieldEvent, "api.stream_closed").Msg("stream closed")
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		case data := <-queue:
			seq++
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, event, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
