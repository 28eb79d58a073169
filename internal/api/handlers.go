// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	xglog "github.com/ManuGH/chanrelay/internal/log"
	"github.com/ManuGH/chanrelay/internal/realtime"
	"github.com/ManuGH/chanrelay/internal/transport/pusher"
)

type healthResponse struct {
	Status     string `json:"status"`
	Configured bool   `json:"configured"`
	Transport  string `json:"transport"`
	Channels   int    `json:"channels"`
}

// handleHealth reports 200 once the bus is configured and 503 before that.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Configured: s.bus.IsConfigured(),
		Transport:  s.bus.TransportName(),
		Channels:   len(s.bus.Channels()),
	}
	code := http.StatusOK
	if !resp.Configured {
		resp.Status = "unconfigured"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type channelsResponse struct {
	Channels []string `json:"channels"`
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	names := s.bus.Channels()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, channelsResponse{Channels: names})
}

type listenRequest struct {
	Name string `json:"name"`
}

type listenResponse struct {
	Channel string `json:"channel"`
	Created bool   `json:"created"`
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	logger := xglog.WithComponentFromContext(r.Context(), "api")

	var req listenRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxListenBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)

	existed := slices.Contains(s.bus.Channels(), req.Name)
	// The subscription belongs to the bus, not to this request.
	err := s.bus.Listen(context.WithoutCancel(r.Context()), req.Name)
	switch {
	case err == nil:
	case errors.Is(err, realtime.ErrNotConfigured), errors.Is(err, realtime.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "not_configured", err)
		return
	case errors.Is(err, realtime.ErrInvalidChannel), errors.Is(err, pusher.ErrAuthRequired):
		writeError(w, http.StatusBadRequest, "invalid_channel", err)
		return
	default:
		logger.Error().Err(err).Str(xglog.FieldEvent, "api.listen_failed").
			Str(xglog.FieldChannel, req.Name).Msg("listen failed")
		writeError(w, http.StatusBadGateway, "transport_error", err)
		return
	}

	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	writeJSON(w, code, listenResponse{Channel: req.Name, Created: !existed})
}

type emitResponse struct {
	Event     string `json:"event"`
	Listeners int    `json:"listeners"`
}

// handleEmit dispatches the request body to local handlers. An empty body
// is emitted as JSON null.
func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	event := chi.URLParam(r, "event")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEmitBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err)
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("null")
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}

	listeners := s.bus.ListenerCount(event)
	s.bus.Emit(event, json.RawMessage(body))
	writeJSON(w, http.StatusAccepted, emitResponse{Event: event, Listeners: listeners})
}
