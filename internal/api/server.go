// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the chanrelay HTTP surface: health, metrics, channel
// management, local event emission and a Server-Sent Events relay.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/chanrelay/internal/api/middleware"
	"github.com/ManuGH/chanrelay/internal/config"
	"github.com/ManuGH/chanrelay/internal/health"
	xglog "github.com/ManuGH/chanrelay/internal/log"
	"github.com/ManuGH/chanrelay/internal/realtime"
	"github.com/ManuGH/chanrelay/internal/version"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	keepAliveInterval = 15 * time.Second
	maxEmitBody       = 1 << 20
	maxListenBody     = 4 << 10
)

// Server is the HTTP front of one Bus.
type Server struct {
	bus       *realtime.Bus
	cfg       config.APIConfig
	logger    zerolog.Logger
	router    chi.Router
	keepAlive time.Duration
	ready     *health.Manager
}

// New builds the router. Call Run to serve it.
func New(bus *realtime.Bus, cfg config.APIConfig) *Server {
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = config.DefaultStreamBuffer
	}
	s := &Server{
		bus:       bus,
		cfg:       cfg,
		logger:    xglog.WithComponent("api"),
		keepAlive: keepAliveInterval,
		ready:     health.NewManager(version.Version),
	}
	s.registerChecks()
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        "github.com/ManuGH/chanrelay/internal/api",
		EnableLogging:         true,
	})
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.ready.ServeReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/channels", s.handleListChannels)
		r.Post("/channels", s.handleListen)
		r.With(middleware.EmitRateLimit(s.cfg.RateLimit)).Post("/events/{event}", s.handleEmit)
		r.Get("/events/{event}/stream", s.handleStream)
	})
	return r
}

// registerChecks wires readiness: the bus must be configured, and a bus
// with no channels is degraded.
func (s *Server) registerChecks() {
	s.ready.RegisterChecker(health.CheckFunc{CheckName: "bus", Fn: func(context.Context) health.CheckResult {
		if !s.bus.IsConfigured() {
			return health.CheckResult{Status: health.StatusUnhealthy, Message: "not configured"}
		}
		return health.CheckResult{Status: health.StatusHealthy, Message: s.bus.TransportName()}
	}})
	s.ready.RegisterChecker(health.CheckFunc{CheckName: "channels", Fn: func(context.Context) health.CheckResult {
		n := len(s.bus.Channels())
		if n == 0 {
			return health.CheckResult{Status: health.StatusDegraded, Message: "no channels"}
		}
		return health.CheckResult{Status: health.StatusHealthy, Message: fmt.Sprintf("%d channels", n)}
	}})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info().Str("event", "api.listening").Str(xglog.FieldAddr, ln.Addr().String()).Msg("HTTP API listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	s.logger.Info().Str("event", "api.stopped").Msg("HTTP API stopped")
	return nil
}
