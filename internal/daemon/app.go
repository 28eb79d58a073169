// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/chanrelay/internal/api"
	"github.com/ManuGH/chanrelay/internal/config"
	xglog "github.com/ManuGH/chanrelay/internal/log"
	"github.com/ManuGH/chanrelay/internal/realtime"
)

const shutdownTimeout = 30 * time.Second

// ShutdownHook releases one resource. Hooks run in reverse registration order.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// App owns the long-lived runtime: the bus, the HTTP server, config reload
// wiring and shutdown hooks.
type App struct {
	logger   zerolog.Logger
	cfg      config.AppConfig
	holder   *config.ConfigHolder
	bus      *realtime.Bus
	api      *api.Server
	listener net.Listener

	// logged is only touched by Bootstrap and the reload goroutine.
	logged map[string]bool

	mu      sync.Mutex
	running bool
	hooks   []namedHook

	reloadSignal os.Signal
}

// Bus returns the configured bus.
func (a *App) Bus() *realtime.Bus { return a.bus }

func (a *App) addHook(name string, hook ShutdownHook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = append(a.hooks, namedHook{name: name, hook: hook})
}

// Run serves until ctx is cancelled or a component fails, then runs the
// shutdown hooks.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.running = true
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	if a.holder != nil {
		// Best-effort: the daemon runs without a watcher if it cannot start.
		if err := a.holder.StartWatcher(gctx); err != nil {
			a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		a.addHook("config watcher", func(context.Context) error { a.holder.Stop(); return nil })

		updates := make(chan config.AppConfig, 1)
		a.holder.RegisterListener(updates)
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case cfg := <-updates:
					a.apply(gctx, cfg)
				}
			}
		})

		if a.reloadSignal != nil {
			g.Go(func() error { return a.reloadOnSignal(gctx) })
		}
	}

	g.Go(func() error {
		if a.listener != nil {
			return a.api.Serve(gctx, a.listener)
		}
		return a.api.Run(gctx)
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.shutdown(shutdownCtx))
}

func (a *App) reloadOnSignal(ctx context.Context) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, a.reloadSignal)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sig:
			a.logger.Info().
				Str(xglog.FieldEvent, "config.reload_signal").
				Str("signal", a.reloadSignal.String()).
				Msg("received reload signal, reloading config")
			if err := a.holder.Reload(ctx); err != nil {
				a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.reload_failed").Msg("config reload failed")
			}
		}
	}
}

// apply takes the parts of a reloaded config that can change at runtime.
// Channels are only ever added; transport and API changes need a restart.
func (a *App) apply(ctx context.Context, cfg config.AppConfig) {
	if cfg.LogLevel != a.cfg.LogLevel && xglog.SetLevel(cfg.LogLevel) {
		a.logger.Info().Str(xglog.FieldEvent, "config.log_level_applied").Str("level", cfg.LogLevel).Msg("log level changed")
	}

	for _, name := range cfg.Channels {
		if slices.Contains(a.bus.Channels(), name) {
			continue
		}
		if err := a.bus.Listen(ctx, name); err != nil {
			a.logger.Warn().Err(err).
				Str(xglog.FieldEvent, "config.listen_failed").
				Str(xglog.FieldChannel, name).
				Msg("failed to listen to reloaded channel")
		}
	}
	a.logEvents(cfg.LogEvents)

	if cfg.Transport.Kind != a.cfg.Transport.Kind || cfg.Transport.Key != a.cfg.Transport.Key ||
		cfg.API != a.cfg.API {
		a.logger.Warn().Str(xglog.FieldEvent, "config.restart_required").
			Msg("transport or API settings changed; restart to apply")
	}
	a.cfg = cfg
}

// shutdown runs the registered hooks once, newest first.
func (a *App) shutdown(ctx context.Context) error {
	a.mu.Lock()
	hooks := a.hooks
	a.hooks = nil
	a.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(ctx); err != nil {
			a.logger.Error().Err(err).Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		a.logger.Debug().Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook completed")
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	a.logger.Info().Str(xglog.FieldEvent, "daemon.stopped").Msg("daemon stopped cleanly")
	return nil
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
