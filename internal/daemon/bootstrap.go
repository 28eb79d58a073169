// SPDX-License-Identifier: MIT

// Package daemon wires configuration, telemetry, the realtime bus and the
// HTTP API into one supervised process.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ManuGH/chanrelay/internal/api"
	"github.com/ManuGH/chanrelay/internal/config"
	xglog "github.com/ManuGH/chanrelay/internal/log"
	"github.com/ManuGH/chanrelay/internal/realtime"
	"github.com/ManuGH/chanrelay/internal/telemetry"
	"github.com/ManuGH/chanrelay/internal/transport"
)

const tracerName = "github.com/ManuGH/chanrelay/internal/realtime"

// Options tunes Bootstrap. The zero value builds everything from config.
type Options struct {
	Version string
	// Holder enables hot reload. Nil runs with a fixed configuration.
	Holder *config.ConfigHolder
	// Transport replaces the transport named by the configuration.
	Transport realtime.Transport
	// Listener replaces binding api.listenAddr.
	Listener net.Listener
}

// Bootstrap builds an App: telemetry, transport, bus, initial channels,
// event logging and the HTTP server. Resources acquired before a failure
// are released.
func Bootstrap(ctx context.Context, cfg config.AppConfig, opts Options) (_ *App, err error) {
	logger := xglog.WithComponent("daemon")
	app := &App{
		logger:       logger,
		cfg:          cfg,
		holder:       opts.Holder,
		listener:     opts.Listener,
		logged:       make(map[string]bool),
		reloadSignal: syscall.SIGHUP,
	}
	defer func() {
		if err != nil {
			_ = app.shutdown(context.WithoutCancel(ctx))
		}
	}()

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: opts.Version,
		Transport:      cfg.Transport.Kind,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: telemetry: %w", ErrBootstrap, err)
	}
	app.addHook("telemetry", provider.Shutdown)

	t := opts.Transport
	if t == nil {
		if t, err = transport.New(cfg.Transport.Kind); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBootstrap, err)
		}
	}

	app.bus = realtime.New(t,
		realtime.WithLogger(xglog.WithComponent("realtime")),
		realtime.WithTracer(telemetry.Tracer(tracerName)),
	)
	app.addHook("bus", func(context.Context) error { return app.bus.Close() })

	if err := app.bus.Configure(ctx, cfg.Transport.Key, realtime.Options(cfg.Transport.Options)); err != nil {
		return nil, fmt.Errorf("%w: configure %s: %w", ErrBootstrap, t.Name(), err)
	}
	for _, name := range cfg.Channels {
		if err := app.bus.Listen(ctx, name); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBootstrap, err)
		}
	}
	app.logEvents(cfg.LogEvents)

	app.api = api.New(app.bus, cfg.API)

	logger.Info().
		Str(xglog.FieldEvent, "daemon.bootstrapped").
		Str(xglog.FieldTransport, t.Name()).
		Strs("channels", app.bus.Channels()).
		Msg("bus configured")
	return app, nil
}

// logEvents registers an info-level log handler for each new event name.
func (a *App) logEvents(events []string) {
	for _, name := range events {
		if name == "" || a.logged[name] {
			continue
		}
		a.logged[name] = true
		a.bus.On(name, eventLogger(a.logger, name))
	}
}

func eventLogger(logger zerolog.Logger, event string) realtime.Handler {
	return func(p realtime.Payload) error {
		e := logger.Info().Str(xglog.FieldEvent, "daemon.event").Str(xglog.FieldEventName, event)
		switch raw := p.(type) {
		case json.RawMessage:
			e = e.RawJSON("payload", raw)
		default:
			e = e.Interface("payload", raw)
		}
		e.Msg("event received")
		return nil
	}
}
