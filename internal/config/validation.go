// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"github.com/ManuGH/chanrelay/internal/telemetry"
	"github.com/ManuGH/chanrelay/internal/transport"
	"github.com/ManuGH/chanrelay/internal/validate"
)

var logLevels = []string{"trace", "debug", "info", "warn", "error"}

// Validate checks a fully merged configuration.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.OneOf("logLevel", cfg.LogLevel, logLevels)
	v.OneOf("transport.kind", cfg.Transport.Kind, transport.Kinds)
	if cfg.Transport.Kind == "pusher" {
		v.NotEmpty("transport.key", cfg.Transport.Key)
	}
	v.Unique("channels", cfg.Channels)

	v.ListenAddr("api.listenAddr", cfg.API.ListenAddr)
	v.NonNegative("api.rateLimit", cfg.API.RateLimit)
	v.NonNegative("api.streamBuffer", cfg.API.StreamBuffer)

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{telemetry.ExporterHTTP, telemetry.ExporterGRPC})
		v.HostPort("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.Fraction("telemetry.samplingRate", cfg.Telemetry.SamplingRate)
	}
	return v.Err()
}
