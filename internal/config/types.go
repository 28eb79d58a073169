// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "github.com/ManuGH/chanrelay/internal/realtime"

// AppConfig is the daemon configuration.
type AppConfig struct {
	// Version is set from the binary, never from files.
	Version string `yaml:"-"`

	LogLevel   string          `yaml:"logLevel"`
	LogService string          `yaml:"logService"`
	Transport  TransportConfig `yaml:"transport"`
	// Channels are listened to at startup and on reload.
	Channels []string `yaml:"channels"`
	// LogEvents are event names the daemon logs at info level.
	LogEvents []string        `yaml:"logEvents"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// TransportConfig selects and configures the transport adapter.
type TransportConfig struct {
	Kind    string         `yaml:"kind"`
	Key     string         `yaml:"key"`
	Options map[string]any `yaml:"options"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// RateLimit is emit requests per minute per client IP; 0 disables it.
	RateLimit int `yaml:"rateLimit"`
	// StreamBuffer is the per-client event buffer of the SSE endpoint.
	StreamBuffer int `yaml:"streamBuffer"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

const (
	DefaultLogLevel     = "info"
	DefaultLogService   = "chanrelay"
	DefaultKind         = "memory"
	DefaultListenAddr   = ":8080"
	DefaultRateLimit    = 60
	DefaultStreamBuffer = 64
	DefaultExporter     = "http"
	DefaultEndpoint     = "localhost:4318"
)

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel:   DefaultLogLevel,
		LogService: DefaultLogService,
		Transport:  TransportConfig{Kind: DefaultKind},
		API: APIConfig{
			ListenAddr:   DefaultListenAddr,
			RateLimit:    DefaultRateLimit,
			StreamBuffer: DefaultStreamBuffer,
		},
		Telemetry: TelemetryConfig{
			Exporter:     DefaultExporter,
			Endpoint:     DefaultEndpoint,
			SamplingRate: 1.0,
		},
	}
}

// Clone returns a copy that shares no slices or maps with c.
func (c AppConfig) Clone() AppConfig {
	out := c
	out.Channels = append([]string(nil), c.Channels...)
	out.LogEvents = append([]string(nil), c.LogEvents...)
	if c.Transport.Options != nil {
		out.Transport.Options = realtime.Options(c.Transport.Options).Clone()
	}
	return out
}
