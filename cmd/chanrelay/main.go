// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command chanrelay runs the realtime channel relay daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ManuGH/chanrelay/internal/config"
	"github.com/ManuGH/chanrelay/internal/daemon"
	xglog "github.com/ManuGH/chanrelay/internal/log"
	"github.com/ManuGH/chanrelay/internal/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "config" {
		os.Exit(runConfigCLI(os.Args[2:], os.Stdout, os.Stderr))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: config.DefaultLogService,
		Version: version.Version,
	})
	logger := xglog.WithComponent("main")

	ctx, stop := daemon.NotifyContext(context.Background())
	defer stop()

	path := strings.TrimSpace(*configPath)
	loader := config.NewLoader(path, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
	})
	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger = xglog.WithComponent("main")
	logger.Info().
		Str("event", "config.loaded").
		Str("source", source).
		Str("path", path).
		Str("transport", cfg.Transport.Kind).
		Msg("configuration loaded")

	app, err := daemon.Bootstrap(ctx, cfg, daemon.Options{
		Version: version.Version,
		Holder:  config.NewConfigHolder(cfg, loader),
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.bootstrap_failed").Msg("startup failed")
	}

	if err := app.Run(ctx); err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
	}
}
