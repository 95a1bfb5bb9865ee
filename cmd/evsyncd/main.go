// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// evsyncd runs a synchronized group of event cameras: one primary that
// drives the trigger line and any number of secondaries that report
// ready before it fires.
//
// Usage:
//
//	evsyncd -config evsync.yaml
//	evsyncd validate evsync.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/evsync/internal/config"
	"github.com/ManuGH/evsync/internal/daemon"
	"github.com/ManuGH/evsync/internal/health"
	xglog "github.com/ManuGH/evsync/internal/log"
	_ "github.com/ManuGH/evsync/internal/sensor/simcam"
	"github.com/ManuGH/evsync/internal/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "validate" {
		os.Exit(runValidate(os.Args[2:], os.Stdout, os.Stderr))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "evsyncd",
		Version: version.Version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = strings.TrimSpace(config.ParseString(config.EnvConfigPath, ""))
	}

	// Precedence: ENV > File > Defaults
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{Level: cfg.LogLevel})
	if path != "" {
		logger.Info().Str("event", "config.loaded").Str("source", "file").Str("path", path).Msg("loaded configuration from file")
	} else {
		logger.Info().Str("event", "config.loaded").Str("source", "env+defaults").Msg("loaded configuration from environment and defaults")
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
	}

	app, err := daemon.Build(ctx, config.NewHolder(cfg, loader), daemon.Options{Version: version.Version})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.build_failed").Msg("failed to assemble daemon")
	}

	logger.Info().
		Str("event", "daemon.start").
		Str("version", version.Version).
		Str("listen", cfg.API.Listen).
		Msg("starting evsyncd")

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str("event", "daemon.exit").Msg("daemon stopped with error")
		os.Exit(1)
	}
	logger.Info().Str("event", "daemon.exit").Msg("daemon stopped")
}
