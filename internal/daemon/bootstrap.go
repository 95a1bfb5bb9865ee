// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package daemon wires the evsyncd components together and manages the
// process lifecycle.
package daemon

import (
	"context"
	"fmt"

	"github.com/ManuGH/evsync/internal/api"
	"github.com/ManuGH/evsync/internal/bus"
	"github.com/ManuGH/evsync/internal/config"
	"github.com/ManuGH/evsync/internal/health"
	xglog "github.com/ManuGH/evsync/internal/log"
	"github.com/ManuGH/evsync/internal/sensor"
	"github.com/ManuGH/evsync/internal/session"
	"github.com/ManuGH/evsync/internal/session/store"
	"github.com/ManuGH/evsync/internal/telemetry"
)

// ServiceName is used for traces and the HTTP span formatter.
const ServiceName = "evsync"

// Options carries build metadata and overrides for Build.
type Options struct {
	Version string
	// Server overrides the defaults derived from cfg.API.Listen when set.
	Server *ServerConfig
}

// Build assembles the daemon from the current config of holder. Resources
// opened here are released by manager shutdown hooks when the App stops.
func Build(ctx context.Context, holder *config.Holder, opts Options) (*App, error) {
	cfg := holder.Get()
	logger := xglog.WithComponent("daemon")

	topo, err := cfg.BuildTopology()
	if err != nil {
		return nil, err
	}
	cameras, err := sensor.Driver(cfg.Capture.Camera)
	if err != nil {
		return nil, err
	}
	policy, err := bus.ParsePolicy(cfg.Bus.Policy)
	if err != nil {
		return nil, err
	}

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    ServiceName,
		ServiceVersion: opts.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}

	history, err := store.Open(store.Config{
		Backend: cfg.Store.Backend,
		Path:    cfg.Store.Path,
		Redis: store.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
		},
	})
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("open session store: %w", err)
	}

	eventBus := bus.New(bus.Options{Capacity: cfg.Bus.Capacity, Policy: policy})

	sup := session.NewSupervisor(sessionConfig(cfg), session.Deps{
		Bus:     eventBus,
		Cameras: cameras,
		Store:   history,
		Tracer:  telemetry.Tracer("evsync/session"),
	})

	hm := health.NewManager(opts.Version)
	hm.RegisterChecker(health.NewLastSessionChecker(lastSession(sup)))
	hm.RegisterReadinessChecker(health.NewCaptureChecker(sup.Capturing))
	if savesRaw(cfg) {
		hm.RegisterChecker(health.NewDirChecker("raw_dir", cfg.Capture.RawDir))
	}

	apiSrv := api.New(api.Config{
		Version:        opts.Version,
		RateLimitRPS:   cfg.API.RateLimitRPS,
		TracingService: ServiceName,
	}, api.Deps{
		Health:   hm,
		Sessions: sup,
		History:  history,
		Bus:      eventBus,
	})
	apiSrv.SetTopology(topo)

	serverCfg := DefaultServerConfig(cfg.API.Listen)
	if opts.Server != nil {
		serverCfg = *opts.Server
	}
	mgr, err := NewManager(serverCfg, Deps{Logger: logger, APIHandler: apiSrv.Handler()})
	if err != nil {
		_ = history.Close()
		_ = eventBus.Close()
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	mgr.RegisterShutdownHook("telemetry", provider.Shutdown)
	mgr.RegisterShutdownHook("session_store", func(context.Context) error { return history.Close() })
	mgr.RegisterShutdownHook("event_bus", func(context.Context) error { return eventBus.Close() })

	logger.Info().
		Str("event", "daemon.built").
		Str("topology", topo.Name()).
		Int("nodes", len(topo.Nodes())).
		Str("camera", cfg.Capture.Camera).
		Str("bus_policy", policy.String()).
		Bool("telemetry", cfg.Telemetry.Enabled).
		Msg("daemon components ready")

	return NewApp(logger, mgr, sup, topo, holder, apiSrv), nil
}

func lastSession(sup *session.Supervisor) func() (health.LastSession, bool) {
	return func() (health.LastSession, bool) {
		st, ok := sup.Status()
		if !ok || st.EndedAt.IsZero() {
			return health.LastSession{}, false
		}
		return health.LastSession{
			Outcome: string(st.Outcome),
			Error:   st.Error,
			EndedAt: st.EndedAt,
		}, true
	}
}

func savesRaw(cfg config.Config) bool {
	for _, n := range cfg.Nodes {
		if n.SaveRawFile {
			return true
		}
	}
	return false
}

// sessionConfig extracts the per-session settings from cfg.
func sessionConfig(cfg config.Config) session.Config {
	return session.Config{
		HandshakeTimeout: cfg.Handshake.Timeout,
		MaxAttempts:      cfg.Supervisor.MaxAttempts,
		InitialBackoff:   cfg.Supervisor.InitialBackoff,
		MaxBackoff:       cfg.Supervisor.MaxBackoff,
		RawDir:           cfg.Capture.RawDir,
		QueueLen:         cfg.Capture.QueueLen,
	}
}
