// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/evsync/internal/config"
	xglog "github.com/ManuGH/evsync/internal/log"
	"github.com/ManuGH/evsync/internal/session"
	"github.com/ManuGH/evsync/internal/topology"
)

// Supervisor runs capture sessions for a topology until ctx ends and
// restarts them when a new topology is applied.
type Supervisor interface {
	Run(ctx context.Context, topo *topology.Topology) error
	Apply(topo *topology.Topology)
	SetConfig(cfg session.Config)
}

// TopologySink receives every topology the daemon switches to.
type TopologySink interface {
	SetTopology(t *topology.Topology)
}

// App owns the long-lived runtime lifecycle (session supervisor, config
// watcher, reload wiring) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.Holder
	supervisor   Supervisor
	sink         TopologySink
	topo         *topology.Topology
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. cfgHolder and sink may be nil.
func NewApp(logger zerolog.Logger, manager Manager, sup Supervisor, topo *topology.Topology, cfgHolder *config.Holder, sink TopologySink) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		supervisor:   sup,
		sink:         sink,
		topo:         topo,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}
	if a.supervisor == nil || a.topo == nil {
		return ErrMissingSupervisor
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		defer a.cfgHolder.Stop()

		applyCh := make(chan config.Config, 1)
		a.cfgHolder.RegisterListener(applyCh)
		prev := a.cfgHolder.Get()

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case next := <-applyCh:
					a.apply(prev, next)
					prev = next
				}
			}
		})
	}

	// SIGHUP trigger for manual reload.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str("event", "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(ctx); err != nil {
						a.logger.Warn().
							Err(err).
							Str("event", "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	// Stores and the bus are closed by later hooks; the supervisor must
	// have written its last record first.
	supDone := make(chan struct{})
	a.manager.RegisterShutdownHook("session_supervisor", func(hctx context.Context) error {
		select {
		case <-supDone:
			return nil
		case <-hctx.Done():
			return hctx.Err()
		}
	})

	g.Go(func() error {
		defer close(supDone)
		return a.supervisor.Run(ctx, a.topo)
	})

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// apply pushes a reloaded config into the running daemon. Only node
// changes restart the session; the log level is applied in place and
// session settings from the next attempt on.
func (a *App) apply(prev, next config.Config) {
	if prev.LogLevel != next.LogLevel {
		xglog.Configure(xglog.Config{Level: next.LogLevel})
	}
	if sc := sessionConfig(next); sc != sessionConfig(prev) {
		a.supervisor.SetConfig(sc)
		a.logger.Info().
			Str("event", "session.config_applied").
			Dur("handshake_timeout", sc.HandshakeTimeout).
			Int("max_attempts", sc.MaxAttempts).
			Msg("session settings apply from the next attempt")
	}
	if !config.TopologyChanged(prev, next) {
		return
	}
	topo, err := next.BuildTopology()
	if err != nil {
		a.logger.Warn().Err(err).Str("event", "topology.rejected").Msg("reloaded topology is invalid, keeping current session")
		return
	}
	a.logger.Info().
		Str("event", "topology.applied").
		Str("topology", topo.Name()).
		Int("nodes", len(topo.Nodes())).
		Msg("applying reloaded topology")
	if a.sink != nil {
		a.sink.SetTopology(topo)
	}
	a.supervisor.Apply(topo)
}
