// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/evsync/internal/config"
	"github.com/ManuGH/evsync/internal/log"
	"github.com/ManuGH/evsync/internal/session"
	"github.com/ManuGH/evsync/internal/topology"
)

type fakeSupervisor struct {
	mu      sync.Mutex
	started *topology.Topology
	applied []*topology.Topology
	configs []session.Config
	stopped bool
}

func (f *fakeSupervisor) Run(ctx context.Context, topo *topology.Topology) error {
	f.mu.Lock()
	f.started = topo
	f.mu.Unlock()
	<-ctx.Done()
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSupervisor) Apply(topo *topology.Topology) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, topo)
}

func (f *fakeSupervisor) SetConfig(cfg session.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
}

func (f *fakeSupervisor) appliedConfigs() []session.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Config(nil), f.configs...)
}

func (f *fakeSupervisor) appliedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.applied))
	for _, t := range f.applied {
		names = append(names, t.Name())
	}
	return names
}

type fakeSink struct {
	mu   sync.Mutex
	last *topology.Topology
}

func (f *fakeSink) SetTopology(t *topology.Topology) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = t
}

const appYAML = `
log_level: info
topology: %s
nodes:
  - name: p
    role: primary
    num_secondary_nodes: 1
  - name: s0
    role: secondary
    secondary_node_nr: 0
    ready_to: p
`

func writeAppConfig(t *testing.T, path, topoName string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(appYAML, topoName)), 0o600))
}

func loadHolder(t *testing.T, topoName string) (*config.Holder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evsync.yaml")
	writeAppConfig(t, path, topoName)
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	return config.NewHolder(cfg, loader), path
}

func newTestManager(t *testing.T) Manager {
	t.Helper()
	mgr, err := NewManager(testServerConfig(reserveListenAddr(t)), Deps{
		Logger:     log.WithComponent("test"),
		APIHandler: http.NotFoundHandler(),
	})
	require.NoError(t, err)
	return mgr
}

func TestApp_RequiresManagerAndSupervisor(t *testing.T) {
	holder, _ := loadHolder(t, "rig")
	topo, err := holder.Get().BuildTopology()
	require.NoError(t, err)

	app := NewApp(log.WithComponent("test"), nil, &fakeSupervisor{}, topo, nil, nil)
	assert.ErrorIs(t, app.Run(context.Background()), ErrMissingManager)

	app = NewApp(log.WithComponent("test"), newTestManager(t), nil, topo, nil, nil)
	assert.ErrorIs(t, app.Run(context.Background()), ErrMissingSupervisor)
}

func TestApp_RunsSupervisorUntilCancelled(t *testing.T) {
	holder, _ := loadHolder(t, "rig")
	topo, err := holder.Get().BuildTopology()
	require.NoError(t, err)

	sup := &fakeSupervisor{}
	app := NewApp(log.WithComponent("test"), newTestManager(t), sup, topo, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		sup.mu.Lock()
		defer sup.mu.Unlock()
		return sup.started == topo
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	sup.mu.Lock()
	defer sup.mu.Unlock()
	assert.True(t, sup.stopped)
}

func TestApp_ReloadAppliesChangedTopology(t *testing.T) {
	holder, path := loadHolder(t, "rig")
	topo, err := holder.Get().BuildTopology()
	require.NoError(t, err)

	sup := &fakeSupervisor{}
	sink := &fakeSink{}
	app := NewApp(log.WithComponent("test"), newTestManager(t), sup, topo, holder, sink)
	app.reloadSignal = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		sup.mu.Lock()
		defer sup.mu.Unlock()
		return sup.started != nil
	}, 2*time.Second, 10*time.Millisecond)

	writeAppConfig(t, path, "rig-b")
	require.NoError(t, holder.Reload(ctx))

	require.Eventually(t, func() bool {
		names := sup.appliedNames()
		return len(names) > 0 && names[len(names)-1] == "rig-b"
	}, 3*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotNil(t, sink.last)
	assert.Equal(t, "rig-b", sink.last.Name())
}

func TestApp_ApplyIgnoresUnchangedTopology(t *testing.T) {
	holder, _ := loadHolder(t, "rig")
	cfg := holder.Get()

	sup := &fakeSupervisor{}
	app := NewApp(log.WithComponent("test"), nil, sup, nil, nil, nil)

	next := cfg
	next.LogLevel = "debug"
	app.apply(cfg, next)
	assert.Empty(t, sup.appliedNames(), "a log level change keeps the session")

	broken := cfg
	broken.Nodes = append([]config.NodeConfig(nil), cfg.Nodes...)
	broken.Nodes[1].ReadyTo = "missing"
	app.apply(cfg, broken)
	assert.Empty(t, sup.appliedNames(), "an invalid topology is rejected")

	log.Configure(log.Config{Level: "info"})
}

func TestApp_ApplyPushesSessionSettings(t *testing.T) {
	holder, _ := loadHolder(t, "rig")
	cfg := holder.Get()

	sup := &fakeSupervisor{}
	app := NewApp(log.WithComponent("test"), nil, sup, nil, nil, nil)

	app.apply(cfg, cfg)
	assert.Empty(t, sup.appliedConfigs())

	next := cfg
	next.Handshake.Timeout = cfg.Handshake.Timeout + time.Second
	next.Supervisor.MaxAttempts = cfg.Supervisor.MaxAttempts + 2
	app.apply(cfg, next)

	got := sup.appliedConfigs()
	require.Len(t, got, 1)
	assert.Equal(t, next.Handshake.Timeout, got[0].HandshakeTimeout)
	assert.Equal(t, next.Supervisor.MaxAttempts, got[0].MaxAttempts)
	assert.Empty(t, sup.appliedNames(), "session settings do not restart the session")
}
