// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/evsync/internal/metrics"
	"github.com/ManuGH/evsync/internal/topology"
)

const pairYAML = `
log_level: debug
api:
  listen: "127.0.0.1:9471"
handshake:
  timeout: 2s
supervisor:
  max_attempts: 5
  initial_backoff: 100ms
  max_backoff: 1s
bus:
  capacity: 32
  policy: block
topology: rig
nodes:
  - name: evs00050500
    serial: "00050500"
    role: primary
    num_secondary_nodes: 1
    trigger_mode: external_out
    batch_threshold: 2ms
  - name: evs00050243
    role: secondary
    secondary_node_nr: 0
    ready_to: evs00050500
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "evsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func loaderWithEnv(path string, env map[string]string) *Loader {
	l := NewLoader(path)
	l.lookup = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, t.TempDir(), pairYAML)
	cfg, err := loaderWithEnv(path, nil).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9471", cfg.API.Listen)
	assert.Equal(t, 20, cfg.API.RateLimitRPS, "unset keys keep defaults")
	assert.Equal(t, 2*time.Second, cfg.Handshake.Timeout)
	assert.Equal(t, RetryConfig{MaxAttempts: 5, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}, cfg.Supervisor)
	assert.Equal(t, BusConfig{Capacity: 32, Policy: "block"}, cfg.Bus)
	require.Len(t, cfg.Nodes, 2)
	assert.Equal(t, 2*time.Millisecond, cfg.Nodes[0].BatchThreshold)

	topo, err := cfg.BuildTopology()
	require.NoError(t, err)
	assert.Equal(t, "rig", topo.Name())
	assert.Equal(t, "evs00050500", topo.Primary().Name)
	assert.Equal(t, []int{0}, topo.ExpectedIndices())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), pairYAML)
	l := loaderWithEnv(path, map[string]string{
		EnvLogLevel:         "warn",
		EnvHandshakeTimeout: "750ms",
		EnvMaxAttempts:      "not-a-number",
		EnvBusPolicy:        "error",
		EnvStorePath:        "/tmp/history.db",
		EnvStoreBackend:     "redis",
		EnvRedisAddr:        "127.0.0.1:6379",
	})
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 750*time.Millisecond, cfg.Handshake.Timeout)
	assert.Equal(t, 5, cfg.Supervisor.MaxAttempts, "invalid env value falls back to the file value")
	assert.Equal(t, "error", cfg.Bus.Policy)
	assert.Equal(t, "/tmp/history.db", cfg.Store.Path)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "127.0.0.1:6379", cfg.Store.Redis.Addr)
	assert.Contains(t, l.ConsumedEnvKeys, EnvRawDir)
}

func TestLoad_StrictYAML(t *testing.T) {
	dir := t.TempDir()

	t.Run("unknown field", func(t *testing.T) {
		path := writeConfig(t, dir, pairYAML+"\nsecondary_timeout: 3s\n")
		_, err := loaderWithEnv(path, nil).Load()
		require.ErrorIs(t, err, ErrUnknownConfigField)
	})

	t.Run("unknown node field", func(t *testing.T) {
		body := strings.Replace(pairYAML, "ready_to: evs00050500", "ready_to: evs00050500\n    wait_for: evs00050500", 1)
		path := writeConfig(t, dir, body)
		_, err := loaderWithEnv(path, nil).Load()
		require.ErrorIs(t, err, ErrUnknownConfigField)
	})

	t.Run("multiple documents", func(t *testing.T) {
		path := writeConfig(t, dir, pairYAML+"\n---\nlog_level: info\n")
		_, err := loaderWithEnv(path, nil).Load()
		require.ErrorIs(t, err, ErrMultipleDocuments)
	})

	t.Run("extension", func(t *testing.T) {
		path := filepath.Join(dir, "evsync.json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
		_, err := loaderWithEnv(path, nil).Load()
		require.ErrorContains(t, err, "only YAML supported")
	})
}

func TestLoad_InvalidTopology(t *testing.T) {
	body := strings.Replace(pairYAML, "    ready_to: evs00050500\n", "", 1)
	path := writeConfig(t, t.TempDir(), body)
	_, err := loaderWithEnv(path, nil).Load()
	require.ErrorIs(t, err, topology.ErrInvalidTopology)
}

func TestLoad_NoNodes(t *testing.T) {
	_, err := loaderWithEnv("", nil).Load()
	require.ErrorContains(t, err, "nodes")
}

func TestValidate(t *testing.T) {
	base := Defaults()
	base.Nodes = []NodeConfig{{Name: "p", Role: "primary"}}
	require.NoError(t, Validate(base))

	cases := map[string]func(*Config){
		"log_level":               func(c *Config) { c.LogLevel = "loud" },
		"api.listen":              func(c *Config) { c.API.Listen = "nohost" },
		"handshake.timeout":       func(c *Config) { c.Handshake.Timeout = -time.Second },
		"supervisor.max_attempts": func(c *Config) { c.Supervisor.MaxAttempts = 0 },
		"supervisor.max_backoff":  func(c *Config) { c.Supervisor.MaxBackoff = time.Millisecond },
		"bus.capacity":            func(c *Config) { c.Bus.Capacity = 0 },
		"bus.policy":              func(c *Config) { c.Bus.Policy = "drop_newest" },
		"capture.camera":          func(c *Config) { c.Capture.Camera = " " },
		"telemetry.sampling_rate": func(c *Config) { c.Telemetry.SamplingRate = 1.5 },
		"telemetry.exporter":      func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Exporter = "zipkin" },
		"capture.raw_dir":         func(c *Config) { c.Capture.RawDir = ""; c.Nodes[0].SaveRawFile = true },
		"store.backend":           func(c *Config) { c.Store.Backend = "etcd" },
		"store.path":              func(c *Config) { c.Store.Backend = "badger"; c.Store.Path = "" },
		"store.redis.addr":        func(c *Config) { c.Store.Backend = "redis" },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			cfg := base
			cfg.Nodes = append([]NodeConfig(nil), base.Nodes...)
			mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), field)
		})
	}
}

func TestValidate_RawDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "raw")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := Defaults()
	cfg.Nodes = []NodeConfig{{Name: "p", Role: "primary", SaveRawFile: true}}

	cfg.Capture.RawDir = filepath.Join(t.TempDir(), "not-yet")
	require.NoError(t, Validate(cfg))
	assert.NoDirExists(t, cfg.Capture.RawDir, "validation has no side effects")

	cfg.Capture.RawDir = "/var/lib/evsync/../../../etc"
	require.ErrorContains(t, Validate(cfg), "capture.raw_dir")

	cfg.Capture.RawDir = file
	require.ErrorContains(t, Validate(cfg), "not a directory")

	// Only checked when some node records.
	cfg.Nodes[0].SaveRawFile = false
	require.NoError(t, Validate(cfg))
}

func TestDescriptor(t *testing.T) {
	cfg := Defaults()
	cfg.Topology = "rig"
	cfg.Nodes = []NodeConfig{
		{Name: "p", Role: "primary", NumSecondaryNodes: 1, Serial: "00050500", SaveRawFile: true},
		{Name: "s", Role: "secondary", SecondaryNodeNr: 0, ReadyTo: "p", TriggerMode: "external_in", BatchCapacity: 128},
	}
	want := topology.Descriptor{
		Name: "rig",
		Nodes: []topology.NodeSpec{
			{Name: "p", Role: topology.RolePrimary, NumSecondaryNodes: 1, Serial: "00050500", SaveRawFile: true},
			{Name: "s", Role: topology.RoleSecondary, ReadyTo: "p", TriggerMode: topology.TriggerExternalIn, BatchCapacity: 128},
		},
	}
	if diff := cmp.Diff(want, cfg.Descriptor()); diff != "" {
		t.Fatalf("descriptor mismatch (-want +got):\n%s", diff)
	}
}

func TestTopologyChanged(t *testing.T) {
	a := Defaults()
	a.Nodes = []NodeConfig{{Name: "p", Role: "primary"}}
	b := a
	b.Nodes = []NodeConfig{{Name: "p", Role: "primary"}}
	b.LogLevel = "debug"
	assert.False(t, TopologyChanged(a, b))

	b.Nodes = []NodeConfig{{Name: "p", Role: "primary", Serial: "1"}}
	assert.True(t, TopologyChanged(a, b))
}

func TestHolder_ReloadKeepsOldOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, pairYAML)
	l := loaderWithEnv(path, nil)
	initial, err := l.Load()
	require.NoError(t, err)

	h := NewHolder(initial, l)
	ch := make(chan Config, 1)
	h.RegisterListener(ch)

	failures := testutil.ToFloat64(metrics.ConfigReloadsTotal.WithLabelValues("failure"))
	writeConfig(t, dir, "log_level: [")
	require.Error(t, h.Reload(context.Background()))
	assert.Equal(t, initial, h.Get())
	assert.Equal(t, failures+1, testutil.ToFloat64(metrics.ConfigReloadsTotal.WithLabelValues("failure")))
	assert.Empty(t, ch)

	writeConfig(t, dir, strings.Replace(pairYAML, "log_level: debug", "log_level: error", 1))
	require.NoError(t, h.Reload(context.Background()))
	assert.Equal(t, "error", h.Get().LogLevel)
	select {
	case got := <-ch:
		assert.Equal(t, "error", got.LogLevel)
	default:
		t.Fatal("listener not notified")
	}
}

func TestHolder_WatcherReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := writeConfig(t, dir, pairYAML)
	l := loaderWithEnv(path, nil)
	initial, err := l.Load()
	require.NoError(t, err)

	h := NewHolder(initial, l)
	h.debounce = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.StartWatcher(ctx))
	defer h.Stop()

	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1"), 0o600))

	writeConfig(t, dir, strings.Replace(pairYAML, "capacity: 32", "capacity: 8", 1))
	require.Eventually(t, func() bool { return h.Get().Bus.Capacity == 8 }, 5*time.Second, 10*time.Millisecond)
}

func TestHolder_WatcherDisabledWithoutPath(t *testing.T) {
	h := NewHolder(Defaults(), loaderWithEnv("", nil))
	require.NoError(t, h.StartWatcher(context.Background()))
	h.Stop()
}
