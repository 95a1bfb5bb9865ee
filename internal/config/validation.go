// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"

	"github.com/ManuGH/evsync/internal/bus"
	"github.com/ManuGH/evsync/internal/validate"
)

var logLevels = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"}

// Validate checks every field except the node topology, which
// BuildTopology validates.
func Validate(cfg Config) error {
	v := validate.New()

	v.OneOf("log_level", cfg.LogLevel, logLevels)
	v.ListenAddr("api.listen", cfg.API.Listen)
	v.NonNegative("api.rate_limit_rps", cfg.API.RateLimitRPS)

	if cfg.Handshake.Timeout < 0 {
		v.AddError("handshake.timeout", "duration cannot be negative", cfg.Handshake.Timeout)
	}

	v.Positive("supervisor.max_attempts", cfg.Supervisor.MaxAttempts)
	v.PositiveDuration("supervisor.initial_backoff", cfg.Supervisor.InitialBackoff)
	if cfg.Supervisor.MaxBackoff < cfg.Supervisor.InitialBackoff {
		v.AddError("supervisor.max_backoff",
			fmt.Sprintf("must not be below initial_backoff (%s)", cfg.Supervisor.InitialBackoff),
			cfg.Supervisor.MaxBackoff)
	}

	v.Positive("bus.capacity", cfg.Bus.Capacity)
	v.Custom("bus.policy", cfg.Bus.Policy, func(val interface{}) error {
		_, err := bus.ParsePolicy(val.(string))
		return err
	})

	v.NotEmpty("capture.camera", cfg.Capture.Camera)
	v.NonNegative("capture.queue_len", cfg.Capture.QueueLen)
	if cfg.saveRaw() {
		// Missing is fine; startup creates it.
		v.Directory("capture.raw_dir", cfg.Capture.RawDir, false)
	}

	switch cfg.Store.Backend {
	case "", "memory", "sqlite":
	case "badger":
		v.NotEmpty("store.path", cfg.Store.Path)
	case "redis":
		v.NotEmpty("store.redis.addr", cfg.Store.Redis.Addr)
		v.NonNegative("store.redis.db", cfg.Store.Redis.DB)
	default:
		v.AddError("store.backend", "must be one of memory, sqlite, badger, redis", cfg.Store.Backend)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
	}
	v.FloatRange("telemetry.sampling_rate", cfg.Telemetry.SamplingRate, 0, 1)

	if len(cfg.Nodes) == 0 {
		v.AddError("nodes", "at least a primary node is required", len(cfg.Nodes))
	}

	return v.Err()
}

func (cfg Config) saveRaw() bool {
	for _, n := range cfg.Nodes {
		if n.SaveRawFile {
			return true
		}
	}
	return false
}
