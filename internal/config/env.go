// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/evsync/internal/log"
)

// Environment overrides. They take precedence over the file.
const (
	// EnvConfigPath is read by evsyncd when -config is not given.
	EnvConfigPath        = "EVSYNC_CONFIG"
	EnvLogLevel          = "EVSYNC_LOG_LEVEL"
	EnvAPIListen         = "EVSYNC_API_LISTEN"
	EnvHandshakeTimeout  = "EVSYNC_HANDSHAKE_TIMEOUT"
	EnvMaxAttempts       = "EVSYNC_MAX_ATTEMPTS"
	EnvBusPolicy         = "EVSYNC_BUS_POLICY"
	EnvBusCapacity       = "EVSYNC_BUS_CAPACITY"
	EnvRawDir            = "EVSYNC_RAW_DIR"
	EnvStoreBackend      = "EVSYNC_STORE_BACKEND"
	EnvStorePath         = "EVSYNC_STORE_PATH"
	EnvRedisAddr         = "EVSYNC_REDIS_ADDR"
	EnvTelemetryEnabled  = "EVSYNC_TELEMETRY_ENABLED"
	EnvTelemetryEndpoint = "EVSYNC_TELEMETRY_ENDPOINT"
)

// envSource resolves environment variables; tests swap it for a map.
type envSource func(key string) (string, bool)

func envLogger() zerolog.Logger { return log.WithComponent("config") }

// ParseString reads a string from the environment or returns def.
// An empty variable counts as unset.
func ParseString(key, def string) string {
	return parseString(os.LookupEnv, key, def)
}

func parseString(lookup envSource, key, def string) string {
	if v, ok := lookup(key); ok && v != "" {
		envLogger().Debug().Str("key", key).Str("value", v).Str("source", "environment").Msg("using environment variable")
		return v
	}
	return def
}

func parseInt(lookup envSource, key string, def int) int {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		envLogger().Warn().Str("key", key).Str("value", v).Int("default", def).
			Msg("invalid integer in environment variable, using default")
		return def
	}
	envLogger().Debug().Str("key", key).Int("value", i).Str("source", "environment").Msg("using environment variable")
	return i
}

func parseDuration(lookup envSource, key string, def time.Duration) time.Duration {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		envLogger().Warn().Str("key", key).Str("value", v).Dur("default", def).
			Msg("invalid duration in environment variable, using default")
		return def
	}
	envLogger().Debug().Str("key", key).Dur("value", d).Str("source", "environment").Msg("using environment variable")
	return d
}

func parseBool(lookup envSource, key string, def bool) bool {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		envLogger().Warn().Str("key", key).Str("value", v).Bool("default", def).
			Msg("invalid boolean in environment variable, using default")
		return def
	}
	return b
}
