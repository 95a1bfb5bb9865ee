// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > file > defaults.
type Loader struct {
	configPath      string
	lookup          envSource
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader for configPath. An empty path loads defaults
// and environment only.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		lookup:          os.LookupEnv,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string { return l.configPath }

// Load parses the file strictly, applies environment overrides and
// validates the result, including the node topology.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	if _, err := cfg.BuildTopology(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Load is a shortcut for NewLoader(path).Load().
func Load(path string) (Config, error) {
	return NewLoader(path).Load()
}

// loadFile decodes a YAML file over cfg. Unknown keys and additional
// documents are errors.
func (l *Loader) loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return decodeStrict(data, cfg)
}

func decodeStrict(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ErrMultipleDocuments
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *Config) {
	cfg.LogLevel = l.envString(EnvLogLevel, cfg.LogLevel)
	cfg.API.Listen = l.envString(EnvAPIListen, cfg.API.Listen)
	cfg.Handshake.Timeout = l.envDuration(EnvHandshakeTimeout, cfg.Handshake.Timeout)
	cfg.Supervisor.MaxAttempts = l.envInt(EnvMaxAttempts, cfg.Supervisor.MaxAttempts)
	cfg.Bus.Policy = l.envString(EnvBusPolicy, cfg.Bus.Policy)
	cfg.Bus.Capacity = l.envInt(EnvBusCapacity, cfg.Bus.Capacity)
	cfg.Capture.RawDir = l.envString(EnvRawDir, cfg.Capture.RawDir)
	cfg.Store.Backend = l.envString(EnvStoreBackend, cfg.Store.Backend)
	cfg.Store.Path = l.envString(EnvStorePath, cfg.Store.Path)
	cfg.Store.Redis.Addr = l.envString(EnvRedisAddr, cfg.Store.Redis.Addr)
	cfg.Telemetry.Enabled = l.envBool(EnvTelemetryEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = l.envString(EnvTelemetryEndpoint, cfg.Telemetry.Endpoint)
}

func (l *Loader) envString(key, def string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return parseString(l.lookup, key, def)
}

func (l *Loader) envInt(key string, def int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return parseInt(l.lookup, key, def)
}

func (l *Loader) envDuration(key string, def time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return parseDuration(l.lookup, key, def)
}

func (l *Loader) envBool(key string, def bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return parseBool(l.lookup, key, def)
}
