// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import "time"

// Config is the daemon configuration. Field names follow the YAML keys.
type Config struct {
	LogLevel   string          `yaml:"log_level"`
	API        APIConfig       `yaml:"api"`
	Handshake  HandshakeConfig `yaml:"handshake"`
	Supervisor RetryConfig     `yaml:"supervisor"`
	Bus        BusConfig       `yaml:"bus"`
	Capture    CaptureConfig   `yaml:"capture"`
	Store      StoreConfig     `yaml:"store"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	Topology   string          `yaml:"topology"`
	Nodes      []NodeConfig    `yaml:"nodes"`
}

type APIConfig struct {
	Listen       string `yaml:"listen"`
	RateLimitRPS int    `yaml:"rate_limit_rps"`
}

type HandshakeConfig struct {
	// Timeout bounds the wait for all secondaries. Zero waits forever.
	Timeout time.Duration `yaml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type BusConfig struct {
	Capacity int    `yaml:"capacity"`
	Policy   string `yaml:"policy"`
}

type CaptureConfig struct {
	RawDir   string `yaml:"raw_dir"`
	Camera   string `yaml:"camera"`
	QueueLen int    `yaml:"queue_len"`
}

type StoreConfig struct {
	// Backend is memory, sqlite, badger or redis. Empty picks sqlite when
	// Path is set and memory otherwise.
	Backend string `yaml:"backend"`
	// Path of the SQLite file or Badger directory.
	Path  string           `yaml:"path"`
	Redis RedisStoreConfig `yaml:"redis"`
}

type RedisStoreConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// NodeConfig is one entry of the nodes list.
type NodeConfig struct {
	Name              string        `yaml:"name"`
	Namespace         string        `yaml:"namespace"`
	FrameID           string        `yaml:"frame_id"`
	Serial            string        `yaml:"serial"`
	Role              string        `yaml:"role"`
	SecondaryNodeNr   int           `yaml:"secondary_node_nr"`
	NumSecondaryNodes int           `yaml:"num_secondary_nodes"`
	TriggerMode       string        `yaml:"trigger_mode"`
	BatchThreshold    time.Duration `yaml:"batch_threshold"`
	BatchCapacity     int           `yaml:"batch_capacity"`
	BiasFile          string        `yaml:"bias_file"`
	SaveRawFile       bool          `yaml:"save_raw_file"`
	Multithreaded     bool          `yaml:"multithreaded"`
	StatsInterval     time.Duration `yaml:"stats_interval"`
	ReadyTo           string        `yaml:"ready_to"`
}
