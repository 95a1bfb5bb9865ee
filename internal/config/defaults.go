// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import "time"

// Defaults returns the configuration used for keys absent from file and env.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		API: APIConfig{
			Listen:       ":9470",
			RateLimitRPS: 20,
		},
		Handshake: HandshakeConfig{Timeout: 5 * time.Second},
		Supervisor: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
		Bus: BusConfig{
			Capacity: 64,
			Policy:   "drop_oldest",
		},
		Capture: CaptureConfig{
			RawDir:   "/var/lib/evsync/raw",
			Camera:   "sim",
			QueueLen: 1024,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Topology: "default",
	}
}
