// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package middleware provides the HTTP middleware stack of the admin API.
package middleware

import "github.com/go-chi/chi/v5"

// StackConfig configures the admin API middleware stack.
type StackConfig struct {
	EnableMetrics bool
	// TracingService names the otelhttp spans; empty disables tracing.
	TracingService string
	EnableLogging  bool
	// RateLimitRPS limits requests per client IP and second; zero disables it.
	RateLimitRPS int
}

// NewRouter constructs a chi router with the stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the middleware in order: recovery, request ID,
// metrics, tracing, access log, rate limit.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(OTelHTTP(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(AccessLog)
	}
	r.Use(PerSecond(cfg.RateLimitRPS))
}
