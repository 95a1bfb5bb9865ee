// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api serves the admin HTTP surface: probes, metrics, session
// status and history, and operator abort/restart.
package api

import (
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/evsync/internal/api/middleware"
	"github.com/ManuGH/evsync/internal/bus"
	"github.com/ManuGH/evsync/internal/health"
	xglog "github.com/ManuGH/evsync/internal/log"
	"github.com/ManuGH/evsync/internal/session"
	"github.com/ManuGH/evsync/internal/session/store"
	"github.com/ManuGH/evsync/internal/topology"
)

// Sessions is the part of the supervisor the API drives.
type Sessions interface {
	Status() (session.Status, bool)
	Capturing() bool
	Abort(cause error) error
	Restart() bool
}

// Config holds the API settings.
type Config struct {
	Version      string
	RateLimitRPS int
	// TracingService enables otelhttp spans under this name.
	TracingService string
}

// Deps are the components the handlers read from.
type Deps struct {
	Health   *health.Manager
	Sessions Sessions
	History  store.Store
	Bus      *bus.Bus
}

// Server is the admin API.
type Server struct {
	cfg    Config
	deps   Deps
	router chi.Router
	logger zerolog.Logger
	topo   atomic.Pointer[topology.Topology]

	openapi openapiCache
}

// New builds the router. Deps.Health must be set; other deps may be nil,
// in which case their endpoints answer 503.
func New(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: xglog.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// SetTopology publishes the topology served by /api/v1/topology.
func (s *Server) SetTopology(t *topology.Topology) { s.topo.Store(t) }

func (s *Server) routes() chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
		RateLimitRPS:   s.cfg.RateLimitRPS,
	})

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/topology", s.handleTopology)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Post("/session/abort", s.handleAbort)
		r.Post("/session/restart", s.handleRestart)
		r.Get("/bus/topics", s.handleBusTopics)
		r.Get("/openapi.json", s.handleOpenAPI)
	})
	return r
}
