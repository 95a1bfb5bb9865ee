// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/evsync/internal/bus"
	"github.com/ManuGH/evsync/internal/handshake"
	xglog "github.com/ManuGH/evsync/internal/log"
	"github.com/ManuGH/evsync/internal/metrics"
	"github.com/ManuGH/evsync/internal/sensor"
	"github.com/ManuGH/evsync/internal/session/store"
	"github.com/ManuGH/evsync/internal/topology"
)

// ErrNoSession is returned by Abort when nothing is running.
var ErrNoSession = errors.New("no active session")

// Config controls retries and per-session settings.
type Config struct {
	HandshakeTimeout time.Duration
	// MaxAttempts bounds the attempts of one topology; zero or less means 1.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RawDir         string
	QueueLen       int
}

// Deps are shared by every session the supervisor starts.
type Deps struct {
	Bus     *bus.Bus
	Cameras sensor.CameraFactory
	// Store receives one record per attempt; nil keeps no history.
	Store  store.Store
	Logger *zerolog.Logger
	Tracer trace.Tracer
}

// Supervisor owns the decision between retry and abort. A handshake
// timeout restarts the whole session with a fresh coordinator; an arm
// failure, back-pressure or an explicit abort is final until a new
// topology is applied.
type Supervisor struct {
	deps   Deps
	logger zerolog.Logger

	updates chan *topology.Topology

	mu      sync.Mutex
	cfg     Config
	topo    *topology.Topology
	current *Session
	last    *Session
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

func NewSupervisor(cfg Config, deps Deps) *Supervisor {
	cfg = cfg.withDefaults()
	logger := xglog.WithComponent("supervisor")
	if deps.Logger != nil {
		logger = deps.Logger.With().Str(xglog.FieldComponent, "supervisor").Logger()
	}
	return &Supervisor{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		updates: make(chan *topology.Topology, 1),
	}
}

// Run keeps a session of topo running until ctx ends. Apply replaces the
// topology and restarts the session. After a final failure Run idles
// until the next Apply.
func (s *Supervisor) Run(ctx context.Context, topo *topology.Topology) error {
	for {
		s.mu.Lock()
		s.topo = topo
		s.mu.Unlock()

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func(t *topology.Topology) { done <- s.RunTopology(runCtx, t) }(topo)

		select {
		case err := <-done:
			cancel()
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				s.logger.Error().Err(err).
					Str(xglog.FieldEvent, "supervisor.gave_up").
					Str("outcome", string(Classify(err))).
					Msg("session failed, waiting for a new topology or restart")
			}
			select {
			case <-ctx.Done():
				return nil
			case topo = <-s.updates:
			}
		case next := <-s.updates:
			cancel()
			<-done
			topo = next
			s.logger.Info().
				Str(xglog.FieldEvent, "supervisor.restart").
				Str("topology", topo.Name()).
				Msg("applying topology, session restarted")
		case <-ctx.Done():
			cancel()
			<-done
			return nil
		}
	}
}

// RunTopology runs sessions of topo until one completes, fails for good or
// MaxAttempts handshake timeouts occurred.
func (s *Supervisor) RunTopology(ctx context.Context, topo *topology.Topology) error {
	cfg := s.Config()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff

	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		err := s.runAttempt(ctx, topo, attempt)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, handshake.ErrHandshakeTimeout) && ctx.Err() == nil:
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, d time.Duration) {
			metrics.IncSessionRetry()
			s.logger.Warn().Err(err).
				Str(xglog.FieldEvent, "supervisor.retry").
				Int(xglog.FieldAttempt, attempt).
				Dur("backoff", d).
				Msg("handshake timed out, retrying session")
		}),
	)
	return err
}

func (s *Supervisor) runAttempt(ctx context.Context, topo *topology.Topology, attempt int) error {
	cfg := s.Config()
	sess, err := New(Options{
		Topology:         topo,
		Bus:              s.deps.Bus,
		Cameras:          s.deps.Cameras,
		HandshakeTimeout: cfg.HandshakeTimeout,
		RawDir:           cfg.RawDir,
		QueueLen:         cfg.QueueLen,
		Attempt:          attempt,
		Logger:           s.deps.Logger,
		Tracer:           s.deps.Tracer,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.last = sess
		s.mu.Unlock()
	}()

	s.record(sess)
	err = sess.Run(ctx)
	s.record(sess)
	return err
}

func (s *Supervisor) record(sess *Session) {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.Put(context.Background(), sess.Record()); err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldSessionID, sess.ID()).Msg("failed to store session record")
	}
}

// Apply replaces the topology. The running session is stopped and a new
// one starts with a fresh attempt counter.
func (s *Supervisor) Apply(topo *topology.Topology) {
	if topo == nil {
		return
	}
	for {
		select {
		case s.updates <- topo:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

// Config returns the settings used for the next session attempt.
func (s *Supervisor) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetConfig replaces the settings. The running session keeps its own;
// the next attempt, retry or restart uses cfg. MaxAttempts and the backoff
// apply from the next topology run.
func (s *Supervisor) SetConfig(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Restart re-applies the current topology.
func (s *Supervisor) Restart() bool {
	s.mu.Lock()
	topo := s.topo
	s.mu.Unlock()
	if topo == nil {
		return false
	}
	s.Apply(topo)
	return true
}

// Abort stops the running session. It is not retried.
func (s *Supervisor) Abort(cause error) error {
	s.mu.Lock()
	sess := s.current
	s.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}
	sess.Abort(cause)
	return nil
}

// Current returns the running session, or nil.
func (s *Supervisor) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Status returns the running session's status, falling back to the last
// finished one.
func (s *Supervisor) Status() (Status, bool) {
	s.mu.Lock()
	sess := s.current
	if sess == nil {
		sess = s.last
	}
	s.mu.Unlock()
	if sess == nil {
		return Status{}, false
	}
	return sess.Status(), true
}

// Capturing reports whether a session has released its trigger and is running.
func (s *Supervisor) Capturing() bool {
	sess := s.Current()
	return sess != nil && sess.Capturing()
}
