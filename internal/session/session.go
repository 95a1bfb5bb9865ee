// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package session runs synchronized capture attempts. A Session owns one
// handshake coordinator, one trigger line and a node per topology entry;
// the Supervisor decides whether a failed session is retried.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/evsync/internal/bus"
	"github.com/ManuGH/evsync/internal/handshake"
	xglog "github.com/ManuGH/evsync/internal/log"
	"github.com/ManuGH/evsync/internal/metrics"
	"github.com/ManuGH/evsync/internal/sensor"
	"github.com/ManuGH/evsync/internal/session/store"
	"github.com/ManuGH/evsync/internal/telemetry"
	"github.com/ManuGH/evsync/internal/topology"
)

// ErrAlreadyStarted is returned when Run is called twice.
var ErrAlreadyStarted = errors.New("session already started")

// Options configures one session.
type Options struct {
	Topology         *topology.Topology
	Bus              *bus.Bus
	Cameras          sensor.CameraFactory
	HandshakeTimeout time.Duration
	RawDir           string
	QueueLen         int
	Attempt          int
	Logger           *zerolog.Logger
	Tracer           trace.Tracer
}

// Status is a point-in-time view of a session.
type Status struct {
	ID         string          `json:"id"`
	Topology   string          `json:"topology"`
	Attempt    int             `json:"attempt"`
	Outcome    store.Outcome   `json:"outcome"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	ReleasedAt time.Time       `json:"released_at,omitempty"`
	EndedAt    time.Time       `json:"ended_at,omitempty"`
	Handshake  HandshakeStatus `json:"handshake"`
	Nodes      []sensor.Info   `json:"nodes"`
}

// HandshakeStatus is the JSON view of the coordinator state.
type HandshakeStatus struct {
	Expected []int  `json:"expected"`
	Ready    []int  `json:"ready"`
	Released bool   `json:"released"`
	Error    string `json:"error,omitempty"`
}

// Session is one synchronized capture attempt.
type Session struct {
	id      string
	opts    Options
	coord   *handshake.Coordinator
	trigger *sensor.TriggerLine
	nodes   []*sensor.Node
	logger  zerolog.Logger
	tracer  trace.Tracer

	mu         sync.Mutex
	started    bool
	cancel     context.CancelCauseFunc
	outcome    store.Outcome
	err        error
	startedAt  time.Time
	releasedAt time.Time
	endedAt    time.Time
}

// New opens a camera per node and wires the nodes to the shared bus.
func New(opts Options) (*Session, error) {
	if opts.Topology == nil || opts.Bus == nil || opts.Cameras == nil {
		return nil, errors.New("session: topology, bus and camera factory are required")
	}
	if opts.Attempt <= 0 {
		opts.Attempt = 1
	}

	id := uuid.NewString()
	base := xglog.WithComponent("session")
	if opts.Logger != nil {
		base = *opts.Logger
	}
	logger := base.With().Str(xglog.FieldSessionID, id).Int(xglog.FieldAttempt, opts.Attempt).Logger()
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer("evsync/session")
	}

	s := &Session{
		id:      id,
		opts:    opts,
		trigger: sensor.NewTriggerLine(),
		logger:  logger,
		tracer:  tracer,
		outcome: store.OutcomeRunning,
	}
	s.coord = handshake.New(id, handshake.WithTimeout(opts.HandshakeTimeout), handshake.WithLogger(logger))

	topo := opts.Topology
	opts.Bus.ResetReady(topo.ReadyInputTopic(topo.Primary().Name))

	for _, spec := range topo.Nodes() {
		cam, err := opts.Cameras.Open(spec)
		if err != nil {
			return nil, fmt.Errorf("session: open camera for %s: %w", spec.Name, err)
		}
		n, err := sensor.NewNode(sensor.Config{
			Spec:             spec,
			SessionID:        id,
			EventsTopic:      topo.EventsTopic(spec.Name),
			ReadyInputTopic:  topo.ReadyInputTopic(spec.Name),
			ReadyOutputTopic: topo.ReadyOutputTopic(spec.Name),
			RawDir:           opts.RawDir,
			QueueLen:         opts.QueueLen,
		}, sensor.Deps{
			Bus:         opts.Bus,
			Camera:      cam,
			Trigger:     s.trigger,
			Coordinator: s.coord,
			Logger:      &logger,
			Tracer:      tracer,
		})
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		s.nodes = append(s.nodes, n)
	}
	return s, nil
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Attempt() int { return s.opts.Attempt }

// Coordinator exposes the handshake of this session.
func (s *Session) Coordinator() *handshake.Coordinator { return s.coord }

// Run executes the session until ctx ends or a node fails. Nodes run
// concurrently; the first failure cancels the others. A hardware arm
// failure aborts the handshake so the primary never fires.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.startedAt = time.Now()
	ctx, cancel := context.WithCancelCause(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel(nil)

	topo := s.opts.Topology
	ctx, span := s.tracer.Start(ctx, "session.run",
		trace.WithAttributes(telemetry.SessionAttributes(s.id, topo.Name(), s.opts.Attempt)...))
	defer span.End()
	ctx = xglog.ContextWithSessionID(ctx, s.id)

	metrics.SetSessionActive(true)
	defer metrics.SetSessionActive(false)
	s.logger.Info().
		Str(xglog.FieldEvent, "session.start").
		Int("nodes", len(s.nodes)).
		Ints("expected", topo.ExpectedIndices()).
		Msg("session started")

	if err := s.coord.RegisterExpected(topo.ExpectedIndices()); err != nil {
		return s.finish(span, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-s.coord.Released():
			s.mu.Lock()
			s.releasedAt = time.Now()
			s.mu.Unlock()
		case <-gctx.Done():
		}
		return nil
	})
	for _, n := range s.nodes {
		n := n
		g.Go(func() error {
			nctx := xglog.ContextWithNode(gctx, n.Name())
			if err := n.Configure(nctx); err != nil {
				if errors.Is(err, sensor.ErrHardwareArm) {
					s.coord.Abort(err)
				}
				return err
			}
			return n.Run(nctx)
		})
	}

	err := g.Wait()
	if err == nil {
		if cause := context.Cause(ctx); cause != nil && errors.Is(cause, handshake.ErrAborted) {
			err = cause
		}
	} else if errors.Is(err, context.Canceled) {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			err = cause
		}
	}
	return s.finish(span, err)
}

// Abort stops the session with cause. A pending handshake fails with
// handshake.ErrAborted; capturing nodes flush and stop.
func (s *Session) Abort(cause error) {
	if cause == nil {
		cause = errors.New("aborted by request")
	}
	s.coord.Abort(cause)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel(fmt.Errorf("%w: %w", handshake.ErrAborted, cause))
	}
}

func (s *Session) finish(span trace.Span, err error) error {
	outcome := Classify(err)
	metrics.IncSessionOutcome(string(outcome))

	s.mu.Lock()
	s.outcome = outcome
	s.err = err
	s.endedAt = time.Now()
	s.mu.Unlock()

	ev := s.logger.Info()
	if err != nil {
		ev = s.logger.Warn().Err(err)
		span.SetAttributes(telemetry.ErrorAttributes(err, string(outcome))...)
		span.SetStatus(codes.Error, err.Error())
	}
	ev.Str(xglog.FieldEvent, "session.end").Str("outcome", string(outcome)).Msg("session ended")
	return err
}

// Classify maps a session error to its outcome.
func Classify(err error) store.Outcome {
	switch {
	case err == nil:
		return store.OutcomeCompleted
	case errors.Is(err, sensor.ErrHardwareArm):
		return store.OutcomeArmFailed
	case errors.Is(err, handshake.ErrHandshakeTimeout):
		return store.OutcomeHandshakeTimeout
	case errors.Is(err, handshake.ErrAborted), errors.Is(err, context.Canceled):
		return store.OutcomeAborted
	case errors.Is(err, bus.ErrBackpressure):
		return store.OutcomeBackpressure
	default:
		return store.OutcomeFailed
	}
}

// Capturing reports whether the trigger fired and the session is still running.
func (s *Session) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || !s.endedAt.IsZero() {
		return false
	}
	_, _, fired := s.trigger.FiredAt()
	return fired
}

// Status returns a snapshot of the session and its nodes.
func (s *Session) Status() Status {
	hs := s.coord.State()
	st := Status{
		ID:       s.id,
		Topology: s.opts.Topology.Name(),
		Attempt:  s.opts.Attempt,
		Handshake: HandshakeStatus{
			Expected: hs.Expected,
			Ready:    hs.Ready,
			Released: hs.Released,
		},
	}
	if hs.Err != nil {
		st.Handshake.Error = hs.Err.Error()
	}
	for _, n := range s.nodes {
		st.Nodes = append(st.Nodes, n.Info())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.Outcome = s.outcome
	if s.err != nil {
		st.Error = s.err.Error()
	}
	st.StartedAt = s.startedAt
	st.ReleasedAt = s.releasedAt
	st.EndedAt = s.endedAt
	return st
}

// Record converts the current status to a history record.
func (s *Session) Record() store.Record {
	st := s.Status()
	return store.Record{
		ID:         st.ID,
		Topology:   st.Topology,
		Attempt:    st.Attempt,
		Nodes:      len(st.Nodes),
		Outcome:    st.Outcome,
		Error:      st.Error,
		StartedAt:  st.StartedAt,
		ReleasedAt: st.ReleasedAt,
		EndedAt:    st.EndedAt,
	}
}
