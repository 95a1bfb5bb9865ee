// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package handshake implements the readiness handshake between one primary
// node and its secondaries. The coordinator aggregates ready signals for a
// single session and releases the primary exactly once.
package handshake

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/evsync/internal/log"
	"github.com/ManuGH/evsync/internal/metrics"
)

// State is a point-in-time copy of the handshake state of one session.
type State struct {
	SessionID    string
	Expected     []int
	Ready        []int
	Registered   bool
	Released     bool
	Err          error
	RegisteredAt time.Time
	ReleasedAt   time.Time
}

// Missing returns the expected indices that have not signalled yet.
func (s State) Missing() []int {
	ready := make(map[int]struct{}, len(s.Ready))
	for _, i := range s.Ready {
		ready[i] = struct{}{}
	}
	out := make([]int, 0, len(s.Expected))
	for _, i := range s.Expected {
		if _, ok := ready[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the handshake deadline, measured from RegisterExpected.
// Zero or negative disables the deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// Coordinator tracks ready signals for one session. It is safe for
// concurrent use by all secondaries and the primary.
type Coordinator struct {
	sessionID string
	timeout   time.Duration
	logger    zerolog.Logger

	mu           sync.Mutex
	registered   bool
	expected     map[int]struct{}
	ready        map[int]struct{}
	released     bool
	err          error
	claimed      bool
	timer        *time.Timer
	registeredAt time.Time
	releasedAt   time.Time

	releasedCh chan struct{}
	failedCh   chan struct{}
}

// New returns a coordinator for sessionID. Call RegisterExpected before any
// ready signal is delivered.
func New(sessionID string, opts ...Option) *Coordinator {
	c := &Coordinator{
		sessionID:  sessionID,
		logger:     xglog.WithComponent("handshake"),
		ready:      make(map[int]struct{}),
		releasedCh: make(chan struct{}),
		failedCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str(xglog.FieldSessionID, sessionID).Logger()
	return c
}

// SessionID returns the session this coordinator belongs to.
func (c *Coordinator) SessionID() string {
	return c.sessionID
}

// RegisterExpected records the secondary indices the primary waits for and
// starts the deadline. An empty set releases immediately.
func (c *Coordinator) RegisterExpected(indices []int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registered {
		return ErrAlreadyRegistered
	}
	if c.err != nil {
		return c.err
	}
	c.registered = true
	c.registeredAt = time.Now()
	c.expected = make(map[int]struct{}, len(indices))
	for _, i := range indices {
		c.expected[i] = struct{}{}
	}

	c.logger.Debug().
		Str(xglog.FieldEvent, "handshake.registered").
		Ints("expected", sortedKeys(c.expected)).
		Dur("timeout", c.timeout).
		Msg("waiting for secondaries")

	if len(c.expected) == 0 {
		c.releaseLocked()
		return nil
	}
	if c.timeout > 0 {
		c.timer = time.AfterFunc(c.timeout, c.expire)
	}
	return nil
}

// OnReady records index as ready. It reports whether the signal changed the
// state: duplicates and signals arriving after release, timeout or abort are
// ignored without error. An index outside the expected set is an error.
func (c *Coordinator) OnReady(index int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.registered {
		return false, ErrNotRegistered
	}
	if c.released || c.err != nil {
		metrics.RecordReadySignal("late")
		return false, nil
	}
	if _, ok := c.expected[index]; !ok {
		metrics.RecordReadySignal("unexpected")
		return false, fmt.Errorf("%w: %d", ErrUnexpectedIndex, index)
	}
	if _, dup := c.ready[index]; dup {
		metrics.RecordReadySignal("duplicate")
		return false, nil
	}

	c.ready[index] = struct{}{}
	metrics.RecordReadySignal("recorded")
	c.logger.Debug().
		Str(xglog.FieldEvent, "handshake.ready").
		Int(xglog.FieldIndex, index).
		Int("ready", len(c.ready)).
		Int("expected", len(c.expected)).
		Msg("secondary ready")

	if len(c.ready) == len(c.expected) {
		c.releaseLocked()
	}
	return true, nil
}

// Released is closed the instant every expected secondary has signalled.
func (c *Coordinator) Released() <-chan struct{} {
	return c.releasedCh
}

// Wait blocks the primary until release. Only one caller may claim the
// release; it returns nil on release, an error matching ErrHandshakeTimeout
// or ErrAborted, or ctx.Err().
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	if c.claimed {
		c.mu.Unlock()
		return ErrAlreadyClaimed
	}
	c.claimed = true
	c.mu.Unlock()

	select {
	case <-c.releasedCh:
		return nil
	case <-c.failedCh:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort fails the handshake with cause and wakes a waiting primary. It
// returns false when the handshake had already been released or failed.
func (c *Coordinator) Abort(cause error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released || c.err != nil {
		return false
	}
	if cause == nil {
		c.err = ErrAborted
	} else {
		c.err = fmt.Errorf("%w: %w", ErrAborted, cause)
	}
	c.failLocked("aborted")
	c.logger.Warn().
		Str(xglog.FieldEvent, "handshake.aborted").
		Err(cause).
		Msg("handshake aborted")
	return true
}

// Err returns the terminal failure, if any.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// State returns a snapshot of the handshake.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		SessionID:    c.sessionID,
		Expected:     sortedKeys(c.expected),
		Ready:        sortedKeys(c.ready),
		Registered:   c.registered,
		Released:     c.released,
		Err:          c.err,
		RegisteredAt: c.registeredAt,
		ReleasedAt:   c.releasedAt,
	}
}

func (c *Coordinator) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released || c.err != nil {
		return
	}
	missing := make([]int, 0, len(c.expected))
	for i := range c.expected {
		if _, ok := c.ready[i]; !ok {
			missing = append(missing, i)
		}
	}
	sort.Ints(missing)
	c.err = fmt.Errorf("%w after %s: missing secondary indices %v", ErrHandshakeTimeout, c.timeout, missing)
	c.failLocked("timeout")
	c.logger.Warn().
		Str(xglog.FieldEvent, "handshake.timeout").
		Ints("missing", missing).
		Dur("timeout", c.timeout).
		Msg("handshake deadline passed")
}

func (c *Coordinator) releaseLocked() {
	c.released = true
	c.releasedAt = time.Now()
	if c.timer != nil {
		c.timer.Stop()
	}
	close(c.releasedCh)

	took := c.releasedAt.Sub(c.registeredAt)
	metrics.RecordHandshakeOutcome("released", took)
	c.logger.Info().
		Str(xglog.FieldEvent, "handshake.released").
		Int("secondaries", len(c.expected)).
		Dur("took", took).
		Msg("all secondaries ready, primary released")
}

func (c *Coordinator) failLocked(outcome string) {
	if c.timer != nil {
		c.timer.Stop()
	}
	close(c.failedCh)
	metrics.RecordHandshakeOutcome(outcome, 0)
}

func sortedKeys(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
