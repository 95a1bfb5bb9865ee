// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package sensor runs the capture lifecycle of one event camera inside a
// synchronized group: arming, the readiness handshake, the trigger and the
// batching of events onto the shared bus.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ManuGH/evsync/internal/bus"
	"github.com/ManuGH/evsync/internal/event"
	"github.com/ManuGH/evsync/internal/fsm"
	"github.com/ManuGH/evsync/internal/handshake"
	xglog "github.com/ManuGH/evsync/internal/log"
	"github.com/ManuGH/evsync/internal/metrics"
	"github.com/ManuGH/evsync/internal/telemetry"
	"github.com/ManuGH/evsync/internal/topology"
)

// State is a node lifecycle state.
type State string

const (
	StateIdle            State = "idle"
	StateConfigured      State = "configured"
	StateAwaitingTrigger State = "awaiting_trigger"
	StateCapturing       State = "capturing"
	StateStopped         State = "stopped"
)

type lifecycleEvent string

const (
	evConfigure lifecycleEvent = "configure"
	evAwait     lifecycleEvent = "await_trigger"
	evTrigger   lifecycleEvent = "trigger"
	evStop      lifecycleEvent = "stop"
)

// DefaultFlushTimeout bounds publishing after capture was asked to stop.
const DefaultFlushTimeout = 500 * time.Millisecond

// Config binds a node spec to one session.
type Config struct {
	Spec      topology.NodeSpec
	SessionID string

	EventsTopic      string
	ReadyInputTopic  string
	ReadyOutputTopic string

	// RawDir receives raw capture files when Spec.SaveRawFile is set.
	RawDir       string
	QueueLen     int
	FlushTimeout time.Duration
}

// Deps are the collaborators shared with the rest of the session.
type Deps struct {
	Bus     *bus.Bus
	Camera  Camera
	Trigger *TriggerLine
	// Coordinator is required for the primary and ignored otherwise.
	Coordinator *handshake.Coordinator
	Logger      *zerolog.Logger
	Tracer      trace.Tracer
}

// Info is a snapshot for status reporting.
type Info struct {
	Name      string        `json:"name"`
	Role      topology.Role `json:"role"`
	Index     int           `json:"secondary_index,omitempty"`
	Serial    string        `json:"serial,omitempty"`
	State     State         `json:"state"`
	Events    uint64        `json:"events"`
	Batches   uint64        `json:"batches"`
	RawFile   string        `json:"raw_file,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
}

// Node is one sensor in a session. Configure and Run are called from a
// single goroutine; Info and State may be called concurrently.
type Node struct {
	cfg    Config
	spec   topology.NodeSpec
	deps   Deps
	fsm    *fsm.Machine[State, lifecycleEvent]
	logger zerolog.Logger
	tracer trace.Tracer

	readySub *bus.ReadySubscription
	fwdDone  chan struct{}

	mu        sync.Mutex
	serial    string
	rawFile   string
	startedAt time.Time

	events  atomic.Uint64
	batches atomic.Uint64
}

// NewNode validates the wiring of one node.
func NewNode(cfg Config, deps Deps) (*Node, error) {
	spec := cfg.Spec
	switch {
	case deps.Bus == nil:
		return nil, fmt.Errorf("node %s: bus is required", spec.Name)
	case deps.Camera == nil:
		return nil, fmt.Errorf("node %s: camera is required", spec.Name)
	case deps.Trigger == nil:
		return nil, fmt.Errorf("node %s: trigger line is required", spec.Name)
	case cfg.EventsTopic == "":
		return nil, fmt.Errorf("node %s: events topic is required", spec.Name)
	}
	switch spec.Role {
	case topology.RolePrimary:
		if deps.Coordinator == nil {
			return nil, fmt.Errorf("node %s: primary requires a handshake coordinator", spec.Name)
		}
		if cfg.ReadyInputTopic == "" {
			return nil, fmt.Errorf("node %s: primary requires a ready input topic", spec.Name)
		}
	case topology.RoleSecondary:
		if cfg.ReadyOutputTopic == "" {
			return nil, fmt.Errorf("node %s: %w", spec.Name, ErrNotWired)
		}
	default:
		return nil, fmt.Errorf("node %s: unknown role %q", spec.Name, spec.Role)
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}

	n := &Node{
		cfg:    cfg,
		spec:   spec,
		deps:   deps,
		serial: spec.Serial,
		tracer: deps.Tracer,
	}
	if n.tracer == nil {
		n.tracer = telemetry.Tracer("evsync/sensor")
	}

	base := xglog.WithComponent("sensor")
	if deps.Logger != nil {
		base = *deps.Logger
	}
	lc := base.With().
		Str(xglog.FieldNode, spec.Name).
		Str(xglog.FieldRole, string(spec.Role)).
		Str(xglog.FieldSessionID, cfg.SessionID)
	if spec.Role == topology.RoleSecondary {
		lc = lc.Int(xglog.FieldIndex, spec.SecondaryIndex)
	}
	n.logger = lc.Logger()

	machine, err := fsm.New(StateIdle, []fsm.Transition[State, lifecycleEvent]{
		{From: StateIdle, Event: evConfigure, To: StateConfigured, Action: n.arm},
		{From: StateConfigured, Event: evAwait, To: StateAwaitingTrigger},
		{From: StateAwaitingTrigger, Event: evTrigger, To: StateCapturing},
		{From: StateIdle, Event: evStop, To: StateStopped},
		{From: StateConfigured, Event: evStop, To: StateStopped},
		{From: StateAwaitingTrigger, Event: evStop, To: StateStopped},
		{From: StateCapturing, Event: evStop, To: StateStopped},
	})
	if err != nil {
		return nil, err
	}
	machine.OnTransition(func(from, to State, ev lifecycleEvent) {
		metrics.SetSensorState(spec.Name, string(from), string(to))
		n.logger.Debug().
			Str(xglog.FieldEvent, "sensor.transition").
			Str(xglog.FieldOldState, string(from)).
			Str(xglog.FieldNewState, string(to)).
			Str("trigger", string(ev)).
			Msg("node state changed")
	})
	metrics.SetSensorState(spec.Name, "", string(StateIdle))
	n.fsm = machine
	return n, nil
}

func (n *Node) Name() string        { return n.spec.Name }
func (n *Node) Role() topology.Role { return n.spec.Role }
func (n *Node) State() State        { return n.fsm.State() }

// Info returns a status snapshot.
func (n *Node) Info() Info {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Info{
		Name:      n.spec.Name,
		Role:      n.spec.Role,
		Index:     n.spec.SecondaryIndex,
		Serial:    n.serial,
		State:     n.fsm.State(),
		Events:    n.events.Load(),
		Batches:   n.batches.Load(),
		RawFile:   n.rawFile,
		StartedAt: n.startedAt,
	}
}

// Configure arms the camera and joins the readiness handshake. A secondary
// publishes its ready signal; the primary starts forwarding ready signals
// of its session to the coordinator. Arm failures return an *ArmError.
func (n *Node) Configure(ctx context.Context) error {
	ctx, span := n.tracer.Start(ctx, "sensor.configure",
		trace.WithAttributes(telemetry.NodeAttributes(n.spec.Name, string(n.spec.Role), n.spec.Serial, n.indexAttr())...))
	defer span.End()

	if _, err := n.fsm.Fire(ctx, evConfigure); err != nil {
		if errors.Is(err, ErrHardwareArm) {
			metrics.IncSensorArmFailure(n.spec.Name)
			span.SetAttributes(telemetry.ErrorAttributes(err, "hardware_arm")...)
			n.logger.Error().Err(err).Str(xglog.FieldEvent, "sensor.arm_failed").Msg("camera arm failed")
			n.stop()
		}
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := n.joinHandshake(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		n.stop()
		return err
	}

	if _, err := n.fsm.Fire(ctx, evAwait); err != nil {
		n.stop()
		return err
	}
	return nil
}

func (n *Node) arm(ctx context.Context, _, _ State, _ lifecycleEvent) error {
	info, err := n.deps.Camera.Arm(ctx, ArmConfig{
		Serial:      n.spec.Serial,
		SyncMode:    SyncModeFor(n.spec.Role),
		TriggerMode: n.spec.TriggerMode,
		BiasFile:    n.spec.BiasFile,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return err
		}
		return &ArmError{Node: n.spec.Name, Serial: n.spec.Serial, Err: err}
	}

	serial := info.Serial
	if serial == "" {
		serial = n.spec.Serial
	}
	n.mu.Lock()
	n.serial = serial
	n.mu.Unlock()

	if info.BiasWarning != nil {
		n.logger.Warn().
			Err(info.BiasWarning).
			Str(xglog.FieldEvent, "sensor.bias_not_applied").
			Str(xglog.FieldPath, n.spec.BiasFile).
			Msg("bias file not applied, camera runs with default biases")
	}
	ev := n.logger.Info().
		Str(xglog.FieldEvent, "sensor.armed").
		Str(xglog.FieldSerial, serial).
		Str("sync_mode", string(SyncModeFor(n.spec.Role))).
		Str("trigger_mode", string(n.spec.TriggerMode))
	if n.spec.Serial == "" {
		ev = ev.Bool("serial_discovered", true)
	}
	ev.Msg("camera armed")
	return nil
}

func (n *Node) joinHandshake(ctx context.Context) error {
	if n.spec.Role == topology.RolePrimary {
		sub, err := n.deps.Bus.SubscribeReady(n.cfg.ReadyInputTopic)
		if err != nil {
			return fmt.Errorf("subscribe ready input %s: %w", n.cfg.ReadyInputTopic, err)
		}
		n.readySub = sub
		n.fwdDone = make(chan struct{})
		go n.forwardReady(sub)
		return nil
	}

	sig := event.ReadySignal{
		SessionID: n.cfg.SessionID,
		Node:      n.spec.Name,
		Index:     n.spec.SecondaryIndex,
		At:        time.Now(),
	}
	if err := n.deps.Bus.PublishReady(ctx, n.cfg.ReadyOutputTopic, sig); err != nil {
		return fmt.Errorf("publish ready signal: %w", err)
	}
	n.logger.Info().
		Str(xglog.FieldEvent, "sensor.ready").
		Str(xglog.FieldTopic, n.cfg.ReadyOutputTopic).
		Msg("secondary armed, ready signal sent")
	return nil
}

func (n *Node) forwardReady(sub *bus.ReadySubscription) {
	defer close(n.fwdDone)
	coord := n.deps.Coordinator
	for sig := range sub.C() {
		if sig.SessionID != n.cfg.SessionID {
			n.logger.Debug().
				Str(xglog.FieldEvent, "sensor.ready_stale").
				Str("signal_session", sig.SessionID).
				Str("from", sig.Node).
				Msg("ignoring ready signal of another session")
			continue
		}
		if _, err := coord.OnReady(sig.Index); err != nil {
			n.logger.Warn().
				Err(err).
				Str(xglog.FieldEvent, "sensor.ready_rejected").
				Str("from", sig.Node).
				Int(xglog.FieldIndex, sig.Index).
				Msg("coordinator rejected ready signal")
		}
	}
}

func (n *Node) closeReady() {
	if n.readySub == nil {
		return
	}
	_ = n.readySub.Close()
	<-n.fwdDone
	n.readySub = nil
}

// Run waits for the trigger and captures until ctx is cancelled. The
// primary waits for the coordinator and fires the trigger line; a
// secondary waits for the pulse. Run returns nil after a clean capture.
func (n *Node) Run(ctx context.Context) error {
	if st := n.fsm.State(); st != StateAwaitingTrigger {
		return fmt.Errorf("%w: run requires state %s, node %s is %s", fsm.ErrInvalidTransition, StateAwaitingTrigger, n.spec.Name, st)
	}
	defer n.stop()

	if err := n.awaitTrigger(ctx); err != nil {
		return err
	}
	if _, err := n.fsm.Fire(ctx, evTrigger); err != nil {
		return err
	}
	n.mu.Lock()
	n.startedAt = time.Now()
	n.mu.Unlock()
	return n.capture(ctx)
}

func (n *Node) awaitTrigger(ctx context.Context) error {
	ctx, span := n.tracer.Start(ctx, "sensor.await_trigger",
		trace.WithAttributes(telemetry.NodeAttributes(n.spec.Name, string(n.spec.Role), n.Info().Serial, n.indexAttr())...))
	defer span.End()

	if n.spec.Role != topology.RolePrimary {
		select {
		case <-n.deps.Trigger.Pulse():
			n.logger.Info().Str(xglog.FieldEvent, "sensor.triggered").Msg("trigger pulse received")
			return nil
		case <-ctx.Done():
			span.SetStatus(codes.Error, ctx.Err().Error())
			return ctx.Err()
		}
	}

	err := n.deps.Coordinator.Wait(ctx)
	n.closeReady()
	expected := len(n.deps.Coordinator.State().Expected)
	if err != nil {
		outcome := "canceled"
		switch {
		case errors.Is(err, handshake.ErrHandshakeTimeout):
			outcome = "timeout"
		case errors.Is(err, handshake.ErrAborted):
			outcome = "aborted"
		}
		span.SetAttributes(telemetry.HandshakeAttributes(expected, outcome)...)
		span.SetStatus(codes.Error, err.Error())
		n.logger.Warn().Err(err).Str(xglog.FieldEvent, "sensor.handshake_failed").Msg("primary not released, trigger not fired")
		return err
	}
	span.SetAttributes(telemetry.HandshakeAttributes(expected, "released")...)

	if n.deps.Trigger.Fire(n.spec.Name) {
		n.logger.Info().
			Str(xglog.FieldEvent, "sensor.trigger_fired").
			Str("trigger_mode", string(n.spec.TriggerMode)).
			Msg("all secondaries ready, trigger fired")
	}
	return nil
}

func (n *Node) capture(ctx context.Context) error {
	_, span := n.tracer.Start(ctx, "sensor.capture",
		trace.WithAttributes(telemetry.NodeAttributes(n.spec.Name, string(n.spec.Role), n.Info().Serial, n.indexAttr())...))
	defer span.End()

	var rec *rawRecorder
	if n.spec.SaveRawFile {
		var err error
		rec, err = newRawRecorder(n.cfg.RawDir, n.spec.Name, n.cfg.SessionID)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("node %s: %w", n.spec.Name, err)
		}
	}

	// Publishing outlives ctx by at most FlushTimeout so the tail of the
	// stream still reaches consumers.
	pubCtx, cancelPub := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelPub()

	batcher := NewBatcher(n.cfg.SessionID, n.spec.Name, n.spec.BatchThreshold, n.spec.BatchCapacity)
	stats := NewStats(n.spec.StatsInterval)
	statsLog := rate.NewLimiter(rate.Every(n.spec.StatsInterval), 1)

	// failed carries the first error that ends capture early.
	failed := make(chan error, 1)
	fail := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}

	var rawErr error
	emit := func(b *event.Batch, reason string) {
		if err := n.publish(pubCtx, b, reason, stats); errors.Is(err, bus.ErrBackpressure) {
			fail(err)
		}
	}
	process := func(events []event.Event, depth int) {
		n.events.Add(uint64(len(events)))
		metrics.AddSensorEvents(n.spec.Name, len(events))
		if rec != nil && rawErr == nil {
			if err := rec.Write(events); err != nil {
				rawErr = err
				n.logger.Error().Err(err).Str(xglog.FieldEvent, "sensor.raw_failed").Msg("raw capture failed")
			}
		}
		if r, ok := stats.ObserveSlice(events, depth); ok && statsLog.Allow() {
			n.logStats(r, false)
		}
		batcher.Add(events, emit)
	}

	var (
		handler EventHandler
		queue   *handoffQueue
		wg      sync.WaitGroup
	)
	if n.spec.Multithreaded {
		queue = newHandoffQueue(n.cfg.QueueLen)
		wg.Add(1)
		go func() {
			defer wg.Done()
			queue.drain(process)
		}()
		handler = queue.push
	} else {
		handler = func(events []event.Event) { process(events, 0) }
	}

	if r, ok := n.deps.Camera.(ErrorReporter); ok {
		r.OnRuntimeError(func(err error) {
			fail(fmt.Errorf("%w: %w", ErrCameraRuntime, err))
		})
	}
	if err := n.deps.Camera.Start(ctx, handler); err != nil {
		if queue != nil {
			queue.close()
			wg.Wait()
		}
		if rec != nil {
			_ = rec.Discard()
		}
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("node %s: start camera: %w", n.spec.Name, err)
	}
	n.logger.Info().Str(xglog.FieldEvent, "sensor.capturing").Str(xglog.FieldTopic, n.cfg.EventsTopic).Msg("capture started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-failed:
		n.logger.Error().Err(runErr).Str(xglog.FieldEvent, "sensor.capture_failed").Msg("capture failed, stopping")
	}
	flushTimer := time.AfterFunc(n.cfg.FlushTimeout, cancelPub)
	defer flushTimer.Stop()

	stopErr := n.deps.Camera.Stop()
	if queue != nil {
		queue.close()
		wg.Wait()
	}
	if last := batcher.Flush(); last != nil {
		emit(last, FlushFinal)
	}
	n.logStats(stats.Snapshot(), true)
	if runErr == nil {
		select {
		case runErr = <-failed:
		default:
		}
	}
	if runErr != nil {
		runErr = fmt.Errorf("node %s: %w", n.spec.Name, runErr)
	}

	if rec != nil {
		if rawErr != nil || runErr != nil {
			_ = rec.Discard()
		} else if err := rec.Commit(); err != nil {
			rawErr = err
		} else {
			n.mu.Lock()
			n.rawFile = rec.path
			n.mu.Unlock()
			n.logger.Info().
				Str(xglog.FieldEvent, "sensor.raw_saved").
				Str(xglog.FieldPath, rec.path).
				Uint64("events", rec.events).
				Msg("raw capture saved")
		}
	}
	if stopErr != nil {
		stopErr = fmt.Errorf("node %s: stop camera: %w", n.spec.Name, stopErr)
	}
	if rawErr != nil {
		rawErr = fmt.Errorf("node %s: %w", n.spec.Name, rawErr)
	}
	if err := errors.Join(runErr, rawErr, stopErr); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	n.logger.Info().
		Str(xglog.FieldEvent, "sensor.capture_stopped").
		Uint64("events", n.events.Load()).
		Uint64("batches", n.batches.Load()).
		Msg("capture stopped")
	return nil
}

// publish hands b to the bus. Back-pressure from an error-policy
// subscriber is returned to the caller; other delivery failures are logged.
func (n *Node) publish(ctx context.Context, b *event.Batch, reason string, stats *Stats) error {
	size := b.Len()
	stats.ObserveBatch(size)
	n.batches.Add(1)
	metrics.IncSensorBatch(n.spec.Name, reason)
	err := n.deps.Bus.Publish(ctx, n.cfg.EventsTopic, b)
	if err != nil && !errors.Is(err, bus.ErrBackpressure) {
		n.logger.Debug().
			Err(err).
			Str(xglog.FieldEvent, "sensor.publish_failed").
			Str(xglog.FieldTopic, n.cfg.EventsTopic).
			Int("events", size).
			Msg("batch not delivered to every subscriber")
	}
	return err
}

func (n *Node) logStats(r StatsReport, final bool) {
	metrics.SetSensorQueueDepthMax(n.spec.Name, r.MaxQueue)
	n.logger.Info().
		Str(xglog.FieldEvent, "sensor.stats").
		Float64("avg_rate_mevs", r.AvgRate).
		Float64("max_rate_mevs", r.MaxRate).
		Float64("avg_batch_size", r.AvgBatchSize).
		Int("pct_on", r.PercentOn).
		Int("max_queue", r.MaxQueue).
		Bool("final", final).
		Msg("capture statistics")
}

// stop moves the node to Stopped and releases the camera and the ready
// subscription. It is safe to call more than once.
func (n *Node) stop() {
	n.closeReady()
	if n.fsm.State() == StateStopped {
		return
	}
	if err := n.deps.Camera.Stop(); err != nil {
		n.logger.Debug().Err(err).Str(xglog.FieldEvent, "sensor.stop_camera").Msg("camera stop")
	}
	_, _ = n.fsm.Fire(context.Background(), evStop)
}

func (n *Node) indexAttr() int {
	if n.spec.Role == topology.RolePrimary {
		return -1
	}
	return n.spec.SecondaryIndex
}
