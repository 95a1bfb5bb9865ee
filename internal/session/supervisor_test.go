// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/evsync/internal/bus"
	"github.com/ManuGH/evsync/internal/handshake"
	"github.com/ManuGH/evsync/internal/metrics"
	"github.com/ManuGH/evsync/internal/sensor"
	"github.com/ManuGH/evsync/internal/sensor/simcam"
	"github.com/ManuGH/evsync/internal/session"
	"github.com/ManuGH/evsync/internal/session/store"
	"github.com/ManuGH/evsync/internal/topology"
)

func fastConfig() session.Config {
	return session.Config{
		HandshakeTimeout: 40 * time.Millisecond,
		MaxAttempts:      3,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
	}
}

func TestSupervisor_RetriesHandshakeTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hist := store.NewMemoryStore(16)
	sup := session.NewSupervisor(fastConfig(), session.Deps{
		Bus:     newBus(t),
		Cameras: cameras(simcam.Options{}, map[string]simcam.Options{"s0": {ArmDelay: time.Minute}}),
		Store:   hist,
	})

	retries := testutil.ToFloat64(metrics.SessionRetriesTotal)
	err := sup.RunTopology(context.Background(), testTopology(t, "slow", 1))
	require.ErrorIs(t, err, handshake.ErrHandshakeTimeout)
	assert.Equal(t, retries+2, testutil.ToFloat64(metrics.SessionRetriesTotal))

	recs, err := hist.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	ids := map[string]bool{}
	for _, r := range recs {
		assert.Equal(t, store.OutcomeHandshakeTimeout, r.Outcome)
		assert.False(t, r.EndedAt.IsZero())
		ids[r.ID] = true
	}
	assert.Len(t, ids, 3, "each attempt runs with a fresh session")

	st, ok := sup.Status()
	require.True(t, ok)
	assert.Equal(t, 3, st.Attempt)
	assert.Nil(t, sup.Current())
}

func TestSupervisor_StopsOnArmFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hist := store.NewMemoryStore(16)
	sup := session.NewSupervisor(fastConfig(), session.Deps{
		Bus:     newBus(t),
		Cameras: cameras(simcam.Options{}, map[string]simcam.Options{"s0": {ArmErr: errors.New("no device")}}),
		Store:   hist,
	})

	retries := testutil.ToFloat64(metrics.SessionRetriesTotal)
	err := sup.RunTopology(context.Background(), testTopology(t, "pair", 1))
	require.ErrorIs(t, err, sensor.ErrHardwareArm)
	assert.Equal(t, retries, testutil.ToFloat64(metrics.SessionRetriesTotal))

	recs, err := hist.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, store.OutcomeArmFailed, recs[0].Outcome)
	assert.Contains(t, recs[0].Error, "no device")
}

func TestSupervisor_RecoversAfterTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	// The first attempt's secondary arms too slowly; later ones are fast.
	opened := 0
	factory := sensor.CameraFactoryFunc(func(spec topology.NodeSpec) (sensor.Camera, error) {
		opened++
		if spec.Name == "s0" && opened <= 2 {
			return simcam.New(simcam.Options{ArmDelay: time.Minute}), nil
		}
		return simcam.New(simcam.Options{}), nil
	})

	cfg := fastConfig()
	cfg.HandshakeTimeout = 300 * time.Millisecond
	hist := store.NewMemoryStore(16)
	sup := session.NewSupervisor(cfg, session.Deps{Bus: newBus(t), Cameras: factory, Store: hist})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.RunTopology(ctx, testTopology(t, "pair", 1)) }()

	require.Eventually(t, sup.Capturing, 5*time.Second, 5*time.Millisecond)
	st, ok := sup.Status()
	require.True(t, ok)
	assert.Equal(t, 2, st.Attempt)

	cancel()
	require.NoError(t, <-done)

	recs, err := hist.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	outcomes := []store.Outcome{recs[0].Outcome, recs[1].Outcome}
	assert.ElementsMatch(t, []store.Outcome{store.OutcomeHandshakeTimeout, store.OutcomeCompleted}, outcomes)
}

func TestSupervisor_ApplyRestartsSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := fastConfig()
	cfg.HandshakeTimeout = 5 * time.Second
	sup := session.NewSupervisor(cfg, session.Deps{Bus: newBus(t), Cameras: simcam.Factory(simcam.Options{})})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx, testTopology(t, "pair", 1)) }()

	require.Eventually(t, sup.Capturing, 5*time.Second, 5*time.Millisecond)
	first := sup.Current().ID()

	sup.Apply(testTopology(t, "triple", 2))
	require.Eventually(t, func() bool {
		cur := sup.Current()
		return cur != nil && cur.ID() != first && cur.Capturing()
	}, 5*time.Second, 5*time.Millisecond)

	st, ok := sup.Status()
	require.True(t, ok)
	assert.Equal(t, "triple", st.Topology)
	assert.Len(t, st.Nodes, 3)
	assert.Equal(t, 1, st.Attempt)

	cancel()
	require.NoError(t, <-done)
}

func TestSupervisor_AbortAndRestart(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := fastConfig()
	cfg.HandshakeTimeout = 5 * time.Second
	sup := session.NewSupervisor(cfg, session.Deps{Bus: newBus(t), Cameras: simcam.Factory(simcam.Options{})})

	assert.ErrorIs(t, sup.Abort(nil), session.ErrNoSession)
	assert.False(t, sup.Restart())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx, testTopology(t, "pair", 1)) }()

	require.Eventually(t, sup.Capturing, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, sup.Abort(errors.New("operator")))

	require.Eventually(t, func() bool { return sup.Current() == nil }, 5*time.Second, 5*time.Millisecond)
	st, ok := sup.Status()
	require.True(t, ok)
	assert.Equal(t, store.OutcomeAborted, st.Outcome)
	assert.False(t, sup.Capturing())

	require.True(t, sup.Restart())
	require.Eventually(t, sup.Capturing, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSupervisor_SetConfigAppliesToNextRun(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hist := store.NewMemoryStore(16)
	sup := session.NewSupervisor(fastConfig(), session.Deps{
		Bus:     newBus(t),
		Cameras: cameras(simcam.Options{}, map[string]simcam.Options{"s0": {ArmDelay: time.Minute}}),
		Store:   hist,
	})

	next := fastConfig()
	next.MaxAttempts = 1
	next.InitialBackoff = 0
	sup.SetConfig(next)
	got := sup.Config()
	assert.Equal(t, 1, got.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, got.InitialBackoff, "defaults apply to replaced settings")

	err := sup.RunTopology(context.Background(), testTopology(t, "slow", 1))
	require.ErrorIs(t, err, handshake.ErrHandshakeTimeout)

	recs, err := hist.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSupervisor_BackpressureIsFinal(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	topo := testTopology(t, "pair", 1)
	b := newBus(t)
	stalled, err := b.Subscribe(topo.EventsTopic("s0"), bus.SubscribeOptions{Capacity: 1, Policy: bus.PolicyError})
	require.NoError(t, err)
	defer func() { _ = stalled.Close() }()

	hist := store.NewMemoryStore(16)
	cfg := fastConfig()
	cfg.HandshakeTimeout = 5 * time.Second
	sup := session.NewSupervisor(cfg, session.Deps{
		Bus:     b,
		Cameras: simcam.Factory(simcam.Options{}),
		Store:   hist,
	})

	retries := testutil.ToFloat64(metrics.SessionRetriesTotal)
	err = sup.RunTopology(context.Background(), topo)
	require.ErrorIs(t, err, bus.ErrBackpressure)
	assert.Equal(t, retries, testutil.ToFloat64(metrics.SessionRetriesTotal))

	recs, err := hist.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, store.OutcomeBackpressure, recs[0].Outcome)
}
