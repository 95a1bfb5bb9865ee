// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package simcam

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/evsync/internal/event"
	"github.com/ManuGH/evsync/internal/sensor"
	"github.com/ManuGH/evsync/internal/topology"
)

func TestRegisteredAsDriver(t *testing.T) {
	f, err := sensor.Driver(DriverName)
	require.NoError(t, err)

	cam, err := f.Open(topology.NodeSpec{Name: "evs0"})
	require.NoError(t, err)
	info, err := cam.Arm(context.Background(), sensor.ArmConfig{
		SyncMode:    sensor.SyncPrimary,
		TriggerMode: topology.TriggerExternalOut,
	})
	require.NoError(t, err)
	assert.Equal(t, "sim-evs0", info.Serial)
}

func TestArm(t *testing.T) {
	t.Run("explicit serial wins", func(t *testing.T) {
		info, err := New(Options{Serial: "cam"}).Arm(context.Background(), sensor.ArmConfig{Serial: "00050500"})
		require.NoError(t, err)
		assert.Equal(t, "00050500", info.Serial)
		assert.NoError(t, info.BiasWarning)
	})

	t.Run("missing bias file is a warning", func(t *testing.T) {
		info, err := New(Options{}).Arm(context.Background(), sensor.ArmConfig{
			BiasFile: filepath.Join(t.TempDir(), "missing.bias"),
		})
		require.NoError(t, err)
		assert.Error(t, info.BiasWarning)
	})

	t.Run("secondary requires external_in", func(t *testing.T) {
		_, err := New(Options{}).Arm(context.Background(), sensor.ArmConfig{
			SyncMode:    sensor.SyncSecondary,
			TriggerMode: topology.TriggerExternalOut,
		})
		assert.Error(t, err)
	})

	t.Run("injected failure", func(t *testing.T) {
		boom := errors.New("usb gone")
		cam := New(Options{ArmErr: boom})
		_, err := cam.Arm(context.Background(), sensor.ArmConfig{})
		assert.ErrorIs(t, err, boom)
		_, armed := cam.Armed()
		assert.False(t, armed)
		assert.Equal(t, 1, cam.ArmCalls())
	})

	t.Run("delay honours ctx", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := New(Options{ArmDelay: time.Hour}).Arm(ctx, sensor.ArmConfig{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStartBeforeArm(t *testing.T) {
	err := New(Options{}).Start(context.Background(), func([]event.Event) {})
	assert.Error(t, err)
}

func TestStreamDeliversOrderedSlices(t *testing.T) {
	defer goleak.VerifyNone(t)

	cam := New(Options{SliceEvents: 10, SliceSpan: 100 * time.Microsecond, MaxSlices: 5})
	_, err := cam.Arm(context.Background(), sensor.ArmConfig{})
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		events []event.Event
	)
	done := make(chan struct{})
	require.NoError(t, cam.Start(context.Background(), func(slice []event.Event) {
		mu.Lock()
		events = append(events, slice...)
		n := len(events)
		mu.Unlock()
		if n == 50 {
			close(done)
		}
	}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not deliver 5 slices")
	}
	require.NoError(t, cam.Stop())
	require.NoError(t, cam.Stop())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 50)
	for i := 1; i < len(events); i++ {
		assert.LessOrEqual(t, events[i-1].T, events[i].T)
	}
	for _, e := range events {
		assert.Less(t, e.X, uint16(1280))
		assert.Less(t, e.Y, uint16(720))
	}
	assert.Equal(t, 5, cam.Slices())
}

func TestStartTwice(t *testing.T) {
	defer goleak.VerifyNone(t)

	cam := New(Options{})
	_, err := cam.Arm(context.Background(), sensor.ArmConfig{})
	require.NoError(t, err)
	require.NoError(t, cam.Start(context.Background(), func([]event.Event) {}))
	assert.Error(t, cam.Start(context.Background(), func([]event.Event) {}))
	require.NoError(t, cam.Stop())
}

func TestRuntimeErrorEndsStream(t *testing.T) {
	defer goleak.VerifyNone(t)

	lost := errors.New("usb disconnected")
	cam := New(Options{RuntimeErr: lost, FailAfter: 2})
	_, err := cam.Arm(context.Background(), sensor.ArmConfig{})
	require.NoError(t, err)

	reported := make(chan error, 1)
	cam.OnRuntimeError(func(err error) { reported <- err })
	require.NoError(t, cam.Start(context.Background(), func([]event.Event) {}))

	select {
	case err := <-reported:
		assert.ErrorIs(t, err, lost)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime error not reported")
	}
	require.NoError(t, cam.Stop())
	assert.Equal(t, 2, cam.Slices())
}
