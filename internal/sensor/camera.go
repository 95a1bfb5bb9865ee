// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sensor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ManuGH/evsync/internal/event"
	"github.com/ManuGH/evsync/internal/topology"
)

// SyncMode is the hardware synchronization mode a camera is armed with.
type SyncMode string

const (
	SyncPrimary   SyncMode = "primary"
	SyncSecondary SyncMode = "secondary"
)

// SyncModeFor derives the sync mode from a node role.
func SyncModeFor(role topology.Role) SyncMode {
	if role == topology.RolePrimary {
		return SyncPrimary
	}
	return SyncSecondary
}

// ArmConfig is what a node asks of its camera before capture.
type ArmConfig struct {
	// Serial selects the camera; empty picks the first available one.
	Serial      string
	SyncMode    SyncMode
	TriggerMode topology.TriggerMode
	BiasFile    string
}

// ArmInfo reports what the camera actually armed with.
type ArmInfo struct {
	// Serial is the serial of the opened camera, discovered when ArmConfig.Serial is empty.
	Serial string
	// BiasWarning is set when the bias file could not be applied and
	// camera defaults are in use. It does not fail the arm.
	BiasWarning error
}

// EventHandler receives event slices from the camera. The slice is only
// valid for the duration of the call.
type EventHandler func(events []event.Event)

// Camera is the hardware port of a sensor node.
//
// Start begins streaming and returns immediately; the handler is invoked
// from a single camera goroutine. Stop halts streaming and returns once no
// handler call is in flight. Stop is idempotent and safe to call on a
// camera that never started.
type Camera interface {
	Arm(ctx context.Context, cfg ArmConfig) (ArmInfo, error)
	Start(ctx context.Context, handler EventHandler) error
	Stop() error
}

// ErrorReporter is implemented by cameras that fail asynchronously after
// Start, for example on a disconnect. The callback is registered before
// Start and may be invoked from any goroutine; the node then stops capture
// and returns the error wrapped in ErrCameraRuntime.
type ErrorReporter interface {
	OnRuntimeError(func(error))
}

// CameraFactory opens the camera for a node.
type CameraFactory interface {
	Open(spec topology.NodeSpec) (Camera, error)
}

// CameraFactoryFunc adapts a function to CameraFactory.
type CameraFactoryFunc func(spec topology.NodeSpec) (Camera, error)

func (f CameraFactoryFunc) Open(spec topology.NodeSpec) (Camera, error) {
	return f(spec)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]CameraFactory)
)

// RegisterDriver makes a camera factory available by kind. It panics on
// duplicate registration.
func RegisterDriver(kind string, f CameraFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[kind]; dup {
		panic(fmt.Sprintf("sensor: driver %q registered twice", kind))
	}
	drivers[kind] = f
}

// Driver returns the factory registered for kind.
func Driver(kind string) (CameraFactory, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	f, ok := drivers[kind]
	if !ok {
		return nil, fmt.Errorf("sensor: unknown camera driver %q (registered: %v)", kind, driverNamesLocked())
	}
	return f, nil
}

// Drivers lists registered driver kinds.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	return driverNamesLocked()
}

func driverNamesLocked() []string {
	out := make([]string, 0, len(drivers))
	for k := range drivers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
