// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sensor

import (
	"errors"
	"fmt"
)

var (
	// ErrHardwareArm classifies arm failures. They are fatal to the session.
	ErrHardwareArm = errors.New("hardware arm failed")
	// ErrNotWired is returned when a secondary has no ready output topic.
	ErrNotWired = errors.New("ready output not wired")
	// ErrCameraRuntime wraps failures a camera reports while streaming.
	ErrCameraRuntime = errors.New("camera runtime error")
)

// ArmError reports a camera that could not be armed.
type ArmError struct {
	Node   string
	Serial string
	Err    error
}

func (e *ArmError) Error() string {
	if e.Serial != "" {
		return fmt.Sprintf("node %s (serial %s): %s: %v", e.Node, e.Serial, ErrHardwareArm, e.Err)
	}
	return fmt.Sprintf("node %s: %s: %v", e.Node, ErrHardwareArm, e.Err)
}

func (e *ArmError) Unwrap() error { return e.Err }

// Is makes every ArmError match ErrHardwareArm.
func (e *ArmError) Is(target error) bool {
	return target == ErrHardwareArm
}
