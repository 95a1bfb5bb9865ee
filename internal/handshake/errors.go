// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package handshake

import "errors"

var (
	ErrAlreadyRegistered = errors.New("handshake: expected set already registered")
	ErrNotRegistered     = errors.New("handshake: expected set not registered")
	ErrUnexpectedIndex   = errors.New("handshake: unexpected secondary index")
	ErrAlreadyClaimed    = errors.New("handshake: release already claimed")

	// ErrHandshakeTimeout means not every expected secondary signalled ready
	// before the deadline. The coordinator never releases afterwards; callers
	// retry with a fresh session.
	ErrHandshakeTimeout = errors.New("handshake: timed out waiting for secondaries")

	// ErrAborted wraps the cause passed to Abort.
	ErrAborted = errors.New("handshake: aborted")
)
