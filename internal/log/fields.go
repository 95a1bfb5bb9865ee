// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldNode          = "node"
	FieldSerial        = "serial"
	FieldRole          = "role"
	FieldIndex         = "secondary_index"
	FieldAttempt       = "attempt"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldTopic     = "topic"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath = "path"
)
