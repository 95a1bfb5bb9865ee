// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by all spans.
const (
	SessionIDKey      = "evsync.session_id"
	SessionAttemptKey = "evsync.session.attempt"
	TopologyKey       = "evsync.topology"

	NodeNameKey       = "evsync.node.name"
	NodeRoleKey       = "evsync.node.role"
	NodeSerialKey     = "evsync.node.serial"
	SecondaryIndexKey = "evsync.node.secondary_index"

	HandshakeExpectedKey = "evsync.handshake.expected"
	HandshakeOutcomeKey  = "evsync.handshake.outcome"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// SessionAttributes describes one capture attempt.
func SessionAttributes(sessionID, topology string, attempt int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.Int(SessionAttemptKey, attempt),
	}
	if topology != "" {
		attrs = append(attrs, attribute.String(TopologyKey, topology))
	}
	return attrs
}

// NodeAttributes describes one sensor node. index is ignored for the primary (pass -1).
func NodeAttributes(name, role, serial string, index int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	attrs = append(attrs,
		attribute.String(NodeNameKey, name),
		attribute.String(NodeRoleKey, role),
	)
	if serial != "" {
		attrs = append(attrs, attribute.String(NodeSerialKey, serial))
	}
	if index >= 0 {
		attrs = append(attrs, attribute.Int(SecondaryIndexKey, index))
	}
	return attrs
}

// HandshakeAttributes describes the outcome of a readiness handshake.
func HandshakeAttributes(expected int, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(HandshakeExpectedKey, expected),
		attribute.String(HandshakeOutcomeKey, outcome),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
