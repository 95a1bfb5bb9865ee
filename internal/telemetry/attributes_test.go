// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	out := make(map[string]attribute.Value, len(attrs))
	for _, a := range attrs {
		out[string(a.Key)] = a.Value
	}
	return out
}

func TestSessionAttributes(t *testing.T) {
	m := attrMap(SessionAttributes("abc", "rig", 2))
	assert.Equal(t, "abc", m[SessionIDKey].AsString())
	assert.Equal(t, int64(2), m[SessionAttemptKey].AsInt64())
	assert.Equal(t, "rig", m[TopologyKey].AsString())

	assert.Len(t, SessionAttributes("abc", "", 1), 2)
}

func TestNodeAttributes(t *testing.T) {
	primary := attrMap(NodeAttributes("p", "primary", "", -1))
	assert.Len(t, primary, 2)
	assert.Equal(t, "primary", primary[NodeRoleKey].AsString())

	secondary := attrMap(NodeAttributes("s0", "secondary", "00050243", 0))
	assert.Equal(t, "00050243", secondary[NodeSerialKey].AsString())
	assert.Equal(t, int64(0), secondary[SecondaryIndexKey].AsInt64())
}

func TestHandshakeAndErrorAttributes(t *testing.T) {
	hs := attrMap(HandshakeAttributes(3, "released"))
	assert.Equal(t, int64(3), hs[HandshakeExpectedKey].AsInt64())
	assert.Equal(t, "released", hs[HandshakeOutcomeKey].AsString())

	e := attrMap(ErrorAttributes(errors.New("x"), "hardware_arm"))
	assert.True(t, e[ErrorKey].AsBool())
	assert.Equal(t, "hardware_arm", e[ErrorTypeKey].AsString())
}
