// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package event holds the data exchanged between sensor nodes, the
// handshake coordinator and the event bus.
package event

import "time"

// Polarity of a contrast-detection event.
type Polarity uint8

const (
	PolarityOff Polarity = 0
	PolarityOn  Polarity = 1
)

// Event is a single contrast-detection event. T is the sensor timestamp in
// microseconds since the camera started.
type Event struct {
	T int64
	X uint16
	Y uint16
	P Polarity
}

// Batch is an ordered group of events produced by one node.
//
// A batch is handed to the bus by pointer. After Publish the producer no
// longer owns it and must not modify it; consumers sharing a topic treat it
// as read-only.
type Batch struct {
	SessionID string
	Node      string
	Seq       uint64
	OpenedAt  time.Time
	Events    []Event
}

// Span returns the sensor-time distance between the first and last event.
func (b *Batch) Span() time.Duration {
	if b == nil || len(b.Events) < 2 {
		return 0
	}
	return time.Duration(b.Events[len(b.Events)-1].T-b.Events[0].T) * time.Microsecond
}

// Len returns the number of events in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Events)
}

// ReadySignal announces that a secondary node armed its hardware and waits
// for the trigger. At carries a monotonic clock reading.
type ReadySignal struct {
	SessionID string
	Node      string
	Index     int
	At        time.Time
}
