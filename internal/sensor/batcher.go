// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sensor

import (
	"time"

	"github.com/ManuGH/evsync/internal/event"
)

// Flush reasons reported with every closed batch.
const (
	FlushThreshold = "threshold"
	FlushCapacity  = "capacity"
	FlushFinal     = "final"
)

// Batcher groups a node's event stream into batches. A batch closes when
// its sensor-time span reaches the threshold or its length reaches the
// capacity, whichever comes first. Batcher is not safe for concurrent use.
type Batcher struct {
	sessionID string
	node      string
	threshold int64 // microseconds
	capacity  int
	seq       uint64
	cur       *event.Batch
	now       func() time.Time
}

// NewBatcher returns a batcher; capacity 0 disables the length limit.
func NewBatcher(sessionID, node string, threshold time.Duration, capacity int) *Batcher {
	us := threshold.Microseconds()
	if us < 1 {
		us = 1
	}
	return &Batcher{
		sessionID: sessionID,
		node:      node,
		threshold: us,
		capacity:  capacity,
		now:       time.Now,
	}
}

// Add appends events and calls emit for every batch that closes, in order.
// The emitted batch is no longer referenced by the batcher.
func (b *Batcher) Add(events []event.Event, emit func(batch *event.Batch, reason string)) {
	for _, ev := range events {
		if b.cur == nil {
			b.open()
		}
		b.cur.Events = append(b.cur.Events, ev)

		switch {
		case b.capacity > 0 && len(b.cur.Events) >= b.capacity:
			emit(b.take(), FlushCapacity)
		case ev.T-b.cur.Events[0].T >= b.threshold:
			emit(b.take(), FlushThreshold)
		}
	}
}

// Flush returns the open batch, or nil when it is empty.
func (b *Batcher) Flush() *event.Batch {
	if b.cur == nil || len(b.cur.Events) == 0 {
		return nil
	}
	return b.take()
}

// Seq returns the sequence number of the most recently opened batch.
func (b *Batcher) Seq() uint64 {
	return b.seq
}

func (b *Batcher) open() {
	b.seq++
	size := b.capacity
	if size <= 0 || size > 4096 {
		size = 256
	}
	b.cur = &event.Batch{
		SessionID: b.sessionID,
		Node:      b.node,
		Seq:       b.seq,
		OpenedAt:  b.now(),
		Events:    make([]event.Event, 0, size),
	}
}

func (b *Batcher) take() *event.Batch {
	out := b.cur
	b.cur = nil
	return out
}
