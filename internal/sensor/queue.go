// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sensor

import (
	"sync"

	"github.com/ManuGH/evsync/internal/event"
)

// DefaultQueueLen bounds the hand-off queue of multithreaded nodes.
const DefaultQueueLen = 1024

// handoffQueue moves camera slices to a processing goroutine so the
// camera callback returns quickly. Push copies the slice and blocks when
// the queue is full.
type handoffQueue struct {
	ch        chan []event.Event
	closeOnce sync.Once
}

func newHandoffQueue(n int) *handoffQueue {
	if n <= 0 {
		n = DefaultQueueLen
	}
	return &handoffQueue{ch: make(chan []event.Event, n)}
}

func (q *handoffQueue) push(events []event.Event) {
	if len(events) == 0 {
		return
	}
	cp := make([]event.Event, len(events))
	copy(cp, events)
	q.ch <- cp
}

// close must only be called once the camera has stopped pushing.
func (q *handoffQueue) close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// drain calls fn for every slice until the queue is closed and empty.
func (q *handoffQueue) drain(fn func(events []event.Event, depth int)) {
	for events := range q.ch {
		fn(events, len(q.ch)+1)
	}
}
