// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sensor

import (
	"sync"
	"time"
)

// TriggerLine models the shared hardware trigger of one session. The
// primary fires it once; every secondary observes the pulse.
type TriggerLine struct {
	once    sync.Once
	pulse   chan struct{}
	mu      sync.Mutex
	firedAt time.Time
	firedBy string
}

func NewTriggerLine() *TriggerLine {
	return &TriggerLine{pulse: make(chan struct{})}
}

// Fire raises the trigger. Only the first call has an effect; it reports
// whether this call fired the line.
func (l *TriggerLine) Fire(by string) bool {
	fired := false
	l.once.Do(func() {
		l.mu.Lock()
		l.firedAt = time.Now()
		l.firedBy = by
		l.mu.Unlock()
		close(l.pulse)
		fired = true
	})
	return fired
}

// Pulse is closed when the line fires.
func (l *TriggerLine) Pulse() <-chan struct{} {
	return l.pulse
}

// FiredAt returns when and by whom the line fired; ok is false before that.
func (l *TriggerLine) FiredAt() (at time.Time, by string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.firedAt, l.firedBy, !l.firedAt.IsZero()
}
