// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sensor

import (
	"time"

	"github.com/ManuGH/evsync/internal/event"
)

// StatsReport summarizes one statistics interval.
type StatsReport struct {
	// AvgRate and MaxRate are in million events per second of sensor time.
	AvgRate      float64
	MaxRate      float64
	AvgBatchSize float64
	PercentOn    int
	MaxQueue     int
	Events       uint64
	Batches      uint64
}

// Stats accumulates capture statistics over intervals of sensor time.
// It is not safe for concurrent use.
type Stats struct {
	interval int64 // microseconds
	started  bool
	lastEmit int64

	maxRate     float64
	totalEvents uint64
	totalTime   float64
	batches     uint64
	batchEvents uint64
	on, off     uint64
	maxQueue    int
}

func NewStats(interval time.Duration) *Stats {
	us := interval.Microseconds()
	if us < 1 {
		us = 1
	}
	return &Stats{interval: us}
}

// ObserveSlice records one camera slice. It returns a report and true when
// the slice crossed the end of the current interval.
func (s *Stats) ObserveSlice(events []event.Event, queueDepth int) (StatsReport, bool) {
	if len(events) == 0 {
		return StatsReport{}, false
	}
	first, last := events[0].T, events[len(events)-1].T
	if !s.started {
		s.started = true
		s.lastEmit = first
	}

	dt := float64(last - first)
	if dt > 0 {
		// events per microsecond equals Mev/s
		if rate := float64(len(events)) / dt; rate > s.maxRate {
			s.maxRate = rate
		}
	}
	s.totalEvents += uint64(len(events))
	s.totalTime += dt
	for _, ev := range events {
		if ev.P == event.PolarityOn {
			s.on++
		} else {
			s.off++
		}
	}
	if queueDepth > s.maxQueue {
		s.maxQueue = queueDepth
	}

	if last <= s.lastEmit+s.interval {
		return StatsReport{}, false
	}
	r := s.report()
	s.lastEmit += s.interval
	// Catch up after gaps so a long pause does not produce a burst of reports.
	for last > s.lastEmit+s.interval {
		s.lastEmit += s.interval
	}
	s.reset()
	return r, true
}

// ObserveBatch records a published batch of n events.
func (s *Stats) ObserveBatch(n int) {
	s.batches++
	s.batchEvents += uint64(n)
}

// Snapshot returns the current partial interval without resetting it.
func (s *Stats) Snapshot() StatsReport {
	return s.report()
}

func (s *Stats) report() StatsReport {
	r := StatsReport{
		MaxRate:  s.maxRate,
		MaxQueue: s.maxQueue,
		Events:   s.totalEvents,
		Batches:  s.batches,
	}
	if s.totalTime > 0 {
		r.AvgRate = float64(s.totalEvents) / s.totalTime
	}
	if s.batches > 0 {
		r.AvgBatchSize = float64(s.batchEvents) / float64(s.batches)
	}
	if total := s.on + s.off; total > 0 {
		r.PercentOn = int(100 * s.on / total)
	}
	return r
}

func (s *Stats) reset() {
	s.maxRate = 0
	s.totalEvents = 0
	s.totalTime = 0
	s.batches = 0
	s.batchEvents = 0
	s.on, s.off = 0, 0
	s.maxQueue = 0
}
