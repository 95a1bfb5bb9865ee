// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/ManuGH/evsync/internal/event"
)

// Subscription is one consumer's bounded queue on a batch topic.
type Subscription struct {
	bus    *Bus
	topic  string
	name   string
	policy Policy
	ch     chan *event.Batch
	// warn limits drop warnings of this subscription only.
	warn *rate.Limiter

	// mu serializes producers so that queue order equals publish order.
	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// C returns the delivery channel. It is closed by Close or Bus.Close.
func (s *Subscription) C() <-chan *event.Batch {
	return s.ch
}

func (s *Subscription) Topic() string  { return s.topic }
func (s *Subscription) Name() string   { return s.name }
func (s *Subscription) Policy() Policy { return s.policy }

// Delivered returns the number of batches queued for this subscriber.
func (s *Subscription) Delivered() uint64 {
	return s.delivered.Load()
}

// Dropped returns the number of batches this subscriber lost.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() error {
	s.bus.unsubscribe(s)
	s.shutdown()
	return nil
}

func (s *Subscription) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

func (s *Subscription) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscription) deliver(ctx context.Context, batch *event.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isDone() {
		return nil
	}

	switch s.policy {
	case PolicyBlock:
		select {
		case s.ch <- batch:
			s.delivered.Add(1)
			return nil
		case <-s.done:
			return nil
		case <-ctx.Done():
			s.drop(dropReason(ctx.Err()))
			return fmt.Errorf("publish topic %q to %q: %w", s.topic, s.name, ctx.Err())
		}

	case PolicyError:
		select {
		case s.ch <- batch:
			s.delivered.Add(1)
			return nil
		default:
			s.drop("full")
			return fmt.Errorf("publish topic %q to %q: %w", s.topic, s.name, ErrBackpressure)
		}

	default:
		for {
			select {
			case s.ch <- batch:
				s.delivered.Add(1)
				return nil
			default:
			}
			// Only the consumer reads concurrently, so this loop ends once
			// the queue has room.
			select {
			case <-s.ch:
				s.drop("drop_oldest")
			default:
			}
		}
	}
}

func (s *Subscription) drop(reason string) {
	n := s.dropped.Add(1)
	s.bus.dropped(s, reason, n)
}
