// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ManuGH/evsync/internal/event"
	"github.com/ManuGH/evsync/internal/metrics"
)

const readyQueueLen = 16

// readyTopic latches the most recent signal of every producing node so that
// a consumer subscribing late still sees each of them.
type readyTopic struct {
	latched []event.ReadySignal
	subs    []*ReadySubscription
}

func (rt *readyTopic) latch(sig event.ReadySignal) {
	for i := range rt.latched {
		if rt.latched[i].Node == sig.Node {
			// A newer signal replaces the node's older one and moves to the end.
			copy(rt.latched[i:], rt.latched[i+1:])
			rt.latched[len(rt.latched)-1] = sig
			return
		}
	}
	rt.latched = append(rt.latched, sig)
}

// ReadySubscription receives ready signals from one ready topic.
type ReadySubscription struct {
	bus       *Bus
	topic     string
	ch        chan event.ReadySignal
	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// C returns the delivery channel. It is closed by Close or Bus.Close.
func (s *ReadySubscription) C() <-chan event.ReadySignal {
	return s.ch
}

// Close detaches the subscription and closes its channel.
func (s *ReadySubscription) Close() error {
	s.bus.unsubscribeReady(s)
	s.shutdown()
	return nil
}

func (s *ReadySubscription) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

// PublishReady latches sig on the ready topic and delivers it to every
// current subscriber. Delivery blocks until each subscriber accepted the
// signal, unsubscribed, or ctx ended.
func (b *Bus) PublishReady(ctx context.Context, name string, sig event.ReadySignal) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	rt := b.readyTopic(name)
	rt.latch(sig)
	subs := append([]*ReadySubscription(nil), rt.subs...)
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.deliver(ctx, sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SubscribeReady registers a consumer on a ready topic. Latched signals are
// queued first, in the order they were published.
func (b *Bus) SubscribeReady(name string) (*ReadySubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	rt := b.readyTopic(name)
	s := &ReadySubscription{
		bus:   b,
		topic: name,
		ch:    make(chan event.ReadySignal, len(rt.latched)+readyQueueLen),
		done:  make(chan struct{}),
	}
	for _, sig := range rt.latched {
		s.ch <- sig
		metrics.IncReadyDelivered(name, true)
	}
	rt.subs = append(rt.subs, s)
	return s, nil
}

// ResetReady forgets the latched signals of a ready topic.
func (b *Bus) ResetReady(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rt := b.ready[name]; rt != nil {
		rt.latched = nil
	}
}

func (b *Bus) readyTopic(name string) *readyTopic {
	rt := b.ready[name]
	if rt == nil {
		rt = &readyTopic{}
		b.ready[name] = rt
	}
	return rt
}

func (b *Bus) unsubscribeReady(s *ReadySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rt := b.ready[s.topic]
	if rt == nil {
		return
	}
	out := make([]*ReadySubscription, 0, len(rt.subs))
	for _, c := range rt.subs {
		if c != s {
			out = append(out, c)
		}
	}
	rt.subs = out
}

func (s *ReadySubscription) deliver(ctx context.Context, sig event.ReadySignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.ch <- sig:
		metrics.IncReadyDelivered(s.topic, false)
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		metrics.IncBusDropReason(s.topic, dropReason(ctx.Err()))
		return fmt.Errorf("publish ready topic %q: %w", s.topic, ctx.Err())
	}
}
