// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package bus is the in-process transport shared by all sensor nodes of a
// process. Batches travel by pointer; each subscription owns a bounded
// queue with an explicit back-pressure policy. Ready signals use separate
// latched topics with guaranteed delivery.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/evsync/internal/event"
	xglog "github.com/ManuGH/evsync/internal/log"
	"github.com/ManuGH/evsync/internal/metrics"
)

// Options configures a Bus.
type Options struct {
	// Capacity and Policy are used by subscriptions that leave them unset.
	Capacity int
	Policy   Policy
	// DropWarnEvery limits drop warnings per subscription; zero means one
	// per second.
	DropWarnEvery time.Duration
	Logger        *zerolog.Logger
}

// SubscribeOptions configures one batch subscription.
type SubscribeOptions struct {
	Capacity int
	Policy   Policy
	// Name identifies the consumer in stats and logs.
	Name string
}

// Bus is safe for concurrent use. Publishers on different topics never
// contend on the same subscription.
type Bus struct {
	mu     sync.RWMutex
	closed bool
	topics map[string]*topic
	ready  map[string]*readyTopic

	defaults  SubscribeOptions
	warnEvery time.Duration
	logger    zerolog.Logger
}

type topic struct {
	published uint64
	subs      []*Subscription
}

// New returns an empty bus.
func New(opts Options) *Bus {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	policy := opts.Policy
	if policy == "" {
		policy = PolicyDropOldest
	}
	every := opts.DropWarnEvery
	if every <= 0 {
		every = time.Second
	}
	logger := xglog.WithComponent("bus")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Bus{
		topics:   make(map[string]*topic),
		ready:    make(map[string]*readyTopic),
		defaults:  SubscribeOptions{Capacity: capacity, Policy: policy},
		warnEvery: every,
		logger:    logger,
	}
}

// Subscribe registers a consumer on a batch topic. Batches published before
// the subscription exists are not replayed.
func (b *Bus) Subscribe(name string, opts SubscribeOptions) (*Subscription, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = b.defaults.Capacity
	}
	if opts.Policy == "" {
		opts.Policy = b.defaults.Policy
	}
	if _, err := ParsePolicy(string(opts.Policy)); err != nil {
		return nil, err
	}

	s := &Subscription{
		bus:    b,
		topic:  name,
		name:   opts.Name,
		policy: opts.Policy,
		ch:     make(chan *event.Batch, opts.Capacity),
		done:   make(chan struct{}),
		warn:   rate.NewLimiter(rate.Every(b.warnEvery), 1),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	t := b.topics[name]
	if t == nil {
		t = &topic{}
		b.topics[name] = t
	}
	t.subs = append(t.subs, s)
	return s, nil
}

// Publish hands batch to every subscriber of the topic. The caller gives up
// ownership of batch. Errors from individual subscribers are joined; a
// failing subscriber does not prevent delivery to the others.
func (b *Bus) Publish(ctx context.Context, name string, batch *event.Batch) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	if batch == nil {
		return fmt.Errorf("publish topic %q: nil batch", name)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	t := b.topics[name]
	if t == nil {
		t = &topic{}
		b.topics[name] = t
	}
	t.published++
	subs := append([]*Subscription(nil), t.subs...)
	b.mu.Unlock()

	metrics.IncBusPublished(name)

	var errs []error
	for _, s := range subs {
		if err := s.deliver(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topics[s.topic]
	if t == nil {
		return
	}
	out := t.subs[:0]
	for _, c := range t.subs {
		if c != s {
			out = append(out, c)
		}
	}
	for i := len(out); i < len(t.subs); i++ {
		t.subs[i] = nil
	}
	t.subs = out
}

func (b *Bus) dropped(s *Subscription, reason string, total uint64) {
	metrics.IncBusDropReason(s.topic, reason)
	if !s.warn.Allow() {
		return
	}
	b.logger.Warn().
		Str(xglog.FieldEvent, "bus.drop").
		Str(xglog.FieldTopic, s.topic).
		Str("subscriber", s.name).
		Str("reason", reason).
		Uint64("dropped", total).
		Msg("bus subscriber dropped batch")
}

// Close closes every subscription channel. Later publishes and subscribes
// return ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var subs []*Subscription
	for _, t := range b.topics {
		subs = append(subs, t.subs...)
	}
	var readySubs []*ReadySubscription
	for _, rt := range b.ready {
		readySubs = append(readySubs, rt.subs...)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
	for _, s := range readySubs {
		s.shutdown()
	}
	return nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}
