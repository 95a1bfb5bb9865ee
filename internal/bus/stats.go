// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import "sort"

// SubscriberStats describes one subscription at a point in time.
type SubscriberStats struct {
	Name      string `json:"name"`
	Policy    Policy `json:"policy"`
	Capacity  int    `json:"capacity"`
	Depth     int    `json:"depth"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Stats describes a batch topic.
type Stats struct {
	Topic       string            `json:"topic"`
	Published   uint64            `json:"published"`
	Subscribers []SubscriberStats `json:"subscribers"`
}

// Stats returns counters for topic. Unknown topics report zero values.
func (b *Bus) Stats(name string) Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{Topic: name}
	t := b.topics[name]
	if t == nil {
		return st
	}
	st.Published = t.published
	st.Subscribers = make([]SubscriberStats, 0, len(t.subs))
	for _, s := range t.subs {
		st.Subscribers = append(st.Subscribers, SubscriberStats{
			Name:      s.name,
			Policy:    s.policy,
			Capacity:  cap(s.ch),
			Depth:     len(s.ch),
			Delivered: s.delivered.Load(),
			Dropped:   s.dropped.Load(),
		})
	}
	return st
}

// Topics returns the names of all known batch topics, sorted.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.topics))
	for name := range b.topics {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
