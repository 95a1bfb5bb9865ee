// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"sort"
	"sync"
)

// DefaultMemoryLimit bounds the in-memory history.
const DefaultMemoryLimit = 256

// MemoryStore keeps the most recent records in memory. Not durable.
type MemoryStore struct {
	mu      sync.RWMutex
	limit   int
	records map[string]Record
	order   []string
}

func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &MemoryStore{limit: limit, records: make(map[string]Record)}
}

func (m *MemoryStore) Put(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; !ok {
		m.order = append(m.order, r.ID)
	}
	m.records[r.ID] = r
	for len(m.order) > m.limit {
		delete(m.records, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func sortNewestFirst(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].StartedAt.Equal(rs[j].StartedAt) {
			return rs[i].ID > rs[j].ID
		}
		return rs[i].StartedAt.After(rs[j].StartedAt)
	})
}
