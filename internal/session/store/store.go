// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package store keeps the history of capture sessions.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Outcome is the terminal (or current) result of a session.
type Outcome string

const (
	OutcomeRunning          Outcome = "running"
	OutcomeCompleted        Outcome = "completed"
	OutcomeHandshakeTimeout Outcome = "handshake_timeout"
	OutcomeArmFailed        Outcome = "arm_failed"
	OutcomeAborted          Outcome = "aborted"
	OutcomeBackpressure     Outcome = "backpressure"
	OutcomeFailed           Outcome = "failed"
)

// Record describes one capture attempt.
type Record struct {
	ID         string    `json:"id"`
	Topology   string    `json:"topology"`
	Attempt    int       `json:"attempt"`
	Nodes      int       `json:"nodes"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	ReleasedAt time.Time `json:"released_at,omitempty"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
}

// Store persists session records. Put inserts or replaces by ID.
type Store interface {
	Put(ctx context.Context, r Record) error
	// Get returns ErrNotFound for unknown IDs.
	Get(ctx context.Context, id string) (Record, error)
	// List returns the newest records first; limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Backends accepted by Open.
const (
	BackendMemory = "memory"
	BackendSqlite = "sqlite"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Config selects and configures a history backend.
type Config struct {
	// Backend defaults to sqlite when Path is set and memory otherwise.
	Backend string
	// Path is the SQLite file or the Badger directory.
	Path  string
	Redis RedisConfig
}

// Open creates the Store selected by cfg.
func Open(cfg Config) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendMemory
		if cfg.Path != "" {
			backend = BackendSqlite
		}
	}

	switch backend {
	case BackendMemory:
		return NewMemoryStore(DefaultMemoryLimit), nil
	case BackendSqlite:
		return NewSqliteStore(cfg.Path)
	case BackendBadger:
		return OpenBadgerStore(cfg.Path)
	case BackendRedis:
		return NewRedisStore(context.Background(), cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}
