// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/evsync/internal/persistence/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	topology TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	nodes INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	started_at_ms INTEGER NOT NULL,
	released_at_ms INTEGER NOT NULL DEFAULT 0,
	ended_at_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at_ms);
`

// SqliteStore implements Store using SQLite.
type SqliteStore struct {
	DB *sql.DB
}

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(context.Background(), db, schemaVersion, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session store: migration failed: %w", err)
	}
	return &SqliteStore{DB: db}, nil
}

func (s *SqliteStore) Put(ctx context.Context, r Record) error {
	query := `
	INSERT INTO sessions (id, topology, attempt, nodes, outcome, error, started_at_ms, released_at_ms, ended_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		topology = excluded.topology,
		attempt = excluded.attempt,
		nodes = excluded.nodes,
		outcome = excluded.outcome,
		error = excluded.error,
		started_at_ms = excluded.started_at_ms,
		released_at_ms = excluded.released_at_ms,
		ended_at_ms = excluded.ended_at_ms
	`
	_, err := s.DB.ExecContext(ctx, query,
		r.ID, r.Topology, r.Attempt, r.Nodes, string(r.Outcome), r.Error,
		toMillis(r.StartedAt), toMillis(r.ReleasedAt), toMillis(r.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("session store: put %s: %w", r.ID, err)
	}
	return nil
}

const selectColumns = `id, topology, attempt, nodes, outcome, error, started_at_ms, released_at_ms, ended_at_ms`

func (s *SqliteStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM sessions WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("session store: get %s: %w", id, err)
	}
	return r, nil
}

func (s *SqliteStore) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT ` + selectColumns + ` FROM sessions ORDER BY started_at_ms DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("session store: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r                        Record
		outcome                  string
		started, released, ended int64
	)
	if err := sc.Scan(&r.ID, &r.Topology, &r.Attempt, &r.Nodes, &outcome, &r.Error, &started, &released, &ended); err != nil {
		return Record{}, err
	}
	r.Outcome = Outcome(outcome)
	r.StartedAt = fromMillis(started)
	r.ReleasedAt = fromMillis(released)
	r.EndedAt = fromMillis(ended)
	return r, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
