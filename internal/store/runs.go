package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Run statuses.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// ImportRun is one row of import history.
type ImportRun struct {
	ID        uuid.UUID
	Source    string
	Trigger   string
	Status    string
	Created   int
	Updated   int
	Total     int
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// RecordRun appends a finished run to the history.
func (s *Store) RecordRun(ctx context.Context, run ImportRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_runs
			(id, source, trigger, status, created, updated, total, error, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		toPgUUID(run.ID), run.Source, run.Trigger, run.Status,
		run.Created, run.Updated, run.Total, run.Error,
		run.StartedAt, run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record import run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]ImportRun, error) {
	if limit < 1 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, source, trigger, status, created, updated, total, error, started_at, duration_ms
		FROM import_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	defer rows.Close()

	var runs []ImportRun
	for rows.Next() {
		var (
			run        ImportRun
			id         pgtype.UUID
			durationMS int64
		)
		if err := rows.Scan(&id, &run.Source, &run.Trigger, &run.Status,
			&run.Created, &run.Updated, &run.Total, &run.Error,
			&run.StartedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan import run: %w", err)
		}
		run.ID = fromPgUUID(id)
		run.StartedAt = run.StartedAt.UTC()
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	return runs, nil
}
