// Package sqlite provides SQLite-backed persistence for the bring-up journal.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/devstack/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/devstack/internal/state"
	"github.com/louisbranch/devstack/internal/state/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed journal persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a journal store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordRunStart persists the beginning of one bring-up run.
func (s *Store) RecordRunStart(ctx context.Context, run state.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	run.ID = strings.TrimSpace(run.ID)
	run.Stack = strings.TrimSpace(run.Stack)
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.Stack == "" {
		return fmt.Errorf("stack name is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO runs (id, stack, started_at, outcome) VALUES (?, ?, ?, ?)
`,
		run.ID,
		run.Stack,
		run.StartedAt.UTC().UnixMilli(),
		run.Outcome,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordRunFinish stamps a run's outcome and finish time.
func (s *Store) RecordRunFinish(ctx context.Context, runID, outcome string, finishedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	runID = strings.TrimSpace(runID)
	outcome = strings.TrimSpace(outcome)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if outcome == "" {
		return fmt.Errorf("outcome is required")
	}
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE runs SET outcome = ?, finished_at = ? WHERE id = ?
`,
		outcome,
		finishedAt.UTC().UnixMilli(),
		runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// RecordTransition persists one observed service state change.
func (s *Store) RecordTransition(ctx context.Context, tr state.Transition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tr.RunID = strings.TrimSpace(tr.RunID)
	tr.Service = strings.TrimSpace(tr.Service)
	tr.From = strings.TrimSpace(tr.From)
	tr.To = strings.TrimSpace(tr.To)
	if tr.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if tr.Service == "" {
		return fmt.Errorf("service is required")
	}
	if tr.To == "" {
		return fmt.Errorf("target state is required")
	}
	if tr.OccurredAt.IsZero() {
		tr.OccurredAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO transitions (run_id, service, from_state, to_state, detail, occurred_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		tr.RunID,
		tr.Service,
		tr.From,
		tr.To,
		tr.Detail,
		tr.OccurredAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]state.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, stack, started_at, COALESCE(finished_at, 0), outcome
FROM runs ORDER BY started_at DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []state.Run
	for rows.Next() {
		var run state.Run
		var startedAt, finishedAt int64
		if err := rows.Scan(&run.ID, &run.Stack, &startedAt, &finishedAt, &run.Outcome); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = time.UnixMilli(startedAt).UTC()
		if finishedAt > 0 {
			run.FinishedAt = time.UnixMilli(finishedAt).UTC()
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ListTransitions returns a run's transitions, oldest first.
func (s *Store) ListTransitions(ctx context.Context, runID string, limit int) ([]state.Transition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, run_id, service, from_state, to_state, detail, occurred_at
FROM transitions WHERE run_id = ? ORDER BY occurred_at ASC, id ASC LIMIT ?
`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []state.Transition
	for rows.Next() {
		var tr state.Transition
		var occurredAt int64
		if err := rows.Scan(&tr.ID, &tr.RunID, &tr.Service, &tr.From, &tr.To, &tr.Detail, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.OccurredAt = time.UnixMilli(occurredAt).UTC()
		transitions = append(transitions, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return transitions, nil
}
