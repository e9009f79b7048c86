// Package state defines the durable journal of stack bring-ups and the
// service state transitions observed during them.
package state

import (
	"context"
	"time"
)

// Run outcomes recorded in the journal.
const (
	OutcomeRunning   = "running"
	OutcomeStopped   = "stopped"
	OutcomeFailed    = "failed"
	OutcomeUnhealthy = "unhealthy"
)

// Run is one stack bring-up attempt.
type Run struct {
	ID         string
	Stack      string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string
}

// Transition is one observed service state change within a run.
type Transition struct {
	ID         int64
	RunID      string
	Service    string
	From       string
	To         string
	Detail     string
	OccurredAt time.Time
}

// Store persists bring-up runs and transitions.
type Store interface {
	RecordRunStart(ctx context.Context, run Run) error
	RecordRunFinish(ctx context.Context, runID, outcome string, finishedAt time.Time) error
	RecordTransition(ctx context.Context, tr Transition) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	ListTransitions(ctx context.Context, runID string, limit int) ([]Transition, error)
}
