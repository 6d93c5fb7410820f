package workflow

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("workflow: not found")
	// ErrConfigNotFound distinguishes a missing script from other lookups:
	// the caller surfaces a terminal response rather than a server error.
	ErrConfigNotFound = errors.New("workflow: config not found")
)

// Store is the persistence contract for workflow snapshots and runs.
//
// Implementations must uphold:
//   - Config rows are immutable once inserted.
//   - StepRun run_order is strictly increasing and gapless per run; a turn's
//     entries commit transactionally with the session mutation.
type Store interface {
	// GetConfig resolves a tag to its active snapshot version.
	GetConfig(ctx context.Context, tag string) (Config, error)
	GetConfigByID(ctx context.Context, id string) (Config, error)
	PutConfig(ctx context.Context, cfg Config) (Config, error)

	CreateRun(ctx context.Context, run Run) (Run, error)
	GetRun(ctx context.Context, id string) (Run, error)
	FindActiveRunByLeg(ctx context.Context, legID string) (Run, bool, error)

	ListStepRuns(ctx context.Context, runID string) ([]StepRun, error)

	// CommitTurn appends the turn's step entries and persists the run's
	// session, outputs, queue pointer and status in one transaction.
	CommitTurn(ctx context.Context, c TurnCommit) error
}

// TurnCommit is the atomic write at the end of an engine turn.
type TurnCommit struct {
	RunID string

	// Steps are appended in order; the store assigns run_order.
	Steps []StepRun

	SessionBlob    []byte
	OutputsJSON    string
	CurrentQueueID string
	Status         RunStatus
}
