package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"callflow/pkg/utils"

	"github.com/google/uuid"
)

// PostgresStore persists workflow snapshots, runs and the step log.
//
// Assumed schema:
//   - workflow_configs (unique (tag, version); at most one active row per tag
//     via a partial unique index UNIQUE (tag) WHERE active)
//   - workflow_runs
//   - workflow_step_runs (unique (run_id, run_order))
//
// CommitTurn takes FOR UPDATE on the run row so run_order assignment stays
// gapless under concurrent webhook deliveries; the unique index is the
// backstop.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetConfig(ctx context.Context, tag string) (Config, error) {
	row := s.db.QueryRowContext(ctx, selectConfig+` WHERE tag = $1 AND active`, tag)
	return scanConfig(row)
}

func (s *PostgresStore) GetConfigByID(ctx context.Context, id string) (Config, error) {
	row := s.db.QueryRowContext(ctx, selectConfig+` WHERE id = $1`, id)
	return scanConfig(row)
}

// PutConfig inserts a new immutable snapshot version. When cfg.Active, the
// prior active version of the same tag is deactivated in the same
// transaction; existing runs keep the snapshot they bound at creation.
func (s *PostgresStore) PutConfig(ctx context.Context, cfg Config) (Config, error) {
	if err := cfg.Tree.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	cfg.CreatedAt = time.Now().UTC()

	treeJSON, err := json.Marshal(cfg.Tree)
	if err != nil {
		return Config{}, err
	}
	exitJSON, err := json.Marshal(cfg.DefaultExit)
	if err != nil {
		return Config{}, err
	}

	err = utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Row locks cannot serialize the first publish of a tag (no rows
		// exist yet), and FOR UPDATE cannot ride on an aggregate. A
		// transaction-scoped advisory lock on the tag covers both the
		// version computation and the active-pointer swap.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, cfg.Tag); err != nil {
			return err
		}
		if cfg.Version == 0 {
			const q = `SELECT COALESCE(MAX(version), 0) + 1 FROM workflow_configs WHERE tag = $1`
			if err := tx.QueryRowContext(ctx, q, cfg.Tag).Scan(&cfg.Version); err != nil {
				return err
			}
		}
		if cfg.Active {
			if _, err := tx.ExecContext(ctx,
				`UPDATE workflow_configs SET active = false WHERE tag = $1 AND active`, cfg.Tag,
			); err != nil {
				return err
			}
		}
		const q = `
INSERT INTO workflow_configs (id, tag, version, active, tree, default_exit, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
		_, err := tx.ExecContext(ctx, q, cfg.ID, cfg.Tag, cfg.Version, cfg.Active, treeJSON, exitJSON, cfg.CreatedAt)
		return err
	})
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run Run) (Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = RunStatusActive
	}
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now

	const q = `
INSERT INTO workflow_runs (id, leg_id, config_id, session_blob, outputs_json, current_queue_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
`
	_, err := s.db.ExecContext(ctx, q,
		run.ID, run.LegID, run.ConfigID, run.SessionBlob, run.OutputsJSON, run.CurrentQueueID,
		run.Status, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, selectRun+` WHERE id = $1`, id)
	return scanRun(row)
}

func (s *PostgresStore) FindActiveRunByLeg(ctx context.Context, legID string) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx, selectRun+` WHERE leg_id = $1 AND status = 'active'`, legID)
	run, err := scanRun(row)
	if errors.Is(err, ErrNotFound) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

func (s *PostgresStore) ListStepRuns(ctx context.Context, runID string) ([]StepRun, error) {
	const q = selectStepRun + ` WHERE run_id = $1 ORDER BY run_order`
	rows, err := s.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepRun
	for rows.Next() {
		sr, err := scanStepRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CommitTurn(ctx context.Context, c TurnCommit) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var order int
		const lock = `
SELECT COALESCE((SELECT MAX(run_order) FROM workflow_step_runs WHERE run_id = r.id), 0)
FROM workflow_runs r
WHERE r.id = $1
FOR UPDATE OF r
`
		if err := tx.QueryRowContext(ctx, lock, c.RunID).Scan(&order); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		const ins = `
INSERT INTO workflow_step_runs
  (id, run_id, run_order, branch, step_name, status, input_json, result_json,
   error, retry_count, retryable, next_branch, next_index, fingerprint, turn_output_json, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`
		now := time.Now().UTC()
		for _, sr := range c.Steps {
			order++
			st := sr.State
			if _, err := tx.ExecContext(ctx, ins,
				uuid.NewString(), c.RunID, order, st.Branch, st.StepName, st.Status,
				st.InputJSON, st.ResultJSON, st.Error, st.RetryCount, st.Retryable,
				st.NextBranch, st.NextIndex, st.Fingerprint, st.TurnOutputJSON, now,
			); err != nil {
				return err
			}
		}

		const upd = `
UPDATE workflow_runs
SET session_blob = $1, outputs_json = $2, current_queue_id = NULLIF($3, ''), status = $4, updated_at = $5
WHERE id = $6
`
		_, err := tx.ExecContext(ctx, upd,
			c.SessionBlob, c.OutputsJSON, c.CurrentQueueID, c.Status, now, c.RunID)
		return err
	})
}

const selectConfig = `
SELECT id, tag, version, active, tree, default_exit, created_at
FROM workflow_configs`

const selectRun = `
SELECT id, leg_id, config_id, session_blob, COALESCE(outputs_json, '{}'), COALESCE(current_queue_id, ''), status, created_at, updated_at
FROM workflow_runs`

const selectStepRun = `
SELECT id, run_id, run_order, branch, step_name, status, input_json, result_json,
       error, retry_count, retryable, next_branch, next_index, fingerprint, turn_output_json, created_at
FROM workflow_step_runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (Config, error) {
	var c Config
	var treeJSON, exitJSON []byte
	if err := row.Scan(&c.ID, &c.Tag, &c.Version, &c.Active, &treeJSON, &exitJSON, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Config{}, ErrConfigNotFound
		}
		return Config{}, err
	}
	if err := json.Unmarshal(treeJSON, &c.Tree); err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(exitJSON, &c.DefaultExit); err != nil {
		return Config{}, err
	}
	return c, nil
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	if err := row.Scan(
		&r.ID, &r.LegID, &r.ConfigID, &r.SessionBlob, &r.OutputsJSON, &r.CurrentQueueID,
		&r.Status, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	return r, nil
}

func scanStepRun(row rowScanner) (StepRun, error) {
	var sr StepRun
	st := &sr.State
	if err := row.Scan(
		&sr.ID, &sr.RunID, &sr.RunOrder, &st.Branch, &st.StepName, &st.Status,
		&st.InputJSON, &st.ResultJSON, &st.Error, &st.RetryCount, &st.Retryable,
		&st.NextBranch, &st.NextIndex, &st.Fingerprint, &st.TurnOutputJSON, &sr.CreatedAt,
	); err != nil {
		return StepRun{}, err
	}
	return sr, nil
}
