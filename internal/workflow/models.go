package workflow

import (
	"fmt"
	"time"

	"callflow/internal/exitpath"
)

// StepTree is the declarative conversation script: an ordered set of named
// branches, each an ordered sequence of named, typed steps. The first branch
// is conventionally "root".
type StepTree struct {
	Branches []StepBranch `json:"branches"`
}

type StepBranch struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// Step is one typed node of the script. Config is type-specific and
// interpreted by the registered handler for Type.
type Step struct {
	Name string `json:"name"`
	Type string `json:"type"`

	Config map[string]any `json:"config,omitempty"`

	// MaxRetries bounds reprompts for gather-style steps; 0 uses the engine
	// default.
	MaxRetries int `json:"max_retries,omitempty"`

	// Fallback overrides the workflow default exit path when this step's
	// retries are exhausted or its vendor call fails fatally.
	Fallback *exitpath.ExitPath `json:"fallback,omitempty"`
}

func (t StepTree) Branch(name string) (StepBranch, bool) {
	for _, b := range t.Branches {
		if b.Name == name {
			return b, true
		}
	}
	return StepBranch{}, false
}

func (t StepTree) Root() (StepBranch, bool) {
	if len(t.Branches) == 0 {
		return StepBranch{}, false
	}
	return t.Branches[0], true
}

// Validate checks structural integrity: unique branch and step names and a
// non-empty root.
func (t StepTree) Validate() error {
	if len(t.Branches) == 0 {
		return fmt.Errorf("workflow: tree has no branches")
	}
	seenBranch := map[string]bool{}
	for _, b := range t.Branches {
		if b.Name == "" {
			return fmt.Errorf("workflow: branch with empty name")
		}
		if seenBranch[b.Name] {
			return fmt.Errorf("workflow: duplicate branch %q", b.Name)
		}
		seenBranch[b.Name] = true
		if len(b.Steps) == 0 {
			return fmt.Errorf("workflow: branch %q has no steps", b.Name)
		}
		seenStep := map[string]bool{}
		for _, s := range b.Steps {
			if s.Name == "" || s.Type == "" {
				return fmt.Errorf("workflow: branch %q has step with empty name or type", b.Name)
			}
			if seenStep[s.Name] {
				return fmt.Errorf("workflow: branch %q duplicate step %q", b.Name, s.Name)
			}
			seenStep[s.Name] = true
		}
	}
	return nil
}

// Config is an immutable, versioned StepTree snapshot. A tag addresses a
// workflow; the Active flag marks the version runs bind to. A run never
// re-resolves its snapshot mid-flight.
type Config struct {
	ID      string `json:"id" db:"id"`
	Tag     string `json:"tag" db:"tag"`
	Version int    `json:"version" db:"version"`
	Active  bool   `json:"active" db:"active"`

	Tree StepTree `json:"tree" db:"tree"`

	// DefaultExit is taken when a branch is exhausted or a fatal error has
	// no step-level fallback.
	DefaultExit exitpath.ExitPath `json:"default_exit" db:"default_exit"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Run is a live execution of one Config against one contact leg.
type Run struct {
	ID       string `json:"id" db:"id"`
	LegID    string `json:"leg_id" db:"leg_id"`
	ConfigID string `json:"config_id" db:"config_id"`

	// SessionBlob is the encrypted session JSON for this run.
	SessionBlob []byte `json:"-" db:"session_blob"`

	// OutputsJSON is the accumulated step-outputs document addressed by the
	// template resolver as step[<branch>:<step>].<field>.<path>.
	OutputsJSON string `json:"outputs_json,omitempty" db:"outputs_json"`

	// CurrentQueueID is the run's mutable queue pointer.
	CurrentQueueID string `json:"current_queue_id,omitempty" db:"current_queue_id"`

	Status RunStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type RunStatus string

const (
	RunStatusActive   RunStatus = "active"
	RunStatusFinished RunStatus = "finished"
)

// StepRun is one append-only execution log entry. RunOrder is strictly
// increasing and gapless within a run; the log is the sole source of truth
// for resume position.
type StepRun struct {
	ID       string `json:"id" db:"id"`
	RunID    string `json:"run_id" db:"run_id"`
	RunOrder int    `json:"run_order" db:"run_order"`

	State StepState `json:"state"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// StepState captures exactly what happened at one step execution.
type StepState struct {
	Branch   string `json:"branch" db:"branch"`
	StepName string `json:"step_name" db:"step_name"`

	Status StepStatus `json:"status" db:"status"`

	InputJSON  string `json:"input_json,omitempty" db:"input_json"`
	ResultJSON string `json:"result_json,omitempty" db:"result_json"`

	Error      string `json:"error,omitempty" db:"error"`
	RetryCount int    `json:"retry_count" db:"retry_count"`
	Retryable  bool   `json:"retryable" db:"retryable"`

	// NextBranch/NextIndex record where execution proceeds after a completed
	// step, so resume never re-derives jump targets.
	NextBranch string `json:"next_branch,omitempty" db:"next_branch"`
	NextIndex  int    `json:"next_index" db:"next_index"`

	// Fingerprint identifies the inbound delivery that produced this entry;
	// a redelivered webhook with a matching fingerprint re-emits
	// TurnOutputJSON instead of appending a duplicate entry.
	Fingerprint    string `json:"fingerprint,omitempty" db:"fingerprint"`
	TurnOutputJSON string `json:"turn_output_json,omitempty" db:"turn_output_json"`
}

type StepStatus string

const (
	StepStatusCompleted     StepStatus = "completed"
	StepStatusAwaitingInput StepStatus = "awaiting_input"
	StepStatusFailed        StepStatus = "failed"
)
