package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"callflow/internal/exitpath"
	"callflow/internal/session"
	"callflow/internal/vendorgw"
)

// maxStepsPerTurn bounds the synchronous auto-advance loop so a
// misconfigured tree cannot spin a webhook request forever.
const maxStepsPerTurn = 128

// Engine interprets a workflow run one turn at a time. A turn starts at an
// inbound delivery, executes steps until one suspends or exits, and commits
// the whole step batch with the mutated session in one transaction.
type Engine struct {
	store    Store
	cipher   session.Cipher
	registry Registry
	vendor   *vendorgw.Gateway
	log      *slog.Logger

	defaultMaxRetries int
}

func NewEngine(store Store, cipher session.Cipher, registry Registry, vendor *vendorgw.Gateway, log *slog.Logger, defaultMaxRetries int) *Engine {
	if defaultMaxRetries <= 0 {
		defaultMaxRetries = 2
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:             store,
		cipher:            cipher,
		registry:          registry,
		vendor:            vendor,
		log:               log,
		defaultMaxRetries: defaultMaxRetries,
	}
}

// TurnInput is one inbound delivery addressed to a run.
type TurnInput struct {
	RunID string

	// Input is the caller's raw input. Empty on the opening turn.
	Input string

	// Fingerprint identifies the delivery. A redelivery with the same
	// fingerprint as the run's last step entry replays the recorded turn
	// output instead of executing anything.
	Fingerprint string
}

// TurnResult is what a turn hands back to the transport layer.
type TurnResult struct {
	Prompts []string           `json:"prompts,omitempty"`
	Gather  *GatherSpec        `json:"gather,omitempty"`
	Exit    *exitpath.ExitPath `json:"exit,omitempty"`

	// Finished is true once the run reached an exit path.
	Finished bool `json:"finished"`

	// Session and CurrentQueueID reflect post-turn run state. They are not
	// part of the replayed turn output.
	Session        session.Map `json:"-"`
	CurrentQueueID string      `json:"-"`
}

// StartRun binds a new run to the active snapshot of the tagged workflow.
// The seed session is sealed before it touches storage.
func (e *Engine) StartRun(ctx context.Context, legID, tag string, seed session.Map, queueID string) (Run, error) {
	cfg, err := e.store.GetConfig(ctx, tag)
	if err != nil {
		return Run{}, err
	}
	blob, err := session.Seal(e.cipher, seed)
	if err != nil {
		return Run{}, err
	}
	return e.store.CreateRun(ctx, Run{
		LegID:          legID,
		ConfigID:       cfg.ID,
		SessionBlob:    blob,
		OutputsJSON:    "{}",
		CurrentQueueID: queueID,
		Status:         RunStatusActive,
	})
}

// ExecuteTurn advances a run by one turn.
func (e *Engine) ExecuteTurn(ctx context.Context, in TurnInput) (TurnResult, error) {
	run, err := e.store.GetRun(ctx, in.RunID)
	if err != nil {
		return TurnResult{}, err
	}
	stepLog, err := e.store.ListStepRuns(ctx, run.ID)
	if err != nil {
		return TurnResult{}, err
	}

	if res, ok := e.replay(run, stepLog, in); ok {
		return res, nil
	}
	if run.Status == RunStatusFinished {
		return TurnResult{}, fmt.Errorf("workflow: run %s already finished", run.ID)
	}

	cfg, err := e.store.GetConfigByID(ctx, run.ConfigID)
	if err != nil {
		return TurnResult{}, err
	}
	sess, err := session.Open(e.cipher, run.SessionBlob)
	if err != nil {
		return TurnResult{}, err
	}
	pos, err := derivePosition(cfg.Tree, stepLog)
	if err != nil {
		return TurnResult{}, err
	}

	t := &turn{
		engine:  e,
		cfg:     cfg,
		run:     run,
		sess:    sess,
		outputs: run.OutputsJSON,
		input:   in.Input,
		pos:     pos,
	}
	result := t.execute(ctx)

	if err := t.commit(ctx, in.Fingerprint, result); err != nil {
		return TurnResult{}, err
	}
	result.Session = t.sess
	result.CurrentQueueID = run.CurrentQueueID
	return result, nil
}

// replay matches the delivery fingerprint against the last committed step
// entry and re-emits the recorded turn output on a hit.
func (e *Engine) replay(run Run, stepLog []StepRun, in TurnInput) (TurnResult, bool) {
	if in.Fingerprint == "" || len(stepLog) == 0 {
		return TurnResult{}, false
	}
	last := stepLog[len(stepLog)-1]
	if last.State.Fingerprint != in.Fingerprint || last.State.TurnOutputJSON == "" {
		return TurnResult{}, false
	}

	var res TurnResult
	if err := json.Unmarshal([]byte(last.State.TurnOutputJSON), &res); err != nil {
		e.log.Warn("turn replay decode failed, re-executing",
			slog.String("run_id", run.ID), slog.String("error", err.Error()))
		return TurnResult{}, false
	}
	e.log.Info("turn replayed from step log",
		slog.String("run_id", run.ID), slog.String("fingerprint", in.Fingerprint))
	res.CurrentQueueID = run.CurrentQueueID
	return res, true
}

// position is the resume pointer reconstructed from the step log.
type position struct {
	Branch     string
	Index      int
	Resuming   bool
	RetryCount int
}

func derivePosition(tree StepTree, stepLog []StepRun) (position, error) {
	if len(stepLog) == 0 {
		root, ok := tree.Root()
		if !ok {
			return position{}, errors.New("workflow: tree has no root branch")
		}
		return position{Branch: root.Name, Index: 0}, nil
	}

	last := stepLog[len(stepLog)-1].State
	switch last.Status {
	case StepStatusCompleted:
		return position{Branch: last.NextBranch, Index: last.NextIndex}, nil
	case StepStatusAwaitingInput:
		idx, err := stepIndex(tree, last.Branch, last.StepName)
		if err != nil {
			return position{}, err
		}
		return position{Branch: last.Branch, Index: idx, Resuming: true}, nil
	case StepStatusFailed:
		if !last.Retryable {
			return position{}, fmt.Errorf("workflow: run resumed after fatal failure at %s/%s", last.Branch, last.StepName)
		}
		idx, err := stepIndex(tree, last.Branch, last.StepName)
		if err != nil {
			return position{}, err
		}
		return position{Branch: last.Branch, Index: idx, Resuming: true, RetryCount: last.RetryCount}, nil
	default:
		return position{}, fmt.Errorf("workflow: unknown step status %q", last.Status)
	}
}

func stepIndex(tree StepTree, branch, stepName string) (int, error) {
	b, ok := tree.Branch(branch)
	if !ok {
		return 0, fmt.Errorf("workflow: branch %q not in tree", branch)
	}
	for i, s := range b.Steps {
		if s.Name == stepName {
			return i, nil
		}
	}
	return 0, fmt.Errorf("workflow: step %q not in branch %q", stepName, branch)
}

// turn carries the mutable state of one in-flight turn.
type turn struct {
	engine  *Engine
	cfg     Config
	run     Run
	sess    session.Map
	outputs string
	input   string
	pos     position

	steps    []StepRun
	finished bool
}

func (t *turn) execute(ctx context.Context) TurnResult {
	var result TurnResult
	resuming := t.pos.Resuming
	retry := t.pos.RetryCount

	for i := 0; i < maxStepsPerTurn; i++ {
		branch, ok := t.cfg.Tree.Branch(t.pos.Branch)
		if !ok {
			return t.fail(&result, nil, fmt.Sprintf("branch %q not in tree", t.pos.Branch))
		}
		if t.pos.Index >= len(branch.Steps) {
			// Branch exhausted without an explicit exit step.
			return t.exit(&result, t.cfg.DefaultExit, branch.Name, "", "")
		}
		step := branch.Steps[t.pos.Index]

		handler, err := t.engine.registry.Build(step)
		if err != nil {
			return t.fail(&result, &step, err.Error())
		}

		ec := &ExecContext{
			Session:     t.sess,
			OutputsJSON: t.outputs,
			Input:       t.input,
			Resuming:    resuming,
			Vendor:      t.engine.vendor,
		}
		out, err := handler.Execute(ctx, ec)

		if err != nil {
			var rerr *RetryableError
			if errors.As(err, &rerr) {
				retry++
				if retry > t.maxRetries(step) {
					t.appendStep(StepState{
						Branch: t.pos.Branch, StepName: step.Name,
						Status: StepStatusFailed, Error: rerr.Message,
						RetryCount: retry, Retryable: false,
						InputJSON: inputJSON(resuming, t.input),
					})
					return t.exit(&result, t.fallback(step), "", "", "")
				}
				t.appendStep(StepState{
					Branch: t.pos.Branch, StepName: step.Name,
					Status: StepStatusFailed, Error: rerr.Message,
					RetryCount: retry, Retryable: true,
					InputJSON: inputJSON(resuming, t.input),
				})
				reprompt := repromptSpec(rerr)
				result.Prompts = append(result.Prompts, reprompt.Prompt)
				result.Gather = reprompt
				return result
			}

			t.appendStep(StepState{
				Branch: t.pos.Branch, StepName: step.Name,
				Status: StepStatusFailed, Error: err.Error(),
				RetryCount: retry, Retryable: false,
				InputJSON: inputJSON(resuming, t.input),
			})
			t.engine.log.Error("step failed fatally",
				slog.String("run_id", t.run.ID),
				slog.String("branch", t.pos.Branch),
				slog.String("step", step.Name),
				slog.String("error", err.Error()))
			return t.exit(&result, t.fallback(step), "", "", "")
		}

		result.Prompts = append(result.Prompts, out.Prompts...)
		inJSON := inputJSON(resuming, t.input)

		switch out.Kind {
		case OutcomeSuspend:
			t.appendStep(StepState{
				Branch: t.pos.Branch, StepName: step.Name,
				Status: StepStatusAwaitingInput,
			})
			result.Gather = out.Gather
			return result

		case OutcomeExit:
			return t.exit(&result, *out.Exit, t.pos.Branch, step.Name, out.ResultJSON)

		case OutcomeJump:
			if _, ok := t.cfg.Tree.Branch(out.JumpTo); !ok {
				return t.fail(&result, &step, fmt.Sprintf("jump target %q not in tree", out.JumpTo))
			}
			t.complete(step, inJSON, out.ResultJSON, out.JumpTo, 0)

		case OutcomeAdvance:
			t.complete(step, inJSON, out.ResultJSON, t.pos.Branch, t.pos.Index+1)

		default:
			return t.fail(&result, &step, fmt.Sprintf("handler returned unknown outcome %q", out.Kind))
		}

		// Input is consumed by the resumed step only.
		resuming = false
		t.input = ""
		retry = 0
	}

	return t.fail(&result, nil, "step budget exceeded in a single turn")
}

func (t *turn) complete(step Step, inJSON, resultJSON, nextBranch string, nextIndex int) {
	t.appendStep(StepState{
		Branch: t.pos.Branch, StepName: step.Name,
		Status:     StepStatusCompleted,
		InputJSON:  inJSON,
		ResultJSON: resultJSON,
		NextBranch: nextBranch,
		NextIndex:  nextIndex,
	})
	t.outputs = appendOutput(t.outputs, t.pos.Branch, step.Name, inJSON, resultJSON)
	t.pos.Branch = nextBranch
	t.pos.Index = nextIndex
}

// exit finalizes the turn with a resolved exit path. When the exit came from
// an explicit exit step, a completed entry is logged for it first.
func (t *turn) exit(result *TurnResult, e exitpath.ExitPath, branch, stepName, resultJSON string) TurnResult {
	if stepName != "" {
		t.appendStep(StepState{
			Branch: branch, StepName: stepName,
			Status:     StepStatusCompleted,
			ResultJSON: resultJSON,
			NextBranch: branch,
		})
		t.outputs = appendOutput(t.outputs, branch, stepName, "", resultJSON)
	}
	if e.Message != "" {
		result.Prompts = append(result.Prompts, e.Message)
	}
	result.Exit = &e
	result.Finished = true
	t.finished = true
	return *result
}

// fail logs a configuration-class failure and routes to the default exit.
func (t *turn) fail(result *TurnResult, step *Step, msg string) TurnResult {
	state := StepState{Branch: t.pos.Branch, Status: StepStatusFailed, Error: msg}
	if step != nil {
		state.StepName = step.Name
	}
	t.appendStep(state)
	t.engine.log.Error("turn aborted",
		slog.String("run_id", t.run.ID),
		slog.String("branch", t.pos.Branch),
		slog.String("error", msg))
	fb := t.cfg.DefaultExit
	if step != nil {
		fb = t.fallback(*step)
	}
	return t.exit(result, fb, "", "", "")
}

func (t *turn) fallback(step Step) exitpath.ExitPath {
	if step.Fallback != nil {
		return *step.Fallback
	}
	return t.cfg.DefaultExit
}

func (t *turn) maxRetries(step Step) int {
	if step.MaxRetries > 0 {
		return step.MaxRetries
	}
	return t.engine.defaultMaxRetries
}

func (t *turn) appendStep(s StepState) {
	t.steps = append(t.steps, StepRun{RunID: t.run.ID, State: s})
}

// commit stamps the fingerprint and recorded turn output on the turn's last
// step entry and writes the whole batch atomically.
func (t *turn) commit(ctx context.Context, fingerprint string, result TurnResult) error {
	if len(t.steps) > 0 {
		last := &t.steps[len(t.steps)-1]
		last.State.Fingerprint = fingerprint
		if out, err := json.Marshal(result); err == nil {
			last.State.TurnOutputJSON = string(out)
		}
	}

	blob, err := session.Seal(t.engine.cipher, t.sess)
	if err != nil {
		return err
	}
	status := RunStatusActive
	if t.finished {
		status = RunStatusFinished
	}
	return t.engine.store.CommitTurn(ctx, TurnCommit{
		RunID:          t.run.ID,
		Steps:          t.steps,
		SessionBlob:    blob,
		OutputsJSON:    t.outputs,
		CurrentQueueID: t.run.CurrentQueueID,
		Status:         status,
	})
}

// repromptSpec rebuilds the gather for a retry: the step's own spec with the
// error message as preamble, so the original question and digit count
// survive the reprompt. Steps without a gather of their own reprompt with
// the error message alone.
func repromptSpec(rerr *RetryableError) *GatherSpec {
	if rerr.Reprompt == nil {
		return &GatherSpec{Prompt: rerr.Message}
	}
	prompt := rerr.Reprompt.Prompt
	if rerr.Message != "" {
		prompt = strings.TrimSpace(rerr.Message + " " + prompt)
	}
	return &GatherSpec{Prompt: prompt, NumDigits: rerr.Reprompt.NumDigits}
}

func inputJSON(resuming bool, input string) string {
	if !resuming || input == "" {
		return ""
	}
	return strconv.Quote(input)
}
