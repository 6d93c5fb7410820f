package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"callflow/internal/exitpath"
	"callflow/internal/vendorgw"

	"github.com/tidwall/gjson"
)

// Handler executes one step type. Implementations are pure over ExecContext:
// they mutate the session map, never storage.
type Handler interface {
	Execute(ctx context.Context, ec *ExecContext) (Outcome, error)
}

// ExecContext is the per-execution view a handler sees.
type ExecContext struct {
	Session     map[string]any
	OutputsJSON string

	// Input is the caller's raw input, set only when this step previously
	// suspended and the turn resumes it.
	Input    string
	Resuming bool

	Vendor *vendorgw.Gateway
}

// Outcome is the single result of a step execution.
type Outcome struct {
	Kind OutcomeKind

	// Prompts accumulate into the turn output for both advance and suspend.
	Prompts []string

	// Gather is set for OutcomeSuspend.
	Gather *GatherSpec

	// JumpTo names the target branch for OutcomeJump.
	JumpTo string

	// Exit is set for OutcomeExit.
	Exit *exitpath.ExitPath

	// ResultJSON is recorded in the step log and outputs document.
	ResultJSON string
}

type OutcomeKind string

const (
	// OutcomeAdvance proceeds to the next step in-branch within the turn.
	OutcomeAdvance OutcomeKind = "advance"
	// OutcomeSuspend emits a prompt and ends the turn awaiting input.
	OutcomeSuspend OutcomeKind = "suspend"
	// OutcomeJump resets the pointer to (target branch, index 0).
	OutcomeJump OutcomeKind = "jump"
	// OutcomeExit hands the run to the exit-path dispatcher.
	OutcomeExit OutcomeKind = "exit"
)

// GatherSpec describes the input the vendor should collect.
type GatherSpec struct {
	Prompt    string `json:"prompt"`
	NumDigits int    `json:"num_digits,omitempty"`
}

// RetryableError marks invalid caller input: the engine increments the
// step's retry counter and either reprompts or forces the fallback exit path
// on exhaustion. Reprompt, when set, is the step's own gather spec; the
// engine re-emits it with Message as preamble so the caller hears the error
// followed by the original question and the vendor keeps collecting the same
// number of digits.
type RetryableError struct {
	Message  string
	Reprompt *GatherSpec
}

func (e *RetryableError) Error() string { return "workflow: retryable: " + e.Message }

// Builder constructs a handler from a step definition.
type Builder func(step Step) (Handler, error)

// Registry maps step type identifiers to builders at compile time.
// No reflection, no dynamic loading.
type Registry map[string]Builder

func (r Registry) Build(step Step) (Handler, error) {
	b, ok := r[step.Type]
	if !ok {
		return nil, fmt.Errorf("workflow: unknown step type %q", step.Type)
	}
	return b(step)
}

// DefaultRegistry wires the built-in step types.
func DefaultRegistry() Registry {
	return Registry{
		"play_message":  newPlayMessage,
		"gather_input":  newGatherInput,
		"branch_jump":   newBranchJump,
		"no_op":         newNoOp,
		"set_session":   newSetSession,
		"vendor_lookup": newVendorLookup,
		"exit":          newExitStep,
	}
}

/* ---------- play_message ---------- */

type playMessage struct {
	message string
}

func newPlayMessage(step Step) (Handler, error) {
	msg := cfgString(step, "message")
	if msg == "" {
		return nil, fmt.Errorf("workflow: play_message %q requires message", step.Name)
	}
	return &playMessage{message: msg}, nil
}

func (h *playMessage) Execute(ctx context.Context, ec *ExecContext) (Outcome, error) {
	prompt := ResolveTemplate(h.message, ec.Session, ec.OutputsJSON)
	return Outcome{Kind: OutcomeAdvance, Prompts: []string{prompt}}, nil
}

/* ---------- gather_input ---------- */

type gatherInput struct {
	prompt       string
	sessionKey   string
	validation   string
	errorMessage string
	numDigits    int
	expect       string            // exact-match requirement, templated
	choices      map[string]string // input -> target branch
}

func newGatherInput(step Step) (Handler, error) {
	h := &gatherInput{
		prompt:       cfgString(step, "prompt"),
		sessionKey:   cfgString(step, "session_key"),
		validation:   cfgString(step, "validation"),
		errorMessage: cfgString(step, "error_message"),
		numDigits:    cfgInt(step, "num_digits"),
		expect:       cfgString(step, "expect"),
	}
	if h.prompt == "" {
		return nil, fmt.Errorf("workflow: gather_input %q requires prompt", step.Name)
	}
	if h.validation == "" {
		h.validation = "any"
	}
	if h.errorMessage == "" {
		h.errorMessage = "Sorry, that input is not valid. Try again please."
	}
	if raw, ok := step.Config["choices"].(map[string]any); ok {
		h.choices = map[string]string{}
		for k, v := range raw {
			if s, ok := v.(string); ok {
				h.choices[k] = s
			}
		}
	}
	return h, nil
}

func (h *gatherInput) Execute(ctx context.Context, ec *ExecContext) (Outcome, error) {
	if !ec.Resuming {
		return h.suspend(ec), nil
	}

	input := strings.TrimSpace(ec.Input)
	if !h.valid(input, ec) {
		return Outcome{}, h.retryable(ec)
	}

	if h.sessionKey != "" {
		ec.Session[h.sessionKey] = input
	}
	result, _ := json.Marshal(map[string]string{"value": input})

	if target, ok := h.choices[input]; ok {
		return Outcome{Kind: OutcomeJump, JumpTo: target, ResultJSON: string(result)}, nil
	}
	if len(h.choices) > 0 {
		// Menu input outside the configured choices is invalid even if it
		// passed format validation.
		return Outcome{}, h.retryable(ec)
	}
	return Outcome{Kind: OutcomeAdvance, ResultJSON: string(result)}, nil
}

func (h *gatherInput) retryable(ec *ExecContext) *RetryableError {
	return &RetryableError{
		Message: ResolveTemplate(h.errorMessage, ec.Session, ec.OutputsJSON),
		Reprompt: &GatherSpec{
			Prompt:    ResolveTemplate(h.prompt, ec.Session, ec.OutputsJSON),
			NumDigits: h.numDigits,
		},
	}
}

func (h *gatherInput) suspend(ec *ExecContext) Outcome {
	prompt := ResolveTemplate(h.prompt, ec.Session, ec.OutputsJSON)
	return Outcome{
		Kind:    OutcomeSuspend,
		Prompts: []string{prompt},
		Gather:  &GatherSpec{Prompt: prompt, NumDigits: h.numDigits},
	}
}

func (h *gatherInput) valid(input string, ec *ExecContext) bool {
	if input == "" {
		return false
	}
	if h.expect != "" {
		return input == ResolveTemplate(h.expect, ec.Session, ec.OutputsJSON)
	}
	switch h.validation {
	case "digits":
		return allDigits(input)
	case "zip":
		return len(input) == 5 && allDigits(input)
	case "number":
		n, err := strconv.Atoi(input)
		return err == nil && n >= 0
	case "any":
		return true
	default:
		return false
	}
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

/* ---------- branch_jump ---------- */

type branchJump struct {
	target string
}

func newBranchJump(step Step) (Handler, error) {
	target := cfgString(step, "branch")
	if target == "" {
		return nil, fmt.Errorf("workflow: branch_jump %q requires branch", step.Name)
	}
	return &branchJump{target: target}, nil
}

func (h *branchJump) Execute(ctx context.Context, ec *ExecContext) (Outcome, error) {
	return Outcome{Kind: OutcomeJump, JumpTo: h.target}, nil
}

/* ---------- no_op ---------- */

type noOp struct{}

func newNoOp(step Step) (Handler, error) { return noOp{}, nil }

func (noOp) Execute(ctx context.Context, ec *ExecContext) (Outcome, error) {
	return Outcome{Kind: OutcomeAdvance}, nil
}

/* ---------- set_session ---------- */

type setSession struct {
	key   string
	value string
}

func newSetSession(step Step) (Handler, error) {
	key := cfgString(step, "key")
	if key == "" {
		return nil, fmt.Errorf("workflow: set_session %q requires key", step.Name)
	}
	return &setSession{key: key, value: cfgString(step, "value")}, nil
}

func (h *setSession) Execute(ctx context.Context, ec *ExecContext) (Outcome, error) {
	ec.Session[h.key] = ResolveTemplate(h.value, ec.Session, ec.OutputsJSON)
	return Outcome{Kind: OutcomeAdvance}, nil
}

/* ---------- vendor_lookup ---------- */

type vendorLookup struct {
	requestName  string
	path         string
	payload      map[string]string // templated values
	sessionKey   string
	resultField  string
	onError      string // "retry" or "fatal"
	errorMessage string
}

func newVendorLookup(step Step) (Handler, error) {
	h := &vendorLookup{
		requestName:  cfgString(step, "request_name"),
		path:         cfgString(step, "path"),
		sessionKey:   cfgString(step, "session_key"),
		resultField:  cfgString(step, "result_field"),
		onError:      cfgString(step, "on_error"),
		errorMessage: cfgString(step, "error_message"),
	}
	if h.requestName == "" || h.path == "" {
		return nil, fmt.Errorf("workflow: vendor_lookup %q requires request_name and path", step.Name)
	}
	if h.onError == "" {
		h.onError = "fatal"
	}
	if h.errorMessage == "" {
		h.errorMessage = "Sorry, we are unable to look that up right now. Try again please."
	}
	if raw, ok := step.Config["payload"].(map[string]any); ok {
		h.payload = map[string]string{}
		for k, v := range raw {
			if s, ok := v.(string); ok {
				h.payload[k] = s
			}
		}
	}
	return h, nil
}

func (h *vendorLookup) Execute(ctx context.Context, ec *ExecContext) (Outcome, error) {
	if ec.Vendor == nil {
		return Outcome{}, errors.New("workflow: vendor gateway not configured")
	}

	payload := map[string]string{}
	for k, v := range h.payload {
		payload[k] = ResolveTemplate(v, ec.Session, ec.OutputsJSON)
	}

	raw, err := ec.Vendor.Post(ctx, h.requestName, h.path, payload)
	if err != nil {
		var verr *vendorgw.VendorError
		if errors.As(err, &verr) && h.onError == "retry" {
			return Outcome{}, &RetryableError{Message: h.errorMessage}
		}
		return Outcome{}, err
	}

	if h.sessionKey != "" && h.resultField != "" {
		ec.Session[h.sessionKey] = gjson.GetBytes(raw, h.resultField).String()
	}
	return Outcome{Kind: OutcomeAdvance, ResultJSON: string(raw)}, nil
}

/* ---------- exit ---------- */

type exitStep struct {
	exit exitpath.ExitPath
}

func newExitStep(step Step) (Handler, error) {
	kind := cfgString(step, "exit_kind")
	params, _ := step.Config["exit_params"].(map[string]any)
	e, err := exitpath.Parse(kind, params)
	if err != nil {
		return nil, fmt.Errorf("workflow: exit step %q: %w", step.Name, err)
	}
	return &exitStep{exit: e}, nil
}

func (h *exitStep) Execute(ctx context.Context, ec *ExecContext) (Outcome, error) {
	e := h.exit
	e.Message = ResolveTemplate(e.Message, ec.Session, ec.OutputsJSON)
	return Outcome{Kind: OutcomeExit, Exit: &e}, nil
}

/* ---------- config helpers ---------- */

func cfgString(step Step, key string) string {
	if v, ok := step.Config[key].(string); ok {
		return v
	}
	return ""
}

func cfgInt(step Step, key string) int {
	switch v := step.Config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
