package admincall

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const (
	promptPin      = "Enter your PIN."
	promptAni      = "Enter the calling number, or a shortcut code."
	promptDnis     = "Enter the destination number, or a shortcut code."
	promptPriority = "Enter the call priority."

	retryPreamble = "Sorry, that is not valid. "
	farewell      = "Goodbye."
)

// Result is the machine's answer to one admin input.
type Result struct {
	Call Call

	// Prompt/Gather drive the next collection turn.
	Prompt string
	Gather bool

	// HangUp ends the call (auth failure or retries exhausted).
	HangUp  bool
	Message string

	// Routed is true once all parameters are collected: the orchestrator
	// routes the call as if it arrived from Call.ANI to Call.DNIS.
	Routed bool
}

// Machine drives the fixed admin call state progression. Like the workflow
// engine it is stateless per turn: every input is resumed from storage.
type Machine struct {
	store      Store
	log        *slog.Logger
	maxRetries int
	now        func() time.Time
}

func NewMachine(store Store, log *slog.Logger, maxRetries int) *Machine {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if log == nil {
		log = slog.Default()
	}
	return &Machine{store: store, log: log, maxRetries: maxRetries, now: time.Now}
}

// Begin authenticates the caller by phone and opens an admin call in the
// PIN-collection state. Unrecognized callers get ErrAdminAuth; the transport
// hangs up without revealing anything.
func (m *Machine) Begin(ctx context.Context, contactID, callerPhone string) (Result, error) {
	user, ok, err := m.store.FindUserByPhone(ctx, callerPhone)
	if err != nil {
		return Result{}, err
	}
	if !ok || !user.Active {
		return Result{}, ErrAdminAuth
	}

	call, err := m.store.CreateCall(ctx, Call{
		AdminUserID: user.ID,
		ContactID:   contactID,
		State:       StateVerifyPin,
	})
	if err != nil {
		return Result{}, err
	}
	m.log.Info("admin call opened",
		slog.String("admin_call_id", call.ID), slog.String("admin_user_id", user.ID))
	return Result{Call: call, Prompt: promptPin, Gather: true}, nil
}

// Input advances the call by one collected value.
func (m *Machine) Input(ctx context.Context, callID, input string) (Result, error) {
	call, err := m.store.GetCall(ctx, callID)
	if err != nil {
		return Result{}, err
	}
	input = strings.TrimSpace(input)

	switch call.State {
	case StateVerifyPin:
		user, err := m.store.GetUser(ctx, call.AdminUserID)
		if err != nil {
			return Result{}, err
		}
		if input == "" || input != user.PIN {
			return m.retry(ctx, call, promptPin)
		}
		return m.afterPin(ctx, call)

	case StateEnterAni:
		number, ok, err := m.resolveNumber(ctx, input)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return m.retry(ctx, call, promptAni)
		}
		call.ANI = number
		return m.transition(ctx, call, StateEnterDnis, promptDnis)

	case StateEnterDnis:
		number, ok, err := m.resolveNumber(ctx, input)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return m.retry(ctx, call, promptDnis)
		}
		call.DNIS = number
		return m.transition(ctx, call, StateEnterPriority, promptPriority)

	case StateEnterPriority:
		n, err := strconv.Atoi(input)
		if err != nil || n < 0 {
			return m.retry(ctx, call, promptPriority)
		}
		call.Priority = n
		return m.route(ctx, call)

	case StateRouteToWorkflow:
		return Result{Call: call, Routed: true}, nil

	default:
		return Result{}, ErrNotFound
	}
}

// afterPin consumes a pending scheduled call if one exists, skipping the
// collection states its parameters pre-seed.
func (m *Machine) afterPin(ctx context.Context, call Call) (Result, error) {
	sched, ok, err := m.store.FindPendingScheduledCall(ctx, call.AdminUserID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return m.transition(ctx, call, StateEnterAni, promptAni)
	}

	if err := m.store.ConsumeScheduledCall(ctx, sched.ID); err != nil {
		return Result{}, err
	}
	call.ScheduledCallID = sched.ID
	call.ANI = sched.ANI
	call.DNIS = sched.DNIS
	call.Priority = sched.Priority
	m.log.Info("scheduled call consumed",
		slog.String("admin_call_id", call.ID), slog.String("scheduled_call_id", sched.ID))
	return m.route(ctx, call)
}

// resolveNumber accepts a raw number or a registered shortcut code.
func (m *Machine) resolveNumber(ctx context.Context, input string) (string, bool, error) {
	if input == "" {
		return "", false, nil
	}
	if sc, ok, err := m.store.FindShortcut(ctx, input); err != nil {
		return "", false, err
	} else if ok {
		return sc.Number, true, nil
	}
	digits := strings.TrimPrefix(input, "+")
	if len(digits) < 3 {
		return "", false, nil
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", false, nil
		}
	}
	return input, true, nil
}

func (m *Machine) transition(ctx context.Context, call Call, next State, prompt string) (Result, error) {
	call.State = next
	call.RetryCount = 0
	call.UpdatedAt = m.now().UTC()
	if err := m.store.SaveCall(ctx, call); err != nil {
		return Result{}, err
	}
	return Result{Call: call, Prompt: prompt, Gather: true}, nil
}

func (m *Machine) route(ctx context.Context, call Call) (Result, error) {
	call.State = StateRouteToWorkflow
	call.RetryCount = 0
	call.UpdatedAt = m.now().UTC()
	if err := m.store.SaveCall(ctx, call); err != nil {
		return Result{}, err
	}
	return Result{Call: call, Routed: true}, nil
}

func (m *Machine) retry(ctx context.Context, call Call, prompt string) (Result, error) {
	call.RetryCount++
	call.UpdatedAt = m.now().UTC()
	if call.RetryCount > m.maxRetries {
		if err := m.store.SaveCall(ctx, call); err != nil {
			return Result{}, err
		}
		m.log.Warn("admin call retries exhausted",
			slog.String("admin_call_id", call.ID), slog.String("state", string(call.State)))
		return Result{Call: call, HangUp: true, Message: farewell}, nil
	}
	if err := m.store.SaveCall(ctx, call); err != nil {
		return Result{}, err
	}
	return Result{Call: call, Prompt: retryPreamble + prompt, Gather: true}, nil
}
