package calls

import (
	"context"
	"testing"
	"time"

	"callflow/internal/admincall"
	"callflow/internal/contact"
	"callflow/internal/events"
	"callflow/internal/exitpath"
	"callflow/internal/opsmode"
	"callflow/internal/queue"
	"callflow/internal/routing"
	"callflow/internal/session"
	"callflow/internal/workflow"
)

type fixture struct {
	svc       *Service
	contacts  *contact.MemoryStore
	workflows *workflow.MemoryStore
	routings  *routing.MemoryStore
	queues    *queue.MemoryStore
	admins    *admincall.MemoryStore
	recorder  *events.Recorder
}

func newFixture(t *testing.T, mode opsmode.Mode) *fixture {
	t.Helper()
	f := &fixture{
		contacts:  contact.NewMemoryStore(),
		workflows: workflow.NewMemoryStore(),
		routings:  routing.NewMemoryStore(),
		queues:    queue.NewMemoryStore(),
		admins:    admincall.NewMemoryStore(),
		recorder:  events.NewRecorder(),
	}

	f.queues.PutQueue(queue.Queue{ID: "q1", Timezone: "UTC"})
	for d := time.Sunday; d <= time.Saturday; d++ {
		f.queues.AddHours(queue.Hours{QueueID: "q1", Weekday: d, OpenMinute: 0, CloseMinute: 24 * 60})
	}
	f.queues.AddTransferRouting(queue.TransferRouting{ID: "tr1", QueueID: "q1", Priority: 1, Destination: "+15559100"})

	cipher := session.Plaintext{}
	engine := workflow.NewEngine(f.workflows, cipher, workflow.DefaultRegistry(), nil, nil, 2)
	dispatcher := exitpath.NewDispatcher(
		f.contacts,
		queue.NewResolver(f.queues, "We are currently closed."),
		f.recorder,
		nil,
		"/agent/contacts/{contact_id}?state={state}",
	)
	router := routing.NewResolver(f.routings, admincall.Directory{Store: f.admins}, "We are unavailable due to an emergency.")
	machine := admincall.NewMachine(f.admins, nil, 2)

	f.svc = NewService(
		f.contacts, engine, f.workflows, router, machine, dispatcher,
		opsmode.Static{Mode: mode}, cipher, NoopLocker{}, nil,
	)
	return f
}

func (f *fixture) putWorkflow(t *testing.T, tag string, tree workflow.StepTree) {
	t.Helper()
	_, err := f.workflows.PutConfig(context.Background(), workflow.Config{
		Tag: tag, Active: true, Tree: tree,
		DefaultExit: exitpath.ExitPath{Kind: exitpath.KindHangUp, Message: "Goodbye."},
	})
	if err != nil {
		t.Fatalf("put workflow %s: %v", tag, err)
	}
}

func zipTree() workflow.StepTree {
	return workflow.StepTree{Branches: []workflow.StepBranch{{
		Name: "root",
		Steps: []workflow.Step{
			{Name: "ask_zip", Type: "gather_input", Config: map[string]any{
				"prompt": "Enter your zip code.", "session_key": "zip", "validation": "zip",
			}},
			{Name: "bye", Type: "exit", Config: map[string]any{
				"exit_kind": "hang_up", "exit_params": map[string]any{"message": "Thanks {session.zip}."},
			}},
		},
	}}}
}

func inboundVoice(input, fingerprint string) Inbound {
	return Inbound{
		System: "twilio", SystemContactID: "CA100",
		ANI: "+15550001", DNIS: "+18005550000",
		Input: input, Fingerprint: fingerprint,
	}
}

func TestVoiceCallOpensGathersAndCloses(t *testing.T) {
	f := newFixture(t, opsmode.ModeNormal)
	f.putWorkflow(t, "support", zipTree())
	f.routings.Add(routing.InboundRouting{
		ID: "r1", DNIS: "+18005550000", WorkflowTag: "support",
		GreetingID: "g-welcome", InitialQueueID: "q1", Priority: 10, Active: true,
	})
	ctx := context.Background()

	resp, err := f.svc.NewContact(ctx, inboundVoice("", "fp-1"))
	if err != nil {
		t.Fatalf("new contact: %v", err)
	}
	if resp.Gather == nil || resp.Gather.Prompt != "Enter your zip code." {
		t.Fatalf("expected zip gather, got %+v", resp)
	}
	if resp.GreetingID != "g-welcome" {
		t.Fatalf("greeting not carried: %+v", resp)
	}

	resp, err = f.svc.ContinueContact(ctx, inboundVoice("60601", "fp-2"))
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if !resp.Finished || resp.Instruction == nil || resp.Instruction.Kind != exitpath.InstructionHangup {
		t.Fatalf("expected terminal hangup, got %+v", resp)
	}
	if resp.Prompts[len(resp.Prompts)-1] != "Thanks 60601." {
		t.Fatalf("exit message missing: %v", resp.Prompts)
	}

	if _, open, _ := f.contacts.FindOpenLeg(ctx, "twilio", "CA100"); open {
		t.Fatal("leg must be closed after exit")
	}
	if len(f.recorder.Events()) != 1 {
		t.Fatalf("expected 1 disposition event, got %d", len(f.recorder.Events()))
	}
}

func TestOpeningRedeliveryDoesNotDuplicate(t *testing.T) {
	f := newFixture(t, opsmode.ModeNormal)
	f.putWorkflow(t, "support", zipTree())
	f.routings.Add(routing.InboundRouting{
		ID: "r1", DNIS: "+18005550000", WorkflowTag: "support",
		GreetingID: "g-welcome", InitialQueueID: "q1", Priority: 10, Active: true,
	})
	ctx := context.Background()

	first, err := f.svc.NewContact(ctx, inboundVoice("", "fp-1"))
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	leg, _, _ := f.contacts.FindOpenLeg(ctx, "twilio", "CA100")
	run, _, _ := f.workflows.FindActiveRunByLeg(ctx, leg.ID)
	before, _ := f.workflows.ListStepRuns(ctx, run.ID)

	second, err := f.svc.NewContact(ctx, inboundVoice("", "fp-1"))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	after, _ := f.workflows.ListStepRuns(ctx, run.ID)

	if len(after) != len(before) {
		t.Fatalf("redelivery appended step runs: %d -> %d", len(before), len(after))
	}
	if second.Gather == nil || second.Gather.Prompt != first.Gather.Prompt {
		t.Fatalf("replayed response differs: %+v vs %+v", second, first)
	}
	if first.GreetingID != "g-welcome" || second.GreetingID != first.GreetingID {
		t.Fatalf("greeting lost on redelivery: first %q, second %q", first.GreetingID, second.GreetingID)
	}
}

func TestEmergencyModeBypassesRouting(t *testing.T) {
	f := newFixture(t, opsmode.ModeEmergency)
	f.putWorkflow(t, "support", zipTree())
	f.routings.Add(routing.InboundRouting{
		ID: "r1", DNIS: "+18005550000", WorkflowTag: "support", InitialQueueID: "q1", Priority: 10, Active: true,
	})

	resp, err := f.svc.NewContact(context.Background(), inboundVoice("", "fp-1"))
	if err != nil {
		t.Fatalf("new contact: %v", err)
	}
	if resp.Instruction == nil || resp.Instruction.Kind != exitpath.InstructionHangup {
		t.Fatalf("expected hangup, got %+v", resp)
	}
	if resp.Instruction.Message != "We are unavailable due to an emergency." {
		t.Fatalf("closure message %q", resp.Instruction.Message)
	}
}

func TestUnrecognizedCallerOnAdminRoutingHangsUpSilently(t *testing.T) {
	f := newFixture(t, opsmode.ModeNormal)
	f.routings.Add(routing.InboundRouting{
		ID: "r-admin", DNIS: "+18005550000", WorkflowTag: "support",
		InitialQueueID: "q1", Priority: 10, Active: true, Admin: true,
	})

	resp, err := f.svc.NewContact(context.Background(), inboundVoice("", "fp-1"))
	if err != nil {
		t.Fatalf("new contact: %v", err)
	}
	if resp.Instruction == nil || resp.Instruction.Kind != exitpath.InstructionHangup || resp.Instruction.Message != "" {
		t.Fatalf("admin routing must hang up without detail, got %+v", resp)
	}
}

func TestAdminCallCollectsAndRoutes(t *testing.T) {
	f := newFixture(t, opsmode.ModeNormal)
	f.admins.PutUser(admincall.AdminUser{Name: "Ops", Phone: "+15550001", PIN: "4321", Active: true})
	f.putWorkflow(t, "support", zipTree())
	f.routings.Add(routing.InboundRouting{
		ID: "r-admin", DNIS: "+18005550000", WorkflowTag: "support",
		InitialQueueID: "q1", Priority: 10, Active: true, Admin: true,
	})
	f.routings.Add(routing.InboundRouting{
		ID: "r-target", DNIS: "+18005551111", WorkflowTag: "support",
		InitialQueueID: "q1", Priority: 5, Active: true,
	})
	ctx := context.Background()

	resp, err := f.svc.NewContact(ctx, inboundVoice("", "fp-1"))
	if err != nil {
		t.Fatalf("new contact: %v", err)
	}
	if resp.Gather == nil || resp.Prompts[0] != "Enter your PIN." {
		t.Fatalf("expected PIN prompt, got %+v", resp)
	}

	for _, input := range []string{"4321", "+15557000", "+18005551111", "0"} {
		resp, err = f.svc.ContinueContact(ctx, inboundVoice(input, "fp-"+input))
		if err != nil {
			t.Fatalf("input %q: %v", input, err)
		}
	}

	// Last input routed the admin call into the target workflow.
	if resp.Gather == nil || resp.Gather.Prompt != "Enter your zip code." {
		t.Fatalf("expected workflow opening turn, got %+v", resp)
	}
	leg, open, _ := f.contacts.FindOpenLeg(ctx, "twilio", "CA100")
	if !open {
		t.Fatal("expected open leg for routed admin call")
	}
	if leg.ANI != "+15557000" || leg.DNIS != "+18005551111" {
		t.Fatalf("leg must carry collected ANI/DNIS: %+v", leg)
	}
}

func TestWorkflowHandoffChainsWithinTurn(t *testing.T) {
	f := newFixture(t, opsmode.ModeNormal)
	f.putWorkflow(t, "intake", workflow.StepTree{Branches: []workflow.StepBranch{{
		Name: "root",
		Steps: []workflow.Step{
			{Name: "remember", Type: "set_session", Config: map[string]any{"key": "account_id", "value": "A-77"}},
			{Name: "to_payment", Type: "exit", Config: map[string]any{
				"exit_kind": "workflow_handoff",
				"exit_params": map[string]any{
					"workflow_tag":       "payment",
					"carry_session_keys": []any{"account_id"},
				},
			}},
		},
	}}})
	f.putWorkflow(t, "payment", workflow.StepTree{Branches: []workflow.StepBranch{{
		Name: "root",
		Steps: []workflow.Step{
			{Name: "hello", Type: "play_message", Config: map[string]any{"message": "Paying for account {session.account_id}."}},
			{Name: "bye", Type: "exit", Config: map[string]any{"exit_kind": "hang_up"}},
		},
	}}})
	f.routings.Add(routing.InboundRouting{
		ID: "r1", DNIS: "+18005550000", WorkflowTag: "intake", InitialQueueID: "q1", Priority: 10, Active: true,
	})
	ctx := context.Background()

	resp, err := f.svc.NewContact(ctx, inboundVoice("", "fp-1"))
	if err != nil {
		t.Fatalf("new contact: %v", err)
	}
	if !resp.Finished {
		t.Fatalf("handoff chain should finish in one turn, got %+v", resp)
	}
	found := false
	for _, p := range resp.Prompts {
		if p == "Paying for account A-77." {
			found = true
		}
	}
	if !found {
		t.Fatalf("carried session not visible in chained workflow: %v", resp.Prompts)
	}

	// Both legs closed, two disposition events (handoff + final hangup).
	if _, open, _ := f.contacts.FindOpenLeg(ctx, "twilio", "CA100"); open {
		t.Fatal("chained leg must be closed")
	}
	if len(f.recorder.Events()) != 2 {
		t.Fatalf("expected 2 disposition events, got %d", len(f.recorder.Events()))
	}
}

func TestRoutingNotFoundIsTerminalNotServerError(t *testing.T) {
	f := newFixture(t, opsmode.ModeNormal)

	resp, err := f.svc.NewContact(context.Background(), inboundVoice("", "fp-1"))
	if err != nil {
		t.Fatalf("missing routing must not error: %v", err)
	}
	if !resp.Error || resp.Instruction == nil || resp.Instruction.Kind != exitpath.InstructionHangup {
		t.Fatalf("expected degraded hangup, got %+v", resp)
	}
}
