package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callflow/internal/admincall"
	"callflow/internal/contact"
	"callflow/internal/exitpath"
	"callflow/internal/opsmode"
	"callflow/internal/routing"
	"callflow/internal/session"
	"callflow/internal/workflow"
)

// maxHandoffHops bounds same-turn workflow chaining.
const maxHandoffHops = 5

// Inbound is one normalized vendor delivery, voice or SMS.
type Inbound struct {
	System          string
	SystemContactID string

	ANI  string
	DNIS string

	// Input is the caller's digits/text; empty on the opening delivery.
	Input string

	// Fingerprint identifies the delivery for replay detection.
	Fingerprint string

	SMS bool
}

func (in Inbound) contactType() contact.Type {
	if in.SMS {
		return contact.TypeSMS
	}
	return contact.TypeVoice
}

func (in Inbound) lockKey() string {
	return in.System + ":" + in.SystemContactID
}

// Response is the provider-agnostic turn outcome the adapters render.
type Response struct {
	Prompts []string
	Gather  *workflow.GatherSpec

	// GreetingID names a pre-roll greeting media asset, opening turn only.
	GreetingID string

	// Instruction is set once the turn reached a terminal action.
	Instruction *exitpath.Instruction

	Finished bool

	// Error marks a degraded terminal response (missing routing or
	// workflow); transports still answer 200 with a hangup.
	Error bool
}

func hangupResponse(message string) Response {
	return Response{
		Instruction: &exitpath.Instruction{Kind: exitpath.InstructionHangup, Message: message},
		Finished:    true,
	}
}

// Service is the turn orchestrator: it owns the webhook-to-instruction
// sequence and keeps every collaborator behind its own package boundary.
type Service struct {
	Contacts   contact.Store
	Engine     *workflow.Engine
	Runs       workflow.Store
	Routing    *routing.Resolver
	Admin      *admincall.Machine
	Dispatcher *exitpath.Dispatcher
	Modes      opsmode.Store
	Cipher     session.Cipher
	Locks      Locker
	Log        *slog.Logger

	Now func() time.Time
}

func NewService(
	contacts contact.Store,
	engine *workflow.Engine,
	runs workflow.Store,
	router *routing.Resolver,
	admin *admincall.Machine,
	dispatcher *exitpath.Dispatcher,
	modes opsmode.Store,
	cipher session.Cipher,
	locks Locker,
	log *slog.Logger,
) *Service {
	if locks == nil {
		locks = NoopLocker{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		Contacts:   contacts,
		Engine:     engine,
		Runs:       runs,
		Routing:    router,
		Admin:      admin,
		Dispatcher: dispatcher,
		Modes:      modes,
		Cipher:     cipher,
		Locks:      locks,
		Log:        log,
		Now:        time.Now,
	}
}

// NewContact handles the opening delivery of a call or SMS thread.
func (s *Service) NewContact(ctx context.Context, in Inbound) (Response, error) {
	release, err := s.Locks.Acquire(ctx, in.lockKey())
	if err != nil {
		return Response{}, err
	}
	defer release()

	// A redelivered opening webhook finds the leg it already opened and
	// continues instead of opening a second one. The replayed response must
	// carry the routing's greeting like the original did.
	if leg, open, err := s.Contacts.FindOpenLeg(ctx, in.System, in.SystemContactID); err != nil {
		return Response{}, err
	} else if open {
		resp, err := s.continueLocked(ctx, in, leg)
		if err != nil {
			return Response{}, err
		}
		gid, gerr := s.Routing.GreetingFor(ctx, leg.DNIS, leg.InboundRoutingID)
		if gerr != nil {
			s.Log.Warn("greeting lookup for replayed opening failed",
				slog.String("leg_id", leg.ID), slog.String("error", gerr.Error()))
		}
		resp.GreetingID = gid
		return resp, nil
	}

	mode, err := s.Modes.Current(ctx)
	if err != nil {
		return Response{}, err
	}

	res, err := s.Routing.Resolve(ctx, in.DNIS, in.ANI, mode)
	if errors.Is(err, routing.ErrRoutingNotFound) {
		s.Log.Warn("no routing for inbound target", slog.String("dnis", in.DNIS))
		r := hangupResponse("")
		r.Error = true
		return r, nil
	}
	if err != nil {
		return Response{}, err
	}

	switch res.Kind {
	case routing.KindClosure:
		return hangupResponse(res.Message), nil
	case routing.KindHangup:
		return hangupResponse(""), nil
	case routing.KindAdminCall:
		return s.beginAdminCall(ctx, in)
	case routing.KindWorkflow:
		return s.startWorkflow(ctx, in, res.Routing, mode, nil)
	default:
		return Response{}, fmt.Errorf("calls: unknown resolution kind %q", res.Kind)
	}
}

// ContinueContact handles every subsequent delivery for a known call.
func (s *Service) ContinueContact(ctx context.Context, in Inbound) (Response, error) {
	release, err := s.Locks.Acquire(ctx, in.lockKey())
	if err != nil {
		return Response{}, err
	}
	defer release()

	leg, open, err := s.Contacts.FindOpenLeg(ctx, in.System, in.SystemContactID)
	if err != nil {
		return Response{}, err
	}
	if !open {
		// Admin calls collect input before any leg exists.
		c, err := s.Contacts.GetOrCreate(ctx, contact.Contact{
			System: in.System, SystemContactID: in.SystemContactID,
			ANI: in.ANI, DNIS: in.DNIS, Type: in.contactType(),
		})
		if err != nil {
			return Response{}, err
		}
		if c.AdminCallID != "" {
			return s.continueAdminCall(ctx, in, c)
		}
		s.Log.Warn("continue for unknown call",
			slog.String("system", in.System), slog.String("system_contact_id", in.SystemContactID))
		return hangupResponse(""), nil
	}
	return s.continueLocked(ctx, in, leg)
}

func (s *Service) continueLocked(ctx context.Context, in Inbound, leg contact.Leg) (Response, error) {
	run, ok, err := s.Runs.FindActiveRunByLeg(ctx, leg.ID)
	if err != nil {
		return Response{}, err
	}
	if !ok {
		s.Log.Warn("open leg without active run", slog.String("leg_id", leg.ID))
		return hangupResponse(""), nil
	}

	turn, err := s.Engine.ExecuteTurn(ctx, workflow.TurnInput{
		RunID:       run.ID,
		Input:       in.Input,
		Fingerprint: in.Fingerprint,
	})
	if err != nil {
		return Response{}, err
	}
	return s.settle(ctx, in, leg, turn)
}

// startWorkflow opens the leg and run for a matched routing and executes the
// opening turn.
func (s *Service) startWorkflow(ctx context.Context, in Inbound, rt routing.InboundRouting, mode opsmode.Mode, adminCall *admincall.Call) (Response, error) {
	c, err := s.Contacts.GetOrCreate(ctx, contact.Contact{
		System: in.System, SystemContactID: in.SystemContactID,
		ANI: in.ANI, DNIS: in.DNIS, Type: in.contactType(),
	})
	if err != nil {
		return Response{}, err
	}
	if adminCall != nil {
		if err := s.Contacts.LinkAdminCall(ctx, c.ID, adminCall.ID); err != nil {
			return Response{}, err
		}
	}

	leg, err := s.Contacts.OpenLeg(ctx, contact.Leg{
		ContactID: c.ID,
		System:    in.System, SystemContactID: in.SystemContactID,
		ANI: in.ANI, DNIS: in.DNIS,
		InitialQueueID:   rt.InitialQueueID,
		InboundRoutingID: rt.ID,
		StartedAt:        s.Now().UTC(),
	})
	if errors.Is(err, contact.ErrLegAlreadyOpen) {
		existing, _, ferr := s.Contacts.FindOpenLeg(ctx, in.System, in.SystemContactID)
		if ferr != nil {
			return Response{}, ferr
		}
		return s.continueLocked(ctx, in, existing)
	}
	if err != nil {
		return Response{}, err
	}

	// SMS threads reuse the contact-level session so continuity survives
	// across legs; voice starts clean.
	seed := session.Map{}
	if in.SMS {
		seed, err = session.Open(s.Cipher, c.SessionBlob)
		if err != nil {
			s.Log.Warn("contact session unreadable, starting clean",
				slog.String("contact_id", c.ID), slog.String("error", err.Error()))
			seed = session.Map{}
		}
	}

	run, err := s.Engine.StartRun(ctx, leg.ID, rt.WorkflowTag, seed, rt.InitialQueueID)
	if errors.Is(err, workflow.ErrConfigNotFound) {
		s.Log.Error("routing points at missing workflow",
			slog.String("routing_id", rt.ID), slog.String("workflow_tag", rt.WorkflowTag))
		r := hangupResponse("")
		r.Error = true
		return r, nil
	}
	if err != nil {
		return Response{}, err
	}

	turn, err := s.Engine.ExecuteTurn(ctx, workflow.TurnInput{RunID: run.ID, Fingerprint: in.Fingerprint})
	if err != nil {
		return Response{}, err
	}
	resp, err := s.settle(ctx, in, leg, turn)
	if err != nil {
		return Response{}, err
	}
	resp.GreetingID = rt.GreetingID
	return resp, nil
}

// settle turns an engine result into a transport response, running the
// exit-path dispatcher and any same-turn workflow handoffs.
func (s *Service) settle(ctx context.Context, in Inbound, leg contact.Leg, turn workflow.TurnResult) (Response, error) {
	resp := Response{Prompts: turn.Prompts}

	if in.SMS {
		s.mirrorContactSession(ctx, leg.ContactID, turn.Session)
	}
	if !turn.Finished {
		resp.Gather = turn.Gather
		return resp, nil
	}

	mode, err := s.Modes.Current(ctx)
	if err != nil {
		return Response{}, err
	}

	exit := *turn.Exit
	for hop := 0; hop < maxHandoffHops; hop++ {
		dres, err := s.Dispatcher.Dispatch(ctx, exitpath.Input{
			Leg:            leg,
			Exit:           exit,
			Mode:           mode,
			CurrentQueueID: turn.CurrentQueueID,
			CustomerState:  customerState(turn.Session),
		})
		if err != nil {
			return Response{}, err
		}
		if dres.Handoff == nil {
			resp.Instruction = &dres.Instruction
			resp.Finished = true
			return resp, nil
		}

		leg, turn, err = s.handoff(ctx, in, leg, turn, dres.Handoff, hop)
		if err != nil {
			return Response{}, err
		}
		resp.Prompts = append(resp.Prompts, turn.Prompts...)
		if in.SMS {
			s.mirrorContactSession(ctx, leg.ContactID, turn.Session)
		}
		if !turn.Finished {
			resp.Gather = turn.Gather
			return resp, nil
		}
		exit = *turn.Exit
	}
	s.Log.Error("workflow handoff budget exceeded", slog.String("leg_id", leg.ID))
	return hangupResponse(""), nil
}

// handoff opens the chained leg and run and executes its opening turn.
func (s *Service) handoff(ctx context.Context, in Inbound, prior contact.Leg, turn workflow.TurnResult, h *exitpath.Handoff, hop int) (contact.Leg, workflow.TurnResult, error) {
	leg, err := s.Contacts.OpenLeg(ctx, contact.Leg{
		ContactID: prior.ContactID,
		System:    prior.System, SystemContactID: prior.SystemContactID,
		ANI: prior.ANI, DNIS: prior.DNIS,
		InitialQueueID:   prior.InitialQueueID,
		InboundRoutingID: prior.InboundRoutingID,
		StartedAt:        s.Now().UTC(),
	})
	if err != nil {
		return contact.Leg{}, workflow.TurnResult{}, err
	}

	run, err := s.Engine.StartRun(ctx, leg.ID, h.WorkflowTag, carrySession(turn.Session, h.CarrySessionKeys), turn.CurrentQueueID)
	if err != nil {
		return contact.Leg{}, workflow.TurnResult{}, err
	}

	// Derive a distinct fingerprint per hop so the chained opening turn has
	// its own replay identity. A delivery without a fingerprint gets none
	// for its hops either.
	fp := ""
	if in.Fingerprint != "" {
		fp = fmt.Sprintf("%s#hop%d", in.Fingerprint, hop+1)
	}
	next, err := s.Engine.ExecuteTurn(ctx, workflow.TurnInput{
		RunID:       run.ID,
		Fingerprint: fp,
	})
	if err != nil {
		return contact.Leg{}, workflow.TurnResult{}, err
	}
	return leg, next, nil
}

func (s *Service) beginAdminCall(ctx context.Context, in Inbound) (Response, error) {
	c, err := s.Contacts.GetOrCreate(ctx, contact.Contact{
		System: in.System, SystemContactID: in.SystemContactID,
		ANI: in.ANI, DNIS: in.DNIS, Type: in.contactType(),
	})
	if err != nil {
		return Response{}, err
	}

	res, err := s.Admin.Begin(ctx, c.ID, in.ANI)
	if errors.Is(err, admincall.ErrAdminAuth) {
		// Indistinguishable from no route.
		return hangupResponse(""), nil
	}
	if err != nil {
		return Response{}, err
	}
	if err := s.Contacts.LinkAdminCall(ctx, c.ID, res.Call.ID); err != nil {
		return Response{}, err
	}
	return adminResponse(res), nil
}

func (s *Service) continueAdminCall(ctx context.Context, in Inbound, c contact.Contact) (Response, error) {
	res, err := s.Admin.Input(ctx, c.AdminCallID, in.Input)
	if err != nil {
		return Response{}, err
	}
	if !res.Routed {
		return adminResponse(res), nil
	}

	// All parameters collected: route as if the call arrived from the
	// collected ANI to the collected DNIS.
	mode, err := s.Modes.Current(ctx)
	if err != nil {
		return Response{}, err
	}
	routed := in
	routed.ANI = res.Call.ANI
	routed.DNIS = res.Call.DNIS
	routed.Input = ""

	rres, err := s.Routing.Resolve(ctx, routed.DNIS, routed.ANI, mode)
	if errors.Is(err, routing.ErrRoutingNotFound) {
		return hangupResponse(""), nil
	}
	if err != nil {
		return Response{}, err
	}
	if rres.Kind != routing.KindWorkflow {
		return hangupResponse(""), nil
	}
	call := res.Call
	return s.startWorkflow(ctx, routed, rres.Routing, mode, &call)
}

func adminResponse(res admincall.Result) Response {
	if res.HangUp {
		return hangupResponse(res.Message)
	}
	r := Response{Prompts: []string{res.Prompt}}
	if res.Gather {
		r.Gather = &workflow.GatherSpec{Prompt: res.Prompt}
	}
	return r
}

// mirrorContactSession copies the run session onto the contact, best-effort.
func (s *Service) mirrorContactSession(ctx context.Context, contactID string, sess session.Map) {
	blob, err := session.Seal(s.Cipher, sess)
	if err == nil {
		err = s.Contacts.SaveSession(ctx, contactID, blob, s.Now().UTC())
	}
	if err != nil {
		s.Log.Warn("contact session mirror failed",
			slog.String("contact_id", contactID), slog.String("error", err.Error()))
	}
}

func carrySession(sess session.Map, keys []string) session.Map {
	if len(keys) == 0 {
		return sess.Clone()
	}
	out := session.Map{}
	for _, k := range keys {
		if v, ok := sess[k]; ok {
			out[k] = v
		}
	}
	return out
}

// customerState drives the screen-pop URL: secured once the workflow marked
// the caller verified, known once it identified them, unknown otherwise.
func customerState(sess session.Map) exitpath.CustomerState {
	if v, ok := sess["customer_secured"].(bool); ok && v {
		return exitpath.CustomerSecured
	}
	if _, ok := sess.GetString("customer_id"); ok {
		return exitpath.CustomerKnown
	}
	return exitpath.CustomerUnknown
}
