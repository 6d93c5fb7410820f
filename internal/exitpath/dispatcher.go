package exitpath

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"callflow/internal/contact"
	"callflow/internal/events"
	"callflow/internal/opsmode"
	"callflow/internal/queue"
)

// Instruction is the terminal action handed back to the vendor adapter.
type Instruction struct {
	Kind InstructionKind `json:"kind"`

	// Message is spoken/sent before the terminal action, when present.
	Message string `json:"message,omitempty"`

	// Destination is the dial target for KindDial.
	Destination string `json:"destination,omitempty"`

	// QueueID and ScreenPopURL describe an enqueue for KindEnqueue.
	QueueID      string            `json:"queue_id,omitempty"`
	ScreenPopURL string            `json:"screen_pop_url,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type InstructionKind string

const (
	InstructionHangup  InstructionKind = "hangup"
	InstructionDial    InstructionKind = "dial"
	InstructionEnqueue InstructionKind = "enqueue"
)

// CustomerState feeds the screen-pop URL for enqueue instructions.
type CustomerState string

const (
	CustomerUnknown CustomerState = "unknown"
	CustomerKnown   CustomerState = "known"
	CustomerSecured CustomerState = "secured"
)

// Input carries everything a dispatch needs from the orchestrator.
type Input struct {
	Leg  contact.Leg
	Exit ExitPath
	Mode opsmode.Mode

	// CurrentQueueID is the run's current queue pointer, used by
	// KindCurrentQueue.
	CurrentQueueID string

	CustomerState CustomerState
}

// Result is the dispatch outcome. When Handoff is set the orchestrator must
// open a new leg against the named workflow and re-enter the engine within
// the same turn.
type Result struct {
	Instruction Instruction
	Handoff     *Handoff
}

type Handoff struct {
	WorkflowTag      string
	CarrySessionKeys []string
}

// Dispatcher resolves terminal/transfer outcomes: it closes the current leg
// exactly once, records the disposition, emits the vendor instruction and
// best-effort publishes a disposition event.
type Dispatcher struct {
	Contacts contact.Store
	Queues   *queue.Resolver
	Events   events.Publisher
	Log      *slog.Logger
	Now      func() time.Time

	// ScreenPopURLTemplate substitutes {contact_id} and {state}.
	ScreenPopURLTemplate string
}

func NewDispatcher(contacts contact.Store, queues *queue.Resolver, pub events.Publisher, log *slog.Logger, screenPopTemplate string) *Dispatcher {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Dispatcher{
		Contacts:             contacts,
		Queues:               queues,
		Events:               pub,
		Log:                  log,
		Now:                  time.Now,
		ScreenPopURLTemplate: screenPopTemplate,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, in Input) (Result, error) {
	params := map[string]string{"mode": string(in.Mode)}
	disp := contact.Disposition{Type: in.Exit.DispositionType()}

	var res Result
	switch in.Exit.Kind {
	case KindHangUp:
		res.Instruction = Instruction{Kind: InstructionHangup, Message: in.Exit.Message}

	case KindCurrentQueue:
		qid := in.CurrentQueueID
		if qid == "" {
			qid = in.Leg.InitialQueueID
		}
		res.Instruction = Instruction{
			Kind:         InstructionEnqueue,
			Message:      in.Exit.Message,
			QueueID:      qid,
			ScreenPopURL: d.screenPopURL(in.Leg.ContactID, in.CustomerState),
			Metadata: map[string]string{
				"contact_id":     in.Leg.ContactID,
				"ani":            in.Leg.ANI,
				"customer_state": string(in.CustomerState),
			},
		}
		params["queue_id"] = qid

	case KindTransfer:
		out, err := d.Queues.Resolve(ctx, in.Exit.QueueID, in.Mode)
		if err != nil {
			if errors.Is(err, queue.ErrNoTransfer) {
				// Open queue with nothing to dial degrades to hangup.
				res.Instruction = Instruction{Kind: InstructionHangup, Message: in.Exit.Message}
				params["result"] = "no_transfer"
				break
			}
			return Result{}, err
		}
		if !out.Open {
			res.Instruction = Instruction{Kind: InstructionHangup, Message: out.ClosureMessage}
			params["result"] = "closed"
			break
		}
		res.Instruction = Instruction{Kind: InstructionDial, Message: in.Exit.Message, Destination: out.Transfer.Destination}
		disp.TransferRoutingID = out.Transfer.ID
		params["transfer_routing_id"] = out.Transfer.ID

	case KindWorkflowHandoff:
		res.Handoff = &Handoff{WorkflowTag: in.Exit.WorkflowTag, CarrySessionKeys: in.Exit.CarrySessionKeys}
		params["workflow_tag"] = in.Exit.WorkflowTag

	default:
		return Result{}, errors.New("exitpath: unknown exit kind")
	}

	disp.Params = ParamsJSON(params)
	endedAt := d.Now().UTC()
	closed, err := d.Contacts.CloseLeg(ctx, in.Leg.ID, disp, endedAt)
	if err != nil {
		return Result{}, err
	}

	// Publish only on the close that actually landed; a replayed dispatch
	// must not duplicate the event.
	if closed {
		e := events.DispositionEvent{
			LegID:             in.Leg.ID,
			ContactID:         in.Leg.ContactID,
			System:            in.Leg.System,
			SystemContactID:   in.Leg.SystemContactID,
			DispositionType:   disp.Type,
			DispositionParams: disp.Params,
			EndedAt:           endedAt,
		}
		if err := d.Events.PublishDisposition(ctx, e); err != nil && d.Log != nil {
			d.Log.Warn("disposition publish failed", "leg_id", in.Leg.ID, "err", err)
		}
	}

	return res, nil
}

func (d *Dispatcher) screenPopURL(contactID string, state CustomerState) string {
	if state == "" {
		state = CustomerUnknown
	}
	url := d.ScreenPopURLTemplate
	url = strings.ReplaceAll(url, "{contact_id}", contactID)
	url = strings.ReplaceAll(url, "{state}", string(state))
	return url
}
