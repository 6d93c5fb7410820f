package routing

import (
	"context"
	"errors"
	"sort"

	"callflow/internal/opsmode"
)

// ErrRoutingNotFound is terminal: the caller gets a generic hangup outcome,
// never a server error.
var ErrRoutingNotFound = errors.New("routing: not found")

// Store lists candidate routings for an inbound target.
type Store interface {
	ListActive(ctx context.Context, dnis string) ([]InboundRouting, error)
}

// AdminDirectory recognizes admin phones for emergency bypass and
// admin-flagged routings.
type AdminDirectory interface {
	IsAdminPhone(ctx context.Context, ani string) (bool, error)
}

// Resolution is the provider-agnostic output of routing resolution.
type Resolution struct {
	Kind ResolutionKind

	// Routing is set for KindWorkflow and KindAdminCall (when an
	// admin-flagged routing matched; empty for the emergency bypass).
	Routing InboundRouting

	// Message is set for KindClosure.
	Message string
}

type ResolutionKind string

const (
	// KindWorkflow routes the contact into the matched routing's workflow.
	KindWorkflow ResolutionKind = "workflow"
	// KindAdminCall routes a recognized admin caller into the admin call
	// state machine.
	KindAdminCall ResolutionKind = "admin_call"
	// KindClosure plays the system-wide closure message and terminates.
	KindClosure ResolutionKind = "closure"
	// KindHangup terminates without explanation. Used for unrecognized
	// callers on admin routings so the response does not reveal whether a
	// route exists.
	KindHangup ResolutionKind = "hangup"
)

// Resolver selects the applicable inbound routing for an inbound identifier,
// honoring the system-wide operating mode and admin-only routings.
//
// Return decision only. No side effects.
type Resolver struct {
	Store  Store
	Admins AdminDirectory

	// ClosureMessage is emitted for the EMERGENCY bypass.
	ClosureMessage string
}

func NewResolver(store Store, admins AdminDirectory, closureMessage string) *Resolver {
	return &Resolver{Store: store, Admins: admins, ClosureMessage: closureMessage}
}

func (r *Resolver) Resolve(ctx context.Context, called, calling string, mode opsmode.Mode) (Resolution, error) {
	// EMERGENCY bypasses all normal routing; no InboundRouting lookup occurs.
	if mode == opsmode.ModeEmergency {
		admin, err := r.isAdmin(ctx, calling)
		if err != nil {
			return Resolution{}, err
		}
		if admin {
			return Resolution{Kind: KindAdminCall}, nil
		}
		return Resolution{Kind: KindClosure, Message: r.ClosureMessage}, nil
	}

	candidates, err := r.Store.ListActive(ctx, called)
	if err != nil {
		return Resolution{}, err
	}

	eligible := candidates[:0:0]
	for _, c := range candidates {
		if !c.Active {
			continue
		}
		if c.Mode != "" && c.Mode != string(mode) {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return Resolution{}, ErrRoutingNotFound
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].InitialQueueID > eligible[j].InitialQueueID
	})
	match := eligible[0]

	if match.Admin {
		admin, err := r.isAdmin(ctx, calling)
		if err != nil {
			return Resolution{}, err
		}
		if !admin {
			// Same outward behavior as no route: prevents enumeration of
			// admin numbers.
			return Resolution{Kind: KindHangup}, nil
		}
		return Resolution{Kind: KindAdminCall, Routing: match}, nil
	}

	return Resolution{Kind: KindWorkflow, Routing: match}, nil
}

// GreetingFor returns the greeting of a routing that already matched a leg.
// Used when a redelivered opening webhook replays the first turn: the replay
// must carry the same greeting the original response did. Empty when the
// routing has since been removed or deactivated.
func (r *Resolver) GreetingFor(ctx context.Context, called, routingID string) (string, error) {
	if routingID == "" {
		return "", nil
	}
	candidates, err := r.Store.ListActive(ctx, called)
	if err != nil {
		return "", err
	}
	for _, c := range candidates {
		if c.ID == routingID {
			return c.GreetingID, nil
		}
	}
	return "", nil
}

func (r *Resolver) isAdmin(ctx context.Context, ani string) (bool, error) {
	if r.Admins == nil {
		return false, nil
	}
	return r.Admins.IsAdminPhone(ctx, ani)
}
