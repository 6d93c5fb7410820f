package routing

import (
	"context"
	"errors"
	"testing"

	"callflow/internal/opsmode"
)

type stubAdmins struct {
	phones map[string]bool
	err    error
}

func (s stubAdmins) IsAdminPhone(ctx context.Context, ani string) (bool, error) {
	return s.phones[ani], s.err
}

func TestResolvePicksHighestPriority(t *testing.T) {
	store := NewMemoryStore()
	store.Add(InboundRouting{ID: "r1", DNIS: "+15559999", WorkflowTag: "main", InitialQueueID: "5", Priority: 1, Active: true})
	store.Add(InboundRouting{ID: "r2", DNIS: "+15559999", WorkflowTag: "vip", InitialQueueID: "3", Priority: 9, Active: true})

	r := NewResolver(store, stubAdmins{}, "closed")
	res, err := r.Resolve(context.Background(), "+15559999", "+15550001", opsmode.ModeNormal)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Kind != KindWorkflow || res.Routing.ID != "r2" {
		t.Fatalf("expected r2, got %+v", res)
	}
}

func TestResolveTieBreaksOnQueueIDDescending(t *testing.T) {
	store := NewMemoryStore()
	store.Add(InboundRouting{ID: "r1", DNIS: "+15559999", InitialQueueID: "3", Priority: 5, Active: true})
	store.Add(InboundRouting{ID: "r2", DNIS: "+15559999", InitialQueueID: "7", Priority: 5, Active: true})

	r := NewResolver(store, stubAdmins{}, "closed")
	res, err := r.Resolve(context.Background(), "+15559999", "+15550001", opsmode.ModeNormal)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Routing.ID != "r2" {
		t.Fatalf("tie must break on initial queue id desc, got %+v", res.Routing)
	}
}

func TestResolveSkipsInactiveAndModeMismatch(t *testing.T) {
	store := NewMemoryStore()
	store.Add(InboundRouting{ID: "r1", DNIS: "+15559999", Priority: 9, Active: false})
	store.Add(InboundRouting{ID: "r2", DNIS: "+15559999", Priority: 5, Active: true, Mode: "EMERGENCY"})
	store.Add(InboundRouting{ID: "r3", DNIS: "+15559999", Priority: 1, Active: true})

	r := NewResolver(store, stubAdmins{}, "closed")
	res, err := r.Resolve(context.Background(), "+15559999", "+15550001", opsmode.ModeNormal)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Routing.ID != "r3" {
		t.Fatalf("expected r3, got %+v", res.Routing)
	}
}

func TestResolveNotFound(t *testing.T) {
	r := NewResolver(NewMemoryStore(), stubAdmins{}, "closed")
	_, err := r.Resolve(context.Background(), "+15550000", "+15550001", opsmode.ModeNormal)
	if !errors.Is(err, ErrRoutingNotFound) {
		t.Fatalf("expected ErrRoutingNotFound, got %v", err)
	}
}

func TestAdminRoutingHidesFromUnknownCallers(t *testing.T) {
	store := NewMemoryStore()
	store.Add(InboundRouting{ID: "r1", DNIS: "+15558888", Priority: 1, Active: true, Admin: true})

	r := NewResolver(store, stubAdmins{phones: map[string]bool{"+15550007": true}}, "closed")

	// Unknown caller: terminate without revealing whether a route exists.
	res, err := r.Resolve(context.Background(), "+15558888", "+15550001", opsmode.ModeNormal)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Kind != KindHangup {
		t.Fatalf("expected hangup for unknown caller, got %+v", res)
	}

	// Recognized admin proceeds into the admin machine.
	res, err = r.Resolve(context.Background(), "+15558888", "+15550007", opsmode.ModeNormal)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Kind != KindAdminCall || res.Routing.ID != "r1" {
		t.Fatalf("expected admin call, got %+v", res)
	}
}

func TestEmergencyBypassesRoutingLookup(t *testing.T) {
	// Store intentionally empty: the lookup must not happen at all.
	r := NewResolver(NewMemoryStore(), stubAdmins{phones: map[string]bool{"+15550007": true}}, "All lines are closed.")

	res, err := r.Resolve(context.Background(), "+15559999", "+15550001", opsmode.ModeEmergency)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Kind != KindClosure || res.Message != "All lines are closed." {
		t.Fatalf("expected closure, got %+v", res)
	}

	res, err = r.Resolve(context.Background(), "+15559999", "+15550007", opsmode.ModeEmergency)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Kind != KindAdminCall {
		t.Fatalf("expected admin call for admin phone, got %+v", res)
	}
}
