package contact

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGetOrCreateIsIdempotentPerSystemID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, err := s.GetOrCreate(ctx, Contact{System: "twilio", SystemContactID: "CA1", ANI: "+15550001", DNIS: "+15559999", Type: TypeVoice})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	b, err := s.GetOrCreate(ctx, Contact{System: "twilio", SystemContactID: "CA1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected same contact, got %s vs %s", a.ID, b.ID)
	}
}

func TestOneOpenLegPerSystemID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c, _ := s.GetOrCreate(ctx, Contact{System: "twilio", SystemContactID: "CA1", Type: TypeVoice})

	leg, err := s.OpenLeg(ctx, Leg{ContactID: c.ID, System: "twilio", SystemContactID: "CA1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if _, err := s.OpenLeg(ctx, Leg{ContactID: c.ID, System: "twilio", SystemContactID: "CA1"}); !errors.Is(err, ErrLegAlreadyOpen) {
		t.Fatalf("expected ErrLegAlreadyOpen, got %v", err)
	}

	// Closing the first leg frees the slot.
	if closed, err := s.CloseLeg(ctx, leg.ID, Disposition{Type: "exit.hang_up"}, time.Now()); err != nil || !closed {
		t.Fatalf("close: closed=%v err=%v", closed, err)
	}
	if _, err := s.OpenLeg(ctx, Leg{ContactID: c.ID, System: "twilio", SystemContactID: "CA1"}); err != nil {
		t.Fatalf("expected reopen to succeed, got %v", err)
	}
}

func TestCloseLegIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c, _ := s.GetOrCreate(ctx, Contact{System: "twilio", SystemContactID: "CA2", Type: TypeVoice})
	leg, _ := s.OpenLeg(ctx, Leg{ContactID: c.ID, System: "twilio", SystemContactID: "CA2"})

	disp := Disposition{Type: "exit.transfer", Params: `{"mode":"NORMAL"}`, TransferRoutingID: "tr-1"}
	closed, err := s.CloseLeg(ctx, leg.ID, disp, time.Now())
	if err != nil || !closed {
		t.Fatalf("first close: closed=%v err=%v", closed, err)
	}

	closed, err = s.CloseLeg(ctx, leg.ID, Disposition{Type: "exit.hang_up"}, time.Now())
	if err != nil {
		t.Fatalf("second close err: %v", err)
	}
	if closed {
		t.Fatalf("second close must be a no-op")
	}

	got, _ := s.GetLeg(ctx, leg.ID)
	if got.DispositionType != "exit.transfer" || got.TransferRoutingID != "tr-1" {
		t.Fatalf("second close must not overwrite disposition: %+v", got)
	}
}

func TestFindOpenLeg(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := s.FindOpenLeg(ctx, "twilio", "CA3"); err != nil || ok {
		t.Fatalf("expected no open leg, ok=%v err=%v", ok, err)
	}

	c, _ := s.GetOrCreate(ctx, Contact{System: "twilio", SystemContactID: "CA3", Type: TypeSMS})
	leg, _ := s.OpenLeg(ctx, Leg{ContactID: c.ID, System: "twilio", SystemContactID: "CA3"})

	got, ok, err := s.FindOpenLeg(ctx, "twilio", "CA3")
	if err != nil || !ok || got.ID != leg.ID {
		t.Fatalf("expected open leg %s, got ok=%v %+v err=%v", leg.ID, ok, got, err)
	}
}
