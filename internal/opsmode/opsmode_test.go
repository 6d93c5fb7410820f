package opsmode

import (
	"context"
	"testing"
)

func TestParse(t *testing.T) {
	if m, err := Parse(" normal "); err != nil || m != ModeNormal {
		t.Fatalf("got %q err=%v", m, err)
	}
	if m, err := Parse("EMERGENCY"); err != nil || m != ModeEmergency {
		t.Fatalf("got %q err=%v", m, err)
	}
	if _, err := Parse("panic"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStaticDefaultsToNormal(t *testing.T) {
	m, err := Static{}.Current(context.Background())
	if err != nil || m != ModeNormal {
		t.Fatalf("got %q err=%v", m, err)
	}
	if err := (Static{}).Set(context.Background(), ModeEmergency); err == nil {
		t.Fatalf("static store must be read-only")
	}
}
