package workflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"callflow/internal/vendorgw"
)

func execStep(t *testing.T, step Step, ec *ExecContext) (Outcome, error) {
	t.Helper()
	h, err := DefaultRegistry().Build(step)
	if err != nil {
		t.Fatalf("build %s: %v", step.Type, err)
	}
	if ec.Session == nil {
		ec.Session = map[string]any{}
	}
	return h.Execute(context.Background(), ec)
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	_, err := DefaultRegistry().Build(Step{Name: "x", Type: "teleport"})
	if err == nil {
		t.Fatal("expected error for unknown step type")
	}
}

func TestGatherValidationKinds(t *testing.T) {
	cases := []struct {
		validation string
		input      string
		ok         bool
	}{
		{"digits", "12345", true},
		{"digits", "12a45", false},
		{"zip", "60601", true},
		{"zip", "6060", false},
		{"number", "0", true},
		{"number", "-3", false},
		{"any", "whatever", true},
		{"any", "  ", false},
	}
	for _, c := range cases {
		step := Step{Name: "g", Type: "gather_input", Config: map[string]any{
			"prompt": "Enter value.", "validation": c.validation,
		}}
		_, err := execStep(t, step, &ExecContext{Input: c.input, Resuming: true})
		var rerr *RetryableError
		gotOK := !errors.As(err, &rerr)
		if err != nil && gotOK {
			t.Fatalf("%s/%q: unexpected error %v", c.validation, c.input, err)
		}
		if gotOK != c.ok {
			t.Errorf("%s validation of %q: ok=%v, want %v", c.validation, c.input, gotOK, c.ok)
		}
	}
}

func TestGatherExpectMatchesSessionValue(t *testing.T) {
	step := Step{Name: "pin", Type: "gather_input", Config: map[string]any{
		"prompt": "Enter your PIN.", "expect": "{session.pin}",
	}}

	out, err := execStep(t, step, &ExecContext{
		Session: map[string]any{"pin": "4321"}, Input: "4321", Resuming: true,
	})
	if err != nil {
		t.Fatalf("matching input: %v", err)
	}
	if out.Kind != OutcomeAdvance {
		t.Fatalf("outcome %q", out.Kind)
	}

	_, err = execStep(t, step, &ExecContext{
		Session: map[string]any{"pin": "4321"}, Input: "9999", Resuming: true,
	})
	var rerr *RetryableError
	if !errors.As(err, &rerr) {
		t.Fatalf("mismatched input should be retryable, got %v", err)
	}
}

func TestGatherMenuRejectsUnlistedChoice(t *testing.T) {
	step := Step{Name: "menu", Type: "gather_input", Config: map[string]any{
		"prompt": "Press 1 or 2.", "choices": map[string]any{"1": "a", "2": "b"},
	}}
	_, err := execStep(t, step, &ExecContext{Input: "7", Resuming: true})
	var rerr *RetryableError
	if !errors.As(err, &rerr) {
		t.Fatalf("unlisted choice should be retryable, got %v", err)
	}
}

func TestVendorLookupStoresResultField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"customer":{"tier":"gold"}}`))
	}))
	defer srv.Close()

	gw := vendorgw.NewGateway("crm", srv.URL, 0, vendorgw.NewAuditor(vendorgw.NewMemoryRepo(), nil))
	step := Step{Name: "lookup", Type: "vendor_lookup", Config: map[string]any{
		"request_name": "customer_lookup",
		"path":         "/lookup",
		"payload":      map[string]any{"ani": "{session.ani}"},
		"session_key":  "tier",
		"result_field": "customer.tier",
	}}

	ec := &ExecContext{Session: map[string]any{"ani": "+15550001"}, Vendor: gw}
	out, err := execStep(t, step, ec)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if out.Kind != OutcomeAdvance {
		t.Fatalf("outcome %q", out.Kind)
	}
	if ec.Session["tier"] != "gold" {
		t.Fatalf("tier = %v", ec.Session["tier"])
	}
}

func TestVendorLookupErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"down"}`, http.StatusBadGateway)
	}))
	defer srv.Close()
	gw := vendorgw.NewGateway("crm", srv.URL, 0, nil)

	retryStep := Step{Name: "l", Type: "vendor_lookup", Config: map[string]any{
		"request_name": "r", "path": "/x", "on_error": "retry", "error_message": "One moment please.",
	}}
	_, err := execStep(t, retryStep, &ExecContext{Vendor: gw})
	var rerr *RetryableError
	if !errors.As(err, &rerr) || rerr.Message != "One moment please." {
		t.Fatalf("retry mapping failed: %v", err)
	}

	fatalStep := Step{Name: "l", Type: "vendor_lookup", Config: map[string]any{
		"request_name": "r", "path": "/x",
	}}
	_, err = execStep(t, fatalStep, &ExecContext{Vendor: gw})
	var verr *vendorgw.VendorError
	if !errors.As(err, &verr) {
		t.Fatalf("fatal mapping should surface VendorError, got %v", err)
	}
}

func TestExitStepResolvesMessageTemplate(t *testing.T) {
	step := Step{Name: "bye", Type: "exit", Config: map[string]any{
		"exit_kind":   "hang_up",
		"exit_params": map[string]any{"message": "Goodbye {session.name}."},
	}}
	out, err := execStep(t, step, &ExecContext{Session: map[string]any{"name": "Ada"}})
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if out.Kind != OutcomeExit || out.Exit.Message != "Goodbye Ada." {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestExitStepRejectsBadVariant(t *testing.T) {
	_, err := DefaultRegistry().Build(Step{Name: "t", Type: "exit", Config: map[string]any{
		"exit_kind": "transfer",
	}})
	if err == nil {
		t.Fatal("transfer without queue_id must fail at build time")
	}
}
