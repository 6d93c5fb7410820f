package vendorgw

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc, timeout time.Duration) (*Gateway, *MemoryRepo) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	repo := NewMemoryRepo()
	g := NewGateway("acme", srv.URL, timeout, NewAuditor(repo, slog.Default()))
	return g, repo
}

func TestPostSuccessIsAudited(t *testing.T) {
	g, repo := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"balance": 1200}`))
	}, time.Second)

	raw, err := g.Post(context.Background(), "account_lookup", "/accounts", map[string]string{"ani": "+1555"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if string(raw) != `{"balance": 1200}` {
		t.Fatalf("unexpected body: %s", raw)
	}

	recs := repo.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
	if recs[0].Status != 200 || recs[0].Error != "" || recs[0].Vendor != "acme" {
		t.Fatalf("unexpected audit record: %+v", recs[0])
	}
}

func TestPostNon2xxIsVendorErrorWithVerbatimBody(t *testing.T) {
	g, repo := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}, time.Second)

	_, err := g.Post(context.Background(), "account_lookup", "/accounts", nil)
	var verr *VendorError
	if !errors.As(err, &verr) {
		t.Fatalf("expected VendorError, got %v", err)
	}
	if verr.Status != 502 || verr.Body != "upstream exploded" {
		t.Fatalf("expected verbatim capture, got %+v", verr)
	}
	if verr.Transient() {
		t.Fatalf("non-2xx must not be transient")
	}
	if len(repo.Records()) != 1 {
		t.Fatalf("failed call must still be audited")
	}
}

func TestPostNonJSONIsVendorError(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}, time.Second)

	_, err := g.Post(context.Background(), "lookup", "/x", nil)
	var verr *VendorError
	if !errors.As(err, &verr) {
		t.Fatalf("expected VendorError, got %v", err)
	}
	if verr.Body != "<html>not json</html>" {
		t.Fatalf("expected verbatim body, got %q", verr.Body)
	}
}

func TestPostRetriesOnceOnTimeout(t *testing.T) {
	var calls atomic.Int32
	g, repo := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}, 50*time.Millisecond)

	raw, err := g.Post(context.Background(), "lookup", "/x", nil)
	if err != nil {
		t.Fatalf("expected recovery on retry, got %v", err)
	}
	if string(raw) != `{"ok": true}` {
		t.Fatalf("unexpected body: %s", raw)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls.Load())
	}
	// Both attempts audited, including the recovered timeout.
	if len(repo.Records()) != 2 {
		t.Fatalf("expected 2 audit records, got %d", len(repo.Records()))
	}
	if repo.Records()[0].Error == "" {
		t.Fatalf("first record should capture the timeout error")
	}
}

func TestPostDoesNotRetryTwice(t *testing.T) {
	var calls atomic.Int32
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
	}, 30*time.Millisecond)

	_, err := g.Post(context.Background(), "lookup", "/x", nil)
	var verr *VendorError
	if !errors.As(err, &verr) || !verr.Timeout {
		t.Fatalf("expected timeout VendorError, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls.Load())
	}
}
