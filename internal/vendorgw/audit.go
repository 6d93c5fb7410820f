package vendorgw

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for vendor audit records.
// Append-only: there are no update or delete methods.
type Repository interface {
	Append(ctx context.Context, r Record) error
}

// Auditor writes audit records best-effort: a failed audit write is logged
// and swallowed so it can never fail the call turn that triggered it.
type Auditor struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewAuditor(repo Repository, log *slog.Logger) *Auditor {
	return &Auditor{repo: repo, log: log, clock: time.Now}
}

func (a *Auditor) Record(ctx context.Context, r Record) {
	if a == nil || a.repo == nil {
		return
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = a.clock().UTC()
	}
	// Detach from the request's cancellation: a timed-out vendor call still
	// gets its audit row.
	if err := a.repo.Append(context.WithoutCancel(ctx), r); err != nil {
		if a.log != nil {
			a.log.Warn("vendor audit write failed", "vendor", r.Vendor, "request", r.RequestName, "err", err)
		}
	}
}

// MemoryRepo is a simple in-memory append-only repository useful for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}
