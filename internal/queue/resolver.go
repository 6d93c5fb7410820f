package queue

import (
	"context"
	"errors"
	"sort"
	"time"

	"callflow/internal/opsmode"
)

var (
	ErrNotFound = errors.New("queue: not found")
	// ErrNoTransfer means the queue is open but has no eligible destination
	// for the current operating mode.
	ErrNoTransfer = errors.New("queue: no eligible transfer routing")
)

// Store is the persistence contract for queues and their calendars.
type Store interface {
	GetQueue(ctx context.Context, id string) (Queue, error)
	ListTransferRoutings(ctx context.Context, queueID string) ([]TransferRouting, error)
	ListHours(ctx context.Context, queueID string) ([]Hours, error)
	ListHolidays(ctx context.Context, queueID string) ([]Holiday, error)
}

// Outcome is the result of resolving a queue for transfer.
// Exactly one of Transfer (when Open) or ClosureMessage (when closed) is
// meaningful.
type Outcome struct {
	Open           bool
	Transfer       TransferRouting
	ClosureMessage string
}

// Resolver selects a transfer destination for a queue, honoring the queue's
// local hours of operation and holiday overrides.
//
// Return decision only. No side effects (no DB writes, no vendor calls).
type Resolver struct {
	Store Store
	Now   func() time.Time

	// DefaultClosureMessage is used when the queue has none of its own.
	DefaultClosureMessage string
}

func NewResolver(store Store, defaultClosure string) *Resolver {
	return &Resolver{Store: store, Now: time.Now, DefaultClosureMessage: defaultClosure}
}

func (r *Resolver) Resolve(ctx context.Context, queueID string, mode opsmode.Mode) (Outcome, error) {
	q, err := r.Store.GetQueue(ctx, queueID)
	if err != nil {
		return Outcome{}, err
	}

	open, err := r.isOpen(ctx, q)
	if err != nil {
		return Outcome{}, err
	}
	if !open {
		return Outcome{Open: false, ClosureMessage: r.closureMessage(q)}, nil
	}

	candidates, err := r.Store.ListTransferRoutings(ctx, q.ID)
	if err != nil {
		return Outcome{}, err
	}

	eligible := candidates[:0:0]
	for _, c := range candidates {
		if c.Mode == "" || c.Mode == string(mode) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return Outcome{}, ErrNoTransfer
	}
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].Priority < eligible[j].Priority })

	return Outcome{Open: true, Transfer: eligible[0]}, nil
}

// isOpen evaluates the queue's calendar in its own timezone.
// Holidays close the entire local day regardless of hours.
func (r *Resolver) isOpen(ctx context.Context, q Queue) (bool, error) {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return false, err
	}
	now := r.Now().In(loc)
	today := now.Format("2006-01-02")

	holidays, err := r.Store.ListHolidays(ctx, q.ID)
	if err != nil {
		return false, err
	}
	for _, h := range holidays {
		if h.Date == today {
			return false, nil
		}
	}

	hours, err := r.Store.ListHours(ctx, q.ID)
	if err != nil {
		return false, err
	}
	minute := now.Hour()*60 + now.Minute()
	for _, h := range hours {
		if h.Weekday != now.Weekday() {
			continue
		}
		if minute >= h.OpenMinute && minute < h.CloseMinute {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) closureMessage(q Queue) string {
	if q.ClosureMessage != "" {
		return q.ClosureMessage
	}
	return r.DefaultClosureMessage
}
