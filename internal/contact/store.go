package contact

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("contact: not found")
	ErrInvalidArgument = errors.New("contact: invalid argument")
	// ErrLegAlreadyOpen is returned when opening a leg would violate the
	// one-open-leg invariant for a (system, system_contact_id) pair.
	ErrLegAlreadyOpen = errors.New("contact: open leg already exists")
)

// Store is the persistence contract for contacts and legs.
//
// Implementations must uphold:
//   - at most one open leg per (system, system_contact_id);
//   - CloseLeg is idempotent (second close is a no-op, reported via closed=false);
//   - SaveSession persists the encrypted blob as-is.
type Store interface {
	GetOrCreate(ctx context.Context, c Contact) (Contact, error)
	Get(ctx context.Context, id string) (Contact, error)
	SaveSession(ctx context.Context, contactID string, blob []byte, now time.Time) error
	LinkAdminCall(ctx context.Context, contactID, adminCallID string) error
	Purge(ctx context.Context, contactID string) error

	OpenLeg(ctx context.Context, leg Leg) (Leg, error)
	GetLeg(ctx context.Context, legID string) (Leg, error)
	FindOpenLeg(ctx context.Context, system, systemContactID string) (Leg, bool, error)
	CloseLeg(ctx context.Context, legID string, disp Disposition, endedAt time.Time) (closed bool, err error)
}

// Disposition is the recorded outcome of a closed leg.
type Disposition struct {
	Type              string
	Params            string // JSON
	TransferRoutingID string
}
