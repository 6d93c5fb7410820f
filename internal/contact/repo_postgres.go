package contact

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callflow/pkg/utils"

	"github.com/google/uuid"
)

// PostgresStore persists contacts and legs.
//
// Assumed schema:
//   - contacts (unique (system, system_contact_id))
//   - contact_legs with a partial unique index enforcing one open leg:
//     UNIQUE (system, system_contact_id) WHERE ended_at IS NULL
//
// The open-leg invariant is enforced twice: a FOR UPDATE lookup inside the
// opening transaction, and the partial unique index as a backstop against
// races the lookup cannot see.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, c Contact) (Contact, error) {
	if c.System == "" || c.SystemContactID == "" {
		return Contact{}, ErrInvalidArgument
	}

	var out Contact
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		existing, ok, err := findBySystemIDTx(ctx, tx, c.System, c.SystemContactID)
		if err != nil {
			return err
		}
		if ok {
			out = existing
			return nil
		}

		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		now := time.Now().UTC()
		c.CreatedAt, c.UpdatedAt = now, now

		const q = `
INSERT INTO contacts (id, system, system_contact_id, ani, dnis, type, session_blob, admin_call_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
`
		if _, err := tx.ExecContext(ctx, q,
			c.ID, c.System, c.SystemContactID, c.ANI, c.DNIS, c.Type, c.SessionBlob, c.AdminCallID, c.CreatedAt, c.UpdatedAt,
		); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Contact, error) {
	const q = `
SELECT id, system, system_contact_id, ani, dnis, type, session_blob, COALESCE(admin_call_id, ''), created_at, updated_at
FROM contacts
WHERE id = $1
`
	var c Contact
	if err := s.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID, &c.System, &c.SystemContactID, &c.ANI, &c.DNIS, &c.Type, &c.SessionBlob, &c.AdminCallID, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	return c, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, contactID string, blob []byte, now time.Time) error {
	const q = `UPDATE contacts SET session_blob = $1, updated_at = $2 WHERE id = $3`
	res, err := s.db.ExecContext(ctx, q, blob, now.UTC(), contactID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LinkAdminCall(ctx context.Context, contactID, adminCallID string) error {
	const q = `UPDATE contacts SET admin_call_id = $1, updated_at = now() WHERE id = $2`
	res, err := s.db.ExecContext(ctx, q, adminCallID, contactID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Purge removes a contact and its legs. Administrative use only.
func (s *PostgresStore) Purge(ctx context.Context, contactID string) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM contact_legs WHERE contact_id = $1`, contactID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1`, contactID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *PostgresStore) OpenLeg(ctx context.Context, leg Leg) (Leg, error) {
	if leg.ContactID == "" || leg.System == "" || leg.SystemContactID == "" {
		return Leg{}, ErrInvalidArgument
	}
	if leg.ID == "" {
		leg.ID = uuid.NewString()
	}
	if leg.StartedAt.IsZero() {
		leg.StartedAt = time.Now().UTC()
	}

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Serialize against concurrent opens for the same vendor call.
		const lock = `
SELECT id FROM contact_legs
WHERE system = $1 AND system_contact_id = $2 AND ended_at IS NULL
FOR UPDATE
`
		var existing string
		err := tx.QueryRowContext(ctx, lock, leg.System, leg.SystemContactID).Scan(&existing)
		switch {
		case err == nil:
			return ErrLegAlreadyOpen
		case errors.Is(err, sql.ErrNoRows):
			// fall through to insert
		default:
			return err
		}

		const q = `
INSERT INTO contact_legs (id, contact_id, system, system_contact_id, ani, dnis, initial_queue_id, inbound_routing_id, started_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
`
		_, err = tx.ExecContext(ctx, q,
			leg.ID, leg.ContactID, leg.System, leg.SystemContactID, leg.ANI, leg.DNIS,
			leg.InitialQueueID, leg.InboundRoutingID, leg.StartedAt,
		)
		return err
	})
	if err != nil {
		return Leg{}, err
	}
	return leg, nil
}

func (s *PostgresStore) GetLeg(ctx context.Context, legID string) (Leg, error) {
	row := s.db.QueryRowContext(ctx, selectLeg+` WHERE id = $1`, legID)
	return scanLeg(row)
}

func (s *PostgresStore) FindOpenLeg(ctx context.Context, system, systemContactID string) (Leg, bool, error) {
	row := s.db.QueryRowContext(ctx, selectLeg+` WHERE system = $1 AND system_contact_id = $2 AND ended_at IS NULL`, system, systemContactID)
	leg, err := scanLeg(row)
	if errors.Is(err, ErrNotFound) {
		return Leg{}, false, nil
	}
	if err != nil {
		return Leg{}, false, err
	}
	return leg, true, nil
}

func (s *PostgresStore) CloseLeg(ctx context.Context, legID string, disp Disposition, endedAt time.Time) (bool, error) {
	// ended_at IS NULL makes the close idempotent: a second attempt matches
	// zero rows and reports closed=false.
	const q = `
UPDATE contact_legs
SET ended_at = $1, disposition_type = $2, disposition_params = $3, transfer_routing_id = NULLIF($4, '')
WHERE id = $5 AND ended_at IS NULL
`
	res, err := s.db.ExecContext(ctx, q, endedAt.UTC(), disp.Type, disp.Params, disp.TransferRoutingID, legID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const selectLeg = `
SELECT id, contact_id, system, system_contact_id, ani, dnis,
       COALESCE(initial_queue_id, ''), COALESCE(inbound_routing_id, ''), COALESCE(transfer_routing_id, ''),
       COALESCE(disposition_type, ''), COALESCE(disposition_params, ''), started_at, ended_at
FROM contact_legs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLeg(row rowScanner) (Leg, error) {
	var l Leg
	var endedAt sql.NullTime
	if err := row.Scan(
		&l.ID, &l.ContactID, &l.System, &l.SystemContactID, &l.ANI, &l.DNIS,
		&l.InitialQueueID, &l.InboundRoutingID, &l.TransferRoutingID,
		&l.DispositionType, &l.DispositionParams, &l.StartedAt, &endedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Leg{}, ErrNotFound
		}
		return Leg{}, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		l.EndedAt = &t
	}
	return l, nil
}

func findBySystemIDTx(ctx context.Context, tx *sql.Tx, system, systemContactID string) (Contact, bool, error) {
	const q = `
SELECT id, system, system_contact_id, ani, dnis, type, session_blob, COALESCE(admin_call_id, ''), created_at, updated_at
FROM contacts
WHERE system = $1 AND system_contact_id = $2
FOR UPDATE
`
	var c Contact
	err := tx.QueryRowContext(ctx, q, system, systemContactID).Scan(
		&c.ID, &c.System, &c.SystemContactID, &c.ANI, &c.DNIS, &c.Type, &c.SessionBlob, &c.AdminCallID, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, false, nil
	}
	if err != nil {
		return Contact{}, false, err
	}
	return c, true, nil
}
