package admincall

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists admin users, shortcut codes, scheduled calls and
// admin calls.
//
// Assumed schema: admin_users, shortcut_codes (pk code), scheduled_calls,
// admin_calls.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindUserByPhone(ctx context.Context, phone string) (AdminUser, bool, error) {
	const q = selectUser + ` WHERE phone = $1 AND active`
	u, err := scanUser(s.db.QueryRowContext(ctx, q, phone))
	if errors.Is(err, ErrNotFound) {
		return AdminUser{}, false, nil
	}
	if err != nil {
		return AdminUser{}, false, err
	}
	return u, true, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (AdminUser, error) {
	return scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE id = $1`, id))
}

func (s *PostgresStore) FindShortcut(ctx context.Context, code string) (ShortcutCode, bool, error) {
	const q = `SELECT code, number FROM shortcut_codes WHERE code = $1`
	var sc ShortcutCode
	err := s.db.QueryRowContext(ctx, q, code).Scan(&sc.Code, &sc.Number)
	if errors.Is(err, sql.ErrNoRows) {
		return ShortcutCode{}, false, nil
	}
	if err != nil {
		return ShortcutCode{}, false, err
	}
	return sc, true, nil
}

func (s *PostgresStore) FindPendingScheduledCall(ctx context.Context, adminUserID string) (ScheduledCall, bool, error) {
	const q = `
SELECT id, admin_user_id, ani, dnis, priority
FROM scheduled_calls
WHERE admin_user_id = $1 AND used_at IS NULL
ORDER BY created_at
LIMIT 1
`
	var sc ScheduledCall
	err := s.db.QueryRowContext(ctx, q, adminUserID).Scan(&sc.ID, &sc.AdminUserID, &sc.ANI, &sc.DNIS, &sc.Priority)
	if errors.Is(err, sql.ErrNoRows) {
		return ScheduledCall{}, false, nil
	}
	if err != nil {
		return ScheduledCall{}, false, err
	}
	return sc, true, nil
}

func (s *PostgresStore) ConsumeScheduledCall(ctx context.Context, id string) error {
	// used_at IS NULL guards against double consumption.
	const q = `UPDATE scheduled_calls SET used_at = $1 WHERE id = $2 AND used_at IS NULL`
	res, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
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

func (s *PostgresStore) CreateCall(ctx context.Context, c Call) (Call, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	const q = `
INSERT INTO admin_calls (id, admin_user_id, contact_id, state, ani, dnis, priority, scheduled_call_id, retry_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)
`
	_, err := s.db.ExecContext(ctx, q,
		c.ID, c.AdminUserID, c.ContactID, c.State, c.ANI, c.DNIS, c.Priority,
		c.ScheduledCallID, c.RetryCount, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return Call{}, err
	}
	return c, nil
}

func (s *PostgresStore) GetCall(ctx context.Context, id string) (Call, error) {
	const q = `
SELECT id, admin_user_id, contact_id, state, ani, dnis, priority, COALESCE(scheduled_call_id, ''), retry_count, created_at, updated_at
FROM admin_calls
WHERE id = $1
`
	var c Call
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID, &c.AdminUserID, &c.ContactID, &c.State, &c.ANI, &c.DNIS, &c.Priority,
		&c.ScheduledCallID, &c.RetryCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, err
	}
	return c, nil
}

func (s *PostgresStore) SaveCall(ctx context.Context, c Call) error {
	const q = `
UPDATE admin_calls
SET state = $1, ani = $2, dnis = $3, priority = $4, scheduled_call_id = NULLIF($5, ''), retry_count = $6, updated_at = $7
WHERE id = $8
`
	res, err := s.db.ExecContext(ctx, q,
		c.State, c.ANI, c.DNIS, c.Priority, c.ScheduledCallID, c.RetryCount, c.UpdatedAt, c.ID,
	)
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

const selectUser = `
SELECT id, name, phone, pin, active
FROM admin_users`

func scanUser(row *sql.Row) (AdminUser, error) {
	var u AdminUser
	err := row.Scan(&u.ID, &u.Name, &u.Phone, &u.PIN, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return AdminUser{}, ErrNotFound
	}
	if err != nil {
		return AdminUser{}, err
	}
	return u, nil
}
