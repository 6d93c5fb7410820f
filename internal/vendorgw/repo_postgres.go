package vendorgw

import (
	"context"
	"database/sql"
)

// PostgresRepo persists vendor audit records.
//
// Storage recommendation:
// - Table vendor_responses with an INSERT-only policy.
// - Optional: partition by created_at for retention.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, rec Record) error {
	const q = `
INSERT INTO vendor_responses (id, vendor, request_name, elapsed_ms, status, headers, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.Vendor, rec.RequestName, rec.ElapsedMS, rec.Status, rec.Headers, rec.Error, rec.CreatedAt,
	)
	return err
}
