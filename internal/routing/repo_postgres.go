package routing

import (
	"context"
	"database/sql"
)

// PostgresStore reads inbound routings.
//
// Assumed schema: inbound_routings. The resolver filters and orders in
// memory; candidate sets per DNIS are small.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ListActive(ctx context.Context, dnis string) ([]InboundRouting, error) {
	const q = `
SELECT id, dnis, workflow_tag, COALESCE(greeting_id, ''), COALESCE(initial_queue_id, ''),
       priority, active, admin, COALESCE(mode, '')
FROM inbound_routings
WHERE dnis = $1 AND active
`
	rows, err := s.db.QueryContext(ctx, q, dnis)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InboundRouting
	for rows.Next() {
		var r InboundRouting
		if err := rows.Scan(
			&r.ID, &r.DNIS, &r.WorkflowTag, &r.GreetingID, &r.InitialQueueID,
			&r.Priority, &r.Active, &r.Admin, &r.Mode,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
