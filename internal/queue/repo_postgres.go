package queue

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore reads queues and their calendars.
//
// Assumed schema: queues, queue_transfer_routings, queue_hours,
// queue_holidays (date stored as a local calendar date string).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetQueue(ctx context.Context, id string) (Queue, error) {
	const q = `
SELECT id, name, timezone, COALESCE(closure_message, '')
FROM queues
WHERE id = $1
`
	var out Queue
	err := s.db.QueryRowContext(ctx, q, id).Scan(&out.ID, &out.Name, &out.Timezone, &out.ClosureMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return Queue{}, ErrNotFound
	}
	if err != nil {
		return Queue{}, err
	}
	return out, nil
}

func (s *PostgresStore) ListTransferRoutings(ctx context.Context, queueID string) ([]TransferRouting, error) {
	const q = `
SELECT id, queue_id, priority, COALESCE(mode, ''), destination, COALESCE(description, '')
FROM queue_transfer_routings
WHERE queue_id = $1
ORDER BY priority
`
	rows, err := s.db.QueryContext(ctx, q, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransferRouting
	for rows.Next() {
		var t TransferRouting
		if err := rows.Scan(&t.ID, &t.QueueID, &t.Priority, &t.Mode, &t.Destination, &t.Description); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListHours(ctx context.Context, queueID string) ([]Hours, error) {
	const q = `
SELECT queue_id, weekday, open_minute, close_minute
FROM queue_hours
WHERE queue_id = $1
`
	rows, err := s.db.QueryContext(ctx, q, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Hours
	for rows.Next() {
		var h Hours
		if err := rows.Scan(&h.QueueID, &h.Weekday, &h.OpenMinute, &h.CloseMinute); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListHolidays(ctx context.Context, queueID string) ([]Holiday, error) {
	const q = `
SELECT queue_id, date, COALESCE(name, '')
FROM queue_holidays
WHERE queue_id = $1
`
	rows, err := s.db.QueryContext(ctx, q, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Holiday
	for rows.Next() {
		var h Holiday
		if err := rows.Scan(&h.QueueID, &h.Date, &h.Name); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
