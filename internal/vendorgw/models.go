package vendorgw

import "time"

// Record is an immutable, append-only audit row for one outbound vendor call.
//
// Invariants:
// - Records are never updated or deleted after insert.
// - One record per attempt, success or failure, recovered or not.
// - Audit capture is best-effort; it must never block or fail the caller's
//   critical path.
type Record struct {
	ID string `json:"id" db:"id"`

	// Vendor names the external service; RequestName the logical operation.
	Vendor      string `json:"vendor" db:"vendor"`
	RequestName string `json:"request_name" db:"request_name"`

	ElapsedMS int64 `json:"elapsed_ms" db:"elapsed_ms"`

	// Status is the HTTP status, 0 when the request never completed.
	Status int `json:"status" db:"status"`

	// Headers is the response header set, JSON-encoded.
	Headers string `json:"headers,omitempty" db:"headers"`

	// Error is empty on success.
	Error string `json:"error,omitempty" db:"error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
