package queue

import "time"

// Queue owns ordered transfer destinations and a weekly hours calendar.
type Queue struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// Timezone is an IANA zone name; hours and holidays are evaluated in
	// queue-local time.
	Timezone string `json:"timezone" db:"timezone"`

	// ClosureMessage overrides the system-wide closure message when set.
	ClosureMessage string `json:"closure_message,omitempty" db:"closure_message"`
}

// TransferRouting is one candidate live-transfer destination for a queue.
// Candidates are filtered by operating mode and tried in priority order
// (ascending); the first match wins.
type TransferRouting struct {
	ID      string `json:"id" db:"id"`
	QueueID string `json:"queue_id" db:"queue_id"`

	// Priority ascending; lower is tried first.
	Priority int `json:"priority" db:"priority"`

	// Mode restricts the candidate to one operating mode; empty matches any.
	Mode string `json:"mode,omitempty" db:"mode"`

	// Destination is the dial target: a PSTN number or sip: URI.
	Destination string `json:"destination" db:"destination"`

	Description string `json:"description,omitempty" db:"description"`
}

// Hours is one weekly open interval, local to the queue's timezone.
// A weekday with no Hours row is closed.
type Hours struct {
	QueueID string       `json:"queue_id" db:"queue_id"`
	Weekday time.Weekday `json:"weekday" db:"weekday"`

	// OpenMinute/CloseMinute are minutes since local midnight; the interval
	// is [open, close).
	OpenMinute  int `json:"open_minute" db:"open_minute"`
	CloseMinute int `json:"close_minute" db:"close_minute"`
}

// Holiday closes the queue for the entire local day, regardless of hours.
type Holiday struct {
	QueueID string `json:"queue_id" db:"queue_id"`

	// Date is the local calendar date, formatted 2006-01-02.
	Date string `json:"date" db:"date"`

	Name string `json:"name,omitempty" db:"name"`
}
