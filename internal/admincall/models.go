package admincall

import "time"

// State is the fixed progression of an admin-originated call. Transitions
// only ever move forward; pre-seeded scheduled calls skip states whose
// values are already known.
type State string

const (
	StateNew             State = "new"
	StateVerifyPin       State = "verify_pin"
	StateEnterAni        State = "enter_ani"
	StateEnterDnis       State = "enter_dnis"
	StateEnterPriority   State = "enter_priority"
	StateRouteToWorkflow State = "route_to_workflow"
)

// AdminUser is a phone-recognized operator allowed to place test calls.
type AdminUser struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Phone  string `json:"phone" db:"phone"`
	PIN    string `json:"-" db:"pin"`
	Active bool   `json:"active" db:"active"`
}

// ShortcutCode maps a short dialable code to a full number, usable wherever
// an ANI or DNIS is collected.
type ShortcutCode struct {
	Code   string `json:"code" db:"code"`
	Number string `json:"number" db:"number"`
}

// ScheduledCall pre-authorizes a test call with its parameters known in
// advance. Consuming it skips the corresponding collection states.
type ScheduledCall struct {
	ID          string     `json:"id" db:"id"`
	AdminUserID string     `json:"admin_user_id" db:"admin_user_id"`
	ANI         string     `json:"ani" db:"ani"`
	DNIS        string     `json:"dnis" db:"dnis"`
	Priority    int        `json:"priority" db:"priority"`
	UsedAt      *time.Time `json:"used_at,omitempty" db:"used_at"`
}

// Call is one admin call in flight.
type Call struct {
	ID          string `json:"id" db:"id"`
	AdminUserID string `json:"admin_user_id" db:"admin_user_id"`
	ContactID   string `json:"contact_id" db:"contact_id"`

	State State `json:"state" db:"state"`

	ANI      string `json:"ani,omitempty" db:"ani"`
	DNIS     string `json:"dnis,omitempty" db:"dnis"`
	Priority int    `json:"priority" db:"priority"`

	// ScheduledCallID links the consumed pre-authorization, when any.
	ScheduledCallID string `json:"scheduled_call_id,omitempty" db:"scheduled_call_id"`

	// RetryCount tracks invalid inputs within the current state; it resets
	// on every successful transition.
	RetryCount int `json:"retry_count" db:"retry_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
