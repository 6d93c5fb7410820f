package contact

import "time"

// Contact is the persistent identity of one caller or SMS thread.
//
// Session data is stored encrypted; business logic only ever sees the
// decrypted map (internal/session). Contacts are created on first inbound
// event and never deleted except by explicit administrative purge.
type Contact struct {
	ID string `json:"id" db:"id"`

	// System + SystemContactID identify the vendor-side conversation:
	// vendor name plus the vendor's call sid or message thread id.
	System          string `json:"system" db:"system"`
	SystemContactID string `json:"system_contact_id" db:"system_contact_id"`

	// ANI is the caller's device identifier, DNIS the dialed target.
	ANI  string `json:"ani" db:"ani"`
	DNIS string `json:"dnis" db:"dnis"`

	Type Type `json:"type" db:"type"`

	// SessionBlob is the encrypted session JSON. For SMS the contact-level
	// copy mirrors the run-level session so continuity survives a workflow
	// hand-off.
	SessionBlob []byte `json:"-" db:"session_blob"`

	// AdminCallID links operator-initiated contacts to their admin call.
	AdminCallID string `json:"admin_call_id,omitempty" db:"admin_call_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Type string

const (
	TypeVoice Type = "voice"
	TypeSMS   Type = "sms"
)

// Leg is one bounded execution segment of a Contact bound to one workflow run.
//
// Invariant: at most one leg with a null end time per
// (system, system_contact_id) pair. Legs are closed exactly once, by the
// exit-path dispatcher; a second close attempt is a no-op.
type Leg struct {
	ID        string `json:"id" db:"id"`
	ContactID string `json:"contact_id" db:"contact_id"`

	System          string `json:"system" db:"system"`
	SystemContactID string `json:"system_contact_id" db:"system_contact_id"`

	ANI  string `json:"ani" db:"ani"`
	DNIS string `json:"dnis" db:"dnis"`

	InitialQueueID   string `json:"initial_queue_id,omitempty" db:"initial_queue_id"`
	InboundRoutingID string `json:"inbound_routing_id,omitempty" db:"inbound_routing_id"`

	// TransferRoutingID is set when the leg ended in a live transfer.
	TransferRoutingID string `json:"transfer_routing_id,omitempty" db:"transfer_routing_id"`

	// DispositionType is the fully-qualified exit-path identifier recorded
	// at close; DispositionParams carries audit detail such as the operating
	// mode at exit, as JSON.
	DispositionType   string `json:"disposition_type,omitempty" db:"disposition_type"`
	DispositionParams string `json:"disposition_params,omitempty" db:"disposition_params"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

func (l Leg) Open() bool { return l.EndedAt == nil }
