package routing

// InboundRouting maps an inbound target (DNIS) to a workflow, greeting and
// initial queue. Multiple rows may share a target; the highest priority
// active row wins.
type InboundRouting struct {
	ID string `json:"id" db:"id"`

	// DNIS is the dialed number / inbound target this routing applies to.
	DNIS string `json:"dnis" db:"dnis"`

	// WorkflowTag addresses a versioned workflow snapshot; "active" selects
	// the current pointer.
	WorkflowTag string `json:"workflow_tag" db:"workflow_tag"`

	GreetingID     string `json:"greeting_id,omitempty" db:"greeting_id"`
	InitialQueueID string `json:"initial_queue_id" db:"initial_queue_id"`

	// Priority descending; highest wins. Ties break on InitialQueueID
	// descending. Incidental but relied-upon ordering, keep it.
	Priority int `json:"priority" db:"priority"`

	Active bool `json:"active" db:"active"`

	// Admin routings are reachable only by recognized admin callers.
	Admin bool `json:"admin" db:"admin"`

	// Mode restricts the routing to one operating mode; empty matches any.
	Mode string `json:"mode,omitempty" db:"mode"`
}
