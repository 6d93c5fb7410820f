package exitpath

import (
	"encoding/json"
	"fmt"
)

// ExitPath is the terminal/transfer outcome a workflow resolves to.
//
// It is a closed sum over Kind with explicit per-variant fields and an
// explicit (type, params) serializer for storage in step configuration.
type ExitPath struct {
	Kind Kind `json:"kind"`

	// Message is an optional farewell/closure prompt played before the
	// terminal action.
	Message string `json:"message,omitempty"`

	// QueueID names the transfer queue for KindTransfer. KindCurrentQueue
	// uses the run's current queue pointer instead.
	QueueID string `json:"queue_id,omitempty"`

	// WorkflowTag and CarrySessionKeys drive KindWorkflowHandoff: a new leg
	// and run are opened against the tagged workflow, carrying forward the
	// named session keys (all keys when empty).
	WorkflowTag      string   `json:"workflow_tag,omitempty"`
	CarrySessionKeys []string `json:"carry_session_keys,omitempty"`
}

type Kind string

const (
	KindHangUp          Kind = "hang_up"
	KindCurrentQueue    Kind = "current_queue"
	KindTransfer        Kind = "transfer"
	KindWorkflowHandoff Kind = "workflow_handoff"
)

// DispositionType is the fully-qualified identifier recorded on the closed leg.
func (e ExitPath) DispositionType() string { return "exit." + string(e.Kind) }

// Parse decodes a stored (type, params) pair into an ExitPath.
func Parse(kind string, params map[string]any) (ExitPath, error) {
	e := ExitPath{Kind: Kind(kind)}
	switch e.Kind {
	case KindHangUp, KindCurrentQueue, KindTransfer, KindWorkflowHandoff:
	default:
		return ExitPath{}, fmt.Errorf("exitpath: unknown kind %q", kind)
	}

	if v, ok := params["message"].(string); ok {
		e.Message = v
	}
	if v, ok := params["queue_id"].(string); ok {
		e.QueueID = v
	}
	if v, ok := params["workflow_tag"].(string); ok {
		e.WorkflowTag = v
	}
	if v, ok := params["carry_session_keys"].([]any); ok {
		for _, k := range v {
			if s, ok := k.(string); ok {
				e.CarrySessionKeys = append(e.CarrySessionKeys, s)
			}
		}
	}

	if e.Kind == KindTransfer && e.QueueID == "" {
		return ExitPath{}, fmt.Errorf("exitpath: transfer requires queue_id")
	}
	if e.Kind == KindWorkflowHandoff && e.WorkflowTag == "" {
		return ExitPath{}, fmt.Errorf("exitpath: workflow_handoff requires workflow_tag")
	}
	return e, nil
}

// Encode is the inverse of Parse.
func (e ExitPath) Encode() (string, map[string]any) {
	params := map[string]any{}
	if e.Message != "" {
		params["message"] = e.Message
	}
	if e.QueueID != "" {
		params["queue_id"] = e.QueueID
	}
	if e.WorkflowTag != "" {
		params["workflow_tag"] = e.WorkflowTag
	}
	if len(e.CarrySessionKeys) > 0 {
		keys := make([]any, 0, len(e.CarrySessionKeys))
		for _, k := range e.CarrySessionKeys {
			keys = append(keys, k)
		}
		params["carry_session_keys"] = keys
	}
	return string(e.Kind), params
}

// ParamsJSON renders disposition parameters for audit.
func ParamsJSON(pairs map[string]string) string {
	if len(pairs) == 0 {
		return "{}"
	}
	b, err := json.Marshal(pairs)
	if err != nil {
		return "{}"
	}
	return string(b)
}
