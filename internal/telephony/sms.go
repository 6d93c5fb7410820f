package telephony

import (
	"callflow/internal/calls"
)

// SMSRequest is the inbound envelope for text conversations. The SMS
// aggregator posts JSON rather than form data.
type SMSRequest struct {
	ThreadID    string `json:"thread_id" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
	Target      string `json:"target"`
	Input       string `json:"input"`

	// DeliveryID is the aggregator's message id, reused on redelivery.
	DeliveryID string `json:"delivery_id"`
}

// SMSResponse is the outbound envelope.
type SMSResponse struct {
	Error     bool     `json:"error"`
	TextArray []string `json:"text_array"`
	Finished  bool     `json:"finished"`
}

// Fingerprint is the aggregator's delivery id, or empty when the aggregator
// does not send one. Replay detection is keyed on the delivery, never on the
// message text: two distinct turns can carry identical input.
func (r SMSRequest) Fingerprint() string {
	return r.DeliveryID
}

func (r SMSRequest) ToInbound() calls.Inbound {
	return calls.Inbound{
		System:          "sms",
		SystemContactID: r.ThreadID,
		ANI:             r.PhoneNumber,
		DNIS:            r.Target,
		Input:           r.Input,
		Fingerprint:     r.Fingerprint(),
		SMS:             true,
	}
}

// RenderSMS flattens a turn response into the SMS envelope. Terminal
// messages ride in the text array; the instruction itself has no SMS
// equivalent beyond ending the thread.
func RenderSMS(resp calls.Response) SMSResponse {
	texts := make([]string, 0, len(resp.Prompts)+1)
	texts = append(texts, resp.Prompts...)
	if resp.Instruction != nil && resp.Instruction.Message != "" && !spoken(resp.Prompts, resp.Instruction.Message) {
		texts = append(texts, resp.Instruction.Message)
	}
	return SMSResponse{
		Error:     resp.Error,
		TextArray: texts,
		Finished:  resp.Finished,
	}
}
