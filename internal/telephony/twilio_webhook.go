package telephony

import (
	"net/http"
	"strings"

	"callflow/internal/calls"
)

// TwilioVoiceForm captures the subset of voice webhook fields the engine
// needs. Twilio sends application/x-www-form-urlencoded by default.
type TwilioVoiceForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Digits     string
	CallStatus string
}

func ParseTwilioVoice(r *http.Request) (TwilioVoiceForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioVoiceForm{}, err
	}
	return TwilioVoiceForm{
		CallSid:    r.PostFormValue("CallSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       strings.TrimSpace(r.PostFormValue("From")),
		To:         strings.TrimSpace(r.PostFormValue("To")),
		Digits:     strings.TrimSpace(r.PostFormValue("Digits")),
		CallStatus: r.PostFormValue("CallStatus"),
	}, nil
}

// Fingerprint identifies this delivery for replay detection. Twilio stamps
// redeliveries with the same idempotency token. No token means no replay
// detection: anything derived from the form fields repeats whenever the
// caller legitimately enters the same digits twice, and a colliding
// fingerprint swallows the second turn. The per-call lock still serializes
// concurrent deliveries.
func (f TwilioVoiceForm) Fingerprint(r *http.Request) string {
	return r.Header.Get("I-Twilio-Idempotency-Token")
}

func (f TwilioVoiceForm) ToInbound(fingerprint string) calls.Inbound {
	return calls.Inbound{
		System:          "twilio",
		SystemContactID: f.CallSid,
		ANI:             f.From,
		DNIS:            f.To,
		Input:           f.Digits,
		Fingerprint:     fingerprint,
	}
}
