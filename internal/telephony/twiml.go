package telephony

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"

	"callflow/internal/calls"
	"callflow/internal/exitpath"
)

// Minimal TwiML builder. No provider SDK dependency; only the verbs the
// adapter boundary needs.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName   xml.Name `xml:"Gather"`
	Action    string   `xml:"action,attr,omitempty"`
	Method    string   `xml:"method,attr,omitempty"`
	NumDigits int      `xml:"numDigits,attr,omitempty"`
	Say       *twimlSay
}

type twimlDial struct {
	XMLName xml.Name `xml:"Dial"`
	Number  string   `xml:"Number,omitempty"`
}

type twimlEnqueue struct {
	XMLName xml.Name `xml:"Enqueue"`
	Queue   string   `xml:",chardata"`
	Task    *twimlTask
}

type twimlTask struct {
	XMLName xml.Name `xml:"Task"`
	JSON    string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	URL     string   `xml:",chardata"`
}

// VoiceRenderer maps orchestrator responses to TwiML documents.
type VoiceRenderer struct {
	// ContinueURL is the webhook Gather posts the collected digits to.
	ContinueURL string

	// GreetingURL resolves a greeting id to a playable media URL. Nil skips
	// greetings.
	GreetingURL func(greetingID string) string
}

// Render builds the TwiML for one turn response.
func (r VoiceRenderer) Render(resp calls.Response) (string, error) {
	var doc twimlResponse

	if resp.GreetingID != "" && r.GreetingURL != nil {
		doc.Verbs = append(doc.Verbs, twimlPlay{URL: r.GreetingURL(resp.GreetingID)})
	}

	prompts := resp.Prompts
	// The gather prompt is announced inside the Gather verb; drop the
	// trailing duplicate from the spoken run-up.
	if resp.Gather != nil && len(prompts) > 0 && prompts[len(prompts)-1] == resp.Gather.Prompt {
		prompts = prompts[:len(prompts)-1]
	}
	for _, p := range prompts {
		if p != "" {
			doc.Verbs = append(doc.Verbs, twimlSay{Text: p})
		}
	}

	if resp.Gather != nil {
		doc.Verbs = append(doc.Verbs, twimlGather{
			Action:    r.ContinueURL,
			Method:    "POST",
			NumDigits: resp.Gather.NumDigits,
			Say:       &twimlSay{Text: resp.Gather.Prompt},
		})
		// No input at all: re-enter the continue webhook so the engine can
		// count the empty turn against the step's retries.
		doc.Verbs = append(doc.Verbs, twimlRedirect{URL: r.ContinueURL})
		return encodeTwiML(doc)
	}

	if resp.Instruction == nil {
		if len(doc.Verbs) == 0 {
			return "", errors.New("telephony: empty voice response")
		}
		return encodeTwiML(doc)
	}

	ins := *resp.Instruction
	if ins.Message != "" && !spoken(prompts, ins.Message) {
		doc.Verbs = append(doc.Verbs, twimlSay{Text: ins.Message})
	}
	switch ins.Kind {
	case exitpath.InstructionHangup:
		doc.Verbs = append(doc.Verbs, twimlHangup{})
	case exitpath.InstructionDial:
		doc.Verbs = append(doc.Verbs, twimlDial{Number: ins.Destination})
	case exitpath.InstructionEnqueue:
		enq := twimlEnqueue{Queue: ins.QueueID}
		task := map[string]any{"screen_pop_url": ins.ScreenPopURL}
		for k, v := range ins.Metadata {
			task[k] = v
		}
		if b, err := json.Marshal(task); err == nil {
			enq.Task = &twimlTask{JSON: string(b)}
		}
		doc.Verbs = append(doc.Verbs, enq)
	default:
		return "", errors.New("telephony: unknown instruction kind")
	}
	return encodeTwiML(doc)
}

func spoken(prompts []string, msg string) bool {
	for _, p := range prompts {
		if p == msg {
			return true
		}
	}
	return false
}

func encodeTwiML(doc twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
