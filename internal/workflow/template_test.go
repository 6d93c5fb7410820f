package workflow

import (
	"testing"

	"callflow/internal/session"
)

func TestResolveTemplateSessionValues(t *testing.T) {
	sess := session.Map{"name": "Ada", "vip": true, "visits": float64(3)}

	cases := []struct {
		tmpl string
		want string
	}{
		{"Hello {session.name}.", "Hello Ada."},
		{"VIP: {session.vip}, visits: {session.visits}", "VIP: true, visits: 3"},
		{"Missing: [{session.nope}]", "Missing: []"},
		{"No placeholders here.", "No placeholders here."},
	}
	for _, c := range cases {
		if got := ResolveTemplate(c.tmpl, sess, "{}"); got != c.want {
			t.Errorf("ResolveTemplate(%q) = %q, want %q", c.tmpl, got, c.want)
		}
	}
}

func TestResolveTemplateStepOutputs(t *testing.T) {
	outputs := appendOutput("{}", "root", "lookup", `{"zip":"60601"}`, `{"city":"Chicago","open":true}`)

	got := ResolveTemplate("Nearest store is in {step[root:lookup].result.city}.", session.Map{}, outputs)
	if got != "Nearest store is in Chicago." {
		t.Fatalf("got %q", got)
	}

	got = ResolveTemplate("You entered {step[root:lookup].input.zip}.", session.Map{}, outputs)
	if got != "You entered 60601." {
		t.Fatalf("got %q", got)
	}
}

func TestAppendOutputAccumulates(t *testing.T) {
	out := appendOutput("{}", "root", "a", "", `{"n":1}`)
	out = appendOutput(out, "root", "b", "", `{"n":2}`)
	out = appendOutput(out, "other", "a", "", `{"n":3}`)

	for tmpl, want := range map[string]string{
		"{step[root:a].result.n}":  "1",
		"{step[root:b].result.n}":  "2",
		"{step[other:a].result.n}": "3",
	} {
		if got := ResolveTemplate(tmpl, session.Map{}, out); got != want {
			t.Errorf("%s = %q, want %q", tmpl, got, want)
		}
	}
}
