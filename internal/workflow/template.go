package workflow

import (
	"fmt"
	"regexp"
	"strconv"

	"callflow/internal/session"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Prompt templates support two namespaces and nothing else. This is a
// lookup resolver, not a template language:
//
//	{session.<key>}                          session map values
//	{step[<branch>:<step-name>].<field>.<path>}  prior step outputs
var placeholderRe = regexp.MustCompile(`\{(?:session\.([^}\s]+)|step\[([^\]:]+):([^\]]+)\]\.([^}\s]+))\}`)

// ResolveTemplate substitutes placeholders against the session map and the
// run's step-outputs document. Unresolvable placeholders render empty.
func ResolveTemplate(tmpl string, sess session.Map, outputsJSON string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		parts := placeholderRe.FindStringSubmatch(m)
		if parts == nil {
			return ""
		}
		if parts[1] != "" {
			return sessionValue(sess, parts[1])
		}
		path := parts[2] + "." + parts[3] + "." + parts[4]
		return gjson.Get(outputsJSON, path).String()
	})
}

func sessionValue(sess session.Map, key string) string {
	v, ok := sess[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// appendOutput records a step's input and result under
// <branch>.<step-name> in the outputs document.
func appendOutput(outputsJSON, branch, stepName, inputJSON, resultJSON string) string {
	if outputsJSON == "" {
		outputsJSON = "{}"
	}
	entry := "{}"
	if inputJSON != "" {
		entry, _ = sjson.SetRaw(entry, "input", inputJSON)
	}
	if resultJSON != "" {
		entry, _ = sjson.SetRaw(entry, "result", resultJSON)
	}
	out, err := sjson.SetRaw(outputsJSON, branch+"."+stepName, entry)
	if err != nil {
		return outputsJSON
	}
	return out
}
