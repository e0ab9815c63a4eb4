package plan

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Marker separates the conversational explanation from the embedded plan
// payload in a generated reply.
const Marker = "PLAN"

// markerPattern accepts PLAN alone on its line (optionally with a colon) or
// directly followed by a fence or an opening brace. A PLAN inside ordinary
// prose is not a marker.
var markerPattern = regexp.MustCompile("(?m)^[ \t]*PLAN[ \t]*:?[ \t]*$|\\bPLAN[ \t]*:?\\s*(?:```|\\{)")

// Extraction is the result of scanning a generated reply.
type Extraction struct {
	// Reply is the user-facing explanation. When a marker is present it is
	// the text before the marker, otherwise the whole reply.
	Reply string
	// Payload is the balanced JSON object that looks like a plan, if any.
	Payload json.RawMessage
	// Expected reports that the reply announced a plan (marker present or a
	// plan-shaped object found). A reply that expected a plan but carries no
	// valid one is malformed rather than conversational.
	Expected bool
}

// Extract splits a generated reply into its explanation and plan payload.
func Extract(text string) Extraction {
	text = strings.TrimSpace(text)
	out := Extraction{Reply: text}

	candidate := text
	if idx := MarkerIndex(text); idx >= 0 {
		out.Expected = true
		out.Reply = strings.TrimSpace(text[:idx])
		candidate = stripFences(text[idx+len(Marker):])
	}

	block, ok := balancedObject(candidate)
	if !ok {
		return out
	}
	if !strings.Contains(block, `"meta"`) && !strings.Contains(block, `"goal"`) {
		return out
	}
	if !strings.Contains(block, `"weeks"`) {
		return out
	}
	out.Expected = true
	out.Payload = json.RawMessage(block)
	if out.Reply == text {
		// No marker: the explanation is whatever precedes the object.
		if idx := strings.Index(text, block); idx >= 0 {
			out.Reply = strings.TrimSpace(stripFences(text[:idx]))
		}
	}
	return out
}

// MarkerIndex returns the byte offset of the first marker's PLAN keyword in
// text, or -1.
func MarkerIndex(text string) int {
	loc := markerPattern.FindStringIndex(text)
	if loc == nil {
		return -1
	}
	return loc[0] + strings.Index(text[loc[0]:loc[1]], Marker)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, ":")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```json")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// balancedObject returns the first top-level {...} block in s. Braces inside
// JSON strings are ignored.
func balancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
