package coach

import (
	"strings"
	"unicode/utf8"

	"github.com/ent0n29/runcoach/internal/llm"
	"github.com/ent0n29/runcoach/internal/plan"
)

// replyGate forwards streamed text until the plan marker shows up. The last
// few bytes are held back so a marker split across deltas is never leaked.
type replyGate struct {
	out  llm.DeltaHandler
	buf  strings.Builder
	sent int
	done bool
}

func (g *replyGate) Write(delta string) error {
	if g.done {
		return nil
	}
	g.buf.WriteString(delta)
	text := g.buf.String()

	// A marker alone on the last line only counts once its line is complete.
	idx := plan.MarkerIndex(text)
	if idx >= 0 && strings.ContainsAny(text[idx+len(plan.Marker):], "\n{`") {
		g.done = true
		return g.emit(text, idx)
	}
	// A marker or a fence opening may still be forming at the tail.
	safe := len(text) - len(plan.Marker) - 1
	if idx >= 0 {
		safe = min(safe, idx)
	}
	if cut := strings.Index(text[g.sent:], "```"); cut >= 0 {
		safe = min(safe, g.sent+cut)
	}
	for safe > g.sent && safe < len(text) && !utf8.RuneStart(text[safe]) {
		safe--
	}
	return g.emit(text, safe)
}

// Flush sends whatever was held back once generation has finished.
func (g *replyGate) Flush() error {
	if g.done {
		return nil
	}
	g.done = true
	text := g.buf.String()
	end := len(text)
	if idx := plan.MarkerIndex(text); idx >= 0 {
		end = idx
	} else if plan.Extract(text).Payload != nil {
		// Unmarked plan object: stop at its fence or opening brace.
		if i := strings.Index(text, "```"); i >= 0 {
			end = i
		} else if i := strings.IndexByte(text, '{'); i >= 0 {
			end = i
		}
	}
	return g.emit(text, end)
}

func (g *replyGate) emit(text string, end int) error {
	if end <= g.sent {
		return nil
	}
	chunk := text[g.sent:end]
	g.sent = end
	if chunk == "" {
		return nil
	}
	return g.out(chunk)
}
