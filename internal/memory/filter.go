package memory

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ent0n29/runcoach/internal/store"
)

const (
	DefaultContextLimit = 10
	// MinAssistantRunes is the shortest assistant reply worth replaying.
	MinAssistantRunes = 50
)

// Rule reports whether a stored message should be left out of model context.
type Rule func(store.Message) bool

// FailedTurn drops failure replies and the messages that mention errors.
func FailedTurn(m store.Message) bool {
	lower := strings.ToLower(m.Content)
	return strings.Contains(lower, "error") || strings.Contains(lower, "sorry")
}

// ShortAcknowledgement drops low-information assistant replies.
func ShortAcknowledgement(m store.Message) bool {
	return m.Role == store.RoleAssistant && utf8.RuneCountInString(m.Content) < MinAssistantRunes
}

// PlanDump drops assistant replies that carried a plan document; the current
// plan reaches the model through its summary instead.
func PlanDump(m store.Message) bool {
	return m.Role == store.RoleAssistant && strings.Contains(strings.ToUpper(m.Content), "PLAN")
}

func DefaultRules() []Rule {
	return []Rule{FailedTurn, ShortAcknowledgement, PlanDump}
}

// Filter selects the bounded slice of history replayed to the model.
type Filter struct {
	messages store.MessageStore
	rules    []Rule
}

func NewFilter(messages store.MessageStore, rules ...Rule) *Filter {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Filter{messages: messages, rules: rules}
}

// Select returns up to limit of the client's most recent qualifying messages,
// oldest first. A non-positive limit uses DefaultContextLimit.
func (f *Filter) Select(ctx context.Context, clientID string, limit int) ([]store.Message, error) {
	all, err := f.messages.ListMessages(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return Apply(all, limit, f.rules), nil
}

// Apply runs the exclusion rules over msgs and keeps the newest limit
// survivors in their original order. A message matching any rule is excluded.
func Apply(msgs []store.Message, limit int, rules []Rule) []store.Message {
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	kept := make([]store.Message, 0, min(limit, len(msgs)))
	for i := len(msgs) - 1; i >= 0 && len(kept) < limit; i-- {
		if excluded(msgs[i], rules) {
			continue
		}
		kept = append(kept, msgs[i])
	}
	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

func excluded(m store.Message, rules []Rule) bool {
	for _, rule := range rules {
		if rule(m) {
			return true
		}
	}
	return false
}
