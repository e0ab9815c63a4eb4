package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/ent0n29/runcoach/internal/store"
)

func longReply(i int) string {
	return fmt.Sprintf("Reply %02d: keep your easy days easy and build mileage gradually each week.", i)
}

func TestSelectReturnsMostRecentQualifying(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()

	// 15 messages, 3 of which match an exclusion rule.
	excludedAt := map[int]string{
		4:  "Sorry, I encountered an error. Please try again.",
		9:  "ok!",
		12: "Here is your plan.\nPLAN\n{\"meta\": {}, \"weeks\": {}} with enough text to be long",
	}
	for i := 0; i < 15; i++ {
		role := store.RoleUser
		content := fmt.Sprintf("user question %02d", i)
		if i%2 == 1 || excludedAt[i] != "" {
			role = store.RoleAssistant
			content = longReply(i)
		}
		if text, ok := excludedAt[i]; ok {
			content = text
		}
		if _, err := s.AppendMessage(ctx, "c1", role, content); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	got, err := NewFilter(s).Select(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("len(Select()) = %d, want 10", len(got))
	}

	all, _ := s.ListMessages(ctx, "c1")
	var qualifying []store.Message
	for i, m := range all {
		if _, skip := excludedAt[i]; !skip {
			qualifying = append(qualifying, m)
		}
	}
	want := qualifying[len(qualifying)-10:]
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Fatalf("Select()[%d] = %q, want %q", i, got[i].Content, want[i].Content)
		}
	}
	for _, m := range got {
		for _, text := range excludedAt {
			if m.Content == text {
				t.Fatalf("Select() included excluded message %q", m.Content)
			}
		}
	}
}

func TestSelectDefaultLimit(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	for i := 0; i < 25; i++ {
		_, _ = s.AppendMessage(ctx, "c1", store.RoleUser, fmt.Sprintf("q%d", i))
	}
	got, err := NewFilter(s).Select(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(got) != DefaultContextLimit {
		t.Fatalf("len(Select()) = %d, want %d", len(got), DefaultContextLimit)
	}
	if got[0].Content != "q15" || got[9].Content != "q24" {
		t.Fatalf("Select() window = %q..%q, want q15..q24", got[0].Content, got[9].Content)
	}
}

func TestDefaultRules(t *testing.T) {
	cases := []struct {
		name string
		msg  store.Message
		want bool
	}{
		{"user error mention", store.Message{Role: store.RoleUser, Content: "I got an ERROR on my watch"}, true},
		{"user apology", store.Message{Role: store.RoleUser, Content: "sorry, I meant 10K"}, true},
		{"short user message kept", store.Message{Role: store.RoleUser, Content: "ok"}, false},
		{"short assistant reply", store.Message{Role: store.RoleAssistant, Content: "Sure."}, true},
		{"assistant plan dump", store.Message{Role: store.RoleAssistant, Content: strings.Repeat("x", 60) + " plan"}, true},
		{"user plan mention kept", store.Message{Role: store.RoleUser, Content: "make my plan longer"}, false},
		{"long assistant reply kept", store.Message{Role: store.RoleAssistant, Content: longReply(1)}, false},
	}
	for _, tc := range cases {
		got := excluded(tc.msg, DefaultRules())
		if got != tc.want {
			t.Fatalf("%s: excluded() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCustomRulesReplaceDefaults(t *testing.T) {
	onlyUsers := func(m store.Message) bool { return m.Role != store.RoleUser }
	msgs := []store.Message{
		{Role: store.RoleUser, Content: "sorry"},
		{Role: store.RoleAssistant, Content: longReply(1)},
	}
	got := Apply(msgs, 10, []Rule{onlyUsers})
	if len(got) != 1 || got[0].Content != "sorry" {
		t.Fatalf("Apply() = %+v, want only the user message", got)
	}
}
