package commands

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/ent0n29/runcoach/internal/coach"
	"github.com/ent0n29/runcoach/internal/llm"
	"github.com/ent0n29/runcoach/internal/memory"
	"github.com/ent0n29/runcoach/internal/observability"
	"github.com/ent0n29/runcoach/internal/plan"
	"github.com/ent0n29/runcoach/internal/store"
	"github.com/ent0n29/runcoach/internal/versioning"
)

func TestEncodeOutputYAMLKeepsWeekOrder(t *testing.T) {
	doc := plan.Document{
		Meta:        plan.Meta{Goal: "10K", Phase: "Base"},
		Constraints: plan.DefaultConstraints(),
		Weeks: plan.Weeks{
			{Key: "week_02", Plan: plan.WeekPlan{Sessions: []plan.Session{{Type: "Easy Run", Notes: "15"}}}},
			{Key: "week_01", Plan: plan.WeekPlan{Sessions: []plan.Session{{Type: "Rest", IsRestDay: true}}}},
		},
	}
	var buf bytes.Buffer
	if err := encodeOutput(&buf, "yaml", doc); err != nil {
		t.Fatalf("encodeOutput() error = %v", err)
	}
	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("yaml output is in flow style:\n%s", out)
	}
	for _, want := range []string{"meta:\n", "goal: 10K", "type: Easy Run", `notes: "15"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("yaml output missing %q:\n%s", want, out)
		}
	}
	first, second := strings.Index(out, "week_02:"), strings.Index(out, "week_01:")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("week order not preserved:\n%s", out)
	}
}

func TestEncodeOutputRejectsUnknownFormat(t *testing.T) {
	if err := encodeOutput(&bytes.Buffer{}, "toml", map[string]int{"a": 1}); err == nil {
		t.Fatalf("encodeOutput(toml) error = nil, want error")
	}
}

func TestChatTurnPrintsReplyWithoutPlanJSON(t *testing.T) {
	st := store.NewInMemoryStore()
	metrics := observability.NewMetrics("runcoach_cli_test")
	versions := versioning.NewManager(st, metrics)
	orch := coach.NewOrchestrator(st, versions, memory.NewFilter(st), llm.NewMockGenerator(), metrics, coach.Config{})

	var out bytes.Buffer
	if err := chatTurn(context.Background(), &out, orch, "cli", "build me an 8-week half marathon plan"); err != nil {
		t.Fatalf("chatTurn() error = %v", err)
	}
	got := out.String()
	if strings.Contains(got, "{") {
		t.Fatalf("chat output leaked plan JSON:\n%s", got)
	}
	if !strings.Contains(got, "[plan updated to version 1: 8 weeks]") {
		t.Fatalf("chat output = %q, want plan update notice", got)
	}

	out.Reset()
	if err := chatTurn(context.Background(), &out, orch, "cli", "how easy should easy runs feel?"); err != nil {
		t.Fatalf("chatTurn() error = %v", err)
	}
	if strings.Contains(out.String(), "plan updated") {
		t.Fatalf("conversational turn reported a plan update: %q", out.String())
	}
}
