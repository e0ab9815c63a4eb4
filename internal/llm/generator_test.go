package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/runcoach/internal/plan"
)

func TestNewGeneratorModes(t *testing.T) {
	ctx := context.Background()

	g, err := NewGenerator(ctx, Config{})
	if err != nil {
		t.Fatalf("NewGenerator(auto) error = %v", err)
	}
	if g.Name() != "mock" {
		t.Fatalf("NewGenerator(auto).Name() = %q, want mock", g.Name())
	}

	g, err = NewGenerator(ctx, Config{HTTPURL: "http://example.test/generate"})
	if err != nil {
		t.Fatalf("NewGenerator(auto+http) error = %v", err)
	}
	if g.Name() != "http" {
		t.Fatalf("NewGenerator(auto+http).Name() = %q, want http", g.Name())
	}

	if _, err := NewGenerator(ctx, Config{Mode: "openai"}); err == nil {
		t.Fatalf("NewGenerator(openai) without key: expected error")
	}
	if _, err := NewGenerator(ctx, Config{Mode: "http"}); err == nil {
		t.Fatalf("NewGenerator(http) without url: expected error")
	}
	if _, err := NewGenerator(ctx, Config{Mode: "bogus"}); err == nil {
		t.Fatalf("NewGenerator(bogus): expected error")
	}
}

func TestMockGeneratorPlanRequest(t *testing.T) {
	g := NewMockGenerator()
	resp, err := g.Generate(context.Background(), Request{Messages: []Message{
		{Role: RoleSystem, Content: "You are a coach."},
		{Role: RoleUser, Content: "I want an 8-week half marathon plan"},
	}}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	ex := plan.Extract(resp.Text)
	if ex.Payload == nil {
		t.Fatalf("Extract() found no payload in %q", resp.Text)
	}
	doc, err := plan.Parse(ex.Payload)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Meta.Goal != "Half Marathon" {
		t.Fatalf("Meta.Goal = %q, want Half Marathon", doc.Meta.Goal)
	}
	if doc.Weeks.Len() != 8 {
		t.Fatalf("Weeks.Len() = %d, want 8", doc.Weeks.Len())
	}
}

func TestMockGeneratorExtendsFromContext(t *testing.T) {
	g := NewMockGenerator()
	resp, err := g.Generate(context.Background(), Request{Messages: []Message{
		{Role: RoleSystem, Content: "CURRENT PLAN CONTEXT:\nGoal: Marathon\nPhase: Base\nWeeks: 8 weeks planned"},
		{Role: RoleUser, Content: "extend it to 12 weeks"},
	}}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	doc, err := plan.Parse(plan.Extract(resp.Text).Payload)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Meta.Goal != "Marathon" || doc.Weeks.Len() != 12 {
		t.Fatalf("plan = %s/%d weeks, want Marathon/12 weeks", doc.Meta.Goal, doc.Weeks.Len())
	}
}

func TestMockGeneratorConversational(t *testing.T) {
	resp, err := NewMockGenerator().Generate(context.Background(), Request{Messages: []Message{
		{Role: RoleUser, Content: "How fast should easy runs feel?"},
	}}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if ex := plan.Extract(resp.Text); ex.Expected {
		t.Fatalf("conversational reply unexpectedly carries a plan: %q", resp.Text)
	}
}

func TestHTTPGeneratorJSONBody(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Run easy today."}}]}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPGenerator(srv.URL).Generate(context.Background(), Request{
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
		Temperature: 0.3,
		MaxTokens:   4000,
	}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "Run easy today." {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "Run easy today.")
	}
	if got.MaxTokens != 4000 || got.Temperature != 0.3 || len(got.Messages) != 1 {
		t.Fatalf("request = %+v, want forwarded parameters", got)
	}
}

func TestHTTPGeneratorConsumeSSE(t *testing.T) {
	g := NewHTTPGenerator("http://example.test")
	stream := strings.NewReader(strings.Join([]string{
		": keepalive",
		"",
		"data: {\"delta\":\"Hel\"}",
		"",
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}",
		"",
		"data: [DONE]",
		"",
	}, "\n"))

	var deltas []string
	resp, err := g.consumeStreaming(context.Background(), stream, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("consumeStreaming() error = %v", err)
	}
	if resp.Text != "Hello" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "Hello")
	}
	if strings.Join(deltas, "") != "Hello" {
		t.Fatalf("deltas = %q, want %q", strings.Join(deltas, ""), "Hello")
	}
}

func TestHTTPGeneratorEmptyBodyIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"   "}`))
	}))
	defer srv.Close()

	_, err := NewHTTPGenerator(srv.URL).Generate(context.Background(), Request{}, nil)
	if !errors.Is(err, ErrGenerationMalformed) {
		t.Fatalf("Generate() error = %v, want ErrGenerationMalformed", err)
	}
}

func TestHTTPGeneratorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"rate_limit_exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPGenerator(srv.URL).Generate(context.Background(), Request{}, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Generate() error = %v, want *StatusError", err)
	}
	if statusErr.Code != http.StatusTooManyRequests {
		t.Fatalf("StatusError.Code = %d, want %d", statusErr.Code, http.StatusTooManyRequests)
	}
}

func TestHTTPGeneratorTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTPGenerator(srv.URL).Generate(ctx, Request{}, nil)
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("Generate() error = %v, want ErrGenerationTimeout", err)
	}
}

func TestToGeminiContents(t *testing.T) {
	system, contents := toGeminiContents([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleSystem, Content: "b"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	})
	if system != "a\n\nb" {
		t.Fatalf("system = %q, want %q", system, "a\n\nb")
	}
	if len(contents) != 2 || contents[1].Role != "model" {
		t.Fatalf("contents = %+v, want user then model", contents)
	}
}
