package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ent0n29/runcoach/internal/plan"
)

const (
	defaultMockWeeks = 8
	maxMockWeeks     = 52
)

var (
	weeksPattern        = regexp.MustCompile(`(?i)\b(\d{1,2})[\s-]*weeks?\b`)
	contextGoalPattern  = regexp.MustCompile(`(?m)^Goal:\s*(.+)$`)
	contextWeeksPattern = regexp.MustCompile(`(?m)^Weeks:\s*(\d+)`)
	planKeywords        = []string{"plan", "week", "marathon", "5k", "10k", "extend", "easier", "harder", "race", "schedule"}
)

// MockGenerator produces deterministic replies for local runs and tests. Plan
// requests yield a progressive template plan; anything else gets a short
// coaching answer.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) Name() string { return "mock" }

func (g *MockGenerator) Generate(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, classifyErr(ctx, "mock generate", ctx.Err())
	default:
	}

	text, err := buildMockReply(req)
	if err != nil {
		return Response{}, err
	}
	if onDelta != nil {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text, Model: "mock"}, nil
}

func buildMockReply(req Request) (string, error) {
	var userText, contextText string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleUser:
			userText = m.Content
		case RoleSystem:
			contextText += m.Content + "\n"
		}
	}
	lower := strings.ToLower(userText)

	if !wantsPlan(lower) {
		return "Good question. Keep most of your running at a conversational effort, " +
			"add one quality session per week and give yourself a full rest day. " +
			"Ask me for a training block whenever you are ready.", nil
	}

	goal := detectGoal(lower)
	if goal == "" {
		if m := contextGoalPattern.FindStringSubmatch(contextText); m != nil {
			goal = strings.TrimSpace(m[1])
		}
	}
	if goal == "" {
		goal = "General Fitness"
	}

	weeks := defaultMockWeeks
	if m := contextWeeksPattern.FindStringSubmatch(contextText); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			weeks = n
		}
	}
	if m := weeksPattern.FindStringSubmatch(userText); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			weeks = n
		}
	}
	weeks = min(weeks, maxMockWeeks)

	doc := plan.Template(goal, weeks)
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal mock plan: %w", err)
	}
	explanation := fmt.Sprintf(
		"Here is a %d-week %s block. Each week has an easy run, a tempo run and a long run that grows gradually, with Sunday kept for recovery.",
		weeks, goal,
	)
	return explanation + "\n\n" + plan.Marker + "\n```json\n" + string(body) + "\n```", nil
}

func wantsPlan(lower string) bool {
	for _, kw := range planKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func detectGoal(lower string) string {
	switch {
	case strings.Contains(lower, "half marathon"), strings.Contains(lower, "half-marathon"):
		return "Half Marathon"
	case strings.Contains(lower, "marathon"):
		return "Marathon"
	case strings.Contains(lower, "10k"):
		return "10K"
	case strings.Contains(lower, "5k"):
		return "5K"
	default:
		return ""
	}
}
