package coach

import (
	"fmt"
	"strings"

	"github.com/ent0n29/runcoach/internal/store"
)

// DefaultSystemPrompt instructs the model to answer with a short explanation
// followed by the PLAN marker and the complete plan document.
const DefaultSystemPrompt = `You are an experienced running coach. Create or modify complete, well-structured training plans.

TASK: Based on the user's request and any existing plan context:
- If NO current plan exists: generate a complete NEW training plan.
- If a current plan EXISTS: modify or extend the existing plan based on user feedback.

Pay attention to modification requests like:
- "extend to X weeks": add more weeks to the existing plan
- "add more [type] training": modify session types
- "I have a race in week X": incorporate the race into the existing timeline
- "make it easier/harder": adjust intensity across the existing plan

OUTPUT FORMAT (MANDATORY):
1. Brief explanation (2-3 sentences max)
2. The line PLAN
3. The complete JSON plan with the exact structure below

REQUIRED JSON STRUCTURE:
{
  "meta": {
    "goal": "5K" | "10K" | "Half Marathon" | "Marathon",
    "race_date": "YYYY-MM-DD" or null,
    "phase": "Base" | "Build" | "Peak" | "Taper",
    "weekly_km_target": number or null
  },
  "constraints": {
    "max_weekly_increase_pct": 15,
    "min_rest_days": 1
  },
  "weeks": {
    "week_01": {
      "mileage_target": number,
      "sessions": [
        {
          "type": "Easy Run" | "Long Run" | "Tempo Run" | "Interval Run" | "Rest",
          "distance_km": number,
          "intensity": "E" | "M" | "T" | "I" | "R",
          "day_of_week": "monday" | "tuesday" | "wednesday" | "thursday" | "friday" | "saturday" | "sunday",
          "notes": "optional workout details"
        }
      ]
    }
  }
}

RULES:
1. Always include meta, constraints and weeks.
2. Generate at least 4 complete weeks, each with 3-5 sessions.
3. Never truncate the JSON.
4. If the user is only asking a question, answer it without a plan.`

// planContext summarizes the current version for the model. The raw document
// is never replayed.
func planContext(v store.PlanVersion) string {
	meta := v.Plan.Meta
	goal := strings.TrimSpace(meta.Goal)
	if goal == "" {
		goal = "Unknown"
	}
	phase := strings.TrimSpace(meta.Phase)
	if phase == "" {
		phase = "Unknown"
	}
	target := "not set"
	if meta.WeeklyKMTarget != nil {
		target = fmt.Sprintf("%g km", *meta.WeeklyKMTarget)
	}

	var b strings.Builder
	b.WriteString("CURRENT PLAN CONTEXT:\n")
	b.WriteString("The user already has an active training plan.\n\n")
	fmt.Fprintf(&b, "Goal: %s\n", goal)
	fmt.Fprintf(&b, "Phase: %s\n", phase)
	fmt.Fprintf(&b, "Weekly Target: %s\n", target)
	fmt.Fprintf(&b, "Weeks: %d weeks planned\n", v.Plan.Weeks.Len())
	fmt.Fprintf(&b, "Current Version: %d\n\n", v.Version)
	b.WriteString("When the user asks for modifications, update or extend this existing plan rather than creating a new one.")
	return b.String()
}
