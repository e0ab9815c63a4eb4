package plan

import (
	"fmt"
	"sort"
)

// Changes describes how a new plan differs from the one it replaces.
type Changes struct {
	GoalChanged        bool     `json:"goal_changed"`
	WeeksChanged       bool     `json:"weeks_changed"`
	WeekCountChanged   bool     `json:"week_count_changed"`
	SessionsModified   bool     `json:"sessions_modified"`
	ConstraintsChanged bool     `json:"constraints_changed"`
	Summary            []string `json:"summary"`
}

// Significant reports whether the goal, plan length or session layout moved.
func (c Changes) Significant() bool {
	return c.GoalChanged || c.WeekCountChanged || c.SessionsModified
}

// Compare reports the differences between two plans. A nil previous plan
// means the new one is a fresh creation.
func Compare(prev, next *Document) Changes {
	var c Changes
	if prev == nil || next == nil {
		c.Summary = append(c.Summary, "Plan created or completely replaced")
		return c
	}

	if prev.Meta.Goal != next.Meta.Goal {
		c.GoalChanged = true
		c.Summary = append(c.Summary, fmt.Sprintf("Goal changed from %s to %s", prev.Meta.Goal, next.Meta.Goal))
	}
	if len(prev.Weeks) != len(next.Weeks) {
		c.WeekCountChanged = true
		c.WeeksChanged = true
		c.Summary = append(c.Summary, fmt.Sprintf("Plan length changed from %d to %d weeks", len(prev.Weeks), len(next.Weeks)))
	}

	keys := make(map[string]struct{}, len(prev.Weeks)+len(next.Weeks))
	for _, wk := range prev.Weeks {
		keys[wk.Key] = struct{}{}
	}
	for _, wk := range next.Weeks {
		keys[wk.Key] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, key := range sorted {
		before, inPrev := prev.Weeks.Get(key)
		after, inNext := next.Weeks.Get(key)
		switch {
		case !inPrev:
			c.WeeksChanged = true
			c.Summary = append(c.Summary, "Added "+key)
		case !inNext:
			c.WeeksChanged = true
			c.Summary = append(c.Summary, "Removed "+key)
		case len(before.Sessions) != len(after.Sessions):
			c.SessionsModified = true
			c.Summary = append(c.Summary, "Session count changed in "+key)
		}
	}

	if prev.Constraints != next.Constraints {
		c.ConstraintsChanged = true
		c.Summary = append(c.Summary, "Training constraints modified")
	}
	if !c.GoalChanged && !c.WeeksChanged && !c.SessionsModified && !c.ConstraintsChanged {
		c.Summary = append(c.Summary, "No significant changes detected")
	}
	return c
}

// Summary renders a one-line description of a plan for logs.
func Summary(doc *Document) string {
	if doc == nil {
		return "No plan"
	}
	goal := doc.Meta.Goal
	if goal == "" {
		goal = "Unknown"
	}
	phase := doc.Meta.Phase
	if phase == "" {
		phase = "Unknown"
	}
	return fmt.Sprintf("%s plan: %d weeks, %d total sessions, %s phase", goal, len(doc.Weeks), doc.Weeks.SessionCount(), phase)
}
