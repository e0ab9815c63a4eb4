package plan

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const halfMarathonPayload = `{
  "meta": {"goal": "Half Marathon", "race_date": "2024-06-15", "phase": "Base", "weekly_km_target": 45},
  "constraints": {"max_weekly_increase_pct": 12, "min_rest_days": 1},
  "weeks": {
    "week_02": {"mileage_target": 42, "sessions": [{"type": "Easy Run", "distance_km": 8, "intensity": "E", "day_of_week": "monday"}]},
    "week_01": {"mileage_target": 40, "sessions": [
      {"type": "Threshold Run", "structure": "3x10min @ T {jog}", "intensity": "T", "day_of_week": "wednesday"},
      {"type": "Rest", "is_rest_day": true, "day_of_week": "sunday"}
    ]}
  }
}`

func TestExtractSplitsExplanationAndPayload(t *testing.T) {
	reply := "Here is an 8-week build focused on aerobic volume.\n\nPLAN\n```json\n" + halfMarathonPayload + "\n```"

	got := Extract(reply)
	require.True(t, got.Expected)
	require.NotNil(t, got.Payload)
	assert.Equal(t, "Here is an 8-week build focused on aerobic volume.", got.Reply)
	assert.True(t, json.Valid(got.Payload))
}

func TestExtractIgnoresBracesInsideStrings(t *testing.T) {
	got := Extract("PLAN " + halfMarathonPayload + " trailing } text")
	require.NotNil(t, got.Payload)
	assert.True(t, strings.HasSuffix(string(got.Payload), "}"))
	assert.True(t, json.Valid(got.Payload))
}

func TestExtractWithoutMarker(t *testing.T) {
	got := Extract("Sure thing! " + halfMarathonPayload)
	require.True(t, got.Expected)
	require.NotNil(t, got.Payload)
	assert.Equal(t, "Sure thing!", got.Reply)
}

func TestExtractConversationalReply(t *testing.T) {
	got := Extract("Easy runs should feel conversational, around RPE 3 to 4.")
	assert.False(t, got.Expected)
	assert.Nil(t, got.Payload)
	assert.Equal(t, "Easy runs should feel conversational, around RPE 3 to 4.", got.Reply)
}

func TestExtractMarkerWithoutPayload(t *testing.T) {
	got := Extract("Updated below.\nPLAN\n{\"meta\": {\"goal\": \"5K\"}, \"weeks\": {")
	assert.True(t, got.Expected)
	assert.Nil(t, got.Payload)
	assert.Equal(t, "Updated below.", got.Reply)
}

func TestExtractMarkerNeedsOwnLineOrPayload(t *testing.T) {
	cases := map[string]bool{
		"Your current PLAN already has two easy runs.": false,
		"Stick to the PLAN and rest on Monday.":        false,
		"Updated.\nPLAN:\n":                            true,
		"Updated.\n  PLAN  \n```json\n{}\n```":         true,
		"Updated. PLAN {\"meta\": {}}":                 true,
		"Updated. PLAN\n```json\n{}\n```":              true,
	}
	for text, want := range cases {
		got := Extract(text)
		assert.Equal(t, want, got.Expected, "Extract(%q).Expected", text)
		if !want {
			assert.Equal(t, text, got.Reply)
		}
	}
	assert.Equal(t, 5, MarkerIndex("Hi.\n PLAN\n{"))
}

func TestExtractMarkerIsWordBounded(t *testing.T) {
	got := Extract("We can PLANT the seed of speed work later.")
	assert.False(t, got.Expected)
}

func TestParsePreservesWeekOrder(t *testing.T) {
	doc, err := Parse([]byte(halfMarathonPayload))
	require.NoError(t, err)
	require.Equal(t, 2, doc.Weeks.Len())
	assert.Equal(t, "week_02", doc.Weeks[0].Key)
	assert.Equal(t, "week_01", doc.Weeks[1].Key)
	assert.Equal(t, 12, doc.Constraints.MaxWeeklyIncreasePct)

	encoded, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(encoded), "week_02"), strings.Index(string(encoded), "week_01"))
}

func TestParseAppliesDefaults(t *testing.T) {
	doc, err := Parse([]byte(`{"meta": {"goal": "10K"}, "weeks": {"week_01": {"sessions": [{"type": "Easy Run"}]}}}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultPhase, doc.Meta.Phase)
	assert.Equal(t, DefaultConstraints(), doc.Constraints)
}

func TestParseRepairsTopLevelMeta(t *testing.T) {
	doc, err := Parse([]byte(`{"goal": "Marathon", "phase": "Build", "weeks": {"week_01": {"sessions": [{"type": "Long Run", "distance_km": 20}]}}}`))
	require.NoError(t, err)
	assert.Equal(t, "Marathon", doc.Meta.Goal)
	assert.Equal(t, "Build", doc.Meta.Phase)
}

func TestParseRejectsMissingWeeks(t *testing.T) {
	_, err := Parse([]byte(`{"meta": {"goal": "5K"}}`))
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "weeks", verr.Issues[0].Field)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{"meta": `))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Document)
		field  string
	}{
		{"empty goal", func(d *Document) { d.Meta.Goal = "" }, "meta.goal"},
		{"race date", func(d *Document) { v := "June 15"; d.Meta.RaceDate = &v }, "meta.race_date"},
		{"weekly target", func(d *Document) { v := 250.0; d.Meta.WeeklyKMTarget = &v }, "meta.weekly_km_target"},
		{"increase pct", func(d *Document) { d.Constraints.MaxWeeklyIncreasePct = 60 }, "constraints.max_weekly_increase_pct"},
		{"rest days", func(d *Document) { d.Constraints.MinRestDays = 4 }, "constraints.min_rest_days"},
		{"no weeks", func(d *Document) { d.Weeks = nil }, "weeks"},
		{"week key", func(d *Document) { d.Weeks[0].Key = "w1" }, "weeks.w1"},
		{"no sessions", func(d *Document) { d.Weeks[0].Plan.Sessions = nil }, "weeks.week_01.sessions"},
		{"distance", func(d *Document) { v := 150.0; d.Weeks[0].Plan.Sessions[0].DistanceKM = &v }, "weeks.week_01.sessions[0].distance_km"},
		{"time", func(d *Document) { v := 700; d.Weeks[0].Plan.Sessions[0].TimeMin = &v }, "weeks.week_01.sessions[0].time_min"},
		{"rpe", func(d *Document) { v := 11; d.Weeks[0].Plan.Sessions[0].RPE = &v }, "weeks.week_01.sessions[0].rpe"},
		{"intensity", func(d *Document) { d.Weeks[0].Plan.Sessions[0].Intensity = "Z" }, "weeks.week_01.sessions[0].intensity"},
		{"weekday", func(d *Document) { d.Weeks[0].Plan.Sessions[0].DayOfWeek = "Monday" }, "weeks.week_01.sessions[0].day_of_week"},
		{"session type", func(d *Document) { d.Weeks[0].Plan.Sessions[0].Type = " " }, "weeks.week_01.sessions[0].type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := Template("5K", 2)
			tc.mutate(&doc)

			err := Validate(doc)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "Validate() = %v, want *ValidationError", err)
			fields := make([]string, 0, len(verr.Issues))
			for _, issue := range verr.Issues {
				fields = append(fields, issue.Field)
			}
			assert.Contains(t, fields, tc.field)
		})
	}
}

func TestTemplateIsValid(t *testing.T) {
	for _, weeks := range []int{1, 8, 40} {
		doc := Template("Half Marathon", weeks)
		require.NoError(t, Validate(doc))
		assert.Equal(t, weeks, doc.Weeks.Len())
	}
}

func TestCompare(t *testing.T) {
	prev := Template("Half Marathon", 8)
	next := Template("Half Marathon", 10)

	changes := Compare(&prev, &next)
	assert.True(t, changes.WeekCountChanged)
	assert.True(t, changes.Significant())
	assert.Contains(t, changes.Summary, "Plan length changed from 8 to 10 weeks")
	assert.Contains(t, changes.Summary, "Added week_09")

	same := Compare(&prev, &prev)
	assert.False(t, same.Significant())
	assert.Equal(t, []string{"No significant changes detected"}, same.Summary)

	created := Compare(nil, &next)
	assert.Equal(t, []string{"Plan created or completely replaced"}, created.Summary)
}

func TestSummary(t *testing.T) {
	doc := Template("Marathon", 3)
	assert.Equal(t, "Marathon plan: 3 weeks, 12 total sessions, Base phase", Summary(&doc))
	assert.Equal(t, "No plan", Summary(nil))
}
