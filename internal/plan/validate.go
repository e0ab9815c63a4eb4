package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPhase  = "Base"
	weekKeyPrefix = "week_"
	dateLayout    = "2006-01-02"
)

var ErrMalformedPayload = errors.New("plan payload is malformed")

var (
	validIntensities = map[string]struct{}{
		"E": {}, "M": {}, "T": {}, "I": {}, "R": {}, "H": {}, "S": {}, "X": {},
	}
	validWeekdays = map[string]struct{}{
		"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {},
		"friday": {}, "saturday": {}, "sunday": {},
	}
	metaFields = []string{"goal", "race_date", "phase", "weekly_km_target"}
)

// Issue is one field-level validation failure.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every issue found in a single validation pass.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "plan validation failed"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Field+": "+issue.Message)
	}
	return "plan validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrMalformedPayload }

func (e *ValidationError) add(field, format string, args ...any) {
	e.Issues = append(e.Issues, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Parse decodes an extracted payload into a Document and validates it. Meta
// fields emitted at the top level are moved under "meta" first, and omitted
// constraints and phase take their defaults.
func Parse(payload []byte) (Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(payload, &top); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if top == nil {
		return Document{}, fmt.Errorf("%w: payload is not an object", ErrMalformedPayload)
	}

	if _, hasMeta := top["meta"]; !hasMeta {
		if _, hasGoal := top["goal"]; hasGoal {
			meta := make(map[string]json.RawMessage, len(metaFields))
			for _, field := range metaFields {
				if raw, ok := top[field]; ok {
					meta[field] = raw
					delete(top, field)
				}
			}
			encoded, err := json.Marshal(meta)
			if err != nil {
				return Document{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
			}
			top["meta"] = encoded
		}
	}

	verr := &ValidationError{}
	for _, key := range []string{"meta", "weeks"} {
		raw, ok := top[key]
		if !ok || isNull(raw) {
			verr.add(key, "is required")
		}
	}
	if len(verr.Issues) > 0 {
		return Document{}, verr
	}

	doc := Document{
		Meta:        Meta{Phase: DefaultPhase},
		Constraints: DefaultConstraints(),
	}
	if err := json.Unmarshal(top["meta"], &doc.Meta); err != nil {
		verr.add("meta", "%v", err)
	}
	if raw, ok := top["constraints"]; ok {
		if err := json.Unmarshal(raw, &doc.Constraints); err != nil {
			verr.add("constraints", "%v", err)
		}
	}
	if err := json.Unmarshal(top["weeks"], &doc.Weeks); err != nil {
		verr.add("weeks", "%v", err)
	}
	if len(verr.Issues) > 0 {
		return Document{}, verr
	}
	if strings.TrimSpace(doc.Meta.Phase) == "" {
		doc.Meta.Phase = DefaultPhase
	}

	if err := Validate(doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Validate checks a Document against the plan schema bounds. It returns nil or
// a *ValidationError listing every failing field.
func Validate(doc Document) error {
	verr := &ValidationError{}

	if strings.TrimSpace(doc.Meta.Goal) == "" {
		verr.add("meta.goal", "is required")
	}
	if doc.Meta.RaceDate != nil && !isDate(*doc.Meta.RaceDate) {
		verr.add("meta.race_date", "must be YYYY-MM-DD, got %q", *doc.Meta.RaceDate)
	}
	if t := doc.Meta.WeeklyKMTarget; t != nil && (*t < 1 || *t > 200) {
		verr.add("meta.weekly_km_target", "must be between 1 and 200, got %v", *t)
	}

	if c := doc.Constraints.MaxWeeklyIncreasePct; c < 5 || c > 50 {
		verr.add("constraints.max_weekly_increase_pct", "must be between 5 and 50, got %d", c)
	}
	if c := doc.Constraints.MinRestDays; c < 0 || c > 3 {
		verr.add("constraints.min_rest_days", "must be between 0 and 3, got %d", c)
	}

	if len(doc.Weeks) == 0 {
		verr.add("weeks", "must include at least one week")
	}
	for _, wk := range doc.Weeks {
		validateWeek(verr, wk)
	}

	if len(verr.Issues) > 0 {
		return verr
	}
	return nil
}

func validateWeek(verr *ValidationError, wk Week) {
	field := "weeks." + wk.Key
	if !strings.HasPrefix(wk.Key, weekKeyPrefix) {
		verr.add(field, "week key must start with %q", weekKeyPrefix)
	}
	if m := wk.Plan.MileageTarget; m != nil && *m < 0 {
		verr.add(field+".mileage_target", "must not be negative")
	}
	if len(wk.Plan.Sessions) == 0 {
		verr.add(field+".sessions", "must include at least one session")
	}
	for i, s := range wk.Plan.Sessions {
		sf := fmt.Sprintf("%s.sessions[%d]", field, i)
		if strings.TrimSpace(s.Type) == "" {
			verr.add(sf+".type", "is required")
		}
		if s.Date != nil && !isDate(*s.Date) {
			verr.add(sf+".date", "must be YYYY-MM-DD, got %q", *s.Date)
		}
		if d := s.DistanceKM; d != nil && (*d < 0 || *d > 100) {
			verr.add(sf+".distance_km", "must be between 0 and 100, got %v", *d)
		}
		if m := s.TimeMin; m != nil && (*m < 0 || *m > 600) {
			verr.add(sf+".time_min", "must be between 0 and 600, got %d", *m)
		}
		if r := s.RPE; r != nil && (*r < 1 || *r > 10) {
			verr.add(sf+".rpe", "must be between 1 and 10, got %d", *r)
		}
		if s.Intensity != "" {
			if _, ok := validIntensities[s.Intensity]; !ok {
				verr.add(sf+".intensity", "unknown intensity %q", s.Intensity)
			}
		}
		if s.DayOfWeek != "" {
			if _, ok := validWeekdays[s.DayOfWeek]; !ok {
				verr.add(sf+".day_of_week", "unknown day %q", s.DayOfWeek)
			}
		}
	}
}

func isDate(v string) bool {
	_, err := time.Parse(dateLayout, v)
	return err == nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
