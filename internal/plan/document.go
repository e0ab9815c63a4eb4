package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Document is the authoritative training plan structure. Its JSON field
// names are persisted and read back by every consumer of plan history.
type Document struct {
	Meta        Meta        `json:"meta"`
	Constraints Constraints `json:"constraints"`
	Weeks       Weeks       `json:"weeks"`
}

type Meta struct {
	Goal           string   `json:"goal"`
	RaceDate       *string  `json:"race_date"`
	Phase          string   `json:"phase"`
	WeeklyKMTarget *float64 `json:"weekly_km_target"`
}

type Constraints struct {
	MaxWeeklyIncreasePct int `json:"max_weekly_increase_pct"`
	MinRestDays          int `json:"min_rest_days"`
}

// DefaultConstraints mirrors the coaching defaults applied when a generated
// plan omits the constraints block.
func DefaultConstraints() Constraints {
	return Constraints{MaxWeeklyIncreasePct: 15, MinRestDays: 1}
}

type WeekPlan struct {
	MileageTarget *float64  `json:"mileage_target,omitempty"`
	Sessions      []Session `json:"sessions"`
}

type Session struct {
	Date       *string  `json:"date,omitempty"`
	Type       string   `json:"type"`
	DistanceKM *float64 `json:"distance_km,omitempty"`
	TimeMin    *int     `json:"time_min,omitempty"`
	Intensity  string   `json:"intensity,omitempty"`
	RPE        *int     `json:"rpe,omitempty"`
	Structure  string   `json:"structure,omitempty"`
	Notes      string   `json:"notes,omitempty"`
	DayOfWeek  string   `json:"day_of_week,omitempty"`
	IsRestDay  bool     `json:"is_rest_day"`
}

// Week pairs a week key (e.g. "week_01") with its plan.
type Week struct {
	Key  string
	Plan WeekPlan
}

// Weeks is an insertion-ordered mapping of week key to WeekPlan. It encodes
// as a JSON object whose key order follows the chronological week sequence.
type Weeks []Week

func (w Weeks) Len() int { return len(w) }

func (w Weeks) Get(key string) (WeekPlan, bool) {
	for _, wk := range w {
		if wk.Key == key {
			return wk.Plan, true
		}
	}
	return WeekPlan{}, false
}

// SessionCount returns the number of sessions across all weeks.
func (w Weeks) SessionCount() int {
	n := 0
	for _, wk := range w {
		n += len(wk.Plan.Sessions)
	}
	return n
}

func (w Weeks) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, wk := range w {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(wk.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(wk.Plan)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", wk.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

var errWeeksNotObject = errors.New("weeks must be a JSON object")

func (w *Weeks) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*w = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errWeeksNotObject
	}

	out := make(Weeks, 0, 8)
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return errWeeksNotObject
		}
		var wp WeekPlan
		if err := dec.Decode(&wp); err != nil {
			return fmt.Errorf("week %q: %w", key, err)
		}
		// Later duplicates win, matching plain JSON object decoding.
		if i, dup := index[key]; dup {
			out[i].Plan = wp
			continue
		}
		index[key] = len(out)
		out = append(out, Week{Key: key, Plan: wp})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*w = out
	return nil
}
