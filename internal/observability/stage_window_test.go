package observability

import (
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe(StageCommit, 50*time.Millisecond)
	w.Observe(StageCommit, 70*time.Millisecond)
	w.Observe(StageCommit, 190*time.Millisecond)
	w.CountOutcome("plan_updated")
	w.CountOutcome("plan_updated")
	w.CountOutcome(" ")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageCommit || s.Samples != 3 {
		t.Fatalf("stage = %q samples = %d, want %q 3", s.Stage, s.Samples, StageCommit)
	}
	if s.LastMS != 190 {
		t.Fatalf("LastMS = %.2f, want 190", s.LastMS)
	}
	if s.P50MS != 70 || s.P95MS != 190 {
		t.Fatalf("P50MS, P95MS = %.2f, %.2f, want 70, 190", s.P50MS, s.P95MS)
	}
	if s.BudgetMS != 150 || s.OverBudget != 1 {
		t.Fatalf("BudgetMS, OverBudget = %.2f, %d, want 150, 1", s.BudgetMS, s.OverBudget)
	}
	if len(snap.Outcomes) != 1 || snap.Outcomes[0] != (OutcomeCount{Name: "plan_updated", Count: 2}) {
		t.Fatalf("Outcomes = %+v, want plan_updated x2", snap.Outcomes)
	}
}

func TestStageWindowKeepsNewestSamples(t *testing.T) {
	w := newStageWindow(2)
	w.Observe(StageGenerate, 10*time.Millisecond)
	w.Observe(StageGenerate, 20*time.Millisecond)
	w.Observe(StageGenerate, 30*time.Millisecond)
	w.Observe(StageGenerate, -time.Millisecond)

	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 || s.LastMS != 30 {
		t.Fatalf("AvgMS, LastMS = %.2f, %.2f, want 25, 30", s.AvgMS, s.LastMS)
	}
}

func TestNearestRank(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cases := []struct {
		q    float64
		want time.Duration
	}{
		{0, 1},
		{0.5, 5},
		{0.95, 10},
		{1, 10},
	}
	for _, tc := range cases {
		if got := nearestRank(sorted, tc.q); got != tc.want {
			t.Fatalf("nearestRank(%v) = %v, want %v", tc.q, got, tc.want)
		}
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTurn("plan_updated")
	m.ObserveTurnStage(StageTurnTotal, time.Second)
	if got := m.SnapshotTurnStages(); len(got.Stages) != 0 {
		t.Fatalf("len(Stages) = %d, want 0", len(got.Stages))
	}
}

func TestMetricsStageWindow(t *testing.T) {
	m := NewMetrics("runcoach_test")
	m.ObserveTurnStage(StageGenerate, 1500*time.Millisecond)
	m.ObserveTurnIndicator("failed_timeout")
	snap := m.SnapshotTurnStages()
	if len(snap.Stages) != 1 || snap.Stages[0].LastMS != 1500 {
		t.Fatalf("SnapshotTurnStages() = %+v, want one generate sample of 1500ms", snap.Stages)
	}
	if len(snap.Outcomes) != 1 || snap.Outcomes[0].Name != "failed_timeout" {
		t.Fatalf("Outcomes = %+v, want failed_timeout", snap.Outcomes)
	}
	m.ResetTurnStages()
	if got := m.SnapshotTurnStages(); len(got.Stages) != 0 || len(got.Outcomes) != 0 {
		t.Fatalf("snapshot after reset = %+v, want empty", got)
	}
}
