package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Stage names recorded by the turn orchestrator.
const (
	StageUserAppend  = "user_append"
	StagePlanContext = "plan_context"
	StageHistory     = "history_select"
	StageGenerate    = "generate"
	StageCommit      = "plan_commit"
	StageReplyAppend = "reply_append"
	StageTurnTotal   = "turn_total"
)

// stageBudgets is the p95 latency each stage is expected to stay under.
// Generation dominates every turn and is bounded by the generation timeout.
var stageBudgets = map[string]time.Duration{
	StageUserAppend:  50 * time.Millisecond,
	StageReplyAppend: 50 * time.Millisecond,
	StagePlanContext: 75 * time.Millisecond,
	StageHistory:     100 * time.Millisecond,
	StageCommit:      150 * time.Millisecond,
	StageGenerate:    30 * time.Second,
	StageTurnTotal:   32 * time.Second,
}

type StageStats struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	AvgMS      float64 `json:"avg_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	P99MS      float64 `json:"p99_ms"`
	BudgetMS   float64 `json:"budget_p95_ms,omitempty"`
	OverBudget int     `json:"over_budget,omitempty"`
}

type OutcomeCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// StageSnapshot is the payload of GET /v1/perf/latency.
type StageSnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Stages      []StageStats   `json:"stages"`
	Outcomes    []OutcomeCount `json:"outcomes,omitempty"`
}

// durationRing keeps the most recent samples of one stage.
type durationRing struct {
	samples []time.Duration
	head    int
	count   int
}

func (r *durationRing) add(d time.Duration) {
	r.samples[r.head] = d
	r.head = (r.head + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
}

func (r *durationRing) last() time.Duration {
	return r.samples[(r.head-1+len(r.samples))%len(r.samples)]
}

func (r *durationRing) sorted() []time.Duration {
	out := slices.Clone(r.samples[:r.count])
	slices.Sort(out)
	return out
}

// stageWindow aggregates turn stage latencies and outcome counters in
// memory. It complements the prometheus histograms with a quick JSON view.
type stageWindow struct {
	mu       sync.Mutex
	size     int
	rings    map[string]*durationRing
	outcomes map[string]int
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{
		size:     size,
		rings:    make(map[string]*durationRing),
		outcomes: make(map[string]int),
	}
}

func (w *stageWindow) Observe(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rings[stage]
	if !ok {
		r = &durationRing{samples: make([]time.Duration, w.size)}
		w.rings[stage] = r
	}
	r.add(d)
}

func (w *stageWindow) CountOutcome(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	w.outcomes[name]++
	w.mu.Unlock()
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.rings)),
	}
	for _, stage := range sortedKeys(w.rings) {
		r := w.rings[stage]
		if r.count == 0 {
			continue
		}
		samples := r.sorted()
		var total time.Duration
		for _, d := range samples {
			total += d
		}
		budget := stageBudgets[stage]
		over := 0
		if budget > 0 {
			over = len(samples) - countAtMost(samples, budget)
		}
		snap.Stages = append(snap.Stages, StageStats{
			Stage:      stage,
			Samples:    len(samples),
			LastMS:     millis(r.last()),
			AvgMS:      millis(total / time.Duration(len(samples))),
			P50MS:      millis(nearestRank(samples, 0.50)),
			P95MS:      millis(nearestRank(samples, 0.95)),
			P99MS:      millis(nearestRank(samples, 0.99)),
			BudgetMS:   millis(budget),
			OverBudget: over,
		})
	}
	for _, name := range sortedKeys(w.outcomes) {
		snap.Outcomes = append(snap.Outcomes, OutcomeCount{Name: name, Count: w.outcomes[name]})
	}
	return snap
}

func (w *stageWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.rings)
	clear(w.outcomes)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// nearestRank returns the q-quantile of sorted using the nearest-rank method.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	rank := int(math.Ceil(q * float64(len(sorted))))
	rank = min(max(rank, 1), len(sorted))
	return sorted[rank-1]
}

func countAtMost(sorted []time.Duration, limit time.Duration) int {
	n, _ := slices.BinarySearch(sorted, limit+1)
	return n
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}
