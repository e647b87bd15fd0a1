package learning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/idhash"
	"strategy-advisor-lab/internal/storage"
	"strategy-advisor-lab/internal/storage/memory"
)

type fixture struct {
	strategies   *memory.StrategyStore
	decisions    *memory.DecisionStore
	traces       *memory.ExecutionTraceStore
	performances *memory.PerformanceStore
	learning     *memory.LearningMetricsStore
	agg          *Aggregator

	seq int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		strategies:   memory.NewStrategyStore(),
		decisions:    memory.NewDecisionStore(),
		traces:       memory.NewExecutionTraceStore(),
		performances: memory.NewPerformanceStore(),
		learning:     memory.NewLearningMetricsStore(),
	}
	f.agg = NewAggregator(f.performances, f.learning, f.decisions, f.traces, f.strategies, zerolog.Nop())
	f.agg.WithClock(func() int64 { return 1700000000000 })
	return f
}

// seedDecision writes a strategy version, a decision decided at
// decidedAt with the given terminal state, and, when the decision is
// accepted, an execution trace. Returns the trace id (empty for
// non-accepted states).
func (f *fixture) seedDecision(t *testing.T, family, state string, decidedAt int64) string {
	t.Helper()
	ctx := context.Background()
	f.seq++

	strat := &domain.Strategy{
		StrategyID: fmt.Sprintf("strat-%s-%02d", family, f.seq),
		Version:    1,
		UserID:     "user-1",
		Goal:       domain.GoalRef{GoalID: "goal-1", Version: 1},
		Hypothesis: domain.Hypothesis{Family: family, Action: domain.ActionBuy},
		Status:     domain.StrategyStatusProposable,
		CreatedAt:  decidedAt - 1000,
	}
	if err := f.strategies.Insert(ctx, strat); err != nil {
		t.Fatalf("seed strategy: %v", err)
	}

	d := &domain.Decision{
		DecisionID: fmt.Sprintf("dec-%02d", f.seq),
		Strategy:   domain.VersionRef{StrategyID: strat.StrategyID, Version: 1},
		UserID:     "user-1",
		State:      domain.DecisionProposed,
		CreatedAt:  decidedAt - 500,
	}
	if err := f.decisions.Insert(ctx, d); err != nil {
		t.Fatalf("seed decision: %v", err)
	}

	term := *d
	term.State = state
	term.DecidedAt = decidedAt
	if state == domain.DecisionRejected {
		term.ReasonCode = domain.ReasonOther
	}
	if err := f.decisions.MarkDecided(ctx, &term); err != nil {
		t.Fatalf("seed terminal state: %v", err)
	}

	if state != domain.DecisionAccepted {
		return ""
	}
	traceID := fmt.Sprintf("trace-%02d", f.seq)
	if err := f.traces.Insert(ctx, &domain.ExecutionTrace{
		TraceID:    traceID,
		DecisionID: d.DecisionID,
		StartedAt:  decidedAt,
	}); err != nil {
		t.Fatalf("seed trace: %v", err)
	}
	return traceID
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestEvaluate_ComputesMetrics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	traceID := f.seedDecision(t, domain.FamilyMomentum, domain.DecisionAccepted, 1000)

	outcome := domain.MarketOutcome{
		WindowStart:      1000,
		WindowEnd:        2000,
		PortfolioReturns: []float64{0.10, -0.05},
		BenchmarkReturns: []float64{0.02, 0.01},
	}

	perf, err := f.agg.Evaluate(ctx, traceID, outcome, nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if perf.PerformanceID != idhash.ComputePerformanceID(traceID, 2000) {
		t.Errorf("PerformanceID = %s, not derived from (trace, window end)", perf.PerformanceID)
	}
	if perf.AsOf != 2000 {
		t.Errorf("AsOf = %d, want window end 2000", perf.AsOf)
	}
	approx(t, "TotalReturn", perf.TotalReturn, 1.10*0.95-1)
	approx(t, "BenchmarkReturn", perf.BenchmarkReturn, 1.02*1.01-1)
	approx(t, "Alpha", perf.Metrics.Alpha, (1.10*0.95-1)-(1.02*1.01-1))
	approx(t, "Drawdown", perf.Metrics.Drawdown, 0.05)
	// The only decided decision in the family and for the user is an acceptance.
	approx(t, "TrustScore", perf.Metrics.TrustScore, 1.0)
	approx(t, "AcceptanceRate", perf.Metrics.AcceptanceRate, 1.0)
}

func TestEvaluate_FeedbackAdjustsTrust(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	traceID := f.seedDecision(t, domain.FamilyMomentum, domain.DecisionAccepted, 1000)
	f.seedDecision(t, domain.FamilyMomentum, domain.DecisionRejected, 1100)
	// Baseline family trust: 1 - 1/2 = 0.5.

	outcome := domain.MarketOutcome{
		WindowStart:      1000,
		WindowEnd:        2000,
		PortfolioReturns: []float64{0.01},
		BenchmarkReturns: []float64{0.01},
	}

	perf, err := f.agg.Evaluate(ctx, traceID, outcome, &domain.Feedback{DecisionID: "dec-01", Rating: 5})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	approx(t, "TrustScore", perf.Metrics.TrustScore, 0.5+2*feedbackTrustStep)
}

func TestEvaluate_RejectsBadFeedback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	traceID := f.seedDecision(t, domain.FamilyMomentum, domain.DecisionAccepted, 1000)

	outcome := domain.MarketOutcome{
		WindowStart:      1000,
		WindowEnd:        2000,
		PortfolioReturns: []float64{0.01},
		BenchmarkReturns: []float64{0.01},
	}

	if _, err := f.agg.Evaluate(ctx, traceID, outcome, &domain.Feedback{DecisionID: "dec-01", Rating: 6}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("rating 6: got %v, want ErrInvalidInput", err)
	}
	if _, err := f.agg.Evaluate(ctx, traceID, outcome, &domain.Feedback{DecisionID: "other", Rating: 4}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("mismatched decision: got %v, want ErrInvalidInput", err)
	}
}

func TestEvaluate_RejectsBadOutcome(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	traceID := f.seedDecision(t, domain.FamilyMomentum, domain.DecisionAccepted, 1000)

	cases := []struct {
		name    string
		outcome domain.MarketOutcome
	}{
		{"empty window", domain.MarketOutcome{WindowStart: 2000, WindowEnd: 2000, PortfolioReturns: []float64{0.01}, BenchmarkReturns: []float64{0.01}}},
		{"no returns", domain.MarketOutcome{WindowStart: 1000, WindowEnd: 2000}},
		{"length mismatch", domain.MarketOutcome{WindowStart: 1000, WindowEnd: 2000, PortfolioReturns: []float64{0.01, 0.02}, BenchmarkReturns: []float64{0.01}}},
	}
	for _, tc := range cases {
		if _, err := f.agg.Evaluate(ctx, traceID, tc.outcome, nil); !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("%s: got %v, want ErrInvalidInput", tc.name, err)
		}
	}
}

func TestEvaluate_OutOfOrderWindowsAccumulate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	traceID := f.seedDecision(t, domain.FamilyMomentum, domain.DecisionAccepted, 1000)

	late := domain.MarketOutcome{WindowStart: 1000, WindowEnd: 3000, PortfolioReturns: []float64{0.05}, BenchmarkReturns: []float64{0.01}}
	early := domain.MarketOutcome{WindowStart: 1000, WindowEnd: 2000, PortfolioReturns: []float64{0.02}, BenchmarkReturns: []float64{0.01}}

	if _, err := f.agg.Evaluate(ctx, traceID, late, nil); err != nil {
		t.Fatalf("late evaluation failed: %v", err)
	}
	// An earlier window arriving afterwards must append, not shadow.
	if _, err := f.agg.Evaluate(ctx, traceID, early, nil); err != nil {
		t.Fatalf("early evaluation failed: %v", err)
	}

	all, err := f.performances.GetByTrace(ctx, traceID)
	if err != nil {
		t.Fatalf("GetByTrace failed: %v", err)
	}
	if len(all) != 2 || all[0].AsOf != 2000 || all[1].AsOf != 3000 {
		t.Fatalf("records out of as_of order: %+v", all)
	}

	latest, err := f.performances.GetLatestByTrace(ctx, traceID)
	if err != nil {
		t.Fatalf("GetLatestByTrace failed: %v", err)
	}
	if latest.AsOf != 3000 {
		t.Errorf("latest AsOf = %d, want 3000", latest.AsOf)
	}

	// Re-evaluating the same window end is a duplicate.
	if _, err := f.agg.Evaluate(ctx, traceID, early, nil); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("duplicate window end: got %v, want ErrDuplicateKey", err)
	}
}

func TestRecomputeWindow_RollsUpFamily(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	traceID := f.seedDecision(t, domain.FamilyMomentum, domain.DecisionAccepted, 1500)
	f.seedDecision(t, domain.FamilyMomentum, domain.DecisionRejected, 1600)
	f.seedDecision(t, domain.FamilyMomentum, domain.DecisionModified, 1700)
	// Decided outside the window, must not contribute.
	f.seedDecision(t, domain.FamilyMomentum, domain.DecisionAccepted, 9000)
	// Different family, must not contribute.
	f.seedDecision(t, domain.FamilyMacroRotation, domain.DecisionRejected, 1500)

	if _, err := f.agg.Evaluate(ctx, traceID, domain.MarketOutcome{
		WindowStart:      1500,
		WindowEnd:        2500,
		PortfolioReturns: []float64{0.03},
		BenchmarkReturns: []float64{0.01},
	}, nil); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	m, err := f.agg.RecomputeWindow(ctx, domain.FamilyMomentum, 1000, 2000)
	if err != nil {
		t.Fatalf("RecomputeWindow failed: %v", err)
	}

	if m.Version != 1 {
		t.Errorf("Version = %d, want 1", m.Version)
	}
	if m.SampleCount != 3 {
		t.Errorf("SampleCount = %d, want 3", m.SampleCount)
	}
	approx(t, "Acceptance", m.Acceptance, 1.0/3.0)
	approx(t, "Rejection", m.Rejection, 1.0/3.0)
	approx(t, "Modification", m.Modification, 1.0/3.0)
	approx(t, "TrustScore", m.TrustScore, 1.0-(1.0+0.5)/3.0)
	approx(t, "MeanAlpha", m.MeanAlpha, 0.03-0.01)

	if got, err := f.learning.GetLatest(ctx, domain.FamilyMomentum); err != nil || got.Version != 1 {
		t.Fatalf("snapshot not persisted: %v %+v", err, got)
	}

	// A second recompute writes the next version, never overwrites.
	m2, err := f.agg.RecomputeWindow(ctx, domain.FamilyMomentum, 1000, 2000)
	if err != nil {
		t.Fatalf("second RecomputeWindow failed: %v", err)
	}
	if m2.Version != 2 {
		t.Errorf("second Version = %d, want 2", m2.Version)
	}
}

func TestRecomputeWindow_EmptyFamilyIsNeutral(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	m, err := f.agg.RecomputeWindow(ctx, domain.FamilyMeanReversion, 1000, 2000)
	if err != nil {
		t.Fatalf("RecomputeWindow failed: %v", err)
	}
	if m.SampleCount != 0 {
		t.Errorf("SampleCount = %d, want 0", m.SampleCount)
	}
	approx(t, "TrustScore", m.TrustScore, neutralTrust)
	approx(t, "Acceptance", m.Acceptance, 0)
}
