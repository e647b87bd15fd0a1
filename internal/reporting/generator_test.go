package reporting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
	"strategy-advisor-lab/internal/storage/memory"
)

func seedLineage(t *testing.T) (*Generator, string) {
	t.Helper()
	ctx := context.Background()

	strategies := memory.NewStrategyStore()
	backtests := memory.NewBacktestStore()
	decisions := memory.NewDecisionStore()
	traces := memory.NewExecutionTraceStore()
	performances := memory.NewPerformanceStore()

	const strategyID = "strat-1"

	v1 := &domain.Strategy{
		StrategyID: strategyID,
		Version:    1,
		UserID:     "user-1",
		Goal:       domain.GoalRef{GoalID: "goal-1", Version: 1},
		Hypothesis: domain.Hypothesis{
			Family:         domain.FamilyMomentum,
			Action:         domain.ActionBuy,
			Symbols:        []string{"SPY", "TLT"},
			Weights:        map[string]float64{"SPY": 0.6, "TLT": 0.4},
			EntryThreshold: 0.25,
			ExitThreshold:  0.05,
			RebalanceDays:  30,
		},
		Status:     domain.StrategyStatusProposable,
		BacktestID: "bt-1",
		CreatedAt:  1000,
	}
	if err := strategies.Insert(ctx, v1); err != nil {
		t.Fatalf("seed v1: %v", err)
	}

	v2 := *v1
	v2.Version = 2
	v2.BacktestID = "bt-2"
	v2.Supersedes = &domain.VersionRef{StrategyID: strategyID, Version: 1}
	v2.Hypothesis.EntryThreshold = 0.30
	v2.CreatedAt = 2000
	if err := strategies.Insert(ctx, &v2); err != nil {
		t.Fatalf("seed v2: %v", err)
	}

	for i, id := range []string{"bt-1", "bt-2"} {
		if err := backtests.Insert(ctx, &domain.BacktestResult{
			BacktestID:      id,
			StrategyID:      strategyID,
			StrategyVersion: i + 1,
			Metrics:         domain.BacktestMetrics{ExpectedReturn: 0.05, MaxDrawdown: 0.12, Confidence: 0.8},
			Seed:            7,
			Trace: []domain.Explain{
				{Signal: "SPY", WindowStart: 100, WindowEnd: 200, Contribution: 0.03, Note: "entry window"},
			},
			SnapshotsUsed: 24,
			ComputedAt:    1500,
		}); err != nil {
			t.Fatalf("seed backtest %s: %v", id, err)
		}
	}

	// v1 was modified into v2; v2 was accepted and executed.
	d1 := &domain.Decision{
		DecisionID: "dec-1",
		Strategy:   domain.VersionRef{StrategyID: strategyID, Version: 1},
		UserID:     "user-1",
		State:      domain.DecisionProposed,
		CreatedAt:  1100,
	}
	if err := decisions.Insert(ctx, d1); err != nil {
		t.Fatalf("seed decision 1: %v", err)
	}
	term1 := *d1
	term1.State = domain.DecisionModified
	term1.Modified = &domain.VersionRef{StrategyID: strategyID, Version: 2}
	term1.DecidedAt = 1900
	if err := decisions.MarkDecided(ctx, &term1); err != nil {
		t.Fatalf("decide 1: %v", err)
	}

	d2 := &domain.Decision{
		DecisionID: "dec-2",
		Strategy:   domain.VersionRef{StrategyID: strategyID, Version: 2},
		UserID:     "user-1",
		State:      domain.DecisionProposed,
		CreatedAt:  2100,
	}
	if err := decisions.Insert(ctx, d2); err != nil {
		t.Fatalf("seed decision 2: %v", err)
	}
	term2 := *d2
	term2.State = domain.DecisionAccepted
	term2.DecidedAt = 2200
	if err := decisions.MarkDecided(ctx, &term2); err != nil {
		t.Fatalf("decide 2: %v", err)
	}

	if err := traces.Insert(ctx, &domain.ExecutionTrace{
		TraceID:    "trace-2",
		DecisionID: "dec-2",
		StartedAt:  2200,
	}); err != nil {
		t.Fatalf("seed trace: %v", err)
	}

	if err := performances.Insert(ctx, &domain.PortfolioPerformance{
		PerformanceID:   "perf-1",
		TraceID:         "trace-2",
		Metrics:         domain.PerformanceMetrics{Alpha: 0.02, Drawdown: 0.04, TrustScore: 0.75, AcceptanceRate: 0.5},
		TotalReturn:     0.03,
		BenchmarkReturn: 0.01,
		AsOf:            3000,
	}); err != nil {
		t.Fatalf("seed performance: %v", err)
	}

	g := NewGenerator(strategies, backtests, decisions, traces, performances)
	g.WithClock(func() time.Time { return time.UnixMilli(5000).UTC() })
	return g, strategyID
}

func TestGenerate_FullLineageReport(t *testing.T) {
	ctx := context.Background()
	g, strategyID := seedLineage(t)

	r, err := g.Generate(ctx, "user-1", strategyID)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(r.Lineage) != 2 {
		t.Fatalf("lineage rows = %d, want 2", len(r.Lineage))
	}
	if r.Lineage[1].Supersedes != 1 {
		t.Errorf("v2 supersedes = %d, want 1", r.Lineage[1].Supersedes)
	}
	if r.Hypothesis.Version != 2 || r.Hypothesis.EntryThreshold != 0.30 {
		t.Errorf("hypothesis section not from latest version: %+v", r.Hypothesis)
	}
	if r.Backtest == nil || r.Backtest.Confidence != 0.8 || len(r.Backtest.Trace) != 1 {
		t.Fatalf("backtest section = %+v", r.Backtest)
	}
	if len(r.Decisions) != 2 {
		t.Fatalf("decision rows = %d, want 2", len(r.Decisions))
	}
	if r.Decisions[0].State != domain.DecisionModified || r.Decisions[1].State != domain.DecisionAccepted {
		t.Errorf("decision states = %+v", r.Decisions)
	}
	if len(r.Performance) != 1 || r.Performance[0].Version != 2 || r.Performance[0].Alpha != 0.02 {
		t.Errorf("performance rows = %+v", r.Performance)
	}
}

func TestGenerate_ScopedByUser(t *testing.T) {
	ctx := context.Background()
	g, strategyID := seedLineage(t)

	if _, err := g.Generate(ctx, "intruder", strategyID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cross-user report: got %v, want ErrNotFound", err)
	}
}

func TestRenderMarkdown_ContainsSections(t *testing.T) {
	ctx := context.Background()
	g, strategyID := seedLineage(t)

	r, err := g.Generate(ctx, "user-1", strategyID)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	md := RenderMarkdown(r)
	for _, want := range []string{
		"# Strategy Report",
		"## Version Lineage",
		"## Hypothesis (v2)",
		"### Driving Signals",
		"| SPY | 100 | 200 | 0.0300 | entry window |",
		"## Decision History",
		"## Realized Performance",
		"SPY=0.60 TLT=0.40",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestRenderCSV_Rows(t *testing.T) {
	ctx := context.Background()
	g, strategyID := seedLineage(t)

	r, err := g.Generate(ctx, "user-1", strategyID)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	csv := RenderCSV(r.Performance)
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, want header + 1 row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "version,trace_id,as_of") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2,trace-2,3000,0.030000") {
		t.Errorf("unexpected row: %s", lines[1])
	}
}
