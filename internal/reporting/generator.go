// Package reporting produces strategy explainability reports from
// stored data: Markdown for humans, CSV for downstream analysis.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// Generator produces reports from stored data.
type Generator struct {
	strategies   storage.StrategyStore
	backtests    storage.BacktestStore
	decisions    storage.DecisionStore
	traces       storage.ExecutionTraceStore
	performances storage.PerformanceStore
	now          func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(
	strategies storage.StrategyStore,
	backtests storage.BacktestStore,
	decisions storage.DecisionStore,
	traces storage.ExecutionTraceStore,
	performances storage.PerformanceStore,
) *Generator {
	return &Generator{
		strategies:   strategies,
		backtests:    backtests,
		decisions:    decisions,
		traces:       traces,
		performances: performances,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces a full explainability report for one strategy
// lineage, scoped to its owning user.
func (g *Generator) Generate(ctx context.Context, userID, strategyID string) (*Report, error) {
	lineage, err := g.strategies.GetLineage(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if len(lineage) == 0 || lineage[0].UserID != userID {
		return nil, &storage.NotFoundError{Entity: "strategy", ID: strategyID}
	}

	latest := lineage[len(lineage)-1]

	r := &Report{
		GeneratedAt: g.now(),
		UserID:      userID,
		StrategyID:  strategyID,
		Family:      latest.Hypothesis.Family,
		Hypothesis:  hypothesisSection(latest),
	}

	for _, s := range lineage {
		row := LineageRow{
			Version:       s.Version,
			Status:        s.Status,
			BacktestID:    s.BacktestID,
			FailureReason: s.FailureReason,
			CreatedAt:     s.CreatedAt,
		}
		if s.Supersedes != nil {
			row.Supersedes = s.Supersedes.Version
		}
		r.Lineage = append(r.Lineage, row)
	}

	if latest.Status == domain.StrategyStatusProposable {
		bt, err := g.backtests.GetByStrategyVersion(ctx, strategyID, latest.Version)
		if err != nil {
			return nil, fmt.Errorf("load backtest for %s@v%d: %w", strategyID, latest.Version, err)
		}
		r.Backtest = backtestSection(bt)
	}

	for _, s := range lineage {
		d, err := g.decisions.GetByStrategy(ctx, strategyID, s.Version)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		r.Decisions = append(r.Decisions, DecisionRow{
			Version:    s.Version,
			State:      d.State,
			ReasonCode: d.ReasonCode,
			DecidedAt:  d.DecidedAt,
		})

		if d.State != domain.DecisionAccepted {
			continue
		}
		rows, err := g.performanceRows(ctx, d, s.Version)
		if err != nil {
			return nil, err
		}
		r.Performance = append(r.Performance, rows...)
	}

	return r, nil
}

func (g *Generator) performanceRows(ctx context.Context, d *domain.Decision, version int) ([]PerformanceRow, error) {
	trace, err := g.traces.GetByDecision(ctx, d.DecisionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	perfs, err := g.performances.GetByTrace(ctx, trace.TraceID)
	if err != nil {
		return nil, err
	}

	rows := make([]PerformanceRow, 0, len(perfs))
	for _, p := range perfs {
		rows = append(rows, PerformanceRow{
			Version:         version,
			TraceID:         p.TraceID,
			AsOf:            p.AsOf,
			TotalReturn:     p.TotalReturn,
			BenchmarkReturn: p.BenchmarkReturn,
			Alpha:           p.Metrics.Alpha,
			Drawdown:        p.Metrics.Drawdown,
			TrustScore:      p.Metrics.TrustScore,
			AcceptanceRate:  p.Metrics.AcceptanceRate,
		})
	}
	return rows, nil
}

func hypothesisSection(s *domain.Strategy) HypothesisSection {
	return HypothesisSection{
		Version:        s.Version,
		Action:         s.Hypothesis.Action,
		Symbols:        s.Hypothesis.Symbols,
		Weights:        s.Hypothesis.Weights,
		EntryThreshold: s.Hypothesis.EntryThreshold,
		ExitThreshold:  s.Hypothesis.ExitThreshold,
		RebalanceDays:  s.Hypothesis.RebalanceDays,
	}
}

func backtestSection(bt *domain.BacktestResult) *BacktestSection {
	sec := &BacktestSection{
		ExpectedReturn: bt.Metrics.ExpectedReturn,
		MaxDrawdown:    bt.Metrics.MaxDrawdown,
		Confidence:     bt.Metrics.Confidence,
		SnapshotsUsed:  bt.SnapshotsUsed,
		Seed:           bt.Seed,
		ComputedAt:     bt.ComputedAt,
	}
	for _, e := range bt.Trace {
		sec.Trace = append(sec.Trace, ExplainRow{
			Signal:       e.Signal,
			WindowStart:  e.WindowStart,
			WindowEnd:    e.WindowEnd,
			Contribution: e.Contribution,
			Note:         e.Note,
		})
	}
	return sec
}
