// Package main runs an end-to-end advisory cycle on in-memory stores:
// seed market history, propose a strategy, walk the decision
// checkpoint, record execution and realized performance, roll up the
// learning window, rank the surviving candidates, and write the
// explainability report. Useful for demos and as a living smoke test
// of the whole engine.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"strategy-advisor-lab/internal/backtest"
	"strategy-advisor-lab/internal/config"
	"strategy-advisor-lab/internal/decision"
	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/learning"
	"strategy-advisor-lab/internal/lifecycle"
	"strategy-advisor-lab/internal/policy"
	"strategy-advisor-lab/internal/reporting"
	"strategy-advisor-lab/internal/storage"
	"strategy-advisor-lab/internal/storage/memory"
)

const (
	demoUser = "user-demo"
	demoGoal = "goal-demo"
	weekMs   = 7 * 24 * int64(time.Hour/time.Millisecond)
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	// The demo always runs on in-memory stores.
	if os.Getenv("USE_MEMORY") == "" {
		os.Setenv("USE_MEMORY", "true")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := run(context.Background(), cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Pipeline failed")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	users := memory.NewUserProfileStore()
	goals := memory.NewGoalStore()
	contexts := memory.NewMarketContextStore()
	strategies := memory.NewStrategyStore()
	backtests := memory.NewBacktestStore()
	decisions := memory.NewDecisionStore()
	traces := memory.NewExecutionTraceStore()
	performances := memory.NewPerformanceStore()
	learningRepo := memory.NewLearningMetricsStore()

	engine := backtest.NewEngine(contexts, log)
	manager := lifecycle.NewManager(strategies, backtests, goals, users, contexts, engine, cfg.BacktestSeed, log)
	machine := decision.NewMachine(decisions, traces, manager, log)
	aggregator := learning.NewAggregator(performances, learningRepo, decisions, traces, strategies, log)
	ranker := policy.NewWeightedRanker(cfg.RankingWeights)
	reports := reporting.NewGenerator(strategies, backtests, decisions, traces, performances)

	now := time.Now().UnixMilli()
	historyStart := now - 52*weekMs

	if err := seed(ctx, users, goals, contexts, historyStart, now); err != nil {
		return fmt.Errorf("seed demo data: %w", err)
	}
	log.Info().Msg("Seeded demo user, goal, and a year of weekly snapshots")

	// Propose two competing hypotheses against the same goal.
	rotation, err := manager.Propose(ctx, lifecycle.ProposeRequest{
		UserID: demoUser,
		Goal:   domain.GoalRef{GoalID: demoGoal, Version: 1},
		Family: domain.FamilyMacroRotation,
	})
	if err != nil {
		return fmt.Errorf("propose rotation strategy: %w", err)
	}
	momentum, err := manager.Propose(ctx, lifecycle.ProposeRequest{
		UserID: demoUser,
		Goal:   domain.GoalRef{GoalID: demoGoal, Version: 1},
		Family: domain.FamilyMomentum,
	})
	if err != nil {
		return fmt.Errorf("propose momentum strategy: %w", err)
	}
	log.Info().
		Str("rotation", rotation.StrategyID).
		Str("momentum", momentum.StrategyID).
		Msg("Proposed and backtested two strategies")

	// The user modifies the rotation strategy, then accepts the fork.
	dec, err := machine.Propose(ctx, demoUser, rotation.StrategyID, rotation.Version)
	if err != nil {
		return fmt.Errorf("propose decision: %w", err)
	}

	entry := 0.30
	modified, err := machine.Decide(ctx, demoUser, dec.DecisionID, domain.DecisionModified, decision.Payload{
		Modification: &lifecycle.Modification{
			EntryThreshold: &entry,
			Note:           "tighter entry per user request",
		},
	})
	if err != nil {
		return fmt.Errorf("modify decision: %w", err)
	}
	log.Info().
		Str("fork", modified.Fork.StrategyID).
		Int("version", modified.Fork.Version).
		Msg("User modification forked a new version")

	accepted, err := machine.Decide(ctx, demoUser, modified.Next.DecisionID, domain.DecisionAccepted, decision.Payload{})
	if err != nil {
		return fmt.Errorf("accept decision: %w", err)
	}
	trace := accepted.Trace
	log.Info().Str("trace", trace.TraceID).Msg("Accepted fork; execution trace opened")

	// Execution fills the trace and closes it.
	actions := []domain.ActionRecord{
		{ActionType: domain.TraceActionBuy, Symbol: "SPY", Quantity: 40, Price: 452.10, Timestamp: now},
		{ActionType: domain.TraceActionBuy, Symbol: "TLT", Quantity: 60, Price: 98.35, Timestamp: now},
		{ActionType: domain.TraceActionRebalance, Symbol: "SPY", Quantity: -4, Price: 460.80, Timestamp: now + 2*weekMs},
	}
	for _, a := range actions {
		if _, err := machine.AppendAction(ctx, trace.TraceID, a); err != nil {
			return fmt.Errorf("append action: %w", err)
		}
	}
	if err := machine.CompleteTrace(ctx, trace.TraceID); err != nil {
		return fmt.Errorf("complete trace: %w", err)
	}

	// Evaluate what the market actually did, with user feedback.
	outcome := domain.MarketOutcome{
		WindowStart:      now,
		WindowEnd:        now + 4*weekMs,
		PortfolioReturns: []float64{0.012, -0.004, 0.009, 0.006},
		BenchmarkReturns: []float64{0.008, -0.006, 0.005, 0.004},
	}
	feedback := &domain.Feedback{
		DecisionID: modified.Next.DecisionID,
		Rating:     4,
		Comment:    "liked the tighter entry",
	}
	perf, err := aggregator.Evaluate(ctx, trace.TraceID, outcome, feedback)
	if err != nil {
		return fmt.Errorf("evaluate trace: %w", err)
	}
	log.Info().
		Float64("alpha", perf.Metrics.Alpha).
		Float64("drawdown", perf.Metrics.Drawdown).
		Float64("trust", perf.Metrics.TrustScore).
		Msg("Trace evaluated")

	// Roll up the learning window and rank the goal's candidates.
	window := cfg.LearningWindow.Milliseconds()
	for _, family := range []string{domain.FamilyMacroRotation, domain.FamilyMomentum} {
		if _, err := aggregator.RecomputeWindow(ctx, family, now+4*weekMs-window, now+4*weekMs); err != nil {
			return fmt.Errorf("recompute learning for %s: %w", family, err)
		}
	}

	candidates, err := rankCandidates(ctx, manager, backtests, learningRepo, ranker)
	if err != nil {
		return err
	}
	for i, c := range candidates {
		log.Info().
			Int("rank", i+1).
			Str("strategy", c.Strategy.StrategyID).
			Str("family", c.Strategy.Hypothesis.Family).
			Msg("Ranked candidate")
	}

	// Write the explainability report for the winning lineage.
	report, err := reports.Generate(ctx, demoUser, rotation.StrategyID)
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}
	if err := writeReports(cfg.OutputDir, report); err != nil {
		return err
	}
	log.Info().Str("dir", cfg.OutputDir).Msg("Reports written")
	return nil
}

func rankCandidates(ctx context.Context, manager *lifecycle.Manager, backtests storage.BacktestStore, learningRepo storage.LearningMetricsStore, ranker policy.Ranker) ([]policy.Candidate, error) {
	latest, err := manager.ListByGoal(ctx, demoUser, demoGoal)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	var candidates []policy.Candidate
	for _, st := range latest {
		if st.Status != domain.StrategyStatusProposable {
			continue
		}
		bt, err := backtests.GetByStrategyVersion(ctx, st.StrategyID, st.Version)
		if err != nil {
			return nil, fmt.Errorf("load backtest for %s@v%d: %w", st.StrategyID, st.Version, err)
		}
		candidates = append(candidates, policy.Candidate{Strategy: st, Backtest: bt})
	}

	metrics, err := learningRepo.GetAllLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load learning metrics: %w", err)
	}
	return ranker.Rank(candidates, metrics), nil
}

func writeReports(dir string, report *reporting.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	md := filepath.Join(dir, "strategy_report.md")
	if err := os.WriteFile(md, []byte(reporting.RenderMarkdown(report)), 0o644); err != nil {
		return fmt.Errorf("write markdown report: %w", err)
	}

	csv := filepath.Join(dir, "performance.csv")
	if err := os.WriteFile(csv, []byte(reporting.RenderCSV(report.Performance)), 0o644); err != nil {
		return fmt.Errorf("write performance csv: %w", err)
	}
	return nil
}

// seed writes the demo profile, goal, and a year of weekly snapshots
// with gently trending signals so both families backtest cleanly.
func seed(ctx context.Context, users *memory.UserProfileStore, goals *memory.GoalStore, contexts *memory.MarketContextStore, start, end int64) error {
	err := users.Insert(ctx, &domain.UserProfile{
		UserID:     demoUser,
		Name:       "Demo Investor",
		WealthTier: "core",
		Residence:  "NL",
		Risk: domain.RiskProfile{
			RiskTolerance:        domain.RiskBalanced,
			MaxDrawdownTolerance: 0.15,
			LossAversionScore:    0.5,
		},
		Preferences: domain.Preferences{
			ExplainableOnly:      true,
			NotificationPriority: "normal",
			ReportingFrequency:   "weekly",
		},
		CreatedAt: start,
	})
	if err != nil {
		return err
	}

	err = goals.Insert(ctx, &domain.Goal{
		GoalID:        demoGoal,
		Version:       1,
		UserID:        demoUser,
		Description:   "house deposit in three years",
		TargetAmount:  60000,
		HorizonMonths: 36,
		Constraints:   []string{"no_leverage"},
		CreatedAt:     start,
	})
	if err != nil {
		return err
	}

	i := 0
	for ts := start; ts <= end; ts += weekMs {
		spy := 0.20 + 0.15*float64(i%5)/4.0
		tlt := -0.05 + 0.10*float64(i%3)/2.0
		snap := &domain.MarketContext{
			ContextID: fmt.Sprintf("ctx-%04d", i),
			Timestamp: ts,
			Symbols:   []string{"SPY", "TLT"},
			Signals: []domain.Signal{
				{Name: "SPY", Value: spy, Confidence: 0.8},
				{Name: "TLT", Value: tlt, Confidence: 0.7},
			},
		}
		if err := contexts.Insert(ctx, snap); err != nil {
			return err
		}
		i++
	}
	return nil
}
