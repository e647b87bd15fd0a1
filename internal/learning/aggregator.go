// Package learning closes the feedback loop: it turns realized market
// outcomes into immutable performance records and rolls decided
// decisions up into versioned per-family learning metrics that the
// lifecycle manager and policy hook consume.
package learning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/idhash"
	"strategy-advisor-lab/internal/storage"
)

const (
	// acceptanceLookbackMs bounds the rolling window for a user's
	// acceptance rate: 90 days before the evaluation point.
	acceptanceLookbackMs = 90 * 24 * int64(time.Hour/time.Millisecond)

	// feedbackTrustStep shifts trust per rating point away from the
	// neutral rating of 3.
	feedbackTrustStep = 0.05

	// neutralTrust is used when a family has no decided history.
	neutralTrust = 0.5
)

// Aggregator computes performance evaluations and learning-metric
// snapshots. It is the only writer of both stores.
type Aggregator struct {
	performances storage.PerformanceStore
	learning     storage.LearningMetricsStore
	decisions    storage.DecisionStore
	traces       storage.ExecutionTraceStore
	strategies   storage.StrategyStore

	nowMs  func() int64
	logger zerolog.Logger
}

// NewAggregator creates a performance and learning aggregator.
func NewAggregator(
	performances storage.PerformanceStore,
	learning storage.LearningMetricsStore,
	decisions storage.DecisionStore,
	traces storage.ExecutionTraceStore,
	strategies storage.StrategyStore,
	logger zerolog.Logger,
) *Aggregator {
	return &Aggregator{
		performances: performances,
		learning:     learning,
		decisions:    decisions,
		traces:       traces,
		strategies:   strategies,
		nowMs:        func() int64 { return time.Now().UnixMilli() },
		logger:       logger.With().Str("component", "learning").Logger(),
	}
}

// WithClock overrides the wall clock, for deterministic tests.
func (a *Aggregator) WithClock(nowMs func() int64) *Aggregator {
	a.nowMs = nowMs
	return a
}

// Evaluate scores an execution trace against a realized market outcome
// and persists one immutable performance record at AsOf = window end.
// Optional feedback on the underlying decision nudges the trust score.
// Re-evaluating the same trace at the same window end is a duplicate.
func (a *Aggregator) Evaluate(ctx context.Context, traceID string, outcome domain.MarketOutcome, fb *domain.Feedback) (*domain.PortfolioPerformance, error) {
	if err := validateOutcome(outcome); err != nil {
		return nil, fmt.Errorf("evaluate trace %s: %w", traceID, err)
	}

	trace, err := a.traces.GetByID(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	d, err := a.decisions.GetByID(ctx, trace.DecisionID)
	if err != nil {
		return nil, fmt.Errorf("evaluate: load decision: %w", err)
	}
	strat, err := a.strategies.GetVersion(ctx, d.Strategy.StrategyID, d.Strategy.Version)
	if err != nil {
		return nil, fmt.Errorf("evaluate: load strategy: %w", err)
	}

	if fb != nil {
		if fb.DecisionID != d.DecisionID {
			return nil, fmt.Errorf("evaluate: feedback targets decision %s, trace belongs to %s: %w",
				fb.DecisionID, d.DecisionID, storage.ErrInvalidInput)
		}
		if fb.Rating < 1 || fb.Rating > 5 {
			return nil, fmt.Errorf("evaluate: feedback rating %d out of range 1..5: %w",
				fb.Rating, storage.ErrInvalidInput)
		}
	}

	totalReturn := compound(outcome.PortfolioReturns)
	benchmarkReturn := compound(outcome.BenchmarkReturns)

	trust, err := a.familyTrust(ctx, strat.Hypothesis.Family)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if fb != nil {
		trust = clamp01(trust + float64(fb.Rating-3)*feedbackTrustStep)
	}

	acceptance, err := a.userAcceptance(ctx, d.UserID, outcome.WindowEnd-acceptanceLookbackMs)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	perf := &domain.PortfolioPerformance{
		PerformanceID: idhash.ComputePerformanceID(traceID, outcome.WindowEnd),
		TraceID:       traceID,
		Metrics: domain.PerformanceMetrics{
			Alpha:          totalReturn - benchmarkReturn,
			Drawdown:       maxDrawdown(outcome.PortfolioReturns),
			TrustScore:     trust,
			AcceptanceRate: acceptance,
		},
		TotalReturn:     totalReturn,
		BenchmarkReturn: benchmarkReturn,
		AsOf:            outcome.WindowEnd,
	}

	if err := a.performances.Insert(ctx, perf); err != nil {
		return nil, fmt.Errorf("persist performance %s: %w", perf.PerformanceID, err)
	}

	a.logger.Info().
		Str("trace_id", traceID).
		Str("performance_id", perf.PerformanceID).
		Float64("alpha", perf.Metrics.Alpha).
		Float64("drawdown", perf.Metrics.Drawdown).
		Msg("trace evaluated")

	return perf, nil
}

// RecomputeWindow rolls the family's decisions decided inside
// [windowStart, windowEnd) up into a fresh learning-metrics snapshot,
// one version above the family's current latest. Realized alpha and
// drawdown come from the latest performance record of each accepted
// decision's trace; versions without one contribute only to the
// outcome rates.
func (a *Aggregator) RecomputeWindow(ctx context.Context, family string, windowStart, windowEnd int64) (*domain.LearningMetrics, error) {
	if windowEnd <= windowStart {
		return nil, fmt.Errorf("recompute %s: empty window [%d, %d): %w",
			family, windowStart, windowEnd, storage.ErrInvalidInput)
	}

	strats, err := a.strategies.ListByFamily(ctx, family)
	if err != nil {
		return nil, fmt.Errorf("recompute %s: %w", family, err)
	}

	var accepted, rejected, modified int
	var alphas, drawdowns []float64
	for _, s := range strats {
		d, err := a.decisions.GetByStrategy(ctx, s.StrategyID, s.Version)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("recompute %s: %w", family, err)
		}
		if !d.Terminal() || d.DecidedAt < windowStart || d.DecidedAt >= windowEnd {
			continue
		}

		switch d.State {
		case domain.DecisionAccepted:
			accepted++
		case domain.DecisionRejected:
			rejected++
		case domain.DecisionModified:
			modified++
		}

		if d.State != domain.DecisionAccepted {
			continue
		}
		trace, err := a.traces.GetByDecision(ctx, d.DecisionID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("recompute %s: %w", family, err)
		}
		perf, err := a.performances.GetLatestByTrace(ctx, trace.TraceID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("recompute %s: %w", family, err)
		}
		alphas = append(alphas, perf.Metrics.Alpha)
		drawdowns = append(drawdowns, perf.Metrics.Drawdown)
	}

	decided := accepted + rejected + modified

	m := &domain.LearningMetrics{
		Family:      family,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		SampleCount: decided,
		TrustScore:  neutralTrust,
		ComputedAt:  a.nowMs(),
	}
	if decided > 0 {
		n := float64(decided)
		m.Acceptance = float64(accepted) / n
		m.Rejection = float64(rejected) / n
		m.Modification = float64(modified) / n
		m.TrustScore = clamp01(1.0 - (float64(rejected)+0.5*float64(modified))/n)
	}
	if len(alphas) > 0 {
		m.MeanAlpha = stat.Mean(alphas, nil)
		m.MeanDrawdown = stat.Mean(drawdowns, nil)
	}

	latest, err := a.learning.GetLatest(ctx, family)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		m.Version = 1
	case err != nil:
		return nil, fmt.Errorf("recompute %s: %w", family, err)
	default:
		m.Version = latest.Version + 1
	}

	if err := a.learning.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("persist learning snapshot %s v%d: %w", family, m.Version, err)
	}

	a.logger.Info().
		Str("family", family).
		Int64("version", m.Version).
		Int("samples", m.SampleCount).
		Float64("trust", m.TrustScore).
		Msg("learning snapshot written")

	return m, nil
}

// Latest returns the family's current learning snapshot.
func (a *Aggregator) Latest(ctx context.Context, family string) (*domain.LearningMetrics, error) {
	return a.learning.GetLatest(ctx, family)
}

// familyTrust derives trust from the family's full decided history.
// Rejections count fully against trust, modifications half.
func (a *Aggregator) familyTrust(ctx context.Context, family string) (float64, error) {
	strats, err := a.strategies.ListByFamily(ctx, family)
	if err != nil {
		return 0, err
	}

	var decided int
	var penalty float64
	for _, s := range strats {
		d, err := a.decisions.GetByStrategy(ctx, s.StrategyID, s.Version)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !d.Terminal() {
			continue
		}
		decided++
		switch d.State {
		case domain.DecisionRejected:
			penalty += 1.0
		case domain.DecisionModified:
			penalty += 0.5
		}
	}
	if decided == 0 {
		return neutralTrust, nil
	}
	return clamp01(1.0 - penalty/float64(decided)), nil
}

// userAcceptance is the fraction of the user's decisions decided since
// the cutoff that were accepted. No decided history means 0.
func (a *Aggregator) userAcceptance(ctx context.Context, userID string, since int64) (float64, error) {
	ds, err := a.decisions.ListByUser(ctx, userID, since)
	if err != nil {
		return 0, err
	}
	var decided, accepted int
	for _, d := range ds {
		if !d.Terminal() {
			continue
		}
		decided++
		if d.State == domain.DecisionAccepted {
			accepted++
		}
	}
	if decided == 0 {
		return 0, nil
	}
	return float64(accepted) / float64(decided), nil
}

func validateOutcome(o domain.MarketOutcome) error {
	if o.WindowEnd <= o.WindowStart {
		return fmt.Errorf("empty outcome window [%d, %d): %w", o.WindowStart, o.WindowEnd, storage.ErrInvalidInput)
	}
	if len(o.PortfolioReturns) == 0 {
		return fmt.Errorf("outcome has no portfolio returns: %w", storage.ErrInvalidInput)
	}
	if len(o.PortfolioReturns) != len(o.BenchmarkReturns) {
		return fmt.Errorf("outcome return series differ in length (%d vs %d): %w",
			len(o.PortfolioReturns), len(o.BenchmarkReturns), storage.ErrInvalidInput)
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// compound folds per-period returns into one total-return fraction.
func compound(returns []float64) float64 {
	v := 1.0
	for _, r := range returns {
		v *= 1.0 + r
	}
	return v - 1.0
}

// maxDrawdown is the worst peak-to-trough loss of the compounded
// return series, as a positive fraction.
func maxDrawdown(returns []float64) float64 {
	v := 1.0
	peak := 1.0
	worst := 0.0
	for _, r := range returns {
		v *= 1.0 + r
		if v > peak {
			peak = v
		}
		if dd := (peak - v) / peak; dd > worst {
			worst = dd
		}
	}
	return math.Abs(worst)
}
