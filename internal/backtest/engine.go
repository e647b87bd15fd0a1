// Package backtest estimates how a strategy hypothesis would have
// performed against historical market snapshots. Runs are fully
// deterministic: identical (hypothesis, market context, seed) inputs
// produce a bit-identical BacktestResult.
package backtest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/idhash"
	"strategy-advisor-lab/internal/storage"
)

const (
	// snapshotsPerMonth is the minimum history density required per
	// month of goal horizon.
	snapshotsPerMonth = 4

	// minSnapshots is the absolute floor regardless of horizon.
	minSnapshots = 8

	// signalReturnScale converts a unit portfolio signal score into a
	// per-period return estimate.
	signalReturnScale = 0.04

	// bootstrapRounds is the number of seeded resampling rounds used
	// to measure estimate stability for the confidence score.
	bootstrapRounds = 32
)

// Engine runs deterministic backtests over the market snapshot series.
type Engine struct {
	contexts storage.MarketContextStore
	logger   zerolog.Logger
}

// NewEngine creates a backtest engine reading history from contexts.
func NewEngine(contexts storage.MarketContextStore, logger zerolog.Logger) *Engine {
	return &Engine{
		contexts: contexts,
		logger:   logger.With().Str("component", "backtest").Logger(),
	}
}

// Run backtests hyp against all history up to and including the
// anchoring snapshot. Returns DataInsufficientError when the series is
// too short for the horizon. The seed is recorded in the result so the
// run can be reproduced bit for bit.
func (e *Engine) Run(
	ctx context.Context,
	strategyID string,
	version int,
	hyp domain.Hypothesis,
	marketContextID string,
	horizonMonths int,
	seed int64,
) (*domain.BacktestResult, error) {
	if horizonMonths < 1 || len(hyp.Symbols) == 0 {
		return nil, storage.ErrInvalidInput
	}

	anchor, err := e.contexts.GetByID(ctx, marketContextID)
	if err != nil {
		return nil, fmt.Errorf("load anchor snapshot: %w", err)
	}

	history, err := e.contexts.GetByTimeRange(ctx, 0, anchor.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("load snapshot history: %w", err)
	}

	required := horizonMonths * snapshotsPerMonth
	if required < minSnapshots {
		required = minSnapshots
	}
	if len(history) < required {
		return nil, &DataInsufficientError{
			StrategyID:    strategyID,
			Version:       version,
			HorizonMonths: horizonMonths,
			Required:      required,
			Available:     len(history),
		}
	}

	sim := e.simulate(hyp, history)

	conf := e.confidence(sim, required, len(history), seed)

	result := &domain.BacktestResult{
		BacktestID:      idhash.ComputeBacktestID(strategyID, version, marketContextID, seed),
		StrategyID:      strategyID,
		StrategyVersion: version,
		Metrics: domain.BacktestMetrics{
			ExpectedReturn: sim.totalReturn,
			MaxDrawdown:    sim.maxDrawdown,
			Confidence:     conf,
		},
		Seed:          seed,
		Trace:         sim.explain(hyp),
		SnapshotsUsed: len(history),
		// Anchored to the snapshot time, not the wall clock, so that
		// reproduced runs are bit-identical.
		ComputedAt: anchor.Timestamp,
	}

	e.logger.Debug().
		Str("strategy_id", strategyID).
		Int("version", version).
		Int("snapshots", len(history)).
		Float64("expected_return", sim.totalReturn).
		Float64("max_drawdown", sim.maxDrawdown).
		Float64("confidence", conf).
		Msg("backtest complete")

	return result, nil
}

// simulation holds the intermediate state of one deterministic run.
type simulation struct {
	returns       []float64 // per-period returns while in position (zero when out)
	totalReturn   float64
	maxDrawdown   float64
	firstTs       int64
	lastTs        int64
	contributions map[string]float64 // per-symbol accumulated signal contribution
	observations  int                // signal observations matched
	possible      int                // symbol-period slots that could have matched
}

// simulate walks the snapshot series in timestamp order applying the
// hypothesis thresholds: a position opens when the weighted signal
// score reaches EntryThreshold and closes when it falls to
// ExitThreshold. BUY profits from positive scores, SELL from negative
// ones; HOLD takes no market exposure.
func (e *Engine) simulate(hyp domain.Hypothesis, history []*domain.MarketContext) *simulation {
	sim := &simulation{
		contributions: make(map[string]float64, len(hyp.Symbols)),
		firstTs:       history[0].Timestamp,
		lastTs:        history[len(history)-1].Timestamp,
	}

	direction := 0.0
	switch hyp.Action {
	case domain.ActionBuy:
		direction = 1.0
	case domain.ActionSell:
		direction = -1.0
	}

	inPosition := false
	for _, snap := range history {
		score := 0.0
		for _, sym := range hyp.Symbols {
			sim.possible++
			sig, ok := findSignal(snap, sym)
			if !ok {
				continue
			}
			sim.observations++
			w := hyp.Weights[sym]
			score += w * sig.Value * sig.Confidence
		}

		directed := direction * score
		if !inPosition && directed >= hyp.EntryThreshold {
			inPosition = true
		} else if inPosition && directed < hyp.ExitThreshold {
			inPosition = false
		}

		r := 0.0
		if inPosition && direction != 0 {
			r = clampScore(directed) * signalReturnScale
			for _, sym := range hyp.Symbols {
				if sig, ok := findSignal(snap, sym); ok {
					sim.contributions[sym] += direction * hyp.Weights[sym] * sig.Value * sig.Confidence
				}
			}
		}
		sim.returns = append(sim.returns, r)
	}

	curve := equityCurve(sim.returns)
	sim.totalReturn = curve[len(curve)-1] - 1.0
	sim.maxDrawdown = maxDrawdown(curve)
	return sim
}

// confidence combines history depth, signal coverage and estimate
// stability under seeded resampling into a 0..1 score.
func (e *Engine) confidence(sim *simulation, required, available int, seed int64) float64 {
	depth := clamp01(float64(available) / float64(2*required))

	coverage := 0.0
	if sim.possible > 0 {
		coverage = float64(sim.observations) / float64(sim.possible)
	}

	base := 0.5*depth + 0.5*coverage

	rng := rand.New(rand.NewSource(seed))
	samples := make([]float64, bootstrapRounds)
	for i := range samples {
		resampled := make([]float64, len(sim.returns))
		for j := range resampled {
			resampled[j] = sim.returns[rng.Intn(len(sim.returns))]
		}
		samples[i] = stat.Mean(resampled, nil)
	}

	return clamp01(base * dispersionPenalty(samples))
}

// explain builds the human-readable trace: which signals over which
// window drove the estimate, ordered by contribution magnitude.
func (s *simulation) explain(hyp domain.Hypothesis) []domain.Explain {
	entries := make([]domain.Explain, 0, len(s.contributions)+1)

	symbols := make([]string, 0, len(s.contributions))
	for sym := range s.contributions {
		symbols = append(symbols, sym)
	}
	sort.Slice(symbols, func(i, j int) bool {
		ci, cj := math.Abs(s.contributions[symbols[i]]), math.Abs(s.contributions[symbols[j]])
		if ci != cj {
			return ci > cj
		}
		return symbols[i] < symbols[j]
	})

	for _, sym := range symbols {
		c := s.contributions[sym]
		verb := "supported"
		if c < 0 {
			verb = "weighed against"
		}
		entries = append(entries, domain.Explain{
			Signal:       sym,
			WindowStart:  s.firstTs,
			WindowEnd:    s.lastTs,
			Contribution: c,
			Note:         fmt.Sprintf("%s signal %s the %s hypothesis (weight %.2f)", sym, verb, hyp.Family, hyp.Weights[sym]),
		})
	}

	entries = append(entries, domain.Explain{
		Signal:       "overall",
		WindowStart:  s.firstTs,
		WindowEnd:    s.lastTs,
		Contribution: s.totalReturn,
		Note: fmt.Sprintf("simulated %s over %d snapshots: total return %.4f, max drawdown %.4f",
			hyp.Action, len(s.returns), s.totalReturn, s.maxDrawdown),
	})

	return entries
}

func findSignal(snap *domain.MarketContext, name string) (domain.Signal, bool) {
	for _, sig := range snap.Signals {
		if sig.Name == name {
			return sig, true
		}
	}
	return domain.Signal{}, false
}

func clampScore(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
