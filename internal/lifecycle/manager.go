// Package lifecycle owns the strategy version chain: it creates new
// strategy hypotheses, forks existing ones, and guarantees no strategy
// is surfaced without a completed backtest.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"strategy-advisor-lab/internal/backtest"
	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/idhash"
	"strategy-advisor-lab/internal/storage"
)

// Manager is the strategy lifecycle manager. It is the only writer of
// Strategy and BacktestResult records.
type Manager struct {
	strategies storage.StrategyStore
	backtests  storage.BacktestStore
	goals      storage.GoalStore
	users      storage.UserProfileStore
	contexts   storage.MarketContextStore
	engine     *backtest.Engine

	seed   int64
	nowMs  func() int64
	logger zerolog.Logger
}

// NewManager creates a lifecycle manager. seed is recorded into every
// backtest so runs stay reproducible.
func NewManager(
	strategies storage.StrategyStore,
	backtests storage.BacktestStore,
	goals storage.GoalStore,
	users storage.UserProfileStore,
	contexts storage.MarketContextStore,
	engine *backtest.Engine,
	seed int64,
	logger zerolog.Logger,
) *Manager {
	return &Manager{
		strategies: strategies,
		backtests:  backtests,
		goals:      goals,
		users:      users,
		contexts:   contexts,
		engine:     engine,
		seed:       seed,
		nowMs:      func() int64 { return time.Now().UnixMilli() },
		logger:     logger.With().Str("component", "lifecycle").Logger(),
	}
}

// WithClock overrides the wall clock, for deterministic tests and replays.
func (m *Manager) WithClock(nowMs func() int64) *Manager {
	m.nowMs = nowMs
	return m
}

// ProposeRequest describes a new strategy hypothesis to create.
type ProposeRequest struct {
	UserID          string
	Goal            domain.GoalRef
	Family          string
	MarketContextID string // empty means the latest snapshot

	// Learning is the versioned learning-metrics snapshot read at
	// propose time. Passing it explicitly keeps the policy feedback
	// loop testable and its staleness visible; nil means no history.
	Learning *domain.LearningMetrics
}

// Propose creates a strategy at version 1, backtests it, and persists
// it with status proposable on success or backtest_failed when history
// is insufficient. The failed attempt is recorded, never dropped, so a
// later retry with richer market data can resume by re-proposing.
func (m *Manager) Propose(ctx context.Context, req ProposeRequest) (*domain.Strategy, error) {
	if !domain.ValidFamily(req.Family) {
		return nil, fmt.Errorf("propose: unknown strategy family %q: %w", req.Family, storage.ErrInvalidInput)
	}

	user, err := m.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("propose: %w", err)
	}

	goal, err := m.goals.GetVersion(ctx, req.Goal.GoalID, req.Goal.Version)
	if err != nil {
		return nil, fmt.Errorf("propose: %w", err)
	}
	if goal.UserID != req.UserID {
		// Unauthorized references surface as not-found.
		return nil, &storage.NotFoundError{Entity: "goal", ID: req.Goal.GoalID, Version: req.Goal.Version}
	}

	snap, err := m.resolveContext(ctx, req.MarketContextID)
	if err != nil {
		return nil, fmt.Errorf("propose: %w", err)
	}

	hyp := buildHypothesis(req.Family, user, snap, req.Learning)

	strat := &domain.Strategy{
		StrategyID:      idhash.ComputeStrategyID(req.UserID, goal.GoalID, goal.Version, req.Family, m.nowMs()),
		Version:         1,
		UserID:          req.UserID,
		Goal:            req.Goal,
		MarketContextID: snap.ContextID,
		Hypothesis:      hyp,
		CreatedAt:       m.nowMs(),
	}

	return m.backtestAndInsert(ctx, strat, goal.HorizonMonths)
}

// Modification is the payload applied when forking a strategy.
type Modification struct {
	Action         *string
	Symbols        []string
	Weights        map[string]float64
	EntryThreshold *float64
	ExitThreshold  *float64
	RebalanceDays  *int
	Note           string
}

// Fork creates version N+1 of a strategy from version N, applying the
// modification and re-running the backtest. The prior version is
// retained untouched. A fork that targets a stale version fails with
// VersionConflictError; the caller must re-read and retry.
func (m *Manager) Fork(ctx context.Context, userID, strategyID string, version int, mod Modification) (*domain.Strategy, error) {
	prior, err := m.GetVersion(ctx, userID, strategyID, version)
	if err != nil {
		return nil, fmt.Errorf("fork: %w", err)
	}

	goal, err := m.goals.GetVersion(ctx, prior.Goal.GoalID, prior.Goal.Version)
	if err != nil {
		return nil, fmt.Errorf("fork: %w", err)
	}

	// Forks are re-tested against the freshest snapshot available.
	snap, err := m.resolveContext(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("fork: %w", err)
	}

	next := &domain.Strategy{
		StrategyID:      prior.StrategyID,
		Version:         prior.Version + 1,
		UserID:          prior.UserID,
		Goal:            prior.Goal,
		MarketContextID: snap.ContextID,
		Hypothesis:      applyModification(prior.Hypothesis, mod),
		Supersedes:      &domain.VersionRef{StrategyID: prior.StrategyID, Version: prior.Version},
		CreatedAt:       m.nowMs(),
	}

	return m.backtestAndInsert(ctx, next, goal.HorizonMonths)
}

// GetVersion retrieves a strategy version scoped to its owning user.
// Cross-user lookups surface as not-found.
func (m *Manager) GetVersion(ctx context.Context, userID, strategyID string, version int) (*domain.Strategy, error) {
	strat, err := m.strategies.GetVersion(ctx, strategyID, version)
	if err != nil {
		return nil, err
	}
	if strat.UserID != userID {
		return nil, &storage.NotFoundError{Entity: "strategy", ID: strategyID, Version: version}
	}
	return strat, nil
}

// Lineage retrieves the full version chain of a strategy, oldest
// first, scoped to the owning user.
func (m *Manager) Lineage(ctx context.Context, userID, strategyID string) ([]*domain.Strategy, error) {
	chain, err := m.strategies.GetLineage(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 || chain[0].UserID != userID {
		return nil, &storage.NotFoundError{Entity: "strategy", ID: strategyID}
	}
	return chain, nil
}

// ListByGoal retrieves the latest strategy versions for a (user, goal) pair.
func (m *Manager) ListByGoal(ctx context.Context, userID, goalID string) ([]*domain.Strategy, error) {
	return m.strategies.ListByGoal(ctx, userID, goalID)
}

// backtestAndInsert runs the backtest and persists the result and
// strategy. The strategy row is written exactly once with its final
// status, so a proposable strategy always has its backtest on disk
// before it becomes visible.
func (m *Manager) backtestAndInsert(ctx context.Context, strat *domain.Strategy, horizonMonths int) (*domain.Strategy, error) {
	result, err := m.engine.Run(ctx, strat.StrategyID, strat.Version, strat.Hypothesis, strat.MarketContextID, horizonMonths, m.seed)

	switch {
	case err == nil:
		strat.Status = domain.StrategyStatusProposable
		strat.BacktestID = result.BacktestID

	case errors.Is(err, backtest.ErrDataInsufficient):
		strat.Status = domain.StrategyStatusBacktestFailed
		strat.FailureReason = err.Error()
		m.logger.Warn().
			Str("strategy_id", strat.StrategyID).
			Int("version", strat.Version).
			Msg("backtest failed on insufficient history, recording attempt")

	default:
		return nil, fmt.Errorf("backtest strategy %s@v%d: %w", strat.StrategyID, strat.Version, err)
	}

	if result != nil {
		if err := m.backtests.Insert(ctx, result); err != nil {
			switch {
			case errors.Is(err, storage.ErrDuplicateKey):
				// Backtest results are 1:1 with strategy versions. A
				// duplicate is either a concurrent writer creating this
				// version, or an orphaned result left by an earlier
				// attempt whose strategy insert failed mid-flight.
				if _, verr := m.strategies.GetVersion(ctx, strat.StrategyID, strat.Version); verr == nil {
					return nil, &storage.VersionConflictError{Entity: "strategy", ID: strat.StrategyID, Version: strat.Version}
				} else if !errors.Is(verr, storage.ErrNotFound) {
					return nil, fmt.Errorf("persist backtest result: %w", verr)
				}
				// The version does not exist, so this retry resumes the
				// earlier attempt. Adopt the stored result so the strategy
				// references a row that is actually on disk.
				existing, gerr := m.backtests.GetByStrategyVersion(ctx, strat.StrategyID, strat.Version)
				if gerr != nil {
					return nil, fmt.Errorf("persist backtest result: %w", gerr)
				}
				strat.BacktestID = existing.BacktestID
			default:
				return nil, fmt.Errorf("persist backtest result: %w", err)
			}
		}
	}

	if err := m.strategies.Insert(ctx, strat); err != nil {
		return nil, fmt.Errorf("persist strategy: %w", err)
	}

	m.logger.Info().
		Str("strategy_id", strat.StrategyID).
		Int("version", strat.Version).
		Str("status", strat.Status).
		Str("family", strat.Hypothesis.Family).
		Msg("strategy version created")

	return strat, nil
}

func (m *Manager) resolveContext(ctx context.Context, contextID string) (*domain.MarketContext, error) {
	if contextID != "" {
		return m.contexts.GetByID(ctx, contextID)
	}
	return m.contexts.GetLatest(ctx)
}

func applyModification(base domain.Hypothesis, mod Modification) domain.Hypothesis {
	next := base
	next.Symbols = append([]string(nil), base.Symbols...)
	next.Weights = make(map[string]float64, len(base.Weights))
	for k, v := range base.Weights {
		next.Weights[k] = v
	}

	if mod.Action != nil {
		next.Action = *mod.Action
	}
	if len(mod.Symbols) > 0 {
		next.Symbols = append([]string(nil), mod.Symbols...)
	}
	if len(mod.Weights) > 0 {
		next.Weights = make(map[string]float64, len(mod.Weights))
		for k, v := range mod.Weights {
			next.Weights[k] = v
		}
	}
	if mod.EntryThreshold != nil {
		next.EntryThreshold = *mod.EntryThreshold
	}
	if mod.ExitThreshold != nil {
		next.ExitThreshold = *mod.ExitThreshold
	}
	if mod.RebalanceDays != nil {
		next.RebalanceDays = *mod.RebalanceDays
	}
	return next
}
