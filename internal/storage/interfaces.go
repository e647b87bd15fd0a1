package storage

import (
	"context"

	"strategy-advisor-lab/internal/domain"
)

// UserProfileStore provides access to user profile snapshots.
type UserProfileStore interface {
	// Insert adds a profile snapshot. Returns ErrDuplicateKey if user_id exists.
	Insert(ctx context.Context, u *domain.UserProfile) error

	// GetByID retrieves a profile. Returns NotFoundError if not exists.
	GetByID(ctx context.Context, userID string) (*domain.UserProfile, error)
}

// GoalStore provides access to versioned goal records.
type GoalStore interface {
	// Insert adds a goal version. Returns ErrDuplicateKey if (goal_id, version) exists.
	Insert(ctx context.Context, g *domain.Goal) error

	// GetVersion retrieves a specific goal version. Returns NotFoundError if not exists.
	GetVersion(ctx context.Context, goalID string, version int) (*domain.Goal, error)

	// GetLatest retrieves the highest version of a goal. Returns NotFoundError if none exists.
	GetLatest(ctx context.Context, goalID string) (*domain.Goal, error)

	// ListByUser retrieves the latest version of every goal owned by a user.
	ListByUser(ctx context.Context, userID string) ([]*domain.Goal, error)
}

// MarketContextStore provides access to the append-only market
// snapshot time series. Snapshots are immutable once written.
type MarketContextStore interface {
	// Insert adds a snapshot. Returns ErrDuplicateKey if context_id exists.
	Insert(ctx context.Context, m *domain.MarketContext) error

	// GetByID retrieves a snapshot. Returns NotFoundError if not exists.
	GetByID(ctx context.Context, contextID string) (*domain.MarketContext, error)

	// GetByTimeRange retrieves snapshots with timestamp in [start, end],
	// ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.MarketContext, error)

	// GetLatest retrieves the most recent snapshot. Returns NotFoundError if none exists.
	GetLatest(ctx context.Context) (*domain.MarketContext, error)
}

// StrategyStore provides access to the immutable strategy version
// chain. Writes use optimistic versioning: inserting a version that
// already exists fails with VersionConflictError and must be retried
// by the caller after re-reading the chain.
type StrategyStore interface {
	// Insert adds a strategy version. Returns VersionConflictError if
	// (strategy_id, version) already exists, ErrInvalidInput if
	// version > 1 and the prior version does not exist.
	Insert(ctx context.Context, s *domain.Strategy) error

	// GetVersion retrieves a specific version. Returns NotFoundError if not exists.
	GetVersion(ctx context.Context, strategyID string, version int) (*domain.Strategy, error)

	// GetLatest retrieves the highest version. Returns NotFoundError if none exists.
	GetLatest(ctx context.Context, strategyID string) (*domain.Strategy, error)

	// GetLineage retrieves all versions of a strategy ordered by version ASC.
	GetLineage(ctx context.Context, strategyID string) ([]*domain.Strategy, error)

	// ListByGoal retrieves the latest version of every strategy scoped
	// to an owning (user, goal) pair. Lookups are never cross-user.
	ListByGoal(ctx context.Context, userID, goalID string) ([]*domain.Strategy, error)

	// ListByFamily retrieves all strategy versions in a family.
	ListByFamily(ctx context.Context, family string) ([]*domain.Strategy, error)
}

// BacktestStore provides access to immutable backtest results, 1:1
// with strategy versions.
type BacktestStore interface {
	// Insert adds a result. Returns ErrDuplicateKey if a result exists
	// for the same (strategy_id, strategy_version).
	Insert(ctx context.Context, r *domain.BacktestResult) error

	// GetByID retrieves a result. Returns NotFoundError if not exists.
	GetByID(ctx context.Context, backtestID string) (*domain.BacktestResult, error)

	// GetByStrategyVersion retrieves the result for a strategy version.
	// Returns NotFoundError if not exists.
	GetByStrategyVersion(ctx context.Context, strategyID string, version int) (*domain.BacktestResult, error)
}

// DecisionStore provides access to decision records. Creation is
// append-only; the single proposed -> terminal transition is a
// compare-and-set so that at most one terminal outcome ever wins.
type DecisionStore interface {
	// Insert adds a new proposed decision. Returns ErrDuplicateKey if
	// decision_id exists or the strategy version already has a decision.
	Insert(ctx context.Context, d *domain.Decision) error

	// MarkDecided records the terminal outcome carried by d, guarded
	// by state == proposed. Returns ErrAlreadyDecided if the stored
	// decision is terminal, NotFoundError if it does not exist.
	MarkDecided(ctx context.Context, d *domain.Decision) error

	// GetByID retrieves a decision. Returns NotFoundError if not exists.
	GetByID(ctx context.Context, decisionID string) (*domain.Decision, error)

	// GetByStrategy retrieves the decision for a strategy version.
	// Returns NotFoundError if none exists.
	GetByStrategy(ctx context.Context, strategyID string, version int) (*domain.Decision, error)

	// ListByUser retrieves a user's decisions created at or after
	// since (unix ms), ordered by created_at ASC.
	ListByUser(ctx context.Context, userID string, since int64) ([]*domain.Decision, error)
}

// ExecutionTraceStore provides access to append-only execution traces.
// Actions are only ever appended; corrections are compensating entries.
type ExecutionTraceStore interface {
	// Insert adds a new empty trace. Returns ErrDuplicateKey if
	// trace_id exists or the decision already has a trace.
	Insert(ctx context.Context, t *domain.ExecutionTrace) error

	// AppendAction appends an action and returns its assigned sequence
	// number. Returns ErrTraceCompleted if the trace is completed.
	AppendAction(ctx context.Context, traceID string, a domain.ActionRecord) (int, error)

	// Complete closes the trace. Returns ErrTraceCompleted if already closed.
	Complete(ctx context.Context, traceID string, completedAt int64) error

	// GetByID retrieves a trace with its actions ordered by seq ASC.
	// Returns NotFoundError if not exists.
	GetByID(ctx context.Context, traceID string) (*domain.ExecutionTrace, error)

	// GetByDecision retrieves the trace for a decision.
	// Returns NotFoundError if none exists.
	GetByDecision(ctx context.Context, decisionID string) (*domain.ExecutionTrace, error)
}

// PerformanceStore provides access to the append-only portfolio
// performance time series. Records are never overwritten; reads order
// by as_of so out-of-order arrivals cannot shadow a later evaluation.
type PerformanceStore interface {
	// Insert adds an evaluation record. Returns ErrDuplicateKey if
	// performance_id or (trace_id, as_of) exists.
	Insert(ctx context.Context, p *domain.PortfolioPerformance) error

	// GetByTrace retrieves all evaluations of a trace ordered by as_of ASC.
	GetByTrace(ctx context.Context, traceID string) ([]*domain.PortfolioPerformance, error)

	// GetLatestByTrace retrieves the evaluation with the highest as_of.
	// Returns NotFoundError if none exists.
	GetLatestByTrace(ctx context.Context, traceID string) (*domain.PortfolioPerformance, error)
}

// LearningMetricsStore provides access to versioned learning-metric
// snapshots. Written only by the aggregator; read-only elsewhere.
type LearningMetricsStore interface {
	// Insert adds a snapshot. Returns ErrDuplicateKey if
	// (family, version) exists, VersionConflictError if version is not
	// greater than the family's current latest.
	Insert(ctx context.Context, m *domain.LearningMetrics) error

	// GetLatest retrieves the highest-version snapshot for a family.
	// Returns NotFoundError if none exists.
	GetLatest(ctx context.Context, family string) (*domain.LearningMetrics, error)

	// GetAllLatest retrieves the latest snapshot for every family.
	GetAllLatest(ctx context.Context) (map[string]*domain.LearningMetrics, error)
}
