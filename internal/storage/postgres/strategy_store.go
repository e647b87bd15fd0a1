package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// StrategyStore implements storage.StrategyStore using PostgreSQL.
// The (strategy_id, version) primary key is the optimistic-versioning
// guard: concurrent writers of the same version race on the insert and
// the loser gets VersionConflictError.
type StrategyStore struct {
	pool *Pool
}

// NewStrategyStore creates a new StrategyStore.
func NewStrategyStore(pool *Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StrategyStore = (*StrategyStore)(nil)

// Insert adds a strategy version. Returns VersionConflictError if
// (strategy_id, version) exists, ErrInvalidInput if version > 1 and the
// prior version is missing.
func (s *StrategyStore) Insert(ctx context.Context, st *domain.Strategy) error {
	if st == nil || st.StrategyID == "" || st.UserID == "" || st.Version < 1 {
		return storage.ErrInvalidInput
	}
	if st.Version > 1 && st.Supersedes == nil {
		return storage.ErrInvalidInput
	}

	hypothesis, err := json.Marshal(st.Hypothesis)
	if err != nil {
		return fmt.Errorf("encode hypothesis: %w", err)
	}

	var supersedes *int
	if st.Supersedes != nil {
		supersedes = &st.Supersedes.Version
	}

	if st.Version > 1 {
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM strategies WHERE strategy_id = $1 AND version = $2)`,
			st.StrategyID, st.Version-1,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check prior version: %w", err)
		}
		if !exists {
			return storage.ErrInvalidInput
		}
	}

	query := `
		INSERT INTO strategies (
			strategy_id, version, user_id, goal_id, goal_version,
			market_context_id, hypothesis, status, backtest_id,
			failure_reason, supersedes_version, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = s.pool.Exec(ctx, query,
		st.StrategyID,
		st.Version,
		st.UserID,
		st.Goal.GoalID,
		st.Goal.Version,
		st.MarketContextID,
		hypothesis,
		st.Status,
		st.BacktestID,
		st.FailureReason,
		supersedes,
		st.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return &storage.VersionConflictError{Entity: "strategy", ID: st.StrategyID, Version: st.Version}
		}
		return fmt.Errorf("insert strategy: %w", err)
	}
	return nil
}

// GetVersion retrieves a specific version. Returns NotFoundError if not exists.
func (s *StrategyStore) GetVersion(ctx context.Context, strategyID string, version int) (*domain.Strategy, error) {
	query := selectStrategy + ` WHERE strategy_id = $1 AND version = $2`

	st, err := scanStrategy(s.pool.QueryRow(ctx, query, strategyID, version))
	if err != nil {
		if isNotFoundError(err) {
			return nil, &storage.NotFoundError{Entity: "strategy", ID: strategyID, Version: version}
		}
		return nil, fmt.Errorf("get strategy version: %w", err)
	}
	return st, nil
}

// GetLatest retrieves the highest version. Returns NotFoundError if none exists.
func (s *StrategyStore) GetLatest(ctx context.Context, strategyID string) (*domain.Strategy, error) {
	query := selectStrategy + ` WHERE strategy_id = $1 ORDER BY version DESC LIMIT 1`

	st, err := scanStrategy(s.pool.QueryRow(ctx, query, strategyID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, &storage.NotFoundError{Entity: "strategy", ID: strategyID}
		}
		return nil, fmt.Errorf("get latest strategy: %w", err)
	}
	return st, nil
}

// GetLineage retrieves all versions of a strategy ordered by version ASC.
func (s *StrategyStore) GetLineage(ctx context.Context, strategyID string) ([]*domain.Strategy, error) {
	query := selectStrategy + ` WHERE strategy_id = $1 ORDER BY version ASC`

	rows, err := s.pool.Query(ctx, query, strategyID)
	if err != nil {
		return nil, fmt.Errorf("get strategy lineage: %w", err)
	}
	defer rows.Close()

	return scanStrategies(rows)
}

// ListByGoal retrieves the latest version of every strategy scoped to
// an owning (user, goal) pair.
func (s *StrategyStore) ListByGoal(ctx context.Context, userID, goalID string) ([]*domain.Strategy, error) {
	query := `
		SELECT DISTINCT ON (strategy_id)
		       strategy_id, version, user_id, goal_id, goal_version,
		       market_context_id, hypothesis, status, backtest_id,
		       failure_reason, supersedes_version, created_at
		FROM strategies
		WHERE user_id = $1 AND goal_id = $2
		ORDER BY strategy_id ASC, version DESC
	`

	rows, err := s.pool.Query(ctx, query, userID, goalID)
	if err != nil {
		return nil, fmt.Errorf("list strategies by goal: %w", err)
	}
	defer rows.Close()

	return scanStrategies(rows)
}

// ListByFamily retrieves all strategy versions in a family.
func (s *StrategyStore) ListByFamily(ctx context.Context, family string) ([]*domain.Strategy, error) {
	query := selectStrategy + ` WHERE hypothesis->>'Family' = $1 ORDER BY strategy_id ASC, version ASC`

	rows, err := s.pool.Query(ctx, query, family)
	if err != nil {
		return nil, fmt.Errorf("list strategies by family: %w", err)
	}
	defer rows.Close()

	return scanStrategies(rows)
}

const selectStrategy = `
	SELECT strategy_id, version, user_id, goal_id, goal_version,
	       market_context_id, hypothesis, status, backtest_id,
	       failure_reason, supersedes_version, created_at
	FROM strategies
`

func scanStrategy(row pgx.Row) (*domain.Strategy, error) {
	var st domain.Strategy
	var hypothesis []byte
	var supersedes *int

	err := row.Scan(
		&st.StrategyID,
		&st.Version,
		&st.UserID,
		&st.Goal.GoalID,
		&st.Goal.Version,
		&st.MarketContextID,
		&hypothesis,
		&st.Status,
		&st.BacktestID,
		&st.FailureReason,
		&supersedes,
		&st.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(hypothesis, &st.Hypothesis); err != nil {
		return nil, fmt.Errorf("decode hypothesis: %w", err)
	}
	if supersedes != nil {
		st.Supersedes = &domain.VersionRef{StrategyID: st.StrategyID, Version: *supersedes}
	}
	return &st, nil
}

func scanStrategies(rows pgx.Rows) ([]*domain.Strategy, error) {
	var strategies []*domain.Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		strategies = append(strategies, st)
	}
	return strategies, rows.Err()
}
