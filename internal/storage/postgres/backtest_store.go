package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// BacktestStore implements storage.BacktestStore using PostgreSQL.
type BacktestStore struct {
	pool *Pool
}

// NewBacktestStore creates a new BacktestStore.
func NewBacktestStore(pool *Pool) *BacktestStore {
	return &BacktestStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BacktestStore = (*BacktestStore)(nil)

// Insert adds a result. Returns ErrDuplicateKey if a result exists for
// the same (strategy_id, strategy_version).
func (s *BacktestStore) Insert(ctx context.Context, r *domain.BacktestResult) error {
	if r == nil || r.BacktestID == "" || r.StrategyID == "" || r.StrategyVersion < 1 {
		return storage.ErrInvalidInput
	}

	trace, err := json.Marshal(r.Trace)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}

	query := `
		INSERT INTO backtest_results (
			backtest_id, strategy_id, strategy_version,
			expected_return, max_drawdown, confidence,
			seed, trace, snapshots_used, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.pool.Exec(ctx, query,
		r.BacktestID,
		r.StrategyID,
		r.StrategyVersion,
		r.Metrics.ExpectedReturn,
		r.Metrics.MaxDrawdown,
		r.Metrics.Confidence,
		r.Seed,
		trace,
		r.SnapshotsUsed,
		r.ComputedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert backtest result: %w", err)
	}
	return nil
}

// GetByID retrieves a result. Returns NotFoundError if not exists.
func (s *BacktestStore) GetByID(ctx context.Context, backtestID string) (*domain.BacktestResult, error) {
	query := selectBacktest + ` WHERE backtest_id = $1`

	r, err := scanBacktest(s.pool.QueryRow(ctx, query, backtestID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, &storage.NotFoundError{Entity: "backtest", ID: backtestID}
		}
		return nil, fmt.Errorf("get backtest: %w", err)
	}
	return r, nil
}

// GetByStrategyVersion retrieves the result for a strategy version.
func (s *BacktestStore) GetByStrategyVersion(ctx context.Context, strategyID string, version int) (*domain.BacktestResult, error) {
	query := selectBacktest + ` WHERE strategy_id = $1 AND strategy_version = $2`

	r, err := scanBacktest(s.pool.QueryRow(ctx, query, strategyID, version))
	if err != nil {
		if isNotFoundError(err) {
			return nil, &storage.NotFoundError{Entity: "backtest", ID: strategyID, Version: version}
		}
		return nil, fmt.Errorf("get backtest by strategy version: %w", err)
	}
	return r, nil
}

const selectBacktest = `
	SELECT backtest_id, strategy_id, strategy_version,
	       expected_return, max_drawdown, confidence,
	       seed, trace, snapshots_used, computed_at
	FROM backtest_results
`

func scanBacktest(row pgx.Row) (*domain.BacktestResult, error) {
	var r domain.BacktestResult
	var trace []byte

	err := row.Scan(
		&r.BacktestID,
		&r.StrategyID,
		&r.StrategyVersion,
		&r.Metrics.ExpectedReturn,
		&r.Metrics.MaxDrawdown,
		&r.Metrics.Confidence,
		&r.Seed,
		&trace,
		&r.SnapshotsUsed,
		&r.ComputedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(trace) > 0 {
		if err := json.Unmarshal(trace, &r.Trace); err != nil {
			return nil, fmt.Errorf("decode trace: %w", err)
		}
	}
	return &r, nil
}
