package memory

import (
	"context"
	"fmt"
	"sync"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// BacktestStore is an in-memory implementation of storage.BacktestStore.
type BacktestStore struct {
	mu        sync.RWMutex
	data      map[string]*domain.BacktestResult // keyed by backtest_id
	byVersion map[string]string                 // strategy_id|version -> backtest_id
}

// NewBacktestStore creates a new in-memory backtest store.
func NewBacktestStore() *BacktestStore {
	return &BacktestStore{
		data:      make(map[string]*domain.BacktestResult),
		byVersion: make(map[string]string),
	}
}

// Insert adds a result. Returns ErrDuplicateKey if a result exists for
// the same (strategy_id, strategy_version).
func (s *BacktestStore) Insert(_ context.Context, r *domain.BacktestResult) error {
	if r == nil || r.BacktestID == "" || r.StrategyID == "" || r.StrategyVersion < 1 {
		return storage.ErrInvalidInput
	}

	versionKey := fmt.Sprintf("%s|%d", r.StrategyID, r.StrategyVersion)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.BacktestID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byVersion[versionKey]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[r.BacktestID] = copyBacktest(r)
	s.byVersion[versionKey] = r.BacktestID
	return nil
}

// GetByID retrieves a result. Returns NotFoundError if not exists.
func (s *BacktestStore) GetByID(_ context.Context, backtestID string) (*domain.BacktestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[backtestID]
	if !exists {
		return nil, &storage.NotFoundError{Entity: "backtest_result", ID: backtestID}
	}

	return copyBacktest(r), nil
}

// GetByStrategyVersion retrieves the result for a strategy version.
// Returns NotFoundError if not exists.
func (s *BacktestStore) GetByStrategyVersion(_ context.Context, strategyID string, version int) (*domain.BacktestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byVersion[fmt.Sprintf("%s|%d", strategyID, version)]
	if !exists {
		return nil, &storage.NotFoundError{Entity: "backtest_result", ID: strategyID, Version: version}
	}

	return copyBacktest(s.data[id]), nil
}

func copyBacktest(r *domain.BacktestResult) *domain.BacktestResult {
	cp := *r
	cp.Trace = append([]domain.Explain(nil), r.Trace...)
	return &cp
}

var _ storage.BacktestStore = (*BacktestStore)(nil)
