package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// PerformanceStore is an in-memory implementation of storage.PerformanceStore.
// Records are append-only; reads order by as_of so an evaluation that
// arrives out of order can never shadow a later one.
type PerformanceStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.PortfolioPerformance // keyed by performance_id
	byAsOf map[string]struct{}                     // trace_id|as_of uniqueness
}

// NewPerformanceStore creates a new in-memory performance store.
func NewPerformanceStore() *PerformanceStore {
	return &PerformanceStore{
		data:   make(map[string]*domain.PortfolioPerformance),
		byAsOf: make(map[string]struct{}),
	}
}

// Insert adds an evaluation record. Returns ErrDuplicateKey if
// performance_id or (trace_id, as_of) exists.
func (s *PerformanceStore) Insert(_ context.Context, p *domain.PortfolioPerformance) error {
	if p == nil || p.PerformanceID == "" || p.TraceID == "" || p.AsOf <= 0 {
		return storage.ErrInvalidInput
	}

	asOfKey := fmt.Sprintf("%s|%d", p.TraceID, p.AsOf)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PerformanceID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byAsOf[asOfKey]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *p
	s.data[p.PerformanceID] = &cp
	s.byAsOf[asOfKey] = struct{}{}
	return nil
}

// GetByTrace retrieves all evaluations of a trace ordered by as_of ASC.
func (s *PerformanceStore) GetByTrace(_ context.Context, traceID string) ([]*domain.PortfolioPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PortfolioPerformance
	for _, p := range s.data {
		if p.TraceID == traceID {
			cp := *p
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AsOf < result[j].AsOf
	})

	return result, nil
}

// GetLatestByTrace retrieves the evaluation with the highest as_of.
func (s *PerformanceStore) GetLatestByTrace(_ context.Context, traceID string) (*domain.PortfolioPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.PortfolioPerformance
	for _, p := range s.data {
		if p.TraceID == traceID && (latest == nil || p.AsOf > latest.AsOf) {
			latest = p
		}
	}
	if latest == nil {
		return nil, &storage.NotFoundError{Entity: "portfolio_performance", ID: traceID}
	}

	cp := *latest
	return &cp, nil
}

var _ storage.PerformanceStore = (*PerformanceStore)(nil)
