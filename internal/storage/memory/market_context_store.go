package memory

import (
	"context"
	"sort"
	"sync"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// MarketContextStore is an in-memory implementation of storage.MarketContextStore.
type MarketContextStore struct {
	mu   sync.RWMutex
	data map[string]*domain.MarketContext // keyed by context_id
}

// NewMarketContextStore creates a new in-memory market context store.
func NewMarketContextStore() *MarketContextStore {
	return &MarketContextStore{
		data: make(map[string]*domain.MarketContext),
	}
}

// Insert adds a snapshot. Returns ErrDuplicateKey if context_id exists.
func (s *MarketContextStore) Insert(_ context.Context, m *domain.MarketContext) error {
	if m == nil || m.ContextID == "" || m.Timestamp <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[m.ContextID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[m.ContextID] = copyContext(m)
	return nil
}

// GetByID retrieves a snapshot. Returns NotFoundError if not exists.
func (s *MarketContextStore) GetByID(_ context.Context, contextID string) (*domain.MarketContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[contextID]
	if !exists {
		return nil, &storage.NotFoundError{Entity: "market_context", ID: contextID}
	}

	return copyContext(m), nil
}

// GetByTimeRange retrieves snapshots within [start, end], ordered by timestamp ASC.
func (s *MarketContextStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.MarketContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MarketContext
	for _, m := range s.data {
		if m.Timestamp >= start && m.Timestamp <= end {
			result = append(result, copyContext(m))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].ContextID < result[j].ContextID
	})

	return result, nil
}

// GetLatest retrieves the most recent snapshot. Returns NotFoundError if none exists.
func (s *MarketContextStore) GetLatest(_ context.Context) (*domain.MarketContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.MarketContext
	for _, m := range s.data {
		if latest == nil || m.Timestamp > latest.Timestamp {
			latest = m
		}
	}
	if latest == nil {
		return nil, &storage.NotFoundError{Entity: "market_context", ID: "latest"}
	}

	return copyContext(latest), nil
}

func copyContext(m *domain.MarketContext) *domain.MarketContext {
	cp := *m
	cp.Symbols = append([]string(nil), m.Symbols...)
	cp.Signals = append([]domain.Signal(nil), m.Signals...)
	cp.Events = append([]domain.MarketEvent(nil), m.Events...)
	return &cp
}

var _ storage.MarketContextStore = (*MarketContextStore)(nil)
