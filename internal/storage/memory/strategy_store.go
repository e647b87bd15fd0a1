package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// StrategyStore is an in-memory implementation of storage.StrategyStore.
// Versions are immutable once written; concurrent inserts of the same
// (strategy_id, version) race and the loser gets VersionConflictError.
type StrategyStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Strategy // keyed by strategy_id|version
}

// NewStrategyStore creates a new in-memory strategy store.
func NewStrategyStore() *StrategyStore {
	return &StrategyStore{
		data: make(map[string]*domain.Strategy),
	}
}

func strategyKey(strategyID string, version int) string {
	return fmt.Sprintf("%s|%d", strategyID, version)
}

// Insert adds a strategy version. Returns VersionConflictError if
// (strategy_id, version) exists, ErrInvalidInput if version > 1 and the
// prior version is missing.
func (s *StrategyStore) Insert(_ context.Context, st *domain.Strategy) error {
	if st == nil || st.StrategyID == "" || st.UserID == "" || st.Version < 1 {
		return storage.ErrInvalidInput
	}
	if st.Version > 1 && st.Supersedes == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[strategyKey(st.StrategyID, st.Version)]; exists {
		return &storage.VersionConflictError{Entity: "strategy", ID: st.StrategyID, Version: st.Version}
	}
	if st.Version > 1 {
		if _, exists := s.data[strategyKey(st.StrategyID, st.Version-1)]; !exists {
			return storage.ErrInvalidInput
		}
	}

	s.data[strategyKey(st.StrategyID, st.Version)] = copyStrategy(st)
	return nil
}

// GetVersion retrieves a specific version. Returns NotFoundError if not exists.
func (s *StrategyStore) GetVersion(_ context.Context, strategyID string, version int) (*domain.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.data[strategyKey(strategyID, version)]
	if !exists {
		return nil, &storage.NotFoundError{Entity: "strategy", ID: strategyID, Version: version}
	}

	return copyStrategy(st), nil
}

// GetLatest retrieves the highest version. Returns NotFoundError if none exists.
func (s *StrategyStore) GetLatest(_ context.Context, strategyID string) (*domain.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Strategy
	for _, st := range s.data {
		if st.StrategyID == strategyID && (latest == nil || st.Version > latest.Version) {
			latest = st
		}
	}
	if latest == nil {
		return nil, &storage.NotFoundError{Entity: "strategy", ID: strategyID}
	}

	return copyStrategy(latest), nil
}

// GetLineage retrieves all versions ordered by version ASC.
func (s *StrategyStore) GetLineage(_ context.Context, strategyID string) ([]*domain.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Strategy
	for _, st := range s.data {
		if st.StrategyID == strategyID {
			result = append(result, copyStrategy(st))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})

	return result, nil
}

// ListByGoal retrieves the latest version of every strategy scoped to
// an owning (user, goal) pair.
func (s *StrategyStore) ListByGoal(_ context.Context, userID, goalID string) ([]*domain.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]*domain.Strategy)
	for _, st := range s.data {
		if st.UserID != userID || st.Goal.GoalID != goalID {
			continue
		}
		if cur, ok := latest[st.StrategyID]; !ok || st.Version > cur.Version {
			latest[st.StrategyID] = st
		}
	}

	result := make([]*domain.Strategy, 0, len(latest))
	for _, st := range latest {
		result = append(result, copyStrategy(st))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StrategyID < result[j].StrategyID
	})

	return result, nil
}

// ListByFamily retrieves all strategy versions in a family.
func (s *StrategyStore) ListByFamily(_ context.Context, family string) ([]*domain.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Strategy
	for _, st := range s.data {
		if st.Hypothesis.Family == family {
			result = append(result, copyStrategy(st))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StrategyID != result[j].StrategyID {
			return result[i].StrategyID < result[j].StrategyID
		}
		return result[i].Version < result[j].Version
	})

	return result, nil
}

func copyStrategy(st *domain.Strategy) *domain.Strategy {
	cp := *st
	cp.Hypothesis.Symbols = append([]string(nil), st.Hypothesis.Symbols...)
	if st.Hypothesis.Weights != nil {
		cp.Hypothesis.Weights = make(map[string]float64, len(st.Hypothesis.Weights))
		for k, v := range st.Hypothesis.Weights {
			cp.Hypothesis.Weights[k] = v
		}
	}
	if st.Supersedes != nil {
		ref := *st.Supersedes
		cp.Supersedes = &ref
	}
	return &cp
}

var _ storage.StrategyStore = (*StrategyStore)(nil)
