package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// DecisionStore is an in-memory implementation of storage.DecisionStore.
// The proposed -> terminal transition is compare-and-set under the
// store lock, so concurrent deciders race and exactly one wins.
type DecisionStore struct {
	mu         sync.RWMutex
	data       map[string]*domain.Decision // keyed by decision_id
	byStrategy map[string]string           // strategy_id|version -> decision_id
}

// NewDecisionStore creates a new in-memory decision store.
func NewDecisionStore() *DecisionStore {
	return &DecisionStore{
		data:       make(map[string]*domain.Decision),
		byStrategy: make(map[string]string),
	}
}

// Insert adds a new proposed decision. Returns ErrDuplicateKey if
// decision_id exists or the strategy version already has a decision.
func (s *DecisionStore) Insert(_ context.Context, d *domain.Decision) error {
	if d == nil || d.DecisionID == "" || d.Strategy.StrategyID == "" || d.UserID == "" {
		return storage.ErrInvalidInput
	}
	if d.State != domain.DecisionProposed {
		return storage.ErrInvalidInput
	}

	stratKey := fmt.Sprintf("%s|%d", d.Strategy.StrategyID, d.Strategy.Version)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[d.DecisionID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byStrategy[stratKey]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[d.DecisionID] = copyDecision(d)
	s.byStrategy[stratKey] = d.DecisionID
	return nil
}

// MarkDecided records the terminal outcome carried by d, guarded by
// state == proposed.
func (s *DecisionStore) MarkDecided(_ context.Context, d *domain.Decision) error {
	if d == nil || d.DecisionID == "" || d.State == domain.DecisionProposed {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.data[d.DecisionID]
	if !exists {
		return &storage.NotFoundError{Entity: "decision", ID: d.DecisionID}
	}
	if cur.State != domain.DecisionProposed {
		return storage.ErrAlreadyDecided
	}

	s.data[d.DecisionID] = copyDecision(d)
	return nil
}

// GetByID retrieves a decision. Returns NotFoundError if not exists.
func (s *DecisionStore) GetByID(_ context.Context, decisionID string) (*domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.data[decisionID]
	if !exists {
		return nil, &storage.NotFoundError{Entity: "decision", ID: decisionID}
	}

	return copyDecision(d), nil
}

// GetByStrategy retrieves the decision for a strategy version.
func (s *DecisionStore) GetByStrategy(_ context.Context, strategyID string, version int) (*domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byStrategy[fmt.Sprintf("%s|%d", strategyID, version)]
	if !exists {
		return nil, &storage.NotFoundError{Entity: "decision", ID: strategyID, Version: version}
	}

	return copyDecision(s.data[id]), nil
}

// ListByUser retrieves a user's decisions created at or after since,
// ordered by created_at ASC.
func (s *DecisionStore) ListByUser(_ context.Context, userID string, since int64) ([]*domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Decision
	for _, d := range s.data {
		if d.UserID == userID && d.CreatedAt >= since {
			result = append(result, copyDecision(d))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].DecisionID < result[j].DecisionID
	})

	return result, nil
}

func copyDecision(d *domain.Decision) *domain.Decision {
	cp := *d
	if d.Modified != nil {
		ref := *d.Modified
		cp.Modified = &ref
	}
	return &cp
}

var _ storage.DecisionStore = (*DecisionStore)(nil)
