package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// GoalStore is an in-memory implementation of storage.GoalStore.
type GoalStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Goal // keyed by goal_id|version
}

// NewGoalStore creates a new in-memory goal store.
func NewGoalStore() *GoalStore {
	return &GoalStore{
		data: make(map[string]*domain.Goal),
	}
}

func goalKey(goalID string, version int) string {
	return fmt.Sprintf("%s|%d", goalID, version)
}

// Insert adds a goal version. Returns ErrDuplicateKey if (goal_id, version) exists.
func (s *GoalStore) Insert(_ context.Context, g *domain.Goal) error {
	if g == nil || g.GoalID == "" || g.UserID == "" || g.Version < 1 {
		return storage.ErrInvalidInput
	}

	key := goalKey(g.GoalID, g.Version)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *g
	cp.Constraints = append([]string(nil), g.Constraints...)
	s.data[key] = &cp
	return nil
}

// GetVersion retrieves a specific goal version. Returns NotFoundError if not exists.
func (s *GoalStore) GetVersion(_ context.Context, goalID string, version int) (*domain.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, exists := s.data[goalKey(goalID, version)]
	if !exists {
		return nil, &storage.NotFoundError{Entity: "goal", ID: goalID, Version: version}
	}

	return copyGoal(g), nil
}

// GetLatest retrieves the highest version of a goal. Returns NotFoundError if none exists.
func (s *GoalStore) GetLatest(_ context.Context, goalID string) (*domain.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Goal
	for _, g := range s.data {
		if g.GoalID == goalID && (latest == nil || g.Version > latest.Version) {
			latest = g
		}
	}
	if latest == nil {
		return nil, &storage.NotFoundError{Entity: "goal", ID: goalID}
	}

	return copyGoal(latest), nil
}

// ListByUser retrieves the latest version of every goal owned by a user.
func (s *GoalStore) ListByUser(_ context.Context, userID string) ([]*domain.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]*domain.Goal)
	for _, g := range s.data {
		if g.UserID != userID {
			continue
		}
		if cur, ok := latest[g.GoalID]; !ok || g.Version > cur.Version {
			latest[g.GoalID] = g
		}
	}

	result := make([]*domain.Goal, 0, len(latest))
	for _, g := range latest {
		result = append(result, copyGoal(g))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].GoalID < result[j].GoalID
	})

	return result, nil
}

func copyGoal(g *domain.Goal) *domain.Goal {
	cp := *g
	cp.Constraints = append([]string(nil), g.Constraints...)
	return &cp
}

var _ storage.GoalStore = (*GoalStore)(nil)
