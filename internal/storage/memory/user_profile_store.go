package memory

import (
	"context"
	"sync"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// UserProfileStore is an in-memory implementation of storage.UserProfileStore.
type UserProfileStore struct {
	mu   sync.RWMutex
	data map[string]*domain.UserProfile // keyed by user_id
}

// NewUserProfileStore creates a new in-memory user profile store.
func NewUserProfileStore() *UserProfileStore {
	return &UserProfileStore{
		data: make(map[string]*domain.UserProfile),
	}
}

// Insert adds a profile snapshot. Returns ErrDuplicateKey if user_id exists.
func (s *UserProfileStore) Insert(_ context.Context, u *domain.UserProfile) error {
	if u == nil || u.UserID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[u.UserID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *u
	s.data[u.UserID] = &cp
	return nil
}

// GetByID retrieves a profile. Returns NotFoundError if not exists.
func (s *UserProfileStore) GetByID(_ context.Context, userID string) (*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.data[userID]
	if !exists {
		return nil, &storage.NotFoundError{Entity: "user_profile", ID: userID}
	}

	cp := *u
	return &cp, nil
}

var _ storage.UserProfileStore = (*UserProfileStore)(nil)
