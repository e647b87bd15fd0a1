package memory

import (
	"context"
	"fmt"
	"sync"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// LearningMetricsStore is an in-memory implementation of storage.LearningMetricsStore.
// Snapshots are versioned per family; versions only move forward.
type LearningMetricsStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.LearningMetrics // keyed by family|version
	latest map[string]int64                   // family -> highest version
}

// NewLearningMetricsStore creates a new in-memory learning metrics store.
func NewLearningMetricsStore() *LearningMetricsStore {
	return &LearningMetricsStore{
		data:   make(map[string]*domain.LearningMetrics),
		latest: make(map[string]int64),
	}
}

func metricsKey(family string, version int64) string {
	return fmt.Sprintf("%s|%d", family, version)
}

// Insert adds a snapshot. Returns ErrDuplicateKey if (family, version)
// exists, VersionConflictError if version is not greater than the
// family's current latest.
func (s *LearningMetricsStore) Insert(_ context.Context, m *domain.LearningMetrics) error {
	if m == nil || m.Family == "" || m.Version < 1 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[metricsKey(m.Family, m.Version)]; exists {
		return storage.ErrDuplicateKey
	}
	if cur, ok := s.latest[m.Family]; ok && m.Version <= cur {
		return &storage.VersionConflictError{Entity: "learning_metrics", ID: m.Family, Version: int(m.Version)}
	}

	cp := *m
	s.data[metricsKey(m.Family, m.Version)] = &cp
	s.latest[m.Family] = m.Version
	return nil
}

// GetLatest retrieves the highest-version snapshot for a family.
func (s *LearningMetricsStore) GetLatest(_ context.Context, family string) (*domain.LearningMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	version, ok := s.latest[family]
	if !ok {
		return nil, &storage.NotFoundError{Entity: "learning_metrics", ID: family}
	}

	cp := *s.data[metricsKey(family, version)]
	return &cp, nil
}

// GetAllLatest retrieves the latest snapshot for every family.
func (s *LearningMetricsStore) GetAllLatest(_ context.Context) (map[string]*domain.LearningMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*domain.LearningMetrics, len(s.latest))
	for family, version := range s.latest {
		cp := *s.data[metricsKey(family, version)]
		result[family] = &cp
	}

	return result, nil
}

var _ storage.LearningMetricsStore = (*LearningMetricsStore)(nil)
