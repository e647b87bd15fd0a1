package memory

import (
	"context"
	"sync"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// ExecutionTraceStore is an in-memory implementation of storage.ExecutionTraceStore.
// Actions are append-only; completed traces reject further writes.
type ExecutionTraceStore struct {
	mu         sync.RWMutex
	data       map[string]*domain.ExecutionTrace // keyed by trace_id
	byDecision map[string]string                 // decision_id -> trace_id
}

// NewExecutionTraceStore creates a new in-memory execution trace store.
func NewExecutionTraceStore() *ExecutionTraceStore {
	return &ExecutionTraceStore{
		data:       make(map[string]*domain.ExecutionTrace),
		byDecision: make(map[string]string),
	}
}

// Insert adds a new empty trace. Returns ErrDuplicateKey if trace_id
// exists or the decision already has a trace.
func (s *ExecutionTraceStore) Insert(_ context.Context, t *domain.ExecutionTrace) error {
	if t == nil || t.TraceID == "" || t.DecisionID == "" {
		return storage.ErrInvalidInput
	}
	if len(t.Actions) > 0 {
		// Traces start empty; actions arrive through AppendAction.
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.TraceID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byDecision[t.DecisionID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *t
	cp.Actions = nil
	s.data[t.TraceID] = &cp
	s.byDecision[t.DecisionID] = t.TraceID
	return nil
}

// AppendAction appends an action and returns its assigned sequence number.
func (s *ExecutionTraceStore) AppendAction(_ context.Context, traceID string, a domain.ActionRecord) (int, error) {
	if traceID == "" || a.ActionType == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[traceID]
	if !exists {
		return 0, &storage.NotFoundError{Entity: "execution_trace", ID: traceID}
	}
	if t.CompletedAt != 0 {
		return 0, storage.ErrTraceCompleted
	}
	if a.Compensates < 0 || a.Compensates > len(t.Actions) {
		return 0, storage.ErrInvalidInput
	}

	a.Seq = len(t.Actions) + 1
	t.Actions = append(t.Actions, a)
	return a.Seq, nil
}

// Complete closes the trace. Returns ErrTraceCompleted if already closed.
func (s *ExecutionTraceStore) Complete(_ context.Context, traceID string, completedAt int64) error {
	if traceID == "" || completedAt <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[traceID]
	if !exists {
		return &storage.NotFoundError{Entity: "execution_trace", ID: traceID}
	}
	if t.CompletedAt != 0 {
		return storage.ErrTraceCompleted
	}

	t.CompletedAt = completedAt
	return nil
}

// GetByID retrieves a trace with its actions ordered by seq ASC.
func (s *ExecutionTraceStore) GetByID(_ context.Context, traceID string) (*domain.ExecutionTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[traceID]
	if !exists {
		return nil, &storage.NotFoundError{Entity: "execution_trace", ID: traceID}
	}

	return copyTrace(t), nil
}

// GetByDecision retrieves the trace for a decision.
func (s *ExecutionTraceStore) GetByDecision(_ context.Context, decisionID string) (*domain.ExecutionTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byDecision[decisionID]
	if !exists {
		return nil, &storage.NotFoundError{Entity: "execution_trace", ID: decisionID}
	}

	return copyTrace(s.data[id]), nil
}

func copyTrace(t *domain.ExecutionTrace) *domain.ExecutionTrace {
	cp := *t
	cp.Actions = append([]domain.ActionRecord(nil), t.Actions...)
	return &cp
}

var _ storage.ExecutionTraceStore = (*ExecutionTraceStore)(nil)
