package postgres

import (
	"context"
	"fmt"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// ExecutionTraceStore implements storage.ExecutionTraceStore using
// PostgreSQL. The trace header lives in execution_traces and the
// ordered action log in trace_actions; sequence numbers are assigned
// inside a transaction so appends never collide.
type ExecutionTraceStore struct {
	pool *Pool
}

// NewExecutionTraceStore creates a new ExecutionTraceStore.
func NewExecutionTraceStore(pool *Pool) *ExecutionTraceStore {
	return &ExecutionTraceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ExecutionTraceStore = (*ExecutionTraceStore)(nil)

// Insert adds a new empty trace.
func (s *ExecutionTraceStore) Insert(ctx context.Context, t *domain.ExecutionTrace) error {
	if t == nil || t.TraceID == "" || t.DecisionID == "" {
		return storage.ErrInvalidInput
	}
	if len(t.Actions) > 0 || t.CompletedAt != 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO execution_traces (trace_id, decision_id, started_at, completed_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query, t.TraceID, t.DecisionID, t.StartedAt, t.CompletedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert execution trace: %w", err)
	}
	return nil
}

// AppendAction appends an action and returns its assigned sequence
// number. Returns ErrTraceCompleted if the trace is completed.
func (s *ExecutionTraceStore) AppendAction(ctx context.Context, traceID string, a domain.ActionRecord) (int, error) {
	if traceID == "" || a.ActionType == "" {
		return 0, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin append action: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the header row so concurrent appends serialize on it.
	var completedAt int64
	err = tx.QueryRow(ctx,
		`SELECT completed_at FROM execution_traces WHERE trace_id = $1 FOR UPDATE`,
		traceID,
	).Scan(&completedAt)
	if err != nil {
		if isNotFoundError(err) {
			return 0, &storage.NotFoundError{Entity: "trace", ID: traceID}
		}
		return 0, fmt.Errorf("lock trace: %w", err)
	}
	if completedAt != 0 {
		return 0, storage.ErrTraceCompleted
	}

	var seq int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM trace_actions WHERE trace_id = $1`,
		traceID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next action seq: %w", err)
	}

	// A compensating entry must reference an already-recorded action.
	if a.Compensates < 0 || a.Compensates >= seq {
		return 0, storage.ErrInvalidInput
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO trace_actions (
			trace_id, seq, action_type, symbol, quantity, price,
			action_timestamp, compensates, note
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		traceID, seq, a.ActionType, a.Symbol, a.Quantity, a.Price,
		a.Timestamp, a.Compensates, a.Note,
	)
	if err != nil {
		return 0, fmt.Errorf("insert trace action: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit append action: %w", err)
	}
	return seq, nil
}

// Complete closes the trace. Returns ErrTraceCompleted if already closed.
func (s *ExecutionTraceStore) Complete(ctx context.Context, traceID string, completedAt int64) error {
	if traceID == "" || completedAt == 0 {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE execution_traces SET completed_at = $2 WHERE trace_id = $1 AND completed_at = 0`,
		traceID, completedAt,
	)
	if err != nil {
		return fmt.Errorf("complete trace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM execution_traces WHERE trace_id = $1)`,
			traceID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check trace exists: %w", err)
		}
		if exists {
			return storage.ErrTraceCompleted
		}
		return &storage.NotFoundError{Entity: "trace", ID: traceID}
	}
	return nil
}

// GetByID retrieves a trace with its actions ordered by seq ASC.
func (s *ExecutionTraceStore) GetByID(ctx context.Context, traceID string) (*domain.ExecutionTrace, error) {
	var t domain.ExecutionTrace
	err := s.pool.QueryRow(ctx,
		`SELECT trace_id, decision_id, started_at, completed_at FROM execution_traces WHERE trace_id = $1`,
		traceID,
	).Scan(&t.TraceID, &t.DecisionID, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, &storage.NotFoundError{Entity: "trace", ID: traceID}
		}
		return nil, fmt.Errorf("get trace: %w", err)
	}

	actions, err := s.loadActions(ctx, traceID)
	if err != nil {
		return nil, err
	}
	t.Actions = actions
	return &t, nil
}

// GetByDecision retrieves the trace for a decision.
func (s *ExecutionTraceStore) GetByDecision(ctx context.Context, decisionID string) (*domain.ExecutionTrace, error) {
	var t domain.ExecutionTrace
	err := s.pool.QueryRow(ctx,
		`SELECT trace_id, decision_id, started_at, completed_at FROM execution_traces WHERE decision_id = $1`,
		decisionID,
	).Scan(&t.TraceID, &t.DecisionID, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, &storage.NotFoundError{Entity: "trace", ID: decisionID}
		}
		return nil, fmt.Errorf("get trace by decision: %w", err)
	}

	actions, err := s.loadActions(ctx, t.TraceID)
	if err != nil {
		return nil, err
	}
	t.Actions = actions
	return &t, nil
}

func (s *ExecutionTraceStore) loadActions(ctx context.Context, traceID string) ([]domain.ActionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, action_type, symbol, quantity, price,
		       action_timestamp, compensates, note
		FROM trace_actions
		WHERE trace_id = $1
		ORDER BY seq ASC`,
		traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("load trace actions: %w", err)
	}
	defer rows.Close()

	var actions []domain.ActionRecord
	for rows.Next() {
		var a domain.ActionRecord
		err := rows.Scan(&a.Seq, &a.ActionType, &a.Symbol, &a.Quantity,
			&a.Price, &a.Timestamp, &a.Compensates, &a.Note)
		if err != nil {
			return nil, fmt.Errorf("scan trace action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
