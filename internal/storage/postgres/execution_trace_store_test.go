package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

func TestExecutionTraceStore_AppendAssignsSequence(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewExecutionTraceStore(pool)
	ctx := context.Background()

	trace := &domain.ExecutionTrace{
		TraceID:    "trace-001",
		DecisionID: "dec-001",
		StartedAt:  1700000000000,
	}
	require.NoError(t, store.Insert(ctx, trace))

	seq, err := store.AppendAction(ctx, "trace-001", domain.ActionRecord{
		ActionType: domain.TraceActionBuy,
		Symbol:     "SPY",
		Quantity:   10,
		Price:      450.25,
		Timestamp:  1700000001000,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	seq, err = store.AppendAction(ctx, "trace-001", domain.ActionRecord{
		ActionType:  domain.TraceActionCompensate,
		Symbol:      "SPY",
		Quantity:    -2,
		Price:       450.25,
		Timestamp:   1700000002000,
		Compensates: 1,
		Note:        "partial fill correction",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seq)

	retrieved, err := store.GetByID(ctx, "trace-001")
	require.NoError(t, err)
	require.Len(t, retrieved.Actions, 2)
	assert.Equal(t, 1, retrieved.Actions[0].Seq)
	assert.Equal(t, domain.TraceActionBuy, retrieved.Actions[0].ActionType)
	assert.Equal(t, 1, retrieved.Actions[1].Compensates)
	assert.False(t, retrieved.Completed())
}

func TestExecutionTraceStore_CompleteClosesAppends(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewExecutionTraceStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &domain.ExecutionTrace{
		TraceID:    "trace-001",
		DecisionID: "dec-001",
		StartedAt:  1700000000000,
	}))

	require.NoError(t, store.Complete(ctx, "trace-001", 1700000005000))

	_, err := store.AppendAction(ctx, "trace-001", domain.ActionRecord{
		ActionType: domain.TraceActionSell,
		Symbol:     "SPY",
		Timestamp:  1700000006000,
	})
	assert.ErrorIs(t, err, storage.ErrTraceCompleted)

	err = store.Complete(ctx, "trace-001", 1700000007000)
	assert.ErrorIs(t, err, storage.ErrTraceCompleted)
}

func TestExecutionTraceStore_OneTracePerDecision(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewExecutionTraceStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &domain.ExecutionTrace{
		TraceID:    "trace-001",
		DecisionID: "dec-001",
		StartedAt:  1700000000000,
	}))

	err := store.Insert(ctx, &domain.ExecutionTrace{
		TraceID:    "trace-002",
		DecisionID: "dec-001",
		StartedAt:  1700000000000,
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	retrieved, err := store.GetByDecision(ctx, "dec-001")
	require.NoError(t, err)
	assert.Equal(t, "trace-001", retrieved.TraceID)
}

func TestExecutionTraceStore_AppendToMissingTrace(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewExecutionTraceStore(pool)

	_, err := store.AppendAction(context.Background(), "missing", domain.ActionRecord{
		ActionType: domain.TraceActionBuy,
		Symbol:     "SPY",
		Timestamp:  1700000001000,
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExecutionTraceStore_CompensatesMustReferenceRecordedAction(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewExecutionTraceStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &domain.ExecutionTrace{
		TraceID:    "trace-001",
		DecisionID: "dec-001",
		StartedAt:  1700000000000,
	}))

	// No actions recorded yet, so nothing can be compensated.
	_, err := store.AppendAction(ctx, "trace-001", domain.ActionRecord{
		ActionType:  domain.TraceActionCompensate,
		Symbol:      "SPY",
		Quantity:    -1,
		Price:       450.25,
		Timestamp:   1700000001000,
		Compensates: 1,
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	seq, err := store.AppendAction(ctx, "trace-001", domain.ActionRecord{
		ActionType: domain.TraceActionBuy,
		Symbol:     "SPY",
		Quantity:   10,
		Price:      450.25,
		Timestamp:  1700000002000,
	})
	require.NoError(t, err)
	require.Equal(t, 1, seq)

	// A forward reference is equally invalid.
	_, err = store.AppendAction(ctx, "trace-001", domain.ActionRecord{
		ActionType:  domain.TraceActionCompensate,
		Symbol:      "SPY",
		Quantity:    -1,
		Price:       450.25,
		Timestamp:   1700000003000,
		Compensates: 2,
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	seq, err = store.AppendAction(ctx, "trace-001", domain.ActionRecord{
		ActionType:  domain.TraceActionCompensate,
		Symbol:      "SPY",
		Quantity:    -1,
		Price:       450.25,
		Timestamp:   1700000004000,
		Compensates: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seq)
}
