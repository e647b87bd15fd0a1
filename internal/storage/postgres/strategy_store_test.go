package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

func testStrategy(version int) *domain.Strategy {
	st := &domain.Strategy{
		StrategyID:      "strat-001",
		Version:         version,
		UserID:          "user-001",
		Goal:            domain.GoalRef{GoalID: "goal-001", Version: 1},
		MarketContextID: "ctx-001",
		Hypothesis: domain.Hypothesis{
			Family:         domain.FamilyMacroRotation,
			Action:         domain.ActionBuy,
			Symbols:        []string{"SPY", "TLT"},
			Weights:        map[string]float64{"SPY": 0.6, "TLT": 0.4},
			EntryThreshold: 0.25,
			ExitThreshold:  -0.10,
			RebalanceDays:  21,
		},
		Status:     domain.StrategyStatusProposable,
		BacktestID: "bt-001",
		CreatedAt:  1700000000000,
	}
	if version > 1 {
		st.Supersedes = &domain.VersionRef{StrategyID: "strat-001", Version: version - 1}
	}
	return st
}

func TestStrategyStore_InsertAndGetVersion(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStrategyStore(pool)
	ctx := context.Background()

	st := testStrategy(1)
	require.NoError(t, store.Insert(ctx, st))

	retrieved, err := store.GetVersion(ctx, "strat-001", 1)
	require.NoError(t, err)

	assert.Equal(t, st.StrategyID, retrieved.StrategyID)
	assert.Equal(t, st.Version, retrieved.Version)
	assert.Equal(t, st.UserID, retrieved.UserID)
	assert.Equal(t, st.Goal, retrieved.Goal)
	assert.Equal(t, st.Hypothesis.Family, retrieved.Hypothesis.Family)
	assert.Equal(t, st.Hypothesis.Weights, retrieved.Hypothesis.Weights)
	assert.Equal(t, st.Status, retrieved.Status)
	assert.Equal(t, st.BacktestID, retrieved.BacktestID)
	assert.Nil(t, retrieved.Supersedes)
}

func TestStrategyStore_DuplicateVersionConflicts(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStrategyStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testStrategy(1)))

	err := store.Insert(ctx, testStrategy(1))
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	var conflict *storage.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "strategy", conflict.Entity)
	assert.Equal(t, 1, conflict.Version)
}

func TestStrategyStore_VersionGapRejected(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStrategyStore(pool)
	ctx := context.Background()

	// Version 2 without version 1 present.
	err := store.Insert(ctx, testStrategy(2))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestStrategyStore_LineageAndLatest(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStrategyStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testStrategy(1)))
	require.NoError(t, store.Insert(ctx, testStrategy(2)))
	require.NoError(t, store.Insert(ctx, testStrategy(3)))

	lineage, err := store.GetLineage(ctx, "strat-001")
	require.NoError(t, err)
	require.Len(t, lineage, 3)
	assert.Equal(t, 1, lineage[0].Version)
	assert.Equal(t, 3, lineage[2].Version)
	require.NotNil(t, lineage[2].Supersedes)
	assert.Equal(t, 2, lineage[2].Supersedes.Version)

	latest, err := store.GetLatest(ctx, "strat-001")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)
}

func TestStrategyStore_ListByGoalScopesUser(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStrategyStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testStrategy(1)))
	require.NoError(t, store.Insert(ctx, testStrategy(2)))

	other := testStrategy(1)
	other.StrategyID = "strat-002"
	other.UserID = "user-002"
	require.NoError(t, store.Insert(ctx, other))

	mine, err := store.ListByGoal(ctx, "user-001", "goal-001")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "strat-001", mine[0].StrategyID)
	assert.Equal(t, 2, mine[0].Version)
}

func TestStrategyStore_ListByFamily(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStrategyStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testStrategy(1)))

	momentum := testStrategy(1)
	momentum.StrategyID = "strat-mom"
	momentum.Hypothesis.Family = domain.FamilyMomentum
	require.NoError(t, store.Insert(ctx, momentum))

	rotation, err := store.ListByFamily(ctx, domain.FamilyMacroRotation)
	require.NoError(t, err)
	require.Len(t, rotation, 1)
	assert.Equal(t, "strat-001", rotation[0].StrategyID)
}

func TestStrategyStore_GetVersionNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStrategyStore(pool)

	_, err := store.GetVersion(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
