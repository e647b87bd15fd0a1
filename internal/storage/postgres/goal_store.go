package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// GoalStore implements storage.GoalStore using PostgreSQL.
type GoalStore struct {
	pool *Pool
}

// NewGoalStore creates a new GoalStore.
func NewGoalStore(pool *Pool) *GoalStore {
	return &GoalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.GoalStore = (*GoalStore)(nil)

// Insert adds a goal version. Returns ErrDuplicateKey if (goal_id, version) exists.
func (s *GoalStore) Insert(ctx context.Context, g *domain.Goal) error {
	if g == nil || g.GoalID == "" || g.UserID == "" || g.Version < 1 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO goals (
			goal_id, version, user_id, description, target_amount,
			horizon_months, constraints, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		g.GoalID,
		g.Version,
		g.UserID,
		g.Description,
		g.TargetAmount,
		g.HorizonMonths,
		g.Constraints,
		g.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert goal: %w", err)
	}
	return nil
}

// GetVersion retrieves a specific goal version. Returns NotFoundError if not exists.
func (s *GoalStore) GetVersion(ctx context.Context, goalID string, version int) (*domain.Goal, error) {
	query := selectGoal + ` WHERE goal_id = $1 AND version = $2`

	g, err := scanGoal(s.pool.QueryRow(ctx, query, goalID, version))
	if err != nil {
		if isNotFoundError(err) {
			return nil, &storage.NotFoundError{Entity: "goal", ID: goalID, Version: version}
		}
		return nil, fmt.Errorf("get goal version: %w", err)
	}
	return g, nil
}

// GetLatest retrieves the highest version of a goal. Returns NotFoundError if none exists.
func (s *GoalStore) GetLatest(ctx context.Context, goalID string) (*domain.Goal, error) {
	query := selectGoal + ` WHERE goal_id = $1 ORDER BY version DESC LIMIT 1`

	g, err := scanGoal(s.pool.QueryRow(ctx, query, goalID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, &storage.NotFoundError{Entity: "goal", ID: goalID}
		}
		return nil, fmt.Errorf("get latest goal: %w", err)
	}
	return g, nil
}

// ListByUser retrieves the latest version of every goal owned by a user.
func (s *GoalStore) ListByUser(ctx context.Context, userID string) ([]*domain.Goal, error) {
	query := `
		SELECT DISTINCT ON (goal_id)
		       goal_id, version, user_id, description, target_amount,
		       horizon_months, constraints, created_at
		FROM goals
		WHERE user_id = $1
		ORDER BY goal_id ASC, version DESC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list goals by user: %w", err)
	}
	defer rows.Close()

	var goals []*domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

const selectGoal = `
	SELECT goal_id, version, user_id, description, target_amount,
	       horizon_months, constraints, created_at
	FROM goals
`

func scanGoal(row pgx.Row) (*domain.Goal, error) {
	var g domain.Goal
	err := row.Scan(
		&g.GoalID,
		&g.Version,
		&g.UserID,
		&g.Description,
		&g.TargetAmount,
		&g.HorizonMonths,
		&g.Constraints,
		&g.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}
