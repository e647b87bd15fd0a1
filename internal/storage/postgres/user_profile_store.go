package postgres

import (
	"context"
	"fmt"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// UserProfileStore implements storage.UserProfileStore using PostgreSQL.
type UserProfileStore struct {
	pool *Pool
}

// NewUserProfileStore creates a new UserProfileStore.
func NewUserProfileStore(pool *Pool) *UserProfileStore {
	return &UserProfileStore{pool: pool}
}

// Compile-time interface check.
var _ storage.UserProfileStore = (*UserProfileStore)(nil)

// Insert adds a profile snapshot. Returns ErrDuplicateKey if user_id exists.
func (s *UserProfileStore) Insert(ctx context.Context, u *domain.UserProfile) error {
	if u == nil || u.UserID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO user_profiles (
			user_id, name, wealth_tier, residence,
			risk_tolerance, max_drawdown_tolerance, loss_aversion_score,
			explainable_only, notification_priority, reporting_frequency,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, query,
		u.UserID,
		u.Name,
		u.WealthTier,
		u.Residence,
		u.Risk.RiskTolerance,
		u.Risk.MaxDrawdownTolerance,
		u.Risk.LossAversionScore,
		u.Preferences.ExplainableOnly,
		u.Preferences.NotificationPriority,
		u.Preferences.ReportingFrequency,
		u.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert user profile: %w", err)
	}
	return nil
}

// GetByID retrieves a profile. Returns NotFoundError if not exists.
func (s *UserProfileStore) GetByID(ctx context.Context, userID string) (*domain.UserProfile, error) {
	query := `
		SELECT user_id, name, wealth_tier, residence,
		       risk_tolerance, max_drawdown_tolerance, loss_aversion_score,
		       explainable_only, notification_priority, reporting_frequency,
		       created_at
		FROM user_profiles
		WHERE user_id = $1
	`

	var u domain.UserProfile
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&u.UserID,
		&u.Name,
		&u.WealthTier,
		&u.Residence,
		&u.Risk.RiskTolerance,
		&u.Risk.MaxDrawdownTolerance,
		&u.Risk.LossAversionScore,
		&u.Preferences.ExplainableOnly,
		&u.Preferences.NotificationPriority,
		&u.Preferences.ReportingFrequency,
		&u.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, &storage.NotFoundError{Entity: "user_profile", ID: userID}
		}
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return &u, nil
}
