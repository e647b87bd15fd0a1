package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// DecisionStore implements storage.DecisionStore using PostgreSQL.
// The proposed -> terminal transition is a guarded UPDATE so that
// concurrent deciders race on the row and exactly one wins.
type DecisionStore struct {
	pool *Pool
}

// NewDecisionStore creates a new DecisionStore.
func NewDecisionStore(pool *Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DecisionStore = (*DecisionStore)(nil)

// Insert adds a new proposed decision.
func (s *DecisionStore) Insert(ctx context.Context, d *domain.Decision) error {
	if d == nil || d.DecisionID == "" || d.Strategy.StrategyID == "" || d.UserID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO decisions (
			decision_id, strategy_id, strategy_version, user_id,
			state, reason_code, modified_strategy_id, modified_version,
			next_id, created_at, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	var modifiedID *string
	var modifiedVersion *int
	if d.Modified != nil {
		modifiedID = &d.Modified.StrategyID
		modifiedVersion = &d.Modified.Version
	}

	_, err := s.pool.Exec(ctx, query,
		d.DecisionID,
		d.Strategy.StrategyID,
		d.Strategy.Version,
		d.UserID,
		d.State,
		d.ReasonCode,
		modifiedID,
		modifiedVersion,
		d.NextID,
		d.CreatedAt,
		d.DecidedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// MarkDecided records the terminal outcome carried by d, guarded by
// state == proposed.
func (s *DecisionStore) MarkDecided(ctx context.Context, d *domain.Decision) error {
	if d == nil || d.DecisionID == "" || d.State == domain.DecisionProposed {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE decisions
		SET state = $2, reason_code = $3, modified_strategy_id = $4,
		    modified_version = $5, next_id = $6, decided_at = $7
		WHERE decision_id = $1 AND state = 'proposed'
	`

	var modifiedID *string
	var modifiedVersion *int
	if d.Modified != nil {
		modifiedID = &d.Modified.StrategyID
		modifiedVersion = &d.Modified.Version
	}

	tag, err := s.pool.Exec(ctx, query,
		d.DecisionID,
		d.State,
		d.ReasonCode,
		modifiedID,
		modifiedVersion,
		d.NextID,
		d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("mark decided: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the decision is already terminal or it never existed.
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM decisions WHERE decision_id = $1)`,
			d.DecisionID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check decision exists: %w", err)
		}
		if exists {
			return storage.ErrAlreadyDecided
		}
		return &storage.NotFoundError{Entity: "decision", ID: d.DecisionID}
	}
	return nil
}

// GetByID retrieves a decision. Returns NotFoundError if not exists.
func (s *DecisionStore) GetByID(ctx context.Context, decisionID string) (*domain.Decision, error) {
	query := selectDecision + ` WHERE decision_id = $1`

	d, err := scanDecision(s.pool.QueryRow(ctx, query, decisionID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, &storage.NotFoundError{Entity: "decision", ID: decisionID}
		}
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return d, nil
}

// GetByStrategy retrieves the decision for a strategy version.
func (s *DecisionStore) GetByStrategy(ctx context.Context, strategyID string, version int) (*domain.Decision, error) {
	query := selectDecision + ` WHERE strategy_id = $1 AND strategy_version = $2`

	d, err := scanDecision(s.pool.QueryRow(ctx, query, strategyID, version))
	if err != nil {
		if isNotFoundError(err) {
			return nil, &storage.NotFoundError{Entity: "decision", ID: strategyID, Version: version}
		}
		return nil, fmt.Errorf("get decision by strategy: %w", err)
	}
	return d, nil
}

// ListByUser retrieves a user's decisions created at or after since,
// ordered by created_at ASC.
func (s *DecisionStore) ListByUser(ctx context.Context, userID string, since int64) ([]*domain.Decision, error) {
	query := selectDecision + ` WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at ASC, decision_id ASC`

	rows, err := s.pool.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list decisions by user: %w", err)
	}
	defer rows.Close()

	var decisions []*domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

const selectDecision = `
	SELECT decision_id, strategy_id, strategy_version, user_id,
	       state, reason_code, modified_strategy_id, modified_version,
	       next_id, created_at, decided_at
	FROM decisions
`

func scanDecision(row pgx.Row) (*domain.Decision, error) {
	var d domain.Decision
	var modifiedID *string
	var modifiedVersion *int

	err := row.Scan(
		&d.DecisionID,
		&d.Strategy.StrategyID,
		&d.Strategy.Version,
		&d.UserID,
		&d.State,
		&d.ReasonCode,
		&modifiedID,
		&modifiedVersion,
		&d.NextID,
		&d.CreatedAt,
		&d.DecidedAt,
	)
	if err != nil {
		return nil, err
	}
	if modifiedID != nil && modifiedVersion != nil {
		d.Modified = &domain.VersionRef{StrategyID: *modifiedID, Version: *modifiedVersion}
	}
	return &d, nil
}
