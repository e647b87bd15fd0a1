package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// LearningMetricsStore implements storage.LearningMetricsStore using
// PostgreSQL. Versions are strictly increasing per family; the
// monotonicity check runs in a transaction against a locked latest row.
type LearningMetricsStore struct {
	pool *Pool
}

// NewLearningMetricsStore creates a new LearningMetricsStore.
func NewLearningMetricsStore(pool *Pool) *LearningMetricsStore {
	return &LearningMetricsStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LearningMetricsStore = (*LearningMetricsStore)(nil)

// Insert adds a snapshot. Returns ErrDuplicateKey if (family, version)
// exists, VersionConflictError if version is not greater than the
// family's current latest.
func (s *LearningMetricsStore) Insert(ctx context.Context, m *domain.LearningMetrics) error {
	if m == nil || m.Family == "" || m.Version < 1 {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert learning metrics: %w", err)
	}
	defer tx.Rollback(ctx)

	var latest int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM learning_metrics WHERE family = $1`,
		m.Family,
	).Scan(&latest)
	if err != nil {
		return fmt.Errorf("latest learning version: %w", err)
	}
	if m.Version <= latest {
		return &storage.VersionConflictError{Entity: "learning_metrics", ID: m.Family, Version: int(m.Version)}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO learning_metrics (
			family, version, window_start, window_end, sample_count,
			acceptance, rejection, modification,
			mean_alpha, mean_drawdown, trust_score, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.Family, m.Version, m.WindowStart, m.WindowEnd, m.SampleCount,
		m.Acceptance, m.Rejection, m.Modification,
		m.MeanAlpha, m.MeanDrawdown, m.TrustScore, m.ComputedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert learning metrics: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert learning metrics: %w", err)
	}
	return nil
}

// GetLatest retrieves the highest-version snapshot for a family.
func (s *LearningMetricsStore) GetLatest(ctx context.Context, family string) (*domain.LearningMetrics, error) {
	query := selectLearning + ` WHERE family = $1 ORDER BY version DESC LIMIT 1`

	m, err := scanLearning(s.pool.QueryRow(ctx, query, family))
	if err != nil {
		if isNotFoundError(err) {
			return nil, &storage.NotFoundError{Entity: "learning_metrics", ID: family}
		}
		return nil, fmt.Errorf("get latest learning metrics: %w", err)
	}
	return m, nil
}

// GetAllLatest retrieves the latest snapshot for every family.
func (s *LearningMetricsStore) GetAllLatest(ctx context.Context) (map[string]*domain.LearningMetrics, error) {
	query := `
		SELECT DISTINCT ON (family)
		       family, version, window_start, window_end, sample_count,
		       acceptance, rejection, modification,
		       mean_alpha, mean_drawdown, trust_score, computed_at
		FROM learning_metrics
		ORDER BY family ASC, version DESC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all latest learning metrics: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*domain.LearningMetrics)
	for rows.Next() {
		m, err := scanLearning(rows)
		if err != nil {
			return nil, fmt.Errorf("scan learning metrics: %w", err)
		}
		result[m.Family] = m
	}
	return result, rows.Err()
}

const selectLearning = `
	SELECT family, version, window_start, window_end, sample_count,
	       acceptance, rejection, modification,
	       mean_alpha, mean_drawdown, trust_score, computed_at
	FROM learning_metrics
`

func scanLearning(row pgx.Row) (*domain.LearningMetrics, error) {
	var m domain.LearningMetrics
	err := row.Scan(
		&m.Family,
		&m.Version,
		&m.WindowStart,
		&m.WindowEnd,
		&m.SampleCount,
		&m.Acceptance,
		&m.Rejection,
		&m.Modification,
		&m.MeanAlpha,
		&m.MeanDrawdown,
		&m.TrustScore,
		&m.ComputedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
