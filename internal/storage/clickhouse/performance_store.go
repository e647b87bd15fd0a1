package clickhouse

import (
	"context"
	"fmt"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// PerformanceStore implements storage.PerformanceStore using ClickHouse.
type PerformanceStore struct {
	conn *Conn
}

// NewPerformanceStore creates a new PerformanceStore.
func NewPerformanceStore(conn *Conn) *PerformanceStore {
	return &PerformanceStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PerformanceStore = (*PerformanceStore)(nil)

// Insert adds an evaluation record. Returns ErrDuplicateKey if
// performance_id or (trace_id, as_of) exists.
func (s *PerformanceStore) Insert(ctx context.Context, p *domain.PortfolioPerformance) error {
	if p == nil || p.PerformanceID == "" || p.TraceID == "" || p.AsOf == 0 {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, p.PerformanceID, p.TraceID, p.AsOf)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO portfolio_performance (
			performance_id, trace_id, as_of,
			total_return, benchmark_return,
			alpha, drawdown, trust_score, acceptance_rate
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		p.PerformanceID, p.TraceID, uint64(p.AsOf),
		p.TotalReturn, p.BenchmarkReturn,
		p.Metrics.Alpha, p.Metrics.Drawdown,
		p.Metrics.TrustScore, p.Metrics.AcceptanceRate,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByTrace retrieves all evaluations of a trace ordered by as_of ASC.
func (s *PerformanceStore) GetByTrace(ctx context.Context, traceID string) ([]*domain.PortfolioPerformance, error) {
	query := selectPerformance + `
		WHERE trace_id = ?
		ORDER BY as_of ASC
	`

	rows, err := s.conn.Query(ctx, query, traceID)
	if err != nil {
		return nil, fmt.Errorf("query by trace: %w", err)
	}
	defer rows.Close()

	return scanPerformances(rows)
}

// GetLatestByTrace retrieves the evaluation with the highest as_of.
func (s *PerformanceStore) GetLatestByTrace(ctx context.Context, traceID string) (*domain.PortfolioPerformance, error) {
	query := selectPerformance + `
		WHERE trace_id = ?
		ORDER BY as_of DESC
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, traceID)
	if err != nil {
		return nil, fmt.Errorf("query latest by trace: %w", err)
	}
	defer rows.Close()

	records, err := scanPerformances(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &storage.NotFoundError{Entity: "performance", ID: traceID}
	}
	return records[0], nil
}

// exists checks if a record with the given identity exists.
func (s *PerformanceStore) exists(ctx context.Context, performanceID, traceID string, asOf int64) (bool, error) {
	query := `
		SELECT count(*) FROM portfolio_performance
		WHERE performance_id = ? OR (trace_id = ? AND as_of = ?)
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, performanceID, traceID, uint64(asOf)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

const selectPerformance = `
	SELECT performance_id, trace_id, as_of,
	       total_return, benchmark_return,
	       alpha, drawdown, trust_score, acceptance_rate
	FROM portfolio_performance
`

// scanPerformances scans multiple rows.
func scanPerformances(rows chRows) ([]*domain.PortfolioPerformance, error) {
	var records []*domain.PortfolioPerformance

	for rows.Next() {
		var p domain.PortfolioPerformance
		var asOf uint64

		err := rows.Scan(
			&p.PerformanceID, &p.TraceID, &asOf,
			&p.TotalReturn, &p.BenchmarkReturn,
			&p.Metrics.Alpha, &p.Metrics.Drawdown,
			&p.Metrics.TrustScore, &p.Metrics.AcceptanceRate,
		)
		if err != nil {
			return nil, fmt.Errorf("scan performance row: %w", err)
		}

		p.AsOf = int64(asOf)
		records = append(records, &p)
	}

	return records, rows.Err()
}
