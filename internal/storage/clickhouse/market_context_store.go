package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"

	"strategy-advisor-lab/internal/domain"
	"strategy-advisor-lab/internal/storage"
)

// MarketContextStore implements storage.MarketContextStore using
// ClickHouse. Symbols map to an Array(String) column; signals and
// events are stored as JSON-encoded String columns since the backtest
// engine always reads snapshots whole.
type MarketContextStore struct {
	conn *Conn
}

// NewMarketContextStore creates a new MarketContextStore.
func NewMarketContextStore(conn *Conn) *MarketContextStore {
	return &MarketContextStore{conn: conn}
}

// Compile-time interface check.
var _ storage.MarketContextStore = (*MarketContextStore)(nil)

// Insert adds a snapshot. Returns ErrDuplicateKey if context_id exists.
func (s *MarketContextStore) Insert(ctx context.Context, m *domain.MarketContext) error {
	if m == nil || m.ContextID == "" || m.Timestamp == 0 {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, m.ContextID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	signals, err := json.Marshal(m.Signals)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}
	events, err := json.Marshal(m.Events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO market_contexts (
			context_id, timestamp_ms, symbols, signals, events
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(m.ContextID, uint64(m.Timestamp), m.Symbols, string(signals), string(events))
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByID retrieves a snapshot. Returns NotFoundError if not exists.
func (s *MarketContextStore) GetByID(ctx context.Context, contextID string) (*domain.MarketContext, error) {
	query := selectMarketContext + ` WHERE context_id = ? LIMIT 1`

	rows, err := s.conn.Query(ctx, query, contextID)
	if err != nil {
		return nil, fmt.Errorf("query by context id: %w", err)
	}
	defer rows.Close()

	snapshots, err := scanMarketContexts(rows)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, &storage.NotFoundError{Entity: "market_context", ID: contextID}
	}
	return snapshots[0], nil
}

// GetByTimeRange retrieves snapshots with timestamp in [start, end],
// ordered by timestamp ASC.
func (s *MarketContextStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.MarketContext, error) {
	query := selectMarketContext + `
		WHERE timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanMarketContexts(rows)
}

// GetLatest retrieves the most recent snapshot.
func (s *MarketContextStore) GetLatest(ctx context.Context) (*domain.MarketContext, error) {
	query := selectMarketContext + ` ORDER BY timestamp_ms DESC LIMIT 1`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query latest: %w", err)
	}
	defer rows.Close()

	snapshots, err := scanMarketContexts(rows)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, &storage.NotFoundError{Entity: "market_context", ID: "latest"}
	}
	return snapshots[0], nil
}

// exists checks if a snapshot with the given id exists.
func (s *MarketContextStore) exists(ctx context.Context, contextID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count(*) FROM market_contexts WHERE context_id = ?`,
		contextID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

const selectMarketContext = `
	SELECT context_id, timestamp_ms, symbols, signals, events
	FROM market_contexts
`

// scanMarketContexts scans multiple rows.
func scanMarketContexts(rows chRows) ([]*domain.MarketContext, error) {
	var snapshots []*domain.MarketContext

	for rows.Next() {
		var m domain.MarketContext
		var timestamp uint64
		var signals, events string

		err := rows.Scan(&m.ContextID, &timestamp, &m.Symbols, &signals, &events)
		if err != nil {
			return nil, fmt.Errorf("scan market context row: %w", err)
		}

		m.Timestamp = int64(timestamp)
		if signals != "" && signals != "null" {
			if err := json.Unmarshal([]byte(signals), &m.Signals); err != nil {
				return nil, fmt.Errorf("decode signals: %w", err)
			}
		}
		if events != "" && events != "null" {
			if err := json.Unmarshal([]byte(events), &m.Events); err != nil {
				return nil, fmt.Errorf("decode events: %w", err)
			}
		}
		snapshots = append(snapshots, &m)
	}

	return snapshots, rows.Err()
}
