package domain

// Signal is a single scored market signal inside a snapshot.
type Signal struct {
	Name       string  // symbol or signal label ("SPY", "macro_inflation", ...)
	Value      float64 // normalized score, typically in [-1, 1]
	Confidence float64 // 0..1
}

// MarketEvent is a qualitative event attached to a snapshot.
type MarketEvent struct {
	EventType   string // "trend" | "opportunity" | "risk" | "alert"
	Description string
	Timestamp   int64 // unix ms
}

// MarketContext is an immutable market snapshot produced by the
// market-data ingestion collaborator. Snapshots form an append-only
// time series keyed by (ContextID, Timestamp); they are never mutated.
type MarketContext struct {
	ContextID string
	Timestamp int64 // unix ms, snapshot time
	Symbols   []string
	Signals   []Signal
	Events    []MarketEvent
}

// Market event type constants.
const (
	EventTypeTrend       = "trend"
	EventTypeOpportunity = "opportunity"
	EventTypeRisk        = "risk"
	EventTypeAlert       = "alert"
)

// MarketOutcome describes what the market actually did over an
// evaluation window. Supplied by the execution/market boundary and
// consumed by the performance aggregator.
type MarketOutcome struct {
	WindowStart      int64     // unix ms
	WindowEnd        int64     // unix ms
	PortfolioReturns []float64 // per-period realized portfolio returns (fractions)
	BenchmarkReturns []float64 // per-period benchmark returns, same periods
}
