package reporting

import "time"

// Report is the explainability report for one strategy lineage: every
// version with its backtest verdict, the driving signals behind the
// latest backtest, the decision history, and realized performance.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	UserID      string
	StrategyID  string
	Family      string

	// Lineage (sorted by version ASC)
	Lineage []LineageRow

	// Latest version detail
	Hypothesis HypothesisSection
	Backtest   *BacktestSection // nil when the latest backtest failed

	// Decision history (sorted by version ASC)
	Decisions []DecisionRow

	// Realized performance of accepted versions (sorted by as_of ASC)
	Performance []PerformanceRow
}

// LineageRow is one strategy version in the supersedes chain.
type LineageRow struct {
	Version       int
	Status        string
	Supersedes    int // 0 for version 1
	BacktestID    string
	FailureReason string
	CreatedAt     int64 // unix ms
}

// HypothesisSection describes the latest version's hypothesis body.
type HypothesisSection struct {
	Version        int
	Action         string
	Symbols        []string
	Weights        map[string]float64
	EntryThreshold float64
	ExitThreshold  float64
	RebalanceDays  int
}

// BacktestSection carries the latest backtest and its explainability trace.
type BacktestSection struct {
	ExpectedReturn float64
	MaxDrawdown    float64
	Confidence     float64
	SnapshotsUsed  int
	Seed           int64
	ComputedAt     int64 // unix ms
	Trace          []ExplainRow
}

// ExplainRow is one explainability line: which signal over which
// window drove the estimate.
type ExplainRow struct {
	Signal       string
	WindowStart  int64 // unix ms
	WindowEnd    int64 // unix ms
	Contribution float64
	Note         string
}

// DecisionRow is one decision in the lineage's history.
type DecisionRow struct {
	Version    int
	State      string
	ReasonCode string
	DecidedAt  int64 // unix ms, zero while proposed
}

// PerformanceRow is one realized evaluation of an executed version.
type PerformanceRow struct {
	Version         int
	TraceID         string
	AsOf            int64 // unix ms
	TotalReturn     float64
	BenchmarkReturn float64
	Alpha           float64
	Drawdown        float64
	TrustScore      float64
	AcceptanceRate  float64
}
