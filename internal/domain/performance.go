package domain

// PerformanceMetrics is the multi-objective score of one evaluation.
// All four metrics are persisted; no single scalar replaces them.
type PerformanceMetrics struct {
	Alpha          float64 // realized return minus benchmark return, fraction
	Drawdown       float64 // worst peak-to-trough loss over the window, fraction (positive)
	TrustScore     float64 // 0..1, derived from the family's rejection/modification rate
	AcceptanceRate float64 // 0..1, rolling acceptance over the user's recent decisions
}

// PortfolioPerformance is one immutable evaluation of an execution
// trace. A trace accumulates a time series of these (interim and
// final); records are never overwritten and read back ordered by AsOf.
type PortfolioPerformance struct {
	PerformanceID   string
	TraceID         string
	Metrics         PerformanceMetrics
	TotalReturn     float64 // realized portfolio return over the window
	BenchmarkReturn float64 // benchmark return over the same window
	AsOf            int64   // unix ms, evaluation time
}

// LearningMetrics is a versioned aggregate over a strategy family and
// time window. Snapshots are written only by the aggregator; the
// policy hook reads them and never mutates.
type LearningMetrics struct {
	Family       string
	WindowStart  int64 // unix ms
	WindowEnd    int64 // unix ms
	Version      int64 // strictly increasing per family
	SampleCount  int   // decisions contributing to the window
	Acceptance   float64
	Rejection    float64
	Modification float64
	MeanAlpha    float64
	MeanDrawdown float64
	TrustScore   float64
	ComputedAt   int64 // unix ms
}
