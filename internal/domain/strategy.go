package domain

// Strategy statuses. A strategy becomes proposable only once a
// BacktestResult exists for the same (StrategyID, Version). A failed
// backtest leaves the version in backtest_failed, terminal for that
// version, but the hypothesis can be re-proposed or forked later.
const (
	StrategyStatusProposable     = "proposable"
	StrategyStatusBacktestFailed = "backtest_failed"
)

// Hypothesis action constants.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Strategy family constants. Families group strategy versions for
// learning-metric aggregation and ranking.
const (
	FamilyMacroRotation   = "macro_rotation"
	FamilyMomentum        = "momentum"
	FamilyMeanReversion   = "mean_reversion"
	FamilyDefensiveIncome = "defensive_income"
)

// Families lists every known strategy family.
var Families = []string{
	FamilyMacroRotation,
	FamilyMomentum,
	FamilyMeanReversion,
	FamilyDefensiveIncome,
}

// ValidFamily reports whether family names a known strategy family.
func ValidFamily(family string) bool {
	for _, f := range Families {
		if f == family {
			return true
		}
	}
	return false
}

// Hypothesis is the parameterized body of a strategy: what to trade,
// in which direction, and under which thresholds.
type Hypothesis struct {
	Family         string             // strategy family identifier
	Action         string             // BUY | SELL | HOLD
	Symbols        []string           // instruments in scope
	Weights        map[string]float64 // target weight per symbol, sums to 1.0
	EntryThreshold float64            // signal score required to enter
	ExitThreshold  float64            // signal score at which to exit
	RebalanceDays  int                // rebalance cadence
}

// VersionRef points at a specific strategy version.
type VersionRef struct {
	StrategyID string
	Version    int
}

// Strategy is a versioned, immutable strategy hypothesis. Any change
// produces a new version; Supersedes links version N+1 back to N so
// the full lineage is preserved for audit and replay.
type Strategy struct {
	StrategyID      string
	Version         int
	UserID          string
	Goal            GoalRef
	MarketContextID string
	Hypothesis      Hypothesis
	Status          string      // proposable | backtest_failed
	BacktestID      string      // empty when Status is backtest_failed
	FailureReason   string      // set when Status is backtest_failed
	Supersedes      *VersionRef // nil for version 1
	CreatedAt       int64       // unix ms
}

// Explain is one line of a backtest explainability trace: which signal
// over which window drove the estimate, and by how much.
type Explain struct {
	Signal       string
	WindowStart  int64 // unix ms
	WindowEnd    int64 // unix ms
	Contribution float64
	Note         string
}

// BacktestMetrics holds the numeric outputs of a backtest.
type BacktestMetrics struct {
	ExpectedReturn float64 // estimated total return over the goal horizon, fraction
	MaxDrawdown    float64 // worst simulated peak-to-trough loss, fraction (positive)
	Confidence     float64 // 0..1, derived from historical coverage
}

// BacktestResult is the immutable outcome of one backtest run, 1:1
// with a strategy version. Seed records the sampling seed so the run
// is bit-for-bit reproducible.
type BacktestResult struct {
	BacktestID      string
	StrategyID      string
	StrategyVersion int
	Metrics         BacktestMetrics
	Seed            int64
	Trace           []Explain // human-readable explainability trace
	SnapshotsUsed   int       // historical snapshots consumed
	ComputedAt      int64     // unix ms
}
