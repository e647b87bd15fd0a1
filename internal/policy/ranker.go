// Package policy ranks backtested strategy candidates using the
// latest learning-metric snapshots. Rankers only ever read the
// snapshots; writing them is the aggregator's job.
package policy

import (
	"strategy-advisor-lab/internal/domain"
)

// Candidate pairs a proposable strategy version with its backtest.
type Candidate struct {
	Strategy *domain.Strategy
	Backtest *domain.BacktestResult
}

// Ranker orders candidates best-first. Implementations must be
// deterministic for identical inputs and must not mutate metrics.
type Ranker interface {
	Rank(candidates []Candidate, metrics map[string]*domain.LearningMetrics) []Candidate
}
