package policy

import (
	"sort"

	"strategy-advisor-lab/internal/domain"
)

// Weights is the declared weighting over the four persisted metrics.
// It comes from configuration; the metrics themselves are never
// collapsed into a stored scalar.
type Weights struct {
	Alpha      float64
	Trust      float64
	Acceptance float64
	Drawdown   float64 // subtracted
}

// DefaultWeights favors expected alpha while still rewarding families
// users historically trust and accept.
func DefaultWeights() Weights {
	return Weights{Alpha: 0.4, Trust: 0.2, Acceptance: 0.2, Drawdown: 0.2}
}

// neutralTrust mirrors the aggregator's prior for families with no
// decided history.
const neutralTrust = 0.5

// WeightedRanker is the default Ranker: a weighted sum of normalized
// expected alpha, family trust, family acceptance, and max drawdown.
type WeightedRanker struct {
	weights Weights
}

var _ Ranker = (*WeightedRanker)(nil)

// NewWeightedRanker creates a ranker with the given weights.
func NewWeightedRanker(w Weights) *WeightedRanker {
	return &WeightedRanker{weights: w}
}

// Rank orders candidates by descending score. Expected return is
// min-max normalized across the candidate set so the alpha weight is
// comparable to the 0..1 trust and acceptance terms. Ties break by
// strategy id, then version, so equal scores still rank
// deterministically. The input slice is not modified.
func (r *WeightedRanker) Rank(candidates []Candidate, metrics map[string]*domain.LearningMetrics) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)

	scores := make(map[*domain.Strategy]float64, len(ranked))
	lo, hi := alphaBounds(ranked)
	for _, c := range ranked {
		scores[c.Strategy] = r.score(c, metrics, lo, hi)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := scores[ranked[i].Strategy], scores[ranked[j].Strategy]
		if si != sj {
			return si > sj
		}
		if ranked[i].Strategy.StrategyID != ranked[j].Strategy.StrategyID {
			return ranked[i].Strategy.StrategyID < ranked[j].Strategy.StrategyID
		}
		return ranked[i].Strategy.Version < ranked[j].Strategy.Version
	})

	return ranked
}

func (r *WeightedRanker) score(c Candidate, metrics map[string]*domain.LearningMetrics, lo, hi float64) float64 {
	trust := neutralTrust
	acceptance := 0.0
	if m, ok := metrics[c.Strategy.Hypothesis.Family]; ok && m != nil {
		trust = m.TrustScore
		acceptance = m.Acceptance
	}

	normAlpha := 0.5
	if c.Backtest != nil {
		if hi > lo {
			normAlpha = (c.Backtest.Metrics.ExpectedReturn - lo) / (hi - lo)
		}
		return r.weights.Alpha*normAlpha +
			r.weights.Trust*trust +
			r.weights.Acceptance*acceptance -
			r.weights.Drawdown*c.Backtest.Metrics.MaxDrawdown
	}

	// A candidate without a backtest never outranks a backtested one
	// with the same family history.
	return r.weights.Trust*trust + r.weights.Acceptance*acceptance - 1.0
}

func alphaBounds(candidates []Candidate) (lo, hi float64) {
	first := true
	for _, c := range candidates {
		if c.Backtest == nil {
			continue
		}
		v := c.Backtest.Metrics.ExpectedReturn
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
