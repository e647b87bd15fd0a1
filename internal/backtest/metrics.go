package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// equityCurve compounds per-period returns into an equity curve
// starting at 1.0. The returned slice has len(returns)+1 points.
func equityCurve(returns []float64) []float64 {
	curve := make([]float64, len(returns)+1)
	curve[0] = 1.0
	for i, r := range returns {
		curve[i+1] = curve[i] * (1.0 + r)
	}
	return curve
}

// maxDrawdown returns the worst peak-to-trough loss of an equity
// curve as a positive fraction.
func maxDrawdown(curve []float64) float64 {
	peak := math.Inf(-1)
	worst := 0.0
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// dispersionPenalty shrinks confidence when bootstrap samples of the
// mean return disagree. samples must be non-empty.
func dispersionPenalty(samples []float64) float64 {
	if len(samples) < 2 {
		return 1.0
	}
	sd := stat.StdDev(samples, nil)
	return 1.0 / (1.0 + 10.0*sd)
}

// clamp01 bounds v to [0, 1].
func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
