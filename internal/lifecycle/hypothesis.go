package lifecycle

import (
	"sort"

	"strategy-advisor-lab/internal/domain"
)

// maxHypothesisSymbols caps how many instruments a generated
// hypothesis holds.
const maxHypothesisSymbols = 4

// Entry/exit thresholds per risk tolerance. More conservative users
// demand stronger signals before entering and exit earlier.
var riskThresholds = map[string]struct{ entry, exit float64 }{
	domain.RiskConservative: {entry: 0.35, exit: 0.15},
	domain.RiskBalanced:     {entry: 0.25, exit: 0.05},
	domain.RiskAggressive:   {entry: 0.15, exit: -0.05},
}

// cautionPenalty is added to the entry threshold when the family's
// learning metrics show low trust.
const (
	lowTrustCutoff = 0.4
	cautionPenalty = 0.1
)

// buildHypothesis derives a deterministic hypothesis from the user's
// risk profile, the anchoring market snapshot, and the learning
// snapshot read at propose time. Same inputs, same hypothesis.
func buildHypothesis(family string, user *domain.UserProfile, snap *domain.MarketContext, learning *domain.LearningMetrics) domain.Hypothesis {
	symbols := pickSymbols(family, snap)

	weights := make(map[string]float64, len(symbols))
	if len(symbols) > 0 {
		w := 1.0 / float64(len(symbols))
		for _, sym := range symbols {
			weights[sym] = w
		}
	}

	th, ok := riskThresholds[user.Risk.RiskTolerance]
	if !ok {
		th = riskThresholds[domain.RiskBalanced]
	}

	entry := th.entry
	if learning != nil && learning.TrustScore < lowTrustCutoff {
		// A family the user keeps rejecting has to clear a higher bar.
		entry += cautionPenalty
	}

	action := domain.ActionBuy
	if family == domain.FamilyDefensiveIncome && user.Risk.RiskTolerance == domain.RiskConservative {
		action = domain.ActionHold
	}

	return domain.Hypothesis{
		Family:         family,
		Action:         action,
		Symbols:        symbols,
		Weights:        weights,
		EntryThreshold: entry,
		ExitThreshold:  th.exit,
		RebalanceDays:  rebalanceCadence(family),
	}
}

// pickSymbols selects instruments from the snapshot according to the
// family's bias: momentum follows the strongest signals, mean
// reversion the weakest, the rest take the snapshot's leading symbols.
func pickSymbols(family string, snap *domain.MarketContext) []string {
	scored := make([]domain.Signal, 0, len(snap.Signals))
	seen := make(map[string]struct{}, len(snap.Signals))
	for _, sig := range snap.Signals {
		if _, dup := seen[sig.Name]; dup {
			continue
		}
		seen[sig.Name] = struct{}{}
		scored = append(scored, sig)
	}

	switch family {
	case domain.FamilyMomentum:
		sort.Slice(scored, func(i, j int) bool {
			if scored[i].Value != scored[j].Value {
				return scored[i].Value > scored[j].Value
			}
			return scored[i].Name < scored[j].Name
		})
	case domain.FamilyMeanReversion:
		sort.Slice(scored, func(i, j int) bool {
			if scored[i].Value != scored[j].Value {
				return scored[i].Value < scored[j].Value
			}
			return scored[i].Name < scored[j].Name
		})
	default:
		sort.Slice(scored, func(i, j int) bool {
			return scored[i].Name < scored[j].Name
		})
	}

	n := len(scored)
	if n > maxHypothesisSymbols {
		n = maxHypothesisSymbols
	}

	symbols := make([]string, 0, n)
	for _, sig := range scored[:n] {
		symbols = append(symbols, sig.Name)
	}
	sort.Strings(symbols)
	return symbols
}

func rebalanceCadence(family string) int {
	switch family {
	case domain.FamilyMacroRotation:
		return 90
	case domain.FamilyDefensiveIncome:
		return 60
	default:
		return 30
	}
}
