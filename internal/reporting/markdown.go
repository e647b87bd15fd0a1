package reporting

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Strategy Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Strategy: %s | Family: %s | User: %s | Versions: %d\n\n",
		r.StrategyID, r.Family, r.UserID, len(r.Lineage)))

	// Lineage
	sb.WriteString("## Version Lineage\n\n")
	sb.WriteString("| Version | Status | Supersedes | Backtest | Failure Reason | Created (ms) |\n")
	sb.WriteString("|---------|--------|------------|----------|----------------|--------------|\n")
	for _, row := range r.Lineage {
		supersedes := "-"
		if row.Supersedes > 0 {
			supersedes = fmt.Sprintf("v%d", row.Supersedes)
		}
		backtest := row.BacktestID
		if backtest == "" {
			backtest = "-"
		}
		reason := row.FailureReason
		if reason == "" {
			reason = "-"
		}
		sb.WriteString(fmt.Sprintf("| v%d | %s | %s | %s | %s | %d |\n",
			row.Version, row.Status, supersedes, shortID(backtest), reason, row.CreatedAt))
	}
	sb.WriteString("\n")

	// Hypothesis
	sb.WriteString(fmt.Sprintf("## Hypothesis (v%d)\n\n", r.Hypothesis.Version))
	sb.WriteString("| Parameter | Value |\n")
	sb.WriteString("|-----------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Action | %s |\n", r.Hypothesis.Action))
	sb.WriteString(fmt.Sprintf("| Symbols | %s |\n", strings.Join(r.Hypothesis.Symbols, ", ")))
	sb.WriteString(fmt.Sprintf("| Weights | %s |\n", formatWeights(r.Hypothesis.Weights)))
	sb.WriteString(fmt.Sprintf("| Entry Threshold | %.4f |\n", r.Hypothesis.EntryThreshold))
	sb.WriteString(fmt.Sprintf("| Exit Threshold | %.4f |\n", r.Hypothesis.ExitThreshold))
	sb.WriteString(fmt.Sprintf("| Rebalance Days | %d |\n", r.Hypothesis.RebalanceDays))
	sb.WriteString("\n")

	// Backtest
	sb.WriteString("## Backtest\n\n")
	if r.Backtest != nil {
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Expected Return | %.4f |\n", r.Backtest.ExpectedReturn))
		sb.WriteString(fmt.Sprintf("| Max Drawdown | %.4f |\n", r.Backtest.MaxDrawdown))
		sb.WriteString(fmt.Sprintf("| Confidence | %.4f |\n", r.Backtest.Confidence))
		sb.WriteString(fmt.Sprintf("| Snapshots Used | %d |\n", r.Backtest.SnapshotsUsed))
		sb.WriteString(fmt.Sprintf("| Seed | %d |\n", r.Backtest.Seed))
		sb.WriteString(fmt.Sprintf("| Computed At (ms) | %d |\n", r.Backtest.ComputedAt))
		sb.WriteString("\n")

		sb.WriteString("### Driving Signals\n\n")
		if len(r.Backtest.Trace) > 0 {
			sb.WriteString("| Signal | Window Start (ms) | Window End (ms) | Contribution | Note |\n")
			sb.WriteString("|--------|-------------------|-----------------|--------------|------|\n")
			for _, e := range r.Backtest.Trace {
				sb.WriteString(fmt.Sprintf("| %s | %d | %d | %.4f | %s |\n",
					e.Signal, e.WindowStart, e.WindowEnd, e.Contribution, e.Note))
			}
		} else {
			sb.WriteString("No explainability trace available.\n")
		}
	} else {
		sb.WriteString("No completed backtest for the latest version.\n")
	}
	sb.WriteString("\n")

	// Decisions
	sb.WriteString("## Decision History\n\n")
	if len(r.Decisions) > 0 {
		sb.WriteString("| Version | State | Reason | Decided (ms) |\n")
		sb.WriteString("|---------|-------|--------|--------------|\n")
		for _, d := range r.Decisions {
			reason := d.ReasonCode
			if reason == "" {
				reason = "-"
			}
			decided := "-"
			if d.DecidedAt > 0 {
				decided = fmt.Sprintf("%d", d.DecidedAt)
			}
			sb.WriteString(fmt.Sprintf("| v%d | %s | %s | %s |\n", d.Version, d.State, reason, decided))
		}
	} else {
		sb.WriteString("No decisions recorded.\n")
	}
	sb.WriteString("\n")

	// Performance
	sb.WriteString("## Realized Performance\n\n")
	if len(r.Performance) > 0 {
		sb.WriteString("| Version | AsOf (ms) | Return | Benchmark | Alpha | Drawdown | Trust | Acceptance |\n")
		sb.WriteString("|---------|-----------|--------|-----------|-------|----------|-------|------------|\n")
		for _, p := range r.Performance {
			sb.WriteString(fmt.Sprintf("| v%d | %d | %.4f | %.4f | %.4f | %.4f | %.4f | %.4f |\n",
				p.Version, p.AsOf, p.TotalReturn, p.BenchmarkReturn,
				p.Alpha, p.Drawdown, p.TrustScore, p.AcceptanceRate))
		}
	} else {
		sb.WriteString("No performance evaluations recorded.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func formatWeights(weights map[string]float64) string {
	if len(weights) == 0 {
		return "-"
	}
	symbols := make([]string, 0, len(weights))
	for s := range weights {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	parts := make([]string, 0, len(symbols))
	for _, s := range symbols {
		parts = append(parts, fmt.Sprintf("%s=%.2f", s, weights[s]))
	}
	return strings.Join(parts, " ")
}

// shortID truncates hashes for table readability.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
