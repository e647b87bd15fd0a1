package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders performance rows as CSV string.
func RenderCSV(rows []PerformanceRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("version,trace_id,as_of,total_return,benchmark_return,")
	sb.WriteString("alpha,drawdown,trust_score,acceptance_rate\n")

	// Rows
	for _, p := range rows {
		sb.WriteString(fmt.Sprintf("%d,%s,%d,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f\n",
			p.Version,
			p.TraceID,
			p.AsOf,
			p.TotalReturn,
			p.BenchmarkReturn,
			p.Alpha,
			p.Drawdown,
			p.TrustScore,
			p.AcceptanceRate,
		))
	}

	return sb.String()
}
