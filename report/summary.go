package report

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/MegaGrindStone/go-mcp-bench/benchmark"
)

// Summary writes rep as markdown tables: run metadata, protocol overhead, tools and
// resources. Tools and resources are sorted by name.
func Summary(w io.Writer, rep benchmark.BenchmarkReport) error {
	ew := &errWriter{w: w}

	ew.printf("## Benchmark Results\n\n")
	ew.printf("Last run: %s (%s)\n", orNA(rep.LastRunUTC), strings.ToUpper(orNA(string(rep.Type))))
	ew.printf("Iterations: %d, concurrency: %d\n\n", rep.Iterations, rep.Concurrency)

	if d := rep.Discovery; d != nil {
		ew.printf("### Protocol Overhead\n\n")
		ew.printf("| Handshake (ms) | Tool Payload (bytes) | Est. Tokens | Tools |\n")
		ew.printf("|----------------|----------------------|-------------|-------|\n")
		ew.printf("| %.2f | %d | ~%d | %d |\n\n",
			d.HandshakeLatencyMs, d.ToolPayloadBytes, d.EstimatedTokens, d.ToolCount)
	}

	ew.printf("### Tool Benchmarks\n\n")
	ew.printf("Overall avg latency (tools): %.2f ms\n\n", rep.OverallAvgLatencyTools)
	if len(rep.Tools) == 0 {
		ew.printf("No tool data available.\n\n")
	} else {
		ew.printf("| Tool | Avg Latency (ms) | Total Time (ms) | Success | Errors " +
			"| p50 (ms) | p95 (ms) | p99 (ms) |\n")
		ew.printf("|------|------------------|-----------------|---------|--------" +
			"|----------|----------|----------|\n")
		for _, name := range slices.Sorted(maps.Keys(rep.Tools)) {
			tb := rep.Tools[name]
			p50, p95, p99 := "-", "-", "-"
			if cl := tb.CallLatency; cl != nil {
				p50, p95, p99 = formatMs(cl.P50Ms), formatMs(cl.P95Ms), formatMs(cl.P99Ms)
			}
			ew.printf("| %s | %.2f | %.2f | %d | %d | %s | %s | %s |\n",
				name, tb.AvgLatency, tb.TotalTime, tb.Successes, tb.Errors, p50, p95, p99)
		}
		ew.printf("\n")
	}

	ew.printf("### Resource Benchmarks\n\n")
	if len(rep.Resources) == 0 {
		ew.printf("Resource benchmarking is not applicable (or no data found) for this run.\n")
		return ew.err
	}

	if rep.OverallAvgLatencyResources != nil {
		ew.printf("Overall avg latency (resources): %.2f ms\n\n", *rep.OverallAvgLatencyResources)
	}
	ew.printf("| Resource | List Latency (ms) | List Items | Read Avg Latency (ms) | Read Errors |\n")
	ew.printf("|----------|-------------------|------------|-----------------------|-------------|\n")
	for _, name := range slices.Sorted(maps.Keys(rep.Resources)) {
		rb := rep.Resources[name]
		ew.printf("| %s | %.2f | %d | %.2f | %d |\n",
			name, rb.ListLatencyMs, rb.ListItemCount, rb.ReadAvgLatencyMs, rb.ReadErrors)
	}

	return ew.err
}

// errWriter keeps the first write error and skips every following write.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func formatMs(ms float64) string {
	return fmt.Sprintf("%.2f", ms)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
