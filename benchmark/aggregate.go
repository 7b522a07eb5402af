package benchmark

import (
	"maps"
	"slices"
	"time"

	vegeta "github.com/tsenart/vegeta/lib"
)

// TimestampFormat is the layout of BenchmarkReport.LastRunUTC.
const TimestampFormat = "2006-01-02T15:04:05Z"

// BenchmarkReport is the result of one run, persisted as the benchmark artifact.
type BenchmarkReport struct {
	LastRunUTC  string    `json:"last_run_utc"`
	Type        Transport `json:"type"`
	Iterations  int       `json:"iterations"`
	Concurrency int       `json:"concurrency"`

	Discovery *Discovery `json:"discovery,omitempty"`

	Tools     map[string]ToolBenchmark     `json:"tools"`
	Resources map[string]ResourceBenchmark `json:"resources"`

	OverallAvgLatencyTools float64 `json:"overall_avg_latency_tools"`
	// OverallAvgLatencyResources is only set when the resource phase ran.
	OverallAvgLatencyResources *float64 `json:"overall_avg_latency_resources,omitempty"`
}

// Discovery describes the protocol overhead measured before the stress phase.
type Discovery struct {
	HandshakeLatencyMs float64 `json:"handshake_latency_ms"`
	ToolPayloadBytes   int     `json:"tool_payload_bytes"`
	EstimatedTokens    int     `json:"estimated_tokens"`
	ToolCount          int     `json:"tool_count"`
}

// ToolBenchmark aggregates the stress batch of one tool. Successes+Errors always equals
// the batch's iteration count.
type ToolBenchmark struct {
	// AvgLatency is TotalTime divided by the number of calls, a throughput figure rather
	// than a mean of individual latencies.
	AvgLatency float64 `json:"avg_latency"`
	Successes  int     `json:"successes"`
	Errors     int     `json:"errors"`
	TotalTime  float64 `json:"total_time"`
	// CallLatency is the distribution of individual call latencies.
	CallLatency *LatencyDistribution `json:"call_latency,omitempty"`
}

// LatencyDistribution summarizes individually timed calls, in milliseconds.
type LatencyDistribution struct {
	MeanMs       float64 `json:"mean_ms"`
	P50Ms        float64 `json:"p50_ms"`
	P95Ms        float64 `json:"p95_ms"`
	P99Ms        float64 `json:"p99_ms"`
	MaxMs        float64 `json:"max_ms"`
	SuccessRatio float64 `json:"success_ratio"`
}

// ResourceBenchmark aggregates the measurements of one resource type.
type ResourceBenchmark struct {
	ListLatencyMs    float64 `json:"list_latency_ms"`
	ListItemCount    int     `json:"list_item_count"`
	ReadAvgLatencyMs float64 `json:"read_avg_latency_ms"`
	ReadErrors       int     `json:"read_errors"`
}

// AggregateTool builds the ToolBenchmark of a settled stress batch. A batch without calls
// has zero latency.
func AggregateTool(res StressResult) ToolBenchmark {
	tb := ToolBenchmark{
		TotalTime: Milliseconds(res.TotalTime),
	}
	for _, r := range res.Results {
		if r.Succeeded {
			tb.Successes++
		} else {
			tb.Errors++
		}
	}
	if n := len(res.Results); n > 0 {
		tb.AvgLatency = tb.TotalTime / float64(n)
	}
	tb.CallLatency = CallLatency(res.Results)
	return tb
}

// CallLatency computes the distribution of individual call latencies, or nil without
// results. Failed calls count in the latencies and lower the success ratio.
func CallLatency(results []InvocationResult) *LatencyDistribution {
	if len(results) == 0 {
		return nil
	}

	var m vegeta.Metrics
	for _, r := range results {
		vr := vegeta.Result{
			Code:      200,
			Timestamp: r.Start,
			Latency:   fromMilliseconds(r.LatencyMs),
		}
		if !r.Succeeded {
			vr.Code = 0
			vr.Error = r.Error
		}
		m.Add(&vr)
	}
	m.Close()

	return &LatencyDistribution{
		MeanMs:       Milliseconds(m.Latencies.Mean),
		P50Ms:        Milliseconds(m.Latencies.P50),
		P95Ms:        Milliseconds(m.Latencies.P95),
		P99Ms:        Milliseconds(m.Latencies.P99),
		MaxMs:        Milliseconds(m.Latencies.Max),
		SuccessRatio: m.Success,
	}
}

// OverallToolLatency is the unweighted mean of the tools' average latencies, 0 without
// tools.
func OverallToolLatency(tools map[string]ToolBenchmark) float64 {
	latencies := make([]float64, 0, len(tools))
	for _, name := range slices.Sorted(maps.Keys(tools)) {
		latencies = append(latencies, tools[name].AvgLatency)
	}
	return Mean(latencies)
}

// OverallResourceLatency is the unweighted mean of the resource types' average read
// latencies, 0 without resource types.
func OverallResourceLatency(resources map[string]ResourceBenchmark) float64 {
	latencies := make([]float64, 0, len(resources))
	for _, name := range slices.Sorted(maps.Keys(resources)) {
		latencies = append(latencies, resources[name].ReadAvgLatencyMs)
	}
	return Mean(latencies)
}

// Mean is the arithmetic mean of xs, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// FormatTimestamp renders t as the report's UTC timestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// EstimateTokens approximates the token cost of a payload of n bytes.
func EstimateTokens(n int) int {
	return n / 4
}
