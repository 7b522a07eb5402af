package metrics_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MegaGrindStone/go-mcp-bench/benchmark"
	"github.com/MegaGrindStone/go-mcp-bench/metrics"
)

func TestRecorderObservesRun(t *testing.T) {
	rec := metrics.NewRecorder()
	obs := rec.Observer(benchmark.TransportSSE)

	start := time.Now()
	for i := 0; i < 10; i++ {
		obs.ObserveInvocation(benchmark.InvocationResult{
			Tool:      "get_events",
			Succeeded: i != 3,
			LatencyMs: float64(i + 1),
			Start:     start,
		})
	}
	obs.ObserveTool("get_events", benchmark.ToolBenchmark{AvgLatency: 0.8, Successes: 9, Errors: 1, TotalTime: 8})
	obs.ObserveResource("students", benchmark.ResourceBenchmark{
		ListLatencyMs: 2.5, ListItemCount: 4, ReadAvgLatencyMs: 1.25, ReadErrors: 1,
	})

	families, err := rec.Registry().Gather()
	require.NoError(t, err)

	calls := findMetric(t, families, "mcpbench_calls_total", map[string]string{
		"transport": "sse", "tool": "get_events", "outcome": "success",
	})
	assert.Equal(t, 9.0, calls.GetCounter().GetValue())

	failed := findMetric(t, families, "mcpbench_call_latency_ms", map[string]string{
		"transport": "sse", "tool": "get_events", "outcome": "error",
	})
	assert.Equal(t, uint64(1), failed.GetHistogram().GetSampleCount())
	assert.Equal(t, 4.0, failed.GetHistogram().GetSampleSum())

	ratio := findMetric(t, families, "mcpbench_tool_success_ratio", map[string]string{
		"transport": "sse", "tool": "get_events",
	})
	assert.InDelta(t, 0.9, ratio.GetGauge().GetValue(), 1e-9)

	items := findMetric(t, families, "mcpbench_resource_items", map[string]string{
		"transport": "sse", "resource": "students",
	})
	assert.Equal(t, 4.0, items.GetGauge().GetValue())
}

func TestRecorderRecordReport(t *testing.T) {
	overall := 1.25
	rep := benchmark.BenchmarkReport{
		Type: benchmark.TransportStdIO,
		Discovery: &benchmark.Discovery{
			HandshakeLatencyMs: 15,
			ToolPayloadBytes:   1024,
		},
		Tools: map[string]benchmark.ToolBenchmark{
			"get_events":     {AvgLatency: 2, Successes: 10, TotalTime: 20},
			"get_cafeteria":  {AvgLatency: 4, Errors: 10, TotalTime: 40},
			"get_room_hours": {},
		},
		Resources: map[string]benchmark.ResourceBenchmark{
			"courses": {ListLatencyMs: 1, ReadAvgLatencyMs: 1.25},
		},
		OverallAvgLatencyTools:     3,
		OverallAvgLatencyResources: &overall,
	}

	rec := metrics.NewRecorder()
	rec.RecordReport(rep)
	rec.MarkRun(benchmark.TransportStdIO, 1700000000)

	assert.Equal(t, 3, testutil.CollectAndCount(rec.Registry(), "mcpbench_tool_avg_latency_ms"))
	assert.Zero(t, testutil.CollectAndCount(rec.Registry(), "mcpbench_calls_total"))

	expected := `
# HELP mcpbench_overall_avg_latency_ms Mean of the per-tool or per-resource average latencies.
# TYPE mcpbench_overall_avg_latency_ms gauge
mcpbench_overall_avg_latency_ms{kind="resources",transport="stdio"} 1.25
mcpbench_overall_avg_latency_ms{kind="tools",transport="stdio"} 3
# HELP mcpbench_tool_success_ratio Share of the last batch's calls that succeeded.
# TYPE mcpbench_tool_success_ratio gauge
mcpbench_tool_success_ratio{tool="get_cafeteria",transport="stdio"} 0
mcpbench_tool_success_ratio{tool="get_events",transport="stdio"} 1
mcpbench_tool_success_ratio{tool="get_room_hours",transport="stdio"} 0
# HELP mcpbench_last_run_timestamp_seconds Completion time of the last recorded run.
# TYPE mcpbench_last_run_timestamp_seconds gauge
mcpbench_last_run_timestamp_seconds{transport="stdio"} 1.7e+09
`
	err := testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected),
		"mcpbench_overall_avg_latency_ms", "mcpbench_tool_success_ratio", "mcpbench_last_run_timestamp_seconds")
	assert.NoError(t, err)
}

func TestRecorderAsRunnerObserver(t *testing.T) {
	rec := metrics.NewRecorder()
	var _ benchmark.Observer = rec.Observer(benchmark.TransportSSE)
}

func TestRecorderPush(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		method, path = r.Method, r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	rec := metrics.NewRecorder()
	rec.Observer(benchmark.TransportSSE).ObserveInvocation(benchmark.InvocationResult{Tool: "get_events", Succeeded: true})

	require.NoError(t, rec.Push(context.Background(), srv.URL, "mcpbench"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/mcpbench", path)
}

func TestRecorderPushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gateway down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := metrics.NewRecorder().Push(context.Background(), srv.URL, "mcpbench")
	assert.Error(t, err)
}

func findMetric(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m.GetLabel(), labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if want[p.GetName()] != p.GetValue() {
			return false
		}
	}
	return true
}
