// Package metrics exports benchmark measurements as Prometheus metrics.
//
// A Recorder is registered as a benchmark.Observer to follow a run live, or fed a saved
// report with RecordReport. Its registry is served over HTTP or pushed to a Pushgateway.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/MegaGrindStone/go-mcp-bench/benchmark"
)

// Namespace prefixes every metric name.
const Namespace = "mcpbench"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// LatencyBuckets are the call latency histogram buckets, in milliseconds.
var LatencyBuckets = []float64{1, 2, 5, 10, 20, 50, 100, 250, 500, 1000, 2500}

// Recorder holds the metrics of benchmark runs. Every metric carries the transport label.
type Recorder struct {
	registry *prometheus.Registry

	callLatency *prometheus.HistogramVec
	calls       *prometheus.CounterVec

	toolAvgLatency   *prometheus.GaugeVec
	toolTotalTime    *prometheus.GaugeVec
	toolSuccessRatio *prometheus.GaugeVec

	resourceListLatency *prometheus.GaugeVec
	resourceReadLatency *prometheus.GaugeVec
	resourceItems       *prometheus.GaugeVec
	resourceReadErrors  *prometheus.GaugeVec

	handshakeLatency *prometheus.GaugeVec
	toolPayloadBytes *prometheus.GaugeVec
	overallLatency   *prometheus.GaugeVec
	lastRun          *prometheus.GaugeVec
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "call_latency_ms",
			Help:      "Latency of individual tool calls.",
			Buckets:   LatencyBuckets,
		}, []string{"transport", "tool", "outcome"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "calls_total",
			Help:      "Tool calls issued by stress batches.",
		}, []string{"transport", "tool", "outcome"}),
		toolAvgLatency: gaugeVec("tool_avg_latency_ms",
			"Batch wall time divided by the number of calls.", "tool"),
		toolTotalTime: gaugeVec("tool_total_time_ms",
			"Wall time of the last stress batch.", "tool"),
		toolSuccessRatio: gaugeVec("tool_success_ratio",
			"Share of the last batch's calls that succeeded.", "tool"),
		resourceListLatency: gaugeVec("resource_list_latency_ms",
			"Latency of the resource type's list request.", "resource"),
		resourceReadLatency: gaugeVec("resource_read_avg_latency_ms",
			"Mean latency of the resource type's successful reads.", "resource"),
		resourceItems: gaugeVec("resource_items",
			"Resources listed for the resource type.", "resource"),
		resourceReadErrors: gaugeVec("resource_read_errors",
			"Failed reads of the resource type.", "resource"),
		handshakeLatency: gaugeVec("handshake_latency_ms",
			"Latency of the initialize handshake."),
		toolPayloadBytes: gaugeVec("tool_payload_bytes",
			"Size of the serialized tool definitions."),
		overallLatency: gaugeVec("overall_avg_latency_ms",
			"Mean of the per-tool or per-resource average latencies.", "kind"),
		lastRun: gaugeVec("last_run_timestamp_seconds",
			"Completion time of the last recorded run."),
	}

	r.registry.MustRegister(
		r.callLatency, r.calls,
		r.toolAvgLatency, r.toolTotalTime, r.toolSuccessRatio,
		r.resourceListLatency, r.resourceReadLatency, r.resourceItems, r.resourceReadErrors,
		r.handshakeLatency, r.toolPayloadBytes, r.overallLatency, r.lastRun,
	)
	return r
}

func gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      name,
		Help:      help,
	}, append([]string{"transport"}, labels...))
}

// Registry returns the registry holding the recorder's metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observer returns a benchmark.Observer recording a live run over transport.
func (r *Recorder) Observer(transport benchmark.Transport) benchmark.Observer {
	return runObserver{r: r, transport: string(transport)}
}

// RecordReport sets the gauges from a finished report. Histograms and counters only
// follow live runs.
func (r *Recorder) RecordReport(rep benchmark.BenchmarkReport) {
	transport := string(rep.Type)

	for name, tb := range rep.Tools {
		r.recordTool(transport, name, tb)
	}
	for name, rb := range rep.Resources {
		r.recordResource(transport, name, rb)
	}
	if d := rep.Discovery; d != nil {
		r.handshakeLatency.WithLabelValues(transport).Set(d.HandshakeLatencyMs)
		r.toolPayloadBytes.WithLabelValues(transport).Set(float64(d.ToolPayloadBytes))
	}

	r.overallLatency.WithLabelValues(transport, "tools").Set(rep.OverallAvgLatencyTools)
	if rep.OverallAvgLatencyResources != nil {
		r.overallLatency.WithLabelValues(transport, "resources").Set(*rep.OverallAvgLatencyResources)
	}
}

// MarkRun records the completion time of a run, in Unix seconds.
func (r *Recorder) MarkRun(transport benchmark.Transport, unixSeconds float64) {
	r.lastRun.WithLabelValues(string(transport)).Set(unixSeconds)
}

// Push sends the recorder's metrics to the Pushgateway at url under job, replacing the
// job's previous metrics.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	return push.New(url, job).Gatherer(r.registry).PushContext(ctx)
}

func (r *Recorder) recordTool(transport, tool string, tb benchmark.ToolBenchmark) {
	r.toolAvgLatency.WithLabelValues(transport, tool).Set(tb.AvgLatency)
	r.toolTotalTime.WithLabelValues(transport, tool).Set(tb.TotalTime)

	ratio := 0.0
	if n := tb.Successes + tb.Errors; n > 0 {
		ratio = float64(tb.Successes) / float64(n)
	}
	r.toolSuccessRatio.WithLabelValues(transport, tool).Set(ratio)
}

func (r *Recorder) recordResource(transport, name string, rb benchmark.ResourceBenchmark) {
	r.resourceListLatency.WithLabelValues(transport, name).Set(rb.ListLatencyMs)
	r.resourceReadLatency.WithLabelValues(transport, name).Set(rb.ReadAvgLatencyMs)
	r.resourceItems.WithLabelValues(transport, name).Set(float64(rb.ListItemCount))
	r.resourceReadErrors.WithLabelValues(transport, name).Set(float64(rb.ReadErrors))
}

type runObserver struct {
	r         *Recorder
	transport string
}

func (o runObserver) ObserveInvocation(res benchmark.InvocationResult) {
	outcome := OutcomeSuccess
	if !res.Succeeded {
		outcome = OutcomeError
	}
	o.r.callLatency.WithLabelValues(o.transport, res.Tool, outcome).Observe(res.LatencyMs)
	o.r.calls.WithLabelValues(o.transport, res.Tool, outcome).Inc()
}

func (o runObserver) ObserveTool(tool string, tb benchmark.ToolBenchmark) {
	o.r.recordTool(o.transport, tool, tb)
}

func (o runObserver) ObserveResource(name string, rb benchmark.ResourceBenchmark) {
	o.r.recordResource(o.transport, name, rb)
}
