package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// Defaults of a run.
const (
	DefaultIterations  = 500
	DefaultConcurrency = 5
)

// Config configures a run.
type Config struct {
	// Iterations is the number of calls per tool.
	Iterations int
	// Concurrency bounds the calls in flight per tool, 0 means unbounded.
	Concurrency int
	Fixtures    Fixtures
	// Include restricts the stress phase to tools matching one of these doublestar
	// patterns. Empty means every tool with a fixture.
	Include []string
	// Resources enables the resource phase.
	Resources bool
}

// DefaultConfig returns the configuration of a run over transport. The resource phase
// only runs on the streaming transport.
func DefaultConfig(transport Transport) Config {
	return Config{
		Iterations:  DefaultIterations,
		Concurrency: DefaultConcurrency,
		Fixtures:    DefaultFixtures(),
		Resources:   transport == TransportSSE,
	}
}

// Validate rejects configurations a run can't honor.
func (c Config) Validate() error {
	if c.Iterations < 0 {
		return errors.Errorf("iterations must not be negative, got %d", c.Iterations)
	}
	if c.Concurrency < 0 {
		return errors.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}
	for _, pattern := range c.Include {
		if !doublestar.ValidatePattern(pattern) {
			return errors.Errorf("invalid include pattern %q", pattern)
		}
	}
	return nil
}

// Observer is notified of measurements as a run progresses. Calls come from the runner's
// goroutine, one at a time.
type Observer interface {
	ObserveInvocation(res InvocationResult)
	ObserveTool(tool string, tb ToolBenchmark)
	ObserveResource(name string, rb ResourceBenchmark)
}

// Runner executes the benchmark phases against the server reached by its Dialer.
type Runner struct {
	dialer    Dialer
	cfg       Config
	logger    *slog.Logger
	progress  io.Writer
	observers []Observer
	now       func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithProgress sets where the human readable progress is written, io.Discard by default.
func WithProgress(w io.Writer) RunnerOption {
	return func(r *Runner) {
		r.progress = w
	}
}

// WithObserver adds an observer of the measurements.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		r.observers = append(r.observers, o)
	}
}

// WithClock overrides the clock used for the report timestamp.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a runner, validating cfg.
func NewRunner(dialer Dialer, cfg Config, options ...RunnerOption) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		dialer:   dialer,
		cfg:      cfg,
		logger:   slog.Default(),
		progress: io.Discard,
		now:      time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// Run performs the discovery, stress and, when enabled, resource phases and returns the
// report. Individual call failures are part of the report. Errors are fatal: the session
// could not be established, the handshake or tool discovery failed, or ctx ended.
func (r *Runner) Run(ctx context.Context) (BenchmarkReport, error) {
	transport := r.dialer.Transport()
	fmt.Fprintf(r.progress, "Starting MCP Benchmark on %s (%s)...\n", r.dialer.Target(), transport)

	rep := BenchmarkReport{
		Type:        transport,
		Iterations:  r.cfg.Iterations,
		Concurrency: r.cfg.Concurrency,
		Tools:       make(map[string]ToolBenchmark),
		Resources:   make(map[string]ResourceBenchmark),
	}

	disc, err := r.discover(ctx)
	if err != nil {
		return BenchmarkReport{}, err
	}
	rep.Discovery = &disc

	if err := r.stress(ctx, rep.Tools); err != nil {
		return BenchmarkReport{}, err
	}

	if r.cfg.Resources {
		if err := r.resources(ctx, rep.Resources); err != nil {
			return BenchmarkReport{}, err
		}
		overall := OverallResourceLatency(rep.Resources)
		rep.OverallAvgLatencyResources = &overall
	}

	rep.OverallAvgLatencyTools = OverallToolLatency(rep.Tools)
	rep.LastRunUTC = FormatTimestamp(r.now())

	return rep, nil
}

// withSession dials a session dedicated to one phase and closes it when fn returns. The
// handshake latency is passed to fn.
func (r *Runner) withSession(ctx context.Context, fn func(sess Session, handshakeMs float64) error) error {
	target := r.dialer.Target()

	sess, err := r.dialer.Dial(ctx)
	if err != nil {
		return newConnectionError(target, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			r.logger.Warn("failed to close session", "err", err)
		}
	}()

	_, handshakeMs, err := TimeOperation(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, sess.Initialize(ctx)
	})
	if err != nil {
		return newConnectionError(target, errors.Wrap(err, "handshake failed"))
	}

	return fn(sess, handshakeMs)
}

func (r *Runner) discover(ctx context.Context) (Discovery, error) {
	fmt.Fprintf(r.progress, "\n--- 1. PROTOCOL OVERHEAD ANALYSIS ---\n")

	var disc Discovery
	err := r.withSession(ctx, func(sess Session, handshakeMs float64) error {
		tools, err := sess.ListTools(ctx)
		if err != nil {
			return newConnectionError(r.dialer.Target(), errors.Wrap(err, "tool discovery failed"))
		}

		payload, err := json.Marshal(tools)
		if err != nil {
			return NewSerializationError("tool definitions", err)
		}

		disc = Discovery{
			HandshakeLatencyMs: handshakeMs,
			ToolPayloadBytes:   len(payload),
			EstimatedTokens:    EstimateTokens(len(payload)),
			ToolCount:          len(tools),
		}
		return nil
	})
	if err != nil {
		return Discovery{}, err
	}

	fmt.Fprintf(r.progress, "Handshake Latency: %.2f ms\n", disc.HandshakeLatencyMs)
	fmt.Fprintf(r.progress, "Tool Definitions Payload: %d bytes\n", disc.ToolPayloadBytes)
	fmt.Fprintf(r.progress, "Estimated Token Cost: ~%d tokens\n", disc.EstimatedTokens)
	fmt.Fprintf(r.progress, "Tools Found: %d\n", disc.ToolCount)

	return disc, nil
}

func (r *Runner) stress(ctx context.Context, out map[string]ToolBenchmark) error {
	fmt.Fprintf(r.progress, "\n--- 2. LATENCY STRESS TEST (N=%d, Concurrency=%d) ---\n",
		r.cfg.Iterations, r.cfg.Concurrency)

	return r.withSession(ctx, func(sess Session, _ float64) error {
		tools, err := sess.ListTools(ctx)
		if err != nil {
			return newConnectionError(r.dialer.Target(), errors.Wrap(err, "tool discovery failed"))
		}

		planned, skipped, err := PlanTools(tools, r.cfg.Fixtures, r.cfg.Include)
		if err != nil {
			return err
		}
		for _, s := range skipped {
			r.logger.Warn("skipping tool", "tool", s.Name, "reason", s.Reason)
			fmt.Fprintf(r.progress, "\nSkipping tool '%s': %s.\n", s.Name, s.Reason)
		}

		for _, tool := range planned {
			if err := ctx.Err(); err != nil {
				return errors.Wrap(err, "stress phase interrupted")
			}

			fmt.Fprintf(r.progress, "\nBenchmarking Tool: '%s'...\n", tool.Name)

			res, err := RunStress(ctx, sess, tool.Name, tool.Args, r.cfg.Iterations, r.cfg.Concurrency, r.observeInvocation)
			if err != nil {
				return err
			}
			tb := AggregateTool(res)
			out[tool.Name] = tb

			for _, o := range r.observers {
				o.ObserveTool(tool.Name, tb)
			}
			r.logger.Debug("tool benchmarked", "tool", tool.Name,
				"successes", tb.Successes, "errors", tb.Errors, "total_ms", tb.TotalTime)
			fmt.Fprintf(r.progress, "  %d succeeded, %d failed, avg %.2f ms, total %.2f ms\n",
				tb.Successes, tb.Errors, tb.AvgLatency, tb.TotalTime)
		}
		return nil
	})
}

func (r *Runner) resources(ctx context.Context, out map[string]ResourceBenchmark) error {
	fmt.Fprintf(r.progress, "\n\n--- 3. RESOURCE BENCHMARKING ---\n")

	return r.withSession(ctx, func(sess Session, _ float64) error {
		results, err := BenchmarkResources(ctx, sess, r.logger, r.progress)
		if err != nil {
			// Resource failures never abort the run.
			r.logger.Error("resource benchmarking failed", "err", err)
			fmt.Fprintf(r.progress, "Resource benchmarking failed: %v\n", err)
			return nil
		}

		for name, rb := range results {
			out[name] = rb
			for _, o := range r.observers {
				o.ObserveResource(name, rb)
			}
		}
		return nil
	})
}

func (r *Runner) observeInvocation(res InvocationResult) {
	for _, o := range r.observers {
		o.ObserveInvocation(res)
	}
}
