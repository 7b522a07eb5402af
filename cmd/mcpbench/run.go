package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/MegaGrindStone/go-mcp-bench/benchmark"
	"github.com/MegaGrindStone/go-mcp-bench/metrics"
	"github.com/MegaGrindStone/go-mcp-bench/report"
)

// Targets of a run without flags.
const (
	defaultURL     = "http://localhost:3000/sse"
	defaultCommand = "npx tsx src/index_stdio.ts"
)

type runOptions struct {
	iterations  int
	concurrency int
	output      string
	fixtures    string
	include     []string
	resources   bool
	readTimeout time.Duration
	redisURL    string
	redisTTL    time.Duration
	pushgateway string
	pushJob     string
}

func (o *runOptions) register(flags *pflag.FlagSet, transport benchmark.Transport) {
	flags.IntVar(&o.iterations, "iterations", benchmark.DefaultIterations,
		"Calls per tool in the stress test")
	flags.IntVar(&o.concurrency, "concurrency", benchmark.DefaultConcurrency,
		"Calls in flight per tool (0 = all at once)")
	flags.StringVarP(&o.output, "output", "o", report.DefaultPath(transport),
		"Path of the JSON results artifact")
	flags.StringVar(&o.fixtures, "fixtures", "",
		"JSON file mapping tool names to call arguments (default: built-in demo fixtures)")
	flags.StringSliceVar(&o.include, "include", nil,
		"Only stress tools matching these glob patterns")
	flags.BoolVar(&o.resources, "resources", transport == benchmark.TransportSSE,
		"Benchmark resource listing and reading")
	flags.DurationVar(&o.readTimeout, "timeout", 0,
		"Per-request response timeout (0 = client default)")
	flags.StringVar(&o.redisURL, "redis", "",
		"Also store the report in Redis, e.g. redis://localhost:6379/0")
	flags.DurationVar(&o.redisTTL, "redis-ttl", 0,
		"Expiry of the report stored in Redis (0 = never)")
	flags.StringVar(&o.pushgateway, "pushgateway", "",
		"Push the run's metrics to this Prometheus Pushgateway URL")
	flags.StringVar(&o.pushJob, "push-job", "mcpbench",
		"Pushgateway job name")
}

func (o *runOptions) config(transport benchmark.Transport) (benchmark.Config, error) {
	cfg := benchmark.DefaultConfig(transport)
	cfg.Iterations = o.iterations
	cfg.Concurrency = o.concurrency
	cfg.Include = o.include
	cfg.Resources = o.resources

	if o.fixtures != "" {
		fixtures, err := benchmark.LoadFixtures(o.fixtures)
		if err != nil {
			return benchmark.Config{}, err
		}
		cfg.Fixtures = fixtures
	}
	return cfg, cfg.Validate()
}

func newSSECmd(a *app) *cobra.Command {
	var (
		opts runOptions
		url  string
	)

	cmd := &cobra.Command{
		Use:   "sse",
		Short: "Benchmark a server over the SSE transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dialer := benchmark.SSEDialer{
				URL:         url,
				HTTPClient:  http.DefaultClient,
				ReadTimeout: opts.readTimeout,
				Logger:      a.logger,
			}
			return a.run(cmd.Context(), dialer, opts)
		},
	}

	opts.register(cmd.Flags(), benchmark.TransportSSE)
	cmd.Flags().StringVar(&url, "url", defaultURL, "SSE connect URL of the server")

	return cmd
}

func newStdIOCmd(a *app) *cobra.Command {
	var (
		opts    runOptions
		command string
		dir     string
		env     []string
	)

	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Benchmark a server launched as a child process over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fields := strings.Fields(command)
			if len(fields) == 0 {
				return errors.New("empty server command")
			}
			dialer := benchmark.StdIODialer{
				Command:     fields[0],
				Args:        fields[1:],
				Env:         env,
				Dir:         dir,
				ReadTimeout: opts.readTimeout,
				Logger:      a.logger,
			}
			return a.run(cmd.Context(), dialer, opts)
		},
	}

	opts.register(cmd.Flags(), benchmark.TransportStdIO)
	cmd.Flags().StringVar(&command, "command", defaultCommand, "Command launching the server")
	cmd.Flags().StringVar(&dir, "dir", "", "Working directory of the server process")
	cmd.Flags().StringSliceVar(&env, "env", nil, "Extra KEY=VALUE environment of the server process")

	return cmd
}

// run performs a benchmark and publishes its report. Failed calls are part of the report,
// only an aborted run or an unsaved report is an error.
func (a *app) run(ctx context.Context, dialer benchmark.Dialer, opts runOptions) error {
	transport := dialer.Transport()

	cfg, err := opts.config(transport)
	if err != nil {
		return err
	}

	rec := metrics.NewRecorder()
	runner, err := benchmark.NewRunner(dialer, cfg,
		benchmark.WithLogger(a.logger),
		benchmark.WithProgress(a.stdout),
		benchmark.WithObserver(rec.Observer(transport)),
	)
	if err != nil {
		return err
	}

	rep, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	sinks := report.MultiSink{report.FileSink{Path: opts.output}}
	if opts.redisURL != "" {
		pool := report.NewRedisPool(opts.redisURL)
		defer pool.Close()
		sinks = append(sinks, report.RedisSink{Pool: pool, TTL: opts.redisTTL})
	}
	if err := sinks.Save(ctx, rep); err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "\n\nBenchmark complete. Results saved to %s\n", opts.output)
	fmt.Fprintf(a.stdout, "\n\n=== OVERALL AVERAGE LATENCY (TOOLS): %.2f ms ===\n", rep.OverallAvgLatencyTools)
	if rep.OverallAvgLatencyResources != nil {
		fmt.Fprintf(a.stdout, "=== OVERALL AVERAGE LATENCY (RESOURCES): %.2f ms ===\n", *rep.OverallAvgLatencyResources)
	}

	if opts.pushgateway != "" {
		rec.RecordReport(rep)
		rec.MarkRun(transport, float64(time.Now().Unix()))
		if err := rec.Push(ctx, opts.pushgateway, opts.pushJob); err != nil {
			a.logger.Warn("failed to push metrics", "url", opts.pushgateway, "err", err)
		}
	}

	return nil
}
