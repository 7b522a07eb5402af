package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MegaGrindStone/go-mcp-bench/benchmark"
	"github.com/MegaGrindStone/go-mcp-bench/report"
)

func newShowCmd(a *app) *cobra.Command {
	var (
		dir      string
		file     string
		redisURL string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "show [sse|stdio]",
		Short: "Print the results of the last run",
		Long: `Print the saved results of the last SSE (default) or stdio run as markdown
tables. The artifact is read from the results directory, or from Redis with --redis.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(benchmark.TransportSSE), string(benchmark.TransportStdIO)},
		RunE: func(cmd *cobra.Command, args []string) error {
			transport := benchmark.TransportSSE
			if len(args) == 1 {
				t, err := parseTransport(args[0])
				if err != nil {
					return err
				}
				transport = t
			}

			var (
				rep benchmark.BenchmarkReport
				err error
			)
			switch {
			case redisURL != "":
				pool := report.NewRedisPool(redisURL)
				defer pool.Close()
				rep, err = report.RedisSink{Pool: pool}.Load(cmd.Context(), transport)
			case file != "":
				rep, err = report.ReadFile(file)
			default:
				rep, err = report.ReadFile(filepath.Join(dir, report.DefaultPath(transport)))
			}
			if err != nil {
				return err
			}

			if asJSON {
				return report.Encode(a.stdout, rep)
			}
			return report.Summary(a.stdout, rep)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dir, "dir", ".", "Directory holding the results artifacts")
	flags.StringVarP(&file, "file", "f", "", "Read this artifact instead")
	flags.StringVar(&redisURL, "redis", "", "Read the report stored in Redis")
	flags.BoolVar(&asJSON, "json", false, "Print the raw JSON report")

	return cmd
}

func parseTransport(s string) (benchmark.Transport, error) {
	switch t := benchmark.Transport(s); t {
	case benchmark.TransportSSE, benchmark.TransportStdIO:
		return t, nil
	default:
		return "", fmt.Errorf("unknown transport %q, want %s or %s", s, benchmark.TransportSSE, benchmark.TransportStdIO)
	}
}
