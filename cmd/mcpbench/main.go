// Command mcpbench benchmarks an MCP server over SSE or stdio and reports the results.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and returns the process exit code. Fatal errors are
// printed with their stack trace.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "\nError during benchmark: %v\n\n%+v\n", err, err)
		return 1
	}
	return 0
}

type app struct {
	stdout   io.Writer
	stderr   io.Writer
	logLevel string
	logger   *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "mcpbench",
		Short: "Benchmark an MCP server",
		Long: `mcpbench measures the protocol overhead, tool call latency under concurrent
load and resource access latency of an MCP server, over the SSE or the stdio transport.
Results are saved as a JSON artifact per transport.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
				return fmt.Errorf("invalid log level %q: %w", a.logLevel, err)
			}
			a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn",
		"Log level: debug, info, warn or error")

	root.AddCommand(
		newSSECmd(a),
		newStdIOCmd(a),
		newShowCmd(a),
		newServeCmd(a),
	)

	return root
}
