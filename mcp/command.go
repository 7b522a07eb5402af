package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// CommandTransport launches an MCP server as a child process and talks to it over the
// process' stdin/stdout with the StdIO framing. Each StartSession launches a new process,
// and stopping the session terminates it.
type CommandTransport struct {
	Command string
	Args    []string
	// Env is appended to the inherited environment.
	Env []string
	// Dir is the working directory of the child, the current one when empty.
	Dir string

	logger      *slog.Logger
	stopTimeout time.Duration
}

// CommandTransportOption represents the options for the CommandTransport.
type CommandTransportOption func(*CommandTransport)

// WithCommandLogger sets the logger that receives the child's stderr lines.
func WithCommandLogger(logger *slog.Logger) CommandTransportOption {
	return func(t *CommandTransport) {
		t.logger = logger
	}
}

// WithCommandStopTimeout sets how long Stop waits for the child to exit after closing its
// stdin before killing it.
func WithCommandStopTimeout(timeout time.Duration) CommandTransportOption {
	return func(t *CommandTransport) {
		t.stopTimeout = timeout
	}
}

// NewCommandTransport creates a transport that runs command with args.
func NewCommandTransport(command string, args []string, options ...CommandTransportOption) *CommandTransport {
	t := &CommandTransport{
		Command:     command,
		Args:        args,
		logger:      slog.Default(),
		stopTimeout: 5 * time.Second,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// StartSession starts the child process. The process is not bound to ctx, it lives until
// the session is stopped.
func (t *CommandTransport) StartSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(t.Command, t.Args...)
	cmd.Dir = t.Dir
	if len(t.Env) > 0 {
		cmd.Env = append(os.Environ(), t.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", t.Command, err)
	}

	logger := t.logger.With(slog.String("command", t.Command), slog.Int("pid", cmd.Process.Pid))
	logger.Debug("started server process")

	go forwardStderr(stderr, logger)

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	stop := func() {
		stdin.Close()

		timer := time.NewTimer(t.stopTimeout)
		defer timer.Stop()

		select {
		case err := <-exited:
			logger.Debug("server process exited", "err", err)
		case <-timer.C:
			logger.Warn("server process did not exit, killing it")
			_ = cmd.Process.Kill()
			<-exited
		}
	}

	return newStdIOSession(stdout, stdin, logger, stop), nil
}

func forwardStderr(r io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug("server stderr", "line", scanner.Text())
	}
}
