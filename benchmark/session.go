package benchmark

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/go-mcp-bench/mcp"
)

// Transport names the channel a run talks through. It's persisted as the report's type.
type Transport string

const (
	// TransportSSE is the persistent streaming (Server-Sent Events) transport.
	TransportSSE Transport = "sse"
	// TransportStdIO is the process-pipe transport.
	TransportStdIO Transport = "stdio"
)

// ClientInfo identifies the benchmark client in the handshake.
var ClientInfo = mcp.Info{Name: "mcp-bench", Version: "1.0.0"}

// Session is the view of an MCP session the benchmark needs. Implementations must allow
// concurrent CallTool invocations.
type Session interface {
	// Initialize performs the handshake. It's the only operation allowed before it.
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (mcp.CallToolResult, error)
	ListResources(ctx context.Context) ([]mcp.Resource, error)
	ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error)
	ReadResource(ctx context.Context, uri string) (mcp.ReadResourceResult, error)
	Close() error
}

// Dialer opens sessions against the benchmarked server. Dial sets the transport up
// without performing the handshake, so the handshake can be timed on its own.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
	Transport() Transport
	// Target describes the server, for messages.
	Target() string
}

// SSEDialer dials a server through the SSE transport.
type SSEDialer struct {
	URL        string
	HTTPClient *http.Client
	// ReadTimeout bounds each request, the client's default applies when zero.
	ReadTimeout time.Duration
	Logger      *slog.Logger
}

// Dial implements Dialer.
func (d SSEDialer) Dial(ctx context.Context) (Session, error) {
	logger := loggerOrDefault(d.Logger)
	transport := mcp.NewSSEClient(d.URL, d.HTTPClient, mcp.WithSSEClientLogger(logger))
	return dialClient(ctx, transport, logger, d.ReadTimeout)
}

// Transport implements Dialer.
func (d SSEDialer) Transport() Transport { return TransportSSE }

// Target implements Dialer.
func (d SSEDialer) Target() string { return d.URL }

// StdIODialer launches the server as a child process for every session.
type StdIODialer struct {
	Command string
	Args    []string
	// Env is appended to the inherited environment of the child.
	Env         []string
	Dir         string
	ReadTimeout time.Duration
	Logger      *slog.Logger
}

// Dial implements Dialer.
func (d StdIODialer) Dial(ctx context.Context) (Session, error) {
	logger := loggerOrDefault(d.Logger)
	transport := mcp.NewCommandTransport(d.Command, d.Args, mcp.WithCommandLogger(logger))
	transport.Env = d.Env
	transport.Dir = d.Dir
	return dialClient(ctx, transport, logger, d.ReadTimeout)
}

// Transport implements Dialer.
func (d StdIODialer) Transport() Transport { return TransportStdIO }

// Target implements Dialer.
func (d StdIODialer) Target() string {
	return strings.Join(append([]string{d.Command}, d.Args...), " ")
}

// TransportDialer dials through any mcp.ClientTransport, e.g. an in-process one.
type TransportDialer struct {
	ClientTransport func() mcp.ClientTransport
	Kind            Transport
	Name            string
	Logger          *slog.Logger
}

// Dial implements Dialer.
func (d TransportDialer) Dial(ctx context.Context) (Session, error) {
	return dialClient(ctx, d.ClientTransport(), loggerOrDefault(d.Logger), 0)
}

// Transport implements Dialer.
func (d TransportDialer) Transport() Transport { return d.Kind }

// Target implements Dialer.
func (d TransportDialer) Target() string { return d.Name }

type clientSession struct {
	client *mcp.Client
}

func dialClient(
	ctx context.Context,
	transport mcp.ClientTransport,
	logger *slog.Logger,
	readTimeout time.Duration,
) (Session, error) {
	opts := []mcp.ClientOption{mcp.WithClientLogger(logger)}
	if readTimeout > 0 {
		opts = append(opts, mcp.WithClientReadTimeout(readTimeout))
	}

	cli := mcp.NewClient(ClientInfo, transport, opts...)
	if err := cli.Start(ctx); err != nil {
		return nil, err
	}
	return clientSession{client: cli}, nil
}

func (s clientSession) Initialize(ctx context.Context) error {
	return s.client.Initialize(ctx)
}

func (s clientSession) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return s.client.ListAllTools(ctx)
}

func (s clientSession) CallTool(ctx context.Context, name string, args json.RawMessage) (mcp.CallToolResult, error) {
	return s.client.CallTool(ctx, mcp.CallToolParams{Name: name, Arguments: args})
}

func (s clientSession) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	return s.client.ListAllResources(ctx)
}

func (s clientSession) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	return s.client.ListAllResourceTemplates(ctx)
}

func (s clientSession) ReadResource(ctx context.Context, uri string) (mcp.ReadResourceResult, error) {
	return s.client.ReadResource(ctx, mcp.ReadResourceParams{URI: uri})
}

func (s clientSession) Close() error {
	return s.client.Close()
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
