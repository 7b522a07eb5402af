package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client implements a Model Context Protocol (MCP) client for the tool and resource side of
// the protocol. It manages the session lifecycle, correlates responses with requests and
// answers the server's pings.
//
// A Client must be created using NewClient() and requires Connect() (or Start() followed by
// Initialize()) to be called before any operations can be performed. Operations are safe
// for concurrent use, which is what the stress runner relies on. The client should be
// closed using Close() when it's no longer needed.
type Client struct {
	info      Info
	transport ClientTransport
	logger    *slog.Logger

	writeTimeout time.Duration
	readTimeout  time.Duration

	session Session
	// pending is a map of requestID to chan JSONRPCMessage, used for mapping the result to the original request
	pending sync.Map

	mu                 sync.RWMutex
	initialized        bool
	serverInfo         Info
	serverCapabilities ServerCapabilities
	instructions       string

	listenClosed chan struct{}
	closeOnce    sync.Once
}

var (
	// ErrSessionClosed is returned for requests whose session ended before the response arrived.
	ErrSessionClosed = errors.New("session closed")
	// ErrRequestTimeout is returned when no response arrived within the read timeout.
	ErrRequestTimeout = errors.New("request timeout")

	errNotInitialized = errors.New("client not initialized")
	errNotStarted     = errors.New("client not started")

	defaultClientWriteTimeout = 30 * time.Second
	defaultClientReadTimeout  = 30 * time.Second
)

// WithClientWriteTimeout sets the write timeout for the client.
func WithClientWriteTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.writeTimeout = timeout
	}
}

// WithClientReadTimeout sets the maximum time a request waits for its response.
func WithClientReadTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.readTimeout = timeout
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new MCP client identified by info that talks through transport.
// The client will not be connected until Connect() is called.
func NewClient(info Info, transport ClientTransport, options ...ClientOption) *Client {
	c := &Client{
		info:         info,
		transport:    transport,
		logger:       slog.Default(),
		listenClosed: make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.writeTimeout == 0 {
		c.writeTimeout = defaultClientWriteTimeout
	}
	if c.readTimeout == 0 {
		c.readTimeout = defaultClientReadTimeout
	}

	return c
}

// Connect establishes a session with the MCP server and performs the protocol handshake.
// It's a shorthand for Start followed by Initialize.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	return c.Initialize(ctx)
}

// Start sets up the transport session and begins dispatching incoming messages, without
// performing the handshake. It must be called once.
func (c *Client) Start(ctx context.Context) error {
	sess, err := c.transport.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	c.session = sess

	go c.listenMessages()

	return nil
}

// Initialize performs the capability negotiation with the server. The server's protocol
// version must be one the client supports.
func (c *Client) Initialize(ctx context.Context) error {
	if c.session == nil {
		return errNotStarted
	}

	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      c.info,
	}
	res, err := c.sendRequest(ctx, MethodInitialize, params)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(res, &result); err != nil {
		return fmt.Errorf("failed to unmarshal initialize result: %w", err)
	}

	if !slices.Contains(supportedProtocolVersions, result.ProtocolVersion) {
		return fmt.Errorf("protocol version mismatch: %s is not supported", result.ProtocolVersion)
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.serverCapabilities = result.Capabilities
	c.instructions = result.Instructions
	c.initialized = true
	c.mu.Unlock()

	return c.sendNotification(ctx, MethodNotificationsInitialized, nil)
}

// ListTools retrieves one page of the tools offered by the server.
func (c *Client) ListTools(ctx context.Context, params ListToolsParams) (ListToolsResult, error) {
	if err := c.require(func(caps ServerCapabilities) bool { return caps.Tools != nil }, "tools"); err != nil {
		return ListToolsResult{}, err
	}

	var result ListToolsResult
	if err := c.call(ctx, MethodToolsList, params, &result); err != nil {
		return ListToolsResult{}, err
	}
	return result, nil
}

// ListAllTools retrieves every tool, following the pagination cursors.
func (c *Client) ListAllTools(ctx context.Context) ([]Tool, error) {
	var (
		tools  []Tool
		cursor string
	)
	for {
		res, err := c.ListTools(ctx, ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		cursor = res.NextCursor
	}
}

// CallTool executes a specific tool and returns its result.
//
// A result flagged with isError is returned together with a *ToolError, so callers that
// only care about success can treat it like any other failure. If the provided context is
// cancelled, a cancellation notification is sent to the server.
func (c *Client) CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error) {
	if err := c.require(func(caps ServerCapabilities) bool { return caps.Tools != nil }, "tools"); err != nil {
		return CallToolResult{}, err
	}

	var result CallToolResult
	if err := c.call(ctx, MethodToolsCall, params, &result); err != nil {
		return CallToolResult{}, err
	}
	if result.IsError {
		return result, &ToolError{Tool: params.Name, Message: result.Content.Text()}
	}
	return result, nil
}

// ListResources retrieves one page of the resources offered by the server.
func (c *Client) ListResources(ctx context.Context, params ListResourcesParams) (ListResourcesResult, error) {
	if err := c.require(func(caps ServerCapabilities) bool { return caps.Resources != nil }, "resources"); err != nil {
		return ListResourcesResult{}, err
	}

	var result ListResourcesResult
	if err := c.call(ctx, MethodResourcesList, params, &result); err != nil {
		return ListResourcesResult{}, err
	}
	return result, nil
}

// ListAllResources retrieves every resource, following the pagination cursors.
func (c *Client) ListAllResources(ctx context.Context) ([]Resource, error) {
	var (
		resources []Resource
		cursor    string
	)
	for {
		res, err := c.ListResources(ctx, ListResourcesParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		resources = append(resources, res.Resources...)
		if res.NextCursor == "" {
			return resources, nil
		}
		cursor = res.NextCursor
	}
}

// ListResourceTemplates retrieves one page of the resource templates offered by the server.
func (c *Client) ListResourceTemplates(
	ctx context.Context,
	params ListResourceTemplatesParams,
) (ListResourceTemplatesResult, error) {
	if err := c.require(func(caps ServerCapabilities) bool { return caps.Resources != nil }, "resources"); err != nil {
		return ListResourceTemplatesResult{}, err
	}

	var result ListResourceTemplatesResult
	if err := c.call(ctx, MethodResourcesTemplatesList, params, &result); err != nil {
		return ListResourceTemplatesResult{}, err
	}
	return result, nil
}

// ListAllResourceTemplates retrieves every resource template, following the pagination cursors.
func (c *Client) ListAllResourceTemplates(ctx context.Context) ([]ResourceTemplate, error) {
	var (
		templates []ResourceTemplate
		cursor    string
	)
	for {
		res, err := c.ListResourceTemplates(ctx, ListResourceTemplatesParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		templates = append(templates, res.Templates...)
		if res.NextCursor == "" {
			return templates, nil
		}
		cursor = res.NextCursor
	}
}

// ReadResource retrieves the contents of a specific resource.
func (c *Client) ReadResource(ctx context.Context, params ReadResourceParams) (ReadResourceResult, error) {
	if err := c.require(func(caps ServerCapabilities) bool { return caps.Resources != nil }, "resources"); err != nil {
		return ReadResourceResult{}, err
	}

	var result ReadResourceResult
	if err := c.call(ctx, MethodResourcesRead, params, &result); err != nil {
		return ReadResourceResult{}, err
	}
	return result, nil
}

// Ping checks that the server is still responsive.
func (c *Client) Ping(ctx context.Context) error {
	if c.session == nil {
		return errNotStarted
	}
	_, err := c.sendRequest(ctx, MethodPing, nil)
	return err
}

// ServerInfo returns the server's info reported during the handshake.
func (c *Client) ServerInfo() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Instructions returns the usage instructions the server sent during the handshake, if any.
func (c *Client) Instructions() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instructions
}

// ToolServerSupported returns true if the server supports tools.
func (c *Client) ToolServerSupported() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCapabilities.Tools != nil
}

// ResourceServerSupported returns true if the server supports resources.
func (c *Client) ResourceServerSupported() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCapabilities.Resources != nil
}

// Close stops the session. Pending requests fail with ErrSessionClosed. It's safe to call
// Close more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.session == nil {
			close(c.listenClosed)
			return
		}
		c.session.Stop()
		<-c.listenClosed
	})
	return nil
}

func (c *Client) require(supported func(ServerCapabilities) bool, name string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.initialized {
		return errNotInitialized
	}
	if !supported(c.serverCapabilities) {
		return fmt.Errorf("%s not supported by server", name)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	res, err := c.sendRequest(ctx, method, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(res, result); err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return nil
}

func (c *Client) listenMessages() {
	defer close(c.listenClosed)

	for msg := range c.session.Messages() {
		if msg.JSONRPC != JSONRPCVersion {
			c.logger.Error("invalid jsonrpc version", "version", msg.JSONRPC)
			continue
		}

		switch {
		case msg.Method == MethodPing && msg.ID != "":
			go c.sendResult(msg.ID, struct{}{})
		case msg.Method != "" && msg.ID != "":
			// The client advertises no capabilities, so server requests are rejected.
			go c.sendError(msg.ID, JSONRPCError{
				Code:    JSONRPCMethodNotFoundCode,
				Message: "Method not found",
			})
		case msg.Method != "":
			c.logger.Debug("ignoring notification", "method", msg.Method)
		default:
			v, ok := c.pending.LoadAndDelete(string(msg.ID))
			if !ok {
				c.logger.Warn("received result for unknown request", "id", msg.ID)
				continue
			}
			v.(chan JSONRPCMessage) <- msg
		}
	}
}

func (c *Client) sendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	msgID := uuid.New().String()

	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      MustString(msgID),
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = paramsBs
	}

	// The channel is buffered so the dispatcher never blocks on a request that gave up.
	results := make(chan JSONRPCMessage, 1)
	c.pending.Store(msgID, results)
	defer c.pending.Delete(msgID)

	sCtx, sCancel := context.WithTimeout(ctx, c.writeTimeout)
	defer sCancel()

	if err := c.session.Send(sCtx, msg); err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", method, err)
	}

	timer := time.NewTimer(c.readTimeout)
	defer timer.Stop()

	var resMsg JSONRPCMessage

	select {
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", method, ErrRequestTimeout)
	case <-c.listenClosed:
		return nil, fmt.Errorf("%s: %w", method, ErrSessionClosed)
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.Canceled) {
			nErr := c.sendNotification(context.Background(), MethodNotificationsCancelled, notificationsCancelledParams{
				RequestID: msgID,
				Reason:    "User requested cancellation",
			})
			if nErr != nil {
				err = fmt.Errorf("%w: failed to send notification: %w", err, nErr)
			}
		}
		return nil, err
	case resMsg = <-results:
	}

	if resMsg.Error != nil {
		return nil, fmt.Errorf("result error: %w", resMsg.Error)
	}

	return resMsg.Result, nil
}

func (c *Client) sendNotification(ctx context.Context, method string, params any) error {
	notif := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		notif.Params = paramsBs
	}

	sCtx, sCancel := context.WithTimeout(ctx, c.writeTimeout)
	defer sCancel()

	if err := c.session.Send(sCtx, notif); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	return nil
}

func (c *Client) sendResult(id MustString, result any) {
	resBs, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("failed to marshal result", "err", err)
		return
	}

	sCtx, sCancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer sCancel()

	if err := c.session.Send(sCtx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resBs,
	}); err != nil {
		c.logger.Error("failed to send result", "err", err)
	}
}

func (c *Client) sendError(id MustString, rpcErr JSONRPCError) {
	sCtx, sCancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer sCancel()

	if err := c.session.Send(sCtx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &rpcErr,
	}); err != nil {
		c.logger.Error("failed to send error", "err", err)
	}
}
