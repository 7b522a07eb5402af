// Package mcptest provides an in-process MCP server for exercising clients without a real
// server. A Server is populated with tools, resources and resource templates, then served
// over SSE (SSEHandler, StartSSE) or newline-delimited stdio (ServeStdIO).
package mcptest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/MegaGrindStone/go-mcp-bench/mcp"
)

// ToolHandler answers a tools/call request. A returned error becomes a JSON-RPC internal
// error, a result with IsError set is sent as is.
type ToolHandler func(ctx context.Context, args json.RawMessage) (mcp.CallToolResult, error)

// ResourceHandler answers a resources/read request for a single URI.
type ResourceHandler func(ctx context.Context, uri string) (mcp.ReadResourceResult, error)

// Server is a scriptable MCP server. It's safe for concurrent use, tools and resources may
// be added while clients are connected.
type Server struct {
	info            mcp.Info
	logger          *slog.Logger
	protocolVersion string
	pageSize        int
	noResources     bool

	mu        sync.RWMutex
	tools     []mcp.Tool
	handlers  map[string]ToolHandler
	resources []mcp.Resource
	readers   map[string]ResourceHandler
	templates []mcp.ResourceTemplate
	failing   map[string]error
	calls     map[string]int

	sessionsMu sync.Mutex
	sessions   map[string]*sseSession

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProtocolVersion overrides the protocol version answered in the handshake.
func WithProtocolVersion(version string) Option {
	return func(s *Server) {
		s.protocolVersion = version
	}
}

// WithPageSize makes list methods paginate, returning at most size items per page.
func WithPageSize(size int) Option {
	return func(s *Server) {
		s.pageSize = size
	}
}

// WithoutResources hides the resources capability from the handshake.
func WithoutResources() Option {
	return func(s *Server) {
		s.noResources = true
	}
}

// New creates a server that identifies itself with info.
func New(info mcp.Info, options ...Option) *Server {
	s := &Server{
		info:            info,
		logger:          slog.Default(),
		protocolVersion: mcp.ProtocolVersion,
		handlers:        make(map[string]ToolHandler),
		readers:         make(map[string]ResourceHandler),
		failing:         make(map[string]error),
		calls:           make(map[string]int),
		sessions:        make(map[string]*sseSession),
		done:            make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// AddTool registers a tool. Tools are listed in registration order.
func (s *Server) AddTool(tool mcp.Tool, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = append(s.tools, tool)
	s.handlers[tool.Name] = handler
}

// AddResource registers a resource and the handler reading it.
func (s *Server) AddResource(resource mcp.Resource, handler ResourceHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resources = append(s.resources, resource)
	s.readers[resource.URI] = handler
}

// AddTemplate registers a resource template.
func (s *Server) AddTemplate(template mcp.ResourceTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.templates = append(s.templates, template)
}

// FailMethod makes every following request of method fail with err as an internal error.
func (s *Server) FailMethod(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failing[method] = err
}

// CallCount returns how many times the tool was called.
func (s *Server) CallCount(tool string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.calls[tool]
}

// Close terminates every open SSE stream. It's safe to call Close more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// handle processes one incoming message. It returns false for messages that don't need an
// answer: notifications and responses.
func (s *Server) handle(ctx context.Context, msg mcp.JSONRPCMessage) (mcp.JSONRPCMessage, bool) {
	if msg.Method == "" || msg.ID == "" {
		return mcp.JSONRPCMessage{}, false
	}

	res := mcp.JSONRPCMessage{
		JSONRPC: mcp.JSONRPCVersion,
		ID:      msg.ID,
	}

	result, err := s.dispatch(ctx, msg.Method, msg.Params)
	if err != nil {
		var rpcErr *mcp.JSONRPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &mcp.JSONRPCError{
				Code:    mcp.JSONRPCInternalErrorCode,
				Message: err.Error(),
			}
		}
		res.Error = rpcErr
		return res, true
	}

	bs, err := json.Marshal(result)
	if err != nil {
		res.Error = &mcp.JSONRPCError{
			Code:    mcp.JSONRPCInternalErrorCode,
			Message: fmt.Sprintf("failed to marshal result: %v", err),
		}
		return res, true
	}
	res.Result = bs
	return res, true
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	s.mu.RLock()
	failErr := s.failing[method]
	s.mu.RUnlock()
	if failErr != nil {
		return nil, failErr
	}

	switch method {
	case mcp.MethodInitialize:
		return s.initialize(), nil
	case mcp.MethodPing:
		return struct{}{}, nil
	case mcp.MethodToolsList:
		var p mcp.ListToolsParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		page, next, err := paginate(s.tools, p.Cursor, s.pageSize)
		if err != nil {
			return nil, err
		}
		return mcp.ListToolsResult{Tools: page, NextCursor: next}, nil
	case mcp.MethodToolsCall:
		var p mcp.CallToolParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return s.callTool(ctx, p)
	case mcp.MethodResourcesList:
		if s.noResources {
			return nil, methodNotFound(method)
		}
		var p mcp.ListResourcesParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		page, next, err := paginate(s.resources, p.Cursor, s.pageSize)
		if err != nil {
			return nil, err
		}
		return mcp.ListResourcesResult{Resources: page, NextCursor: next}, nil
	case mcp.MethodResourcesTemplatesList:
		if s.noResources {
			return nil, methodNotFound(method)
		}
		var p mcp.ListResourceTemplatesParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		page, next, err := paginate(s.templates, p.Cursor, s.pageSize)
		if err != nil {
			return nil, err
		}
		return mcp.ListResourceTemplatesResult{Templates: page, NextCursor: next}, nil
	case mcp.MethodResourcesRead:
		if s.noResources {
			return nil, methodNotFound(method)
		}
		var p mcp.ReadResourceParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		s.mu.RLock()
		reader, ok := s.readers[p.URI]
		s.mu.RUnlock()
		if !ok {
			return nil, &mcp.JSONRPCError{
				Code:    mcp.JSONRPCInvalidParamsCode,
				Message: fmt.Sprintf("resource %s not found", p.URI),
			}
		}
		return reader(ctx, p.URI)
	default:
		return nil, methodNotFound(method)
	}
}

func (s *Server) initialize() mcp.InitializeResult {
	caps := mcp.ServerCapabilities{
		Tools: &mcp.ToolsCapability{},
	}
	if !s.noResources {
		caps.Resources = &mcp.ResourcesCapability{}
	}
	return mcp.InitializeResult{
		ProtocolVersion: s.protocolVersion,
		Capabilities:    caps,
		ServerInfo:      s.info,
	}
}

func (s *Server) callTool(ctx context.Context, params mcp.CallToolParams) (mcp.CallToolResult, error) {
	s.mu.Lock()
	handler, ok := s.handlers[params.Name]
	if ok {
		s.calls[params.Name]++
	}
	s.mu.Unlock()

	if !ok {
		return mcp.CallToolResult{}, &mcp.JSONRPCError{
			Code:    mcp.JSONRPCInvalidParamsCode,
			Message: fmt.Sprintf("tool %s not found", params.Name),
		}
	}
	return handler(ctx, params.Arguments)
}

// paginate returns the page starting at cursor, which is the index of its first item.
func paginate[T any](items []T, cursor string, size int) ([]T, string, error) {
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(items) {
			return nil, "", &mcp.JSONRPCError{
				Code:    mcp.JSONRPCInvalidParamsCode,
				Message: fmt.Sprintf("invalid cursor %q", cursor),
			}
		}
		start = n
	}

	end := len(items)
	if size > 0 && start+size < end {
		end = start + size
	}

	page := make([]T, end-start)
	copy(page, items[start:end])

	next := ""
	if end < len(items) {
		next = strconv.Itoa(end)
	}
	return page, next, nil
}

func unmarshalParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &mcp.JSONRPCError{
			Code:    mcp.JSONRPCInvalidParamsCode,
			Message: fmt.Sprintf("invalid params: %v", err),
		}
	}
	return nil
}

func methodNotFound(method string) error {
	return &mcp.JSONRPCError{
		Code:    mcp.JSONRPCMethodNotFoundCode,
		Message: fmt.Sprintf("method %s not found", method),
	}
}

// TextResult builds a successful tool result holding a single text item.
func TextResult(text string) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: mcp.Contents{mcp.TextContent{Text: text}},
	}
}

// ErrorResult builds a tool result flagged with isError.
func ErrorResult(text string) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: mcp.Contents{mcp.TextContent{Text: text}},
		IsError: true,
	}
}

// TextResource builds a read result holding a single text resource.
func TextResource(uri, text string) mcp.ReadResourceResult {
	return mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{{URI: uri, MimeType: "text/plain", Text: text}},
	}
}
