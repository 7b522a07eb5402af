package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/tmaxmax/go-sse"
)

// SSEClient implements a Server-Sent Events (SSE) client transport. Server-to-client messages
// are streamed through SSE, client-to-server messages are sent with HTTP POST requests to the
// endpoint announced by the server. Instances should be created using NewSSEClient.
type SSEClient struct {
	httpClient *http.Client
	connectURL string
	logger     *slog.Logger

	maxPayloadSize int
}

// SSEClientOption represents the options for the SSEClient.
type SSEClientOption func(*SSEClient)

type sseClientSession struct {
	httpClient *http.Client
	logger     *slog.Logger
	messageURL string

	messages chan JSONRPCMessage
	ctx      context.Context
	cancel   context.CancelFunc
	closed   chan struct{}
	stopOnce sync.Once
}

// NewSSEClient creates an SSE client that connects to the specified connectURL. The optional
// httpClient parameter allows custom HTTP client configuration - if nil, the default HTTP
// client is used. The client must call StartSession to begin communication.
func NewSSEClient(connectURL string, httpClient *http.Client, options ...SSEClientOption) *SSEClient {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	s := &SSEClient{
		connectURL: connectURL,
		httpClient: cli,
		logger:     slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// WithSSEClientMaxPayloadSize sets the maximum size of the payload that can be received
// from the server. If the payload size exceeds this limit, the error will be logged and
// the client will be disconnected.
func WithSSEClientMaxPayloadSize(size int) SSEClientOption {
	return func(s *SSEClient) {
		s.maxPayloadSize = size
	}
}

// WithSSEClientLogger sets the logger for the SSE client and its sessions.
func WithSSEClientLogger(logger *slog.Logger) SSEClientOption {
	return func(s *SSEClient) {
		s.logger = logger
	}
}

// StartSession opens the SSE stream and waits for the server to announce its message
// endpoint. The stream outlives ctx: ctx only bounds the connection setup, the session is
// closed by Stop.
func (s *SSEClient) StartSession(ctx context.Context) (Session, error) {
	base, err := url.Parse(s.connectURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connect URL: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(sessCtx, http.MethodGet, s.connectURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to SSE server: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	sess := &sseClientSession{
		httpClient: s.httpClient,
		logger:     s.logger,
		messages:   make(chan JSONRPCMessage, 16),
		ctx:        sessCtx,
		cancel:     cancel,
		closed:     make(chan struct{}),
	}

	ready := make(chan string, 1)
	go sess.listenSSEMessages(resp.Body, base, s.maxPayloadSize, ready)

	select {
	case <-ctx.Done():
		sess.Stop()
		return nil, fmt.Errorf("failed to wait for endpoint: %w", ctx.Err())
	case endpoint, ok := <-ready:
		if !ok {
			sess.Stop()
			return nil, errors.New("stream closed before endpoint event")
		}
		sess.messageURL = endpoint
	}

	return sess, nil
}

// Send transmits a JSON-encoded message to the server through an HTTP POST request. The
// provided context allows request cancellation. Any 2xx status is accepted, as servers
// commonly answer 202 Accepted and deliver the actual response over the stream.
func (s *sseClientSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.messageURL, bytes.NewReader(msgBs))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

func (s *sseClientSession) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		for {
			select {
			case <-s.ctx.Done():
				return
			case msg, ok := <-s.messages:
				if !ok {
					return
				}
				if !yield(msg) {
					return
				}
			}
		}
	}
}

func (s *sseClientSession) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.closed
	})
}

func (s *sseClientSession) listenSSEMessages(body io.ReadCloser, base *url.URL, maxPayloadSize int, ready chan<- string) {
	defer func() {
		body.Close()
		close(s.messages)
		close(s.closed)
	}()

	var config *sse.ReadConfig
	if maxPayloadSize > 0 {
		config = &sse.ReadConfig{
			MaxEventSize: maxPayloadSize,
		}
	}

	endpointSet := false
	defer func() {
		if !endpointSet {
			close(ready)
		}
	}()

	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if !errors.Is(err, context.Canceled) && s.ctx.Err() == nil {
				s.logger.Error("failed to read SSE message", "err", err)
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			// The endpoint is usually relative to the connect URL, e.g. "/messages?sessionId=...".
			u, err := url.Parse(ev.Data)
			if err != nil {
				s.logger.Error("failed to parse endpoint URL", "err", err)
				return
			}
			if u.String() == "" {
				s.logger.Error("empty endpoint URL")
				return
			}
			if !endpointSet {
				endpointSet = true
				ready <- base.ResolveReference(u).String()
			}
		case "message", "":
			// Messages received before the endpoint can't be answered, drop them.
			if !endpointSet {
				s.logger.Error("received message before endpoint URL")
				continue
			}

			var msg JSONRPCMessage
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				s.logger.Error("failed to unmarshal message", "err", err)
				continue
			}

			select {
			case s.messages <- msg:
			case <-s.ctx.Done():
				return
			}
		default:
			s.logger.Warn("unhandled event type", "type", ev.Type)
		}
	}
}
