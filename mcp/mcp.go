package mcp

import (
	"context"
	"iter"
)

// ClientTransport provides the client-side communication layer in the MCP protocol.
type ClientTransport interface {
	// StartSession initiates a new session with the server. It returns once the transport
	// is able to send messages, e.g. after the SSE endpoint event arrived or the child
	// process was started. Operations are canceled when the context is canceled.
	StartSession(ctx context.Context) (Session, error)
}

// Session represents a bidirectional communication channel between server and client.
type Session interface {
	// Send transmits a message to the other party.
	Send(ctx context.Context, msg JSONRPCMessage) error

	// Messages returns an iterator that yields messages received from the other party.
	// The implementations should exit the iteration if the session is closed.
	Messages() iter.Seq[JSONRPCMessage]

	// Stop stops the session and releases its resources.
	// The caller is guaranteed to call this method once.
	Stop()
}
