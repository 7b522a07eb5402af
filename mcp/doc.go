// Package mcp implements the client side of the Model Context Protocol (MCP) used to drive
// and measure MCP servers. It follows the specification published at
// https://spec.modelcontextprotocol.io/specification/ and covers the tool and resource
// operations, over either an SSE stream or newline-delimited stdio.
//
// A Client is created with NewClient from a ClientTransport: NewSSEClient for HTTP servers,
// NewStdIO for an existing reader/writer pair or NewCommandTransport to launch the server
// as a child process. Connect performs the handshake, after which the client is safe for
// concurrent use:
//
//	cli := mcp.NewClient(mcp.Info{Name: "bench", Version: "1.0"},
//		mcp.NewSSEClient("http://localhost:3000/sse", nil))
//	if err := cli.Connect(ctx); err != nil {
//		return err
//	}
//	defer cli.Close()
//
//	res, err := cli.CallTool(ctx, mcp.CallToolParams{Name: "get_events"})
package mcp
