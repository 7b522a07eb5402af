package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/go-mcp-bench/mcp"
	"github.com/MegaGrindStone/go-mcp-bench/mcp/mcptest"
)

type testSuite struct {
	cfg testSuiteConfig

	server    *mcptest.Server
	mcpClient *mcp.Client
	cleanups  []func()

	clientConnectErr error
}

type testSuiteConfig struct {
	transportName string

	serverOptions []mcptest.Option
	clientOptions []mcp.ClientOption
	// populate registers tools and resources before the client connects.
	populate func(*mcptest.Server)
}

var transportNames = []string{"SSE", "StdIO"}

func TestConnect(t *testing.T) {
	type testCase struct {
		name          string
		serverOptions []mcptest.Option
		wantErr       bool
		wantResources bool
	}

	testCases := []testCase{
		{
			name:          "success with tools and resources",
			wantResources: true,
		},
		{
			name:          "success without resources",
			serverOptions: []mcptest.Option{mcptest.WithoutResources()},
		},
		{
			name:          "success with newer protocol version",
			serverOptions: []mcptest.Option{mcptest.WithProtocolVersion("2025-03-26")},
			wantResources: true,
		},
		{
			name:          "fail unsupported protocol version",
			serverOptions: []mcptest.Option{mcptest.WithProtocolVersion("2023-01-01")},
			wantErr:       true,
		},
	}

	for _, transportName := range transportNames {
		for _, tc := range testCases {
			cfg := testSuiteConfig{
				transportName: transportName,
				serverOptions: tc.serverOptions,
			}

			t.Run(fmt.Sprintf("%s/%s", transportName, tc.name), testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
				if tc.wantErr {
					if s.clientConnectErr == nil {
						t.Errorf("expected error, got nil")
					}
					return
				}
				if s.clientConnectErr != nil {
					t.Fatalf("unexpected error: %v", s.clientConnectErr)
				}

				if got := s.mcpClient.ServerInfo().Name; got != "test-server" {
					t.Errorf("expected server name test-server, got %s", got)
				}
				if !s.mcpClient.ToolServerSupported() {
					t.Errorf("expected tools to be supported")
				}
				if s.mcpClient.ResourceServerSupported() != tc.wantResources {
					t.Errorf("expected resources supported %t, got %t", tc.wantResources, s.mcpClient.ResourceServerSupported())
				}
				if err := s.mcpClient.Ping(context.Background()); err != nil {
					t.Errorf("unexpected ping error: %v", err)
				}
			}))
		}
	}
}

func TestOperationsBeforeConnect(t *testing.T) {
	cli := mcp.NewClient(mcp.Info{Name: "test-client", Version: "1.0"}, mcp.NewSSEClient("http://localhost:0/sse", nil))
	defer cli.Close()

	if _, err := cli.CallTool(context.Background(), mcp.CallToolParams{Name: "echo"}); err == nil {
		t.Errorf("expected error calling a tool before connecting")
	}
	if _, err := cli.ListAllResources(context.Background()); err == nil {
		t.Errorf("expected error listing resources before connecting")
	}
	if err := cli.Ping(context.Background()); err == nil {
		t.Errorf("expected error pinging before connecting")
	}
}

func TestCallTool(t *testing.T) {
	type testCase struct {
		name      string
		params    mcp.CallToolParams
		wantText  string
		checkErr  func(*testing.T, error)
		wantCalls int
	}

	populate := func(srv *mcptest.Server) {
		srv.AddTool(mcp.Tool{Name: "echo"}, func(_ context.Context, args json.RawMessage) (mcp.CallToolResult, error) {
			var p struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(args, &p); err != nil {
				return mcp.CallToolResult{}, err
			}
			return mcptest.TextResult("echo: " + p.Query), nil
		})
		srv.AddTool(mcp.Tool{Name: "flagged"}, func(context.Context, json.RawMessage) (mcp.CallToolResult, error) {
			return mcptest.ErrorResult("student not found"), nil
		})
		srv.AddTool(mcp.Tool{Name: "broken"}, func(context.Context, json.RawMessage) (mcp.CallToolResult, error) {
			return mcp.CallToolResult{}, errors.New("database down")
		})
	}

	testCases := []testCase{
		{
			name:      "success",
			params:    mcp.CallToolParams{Name: "echo", Arguments: json.RawMessage(`{"query":"s1001"}`)},
			wantText:  "echo: s1001",
			wantCalls: 1,
		},
		{
			name:   "result flagged as error",
			params: mcp.CallToolParams{Name: "flagged"},
			checkErr: func(t *testing.T, err error) {
				var toolErr *mcp.ToolError
				if !errors.As(err, &toolErr) {
					t.Fatalf("expected ToolError, got %v", err)
				}
				if toolErr.Tool != "flagged" || toolErr.Message != "student not found" {
					t.Errorf("unexpected tool error: %+v", toolErr)
				}
			},
			wantCalls: 1,
		},
		{
			name:   "handler failure",
			params: mcp.CallToolParams{Name: "broken"},
			checkErr: func(t *testing.T, err error) {
				var rpcErr *mcp.JSONRPCError
				if !errors.As(err, &rpcErr) {
					t.Fatalf("expected JSONRPCError, got %v", err)
				}
				if rpcErr.Code != mcp.JSONRPCInternalErrorCode {
					t.Errorf("expected code %d, got %d", mcp.JSONRPCInternalErrorCode, rpcErr.Code)
				}
			},
			wantCalls: 1,
		},
		{
			name:   "unknown tool",
			params: mcp.CallToolParams{Name: "missing"},
			checkErr: func(t *testing.T, err error) {
				var rpcErr *mcp.JSONRPCError
				if !errors.As(err, &rpcErr) {
					t.Fatalf("expected JSONRPCError, got %v", err)
				}
				if rpcErr.Code != mcp.JSONRPCInvalidParamsCode {
					t.Errorf("expected code %d, got %d", mcp.JSONRPCInvalidParamsCode, rpcErr.Code)
				}
			},
		},
	}

	for _, transportName := range transportNames {
		for _, tc := range testCases {
			cfg := testSuiteConfig{
				transportName: transportName,
				populate:      populate,
			}

			t.Run(fmt.Sprintf("%s/%s", transportName, tc.name), testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
				if s.clientConnectErr != nil {
					t.Fatalf("unexpected error: %v", s.clientConnectErr)
				}

				res, err := s.mcpClient.CallTool(context.Background(), tc.params)
				if tc.checkErr != nil {
					if err == nil {
						t.Fatalf("expected error, got nil")
					}
					tc.checkErr(t, err)
				} else {
					if err != nil {
						t.Fatalf("unexpected error: %v", err)
					}
					if res.Content.Text() != tc.wantText {
						t.Errorf("expected text %q, got %q", tc.wantText, res.Content.Text())
					}
				}

				if got := s.server.CallCount(tc.params.Name); got != tc.wantCalls {
					t.Errorf("expected %d calls, got %d", tc.wantCalls, got)
				}
			}))
		}
	}
}

func TestPagination(t *testing.T) {
	populate := func(srv *mcptest.Server) {
		for i := range 5 {
			srv.AddTool(mcp.Tool{Name: fmt.Sprintf("tool-%d", i)}, func(context.Context, json.RawMessage) (mcp.CallToolResult, error) {
				return mcptest.TextResult("ok"), nil
			})
			uri := fmt.Sprintf("test://items/%d", i)
			srv.AddResource(mcp.Resource{URI: uri, Name: uri}, func(_ context.Context, uri string) (mcp.ReadResourceResult, error) {
				return mcptest.TextResource(uri, "item"), nil
			})
		}
		srv.AddTemplate(mcp.ResourceTemplate{URITemplate: "test://items/{id}", Name: "items"})
	}

	for _, transportName := range transportNames {
		cfg := testSuiteConfig{
			transportName: transportName,
			serverOptions: []mcptest.Option{mcptest.WithPageSize(2)},
			populate:      populate,
		}

		t.Run(transportName, testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
			if s.clientConnectErr != nil {
				t.Fatalf("unexpected error: %v", s.clientConnectErr)
			}
			ctx := context.Background()

			page, err := s.mcpClient.ListTools(ctx, mcp.ListToolsParams{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(page.Tools) != 2 || page.NextCursor == "" {
				t.Errorf("expected a first page of 2 tools with a cursor, got %d tools, cursor %q",
					len(page.Tools), page.NextCursor)
			}

			tools, err := s.mcpClient.ListAllTools(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(tools) != 5 {
				t.Fatalf("expected 5 tools, got %d", len(tools))
			}
			for i, tool := range tools {
				if want := fmt.Sprintf("tool-%d", i); tool.Name != want {
					t.Errorf("expected tool %s at %d, got %s", want, i, tool.Name)
				}
			}

			resources, err := s.mcpClient.ListAllResources(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(resources) != 5 {
				t.Errorf("expected 5 resources, got %d", len(resources))
			}

			templates, err := s.mcpClient.ListAllResourceTemplates(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(templates) != 1 || templates[0].URITemplate != "test://items/{id}" {
				t.Errorf("unexpected templates: %+v", templates)
			}
		}))
	}
}

func TestReadResource(t *testing.T) {
	populate := func(srv *mcptest.Server) {
		srv.AddResource(mcp.Resource{URI: "students://s1001", Name: "Student One"},
			func(_ context.Context, uri string) (mcp.ReadResourceResult, error) {
				return mcptest.TextResource(uri, `{"name":"Student One"}`), nil
			})
	}

	for _, transportName := range transportNames {
		cfg := testSuiteConfig{
			transportName: transportName,
			populate:      populate,
		}

		t.Run(transportName, testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
			if s.clientConnectErr != nil {
				t.Fatalf("unexpected error: %v", s.clientConnectErr)
			}
			ctx := context.Background()

			res, err := s.mcpClient.ReadResource(ctx, mcp.ReadResourceParams{URI: "students://s1001"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(res.Contents) != 1 || res.Contents[0].Text != `{"name":"Student One"}` {
				t.Errorf("unexpected contents: %+v", res.Contents)
			}

			if _, err := s.mcpClient.ReadResource(ctx, mcp.ReadResourceParams{URI: "students://missing"}); err == nil {
				t.Errorf("expected error reading a missing resource")
			}
		}))
	}
}

func TestResourcesNotSupported(t *testing.T) {
	cfg := testSuiteConfig{
		transportName: "StdIO",
		serverOptions: []mcptest.Option{mcptest.WithoutResources()},
	}

	t.Run("StdIO", testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
		if s.clientConnectErr != nil {
			t.Fatalf("unexpected error: %v", s.clientConnectErr)
		}
		if _, err := s.mcpClient.ListResources(context.Background(), mcp.ListResourcesParams{}); err == nil {
			t.Errorf("expected error listing resources on a server without them")
		}
	}))
}

func TestConcurrentCalls(t *testing.T) {
	const calls = 50

	populate := func(srv *mcptest.Server) {
		srv.AddTool(mcp.Tool{Name: "echo"}, func(_ context.Context, args json.RawMessage) (mcp.CallToolResult, error) {
			return mcptest.TextResult(string(args)), nil
		})
	}

	for _, transportName := range transportNames {
		cfg := testSuiteConfig{
			transportName: transportName,
			populate:      populate,
		}

		t.Run(transportName, testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
			if s.clientConnectErr != nil {
				t.Fatalf("unexpected error: %v", s.clientConnectErr)
			}

			var wg sync.WaitGroup
			errs := make(chan error, calls)
			for i := range calls {
				wg.Add(1)
				go func() {
					defer wg.Done()
					args := fmt.Sprintf(`{"n":%d}`, i)
					res, err := s.mcpClient.CallTool(context.Background(), mcp.CallToolParams{
						Name:      "echo",
						Arguments: json.RawMessage(args),
					})
					if err != nil {
						errs <- err
						return
					}
					// Each response must be routed back to its own request.
					if res.Content.Text() != args {
						errs <- fmt.Errorf("expected %s, got %s", args, res.Content.Text())
					}
				}()
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				t.Error(err)
			}
			if got := s.server.CallCount("echo"); got != calls {
				t.Errorf("expected %d calls, got %d", calls, got)
			}
		}))
	}
}

func TestRequestTimeout(t *testing.T) {
	populate := func(srv *mcptest.Server) {
		srv.AddTool(mcp.Tool{Name: "slow"}, func(ctx context.Context, _ json.RawMessage) (mcp.CallToolResult, error) {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
			}
			return mcptest.TextResult("late"), nil
		})
	}

	for _, transportName := range transportNames {
		cfg := testSuiteConfig{
			transportName: transportName,
			clientOptions: []mcp.ClientOption{mcp.WithClientReadTimeout(50 * time.Millisecond)},
			populate:      populate,
		}

		t.Run(transportName, testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
			if s.clientConnectErr != nil {
				t.Fatalf("unexpected error: %v", s.clientConnectErr)
			}

			_, err := s.mcpClient.CallTool(context.Background(), mcp.CallToolParams{Name: "slow"})
			if !errors.Is(err, mcp.ErrRequestTimeout) {
				t.Errorf("expected ErrRequestTimeout, got %v", err)
			}
		}))
	}
}

func TestCallToolContextCancel(t *testing.T) {
	populate := func(srv *mcptest.Server) {
		srv.AddTool(mcp.Tool{Name: "slow"}, func(ctx context.Context, _ json.RawMessage) (mcp.CallToolResult, error) {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
			}
			return mcptest.TextResult("late"), nil
		})
	}

	for _, transportName := range transportNames {
		cfg := testSuiteConfig{
			transportName: transportName,
			populate:      populate,
		}

		t.Run(transportName, testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
			if s.clientConnectErr != nil {
				t.Fatalf("unexpected error: %v", s.clientConnectErr)
			}

			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(50*time.Millisecond, cancel)

			_, err := s.mcpClient.CallTool(ctx, mcp.CallToolParams{Name: "slow"})
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		}))
	}
}

func TestCloseFailsPendingRequests(t *testing.T) {
	populate := func(srv *mcptest.Server) {
		srv.AddTool(mcp.Tool{Name: "slow"}, func(ctx context.Context, _ json.RawMessage) (mcp.CallToolResult, error) {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
			}
			return mcptest.TextResult("late"), nil
		})
	}

	for _, transportName := range transportNames {
		cfg := testSuiteConfig{
			transportName: transportName,
			populate:      populate,
		}

		t.Run(transportName, testSuiteCase(cfg, func(t *testing.T, s *testSuite) {
			if s.clientConnectErr != nil {
				t.Fatalf("unexpected error: %v", s.clientConnectErr)
			}

			errs := make(chan error, 1)
			go func() {
				_, err := s.mcpClient.CallTool(context.Background(), mcp.CallToolParams{Name: "slow"})
				errs <- err
			}()

			time.Sleep(50 * time.Millisecond)
			if err := s.mcpClient.Close(); err != nil {
				t.Fatalf("unexpected close error: %v", err)
			}
			// A second Close is a no-op.
			if err := s.mcpClient.Close(); err != nil {
				t.Fatalf("unexpected close error: %v", err)
			}

			select {
			case err := <-errs:
				if !errors.Is(err, mcp.ErrSessionClosed) {
					t.Errorf("expected ErrSessionClosed, got %v", err)
				}
			case <-time.After(time.Second):
				t.Fatal("pending request did not return after Close")
			}
		}))
	}
}

func testSuiteCase(cfg testSuiteConfig, test func(*testing.T, *testSuite)) func(*testing.T) {
	return func(t *testing.T) {
		s := &testSuite{
			cfg: cfg,
		}
		s.setup()
		defer s.teardown()

		test(t, s)
	}
}

func (s *testSuite) setup() {
	s.server = mcptest.New(mcp.Info{Name: "test-server", Version: "1.0"}, s.cfg.serverOptions...)
	if s.cfg.populate != nil {
		s.cfg.populate(s.server)
	}

	var transport mcp.ClientTransport
	if s.cfg.transportName == "SSE" {
		connectURL, stop := s.server.StartSSE()
		s.cleanups = append(s.cleanups, stop)
		transport = mcp.NewSSEClient(connectURL, nil)
	} else {
		transport = s.setupStdIO()
	}

	s.mcpClient = mcp.NewClient(mcp.Info{
		Name:    "test-client",
		Version: "1.0",
	}, transport, s.cfg.clientOptions...)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s.clientConnectErr = s.mcpClient.Connect(ctx)
}

func (s *testSuite) setupStdIO() mcp.ClientTransport {
	srvReader, cliWriter := io.Pipe()
	cliReader, srvWriter := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = s.server.ServeStdIO(ctx, srvReader, srvWriter)
	}()

	s.cleanups = append(s.cleanups, func() {
		cancel()
		cliWriter.Close()
		cliReader.Close()
		srvReader.Close()
		srvWriter.Close()
	})

	// client's output is server's input
	return mcp.NewStdIO(cliReader, cliWriter)
}

func (s *testSuite) teardown() {
	s.mcpClient.Close()
	for _, cleanup := range s.cleanups {
		cleanup()
	}
}
