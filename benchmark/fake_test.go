package benchmark_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/MegaGrindStone/go-mcp-bench/benchmark"
	"github.com/MegaGrindStone/go-mcp-bench/mcp"
)

type fakeSession struct {
	tools     []mcp.Tool
	resources []mcp.Resource
	templates []mcp.ResourceTemplate

	initErr      error
	listToolsErr error
	templatesErr error
	// listResourcesErr fails every resources list after the first failAfter ones.
	listResourcesErr error
	failAfter        int
	readErrs         map[string]error
	// call answers tools/call, success when nil.
	call func(name string, n int) error

	mu        sync.Mutex
	calls     map[string]int
	listCalls int
	closed    int
}

func (f *fakeSession) Initialize(context.Context) error { return f.initErr }

func (f *fakeSession) ListTools(context.Context) ([]mcp.Tool, error) {
	return f.tools, f.listToolsErr
}

func (f *fakeSession) CallTool(_ context.Context, name string, _ json.RawMessage) (mcp.CallToolResult, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
	n := f.calls[name]
	f.mu.Unlock()

	if f.call != nil {
		if err := f.call(name, n); err != nil {
			return mcp.CallToolResult{}, err
		}
	}
	return mcp.CallToolResult{Content: mcp.Contents{mcp.TextContent{Text: "ok"}}}, nil
}

func (f *fakeSession) ListResources(context.Context) ([]mcp.Resource, error) {
	f.mu.Lock()
	f.listCalls++
	n := f.listCalls
	f.mu.Unlock()

	if f.listResourcesErr != nil && n > f.failAfter {
		return nil, f.listResourcesErr
	}
	return f.resources, nil
}

func (f *fakeSession) ListResourceTemplates(context.Context) ([]mcp.ResourceTemplate, error) {
	return f.templates, f.templatesErr
}

func (f *fakeSession) ReadResource(_ context.Context, uri string) (mcp.ReadResourceResult, error) {
	if err := f.readErrs[uri]; err != nil {
		return mcp.ReadResourceResult{}, err
	}
	return mcp.ReadResourceResult{Contents: []mcp.ResourceContents{{URI: uri, Text: "data"}}}, nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSession) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

type fakeDialer struct {
	sess      *fakeSession
	dialErr   error
	transport benchmark.Transport

	mu    sync.Mutex
	dials int
}

func (d *fakeDialer) Dial(context.Context) (benchmark.Session, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()

	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.sess, nil
}

func (d *fakeDialer) Transport() benchmark.Transport { return d.transport }

func (d *fakeDialer) Target() string { return "fake://server" }

type recordingObserver struct {
	mu          sync.Mutex
	invocations map[string]int
	tools       map[string]benchmark.ToolBenchmark
	resources   map[string]benchmark.ResourceBenchmark
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		invocations: make(map[string]int),
		tools:       make(map[string]benchmark.ToolBenchmark),
		resources:   make(map[string]benchmark.ResourceBenchmark),
	}
}

func (o *recordingObserver) ObserveInvocation(res benchmark.InvocationResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.invocations[res.Tool]++
}

func (o *recordingObserver) ObserveTool(tool string, tb benchmark.ToolBenchmark) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tools[tool] = tb
}

func (o *recordingObserver) ObserveResource(name string, rb benchmark.ResourceBenchmark) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resources[name] = rb
}

var errBoom = errors.New("boom")
