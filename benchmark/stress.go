package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/MegaGrindStone/go-mcp-bench/mcp"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// ToolCaller invokes a single tool. Session satisfies it.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args json.RawMessage) (mcp.CallToolResult, error)
}

// InvocationResult is the outcome of one call attempt of a stress batch.
type InvocationResult struct {
	Tool      string    `json:"tool_name"`
	Succeeded bool      `json:"succeeded"`
	LatencyMs float64   `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	Start     time.Time `json:"start"`
}

// StressResult is a settled stress batch.
type StressResult struct {
	Tool string
	// Results holds one entry per iteration, in dispatch order.
	Results []InvocationResult
	// TotalTime spans from the first dispatch to the last completion.
	TotalTime time.Duration
}

// RunStress calls tool iterations times with args and waits for every call to settle.
// At most concurrency calls are in flight, concurrency 0 dispatches all of them at once.
//
// Failed calls, including panics and calls that could not be dispatched because ctx ended,
// are captured as failed results, so len(Results) always equals iterations. The only
// error is a rejected configuration.
func RunStress(
	ctx context.Context,
	caller ToolCaller,
	tool string,
	args json.RawMessage,
	iterations, concurrency int,
	observe func(InvocationResult),
) (StressResult, error) {
	if iterations < 0 {
		return StressResult{}, errors.Errorf("iterations must not be negative, got %d", iterations)
	}
	if concurrency < 0 {
		return StressResult{}, errors.Errorf("concurrency must not be negative, got %d", concurrency)
	}

	var sem *semaphore.Weighted
	if concurrency > 0 {
		sem = semaphore.NewWeighted(int64(concurrency))
	}

	results := make([]InvocationResult, iterations)
	var wg sync.WaitGroup

	start := time.Now()
	for i := range iterations {
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = failedInvocation(tool, time.Now(), 0, newInvocationError(tool, err))
				continue
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				defer sem.Release(1)
			}
			results[i] = invoke(ctx, caller, tool, args)
		}()
	}
	wg.Wait()
	total := time.Since(start)

	if observe != nil {
		for _, res := range results {
			observe(res)
		}
	}

	return StressResult{
		Tool:      tool,
		Results:   results,
		TotalTime: total,
	}, nil
}

func invoke(ctx context.Context, caller ToolCaller, tool string, args json.RawMessage) (res InvocationResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res = failedInvocation(tool, start, time.Since(start), newInvocationError(tool, fmt.Errorf("panic: %v", r)))
		}
	}()

	_, err := caller.CallTool(ctx, tool, args)
	elapsed := time.Since(start)
	if err != nil {
		return failedInvocation(tool, start, elapsed, newInvocationError(tool, err))
	}

	return InvocationResult{
		Tool:      tool,
		Succeeded: true,
		LatencyMs: Milliseconds(elapsed),
		Start:     start,
	}
}

func failedInvocation(tool string, start time.Time, elapsed time.Duration, err error) InvocationResult {
	return InvocationResult{
		Tool:      tool,
		LatencyMs: Milliseconds(elapsed),
		Error:     err.Error(),
		Start:     start,
	}
}
