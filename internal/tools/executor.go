package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jennifer88huang/gtplanner/internal/events"
	"github.com/jennifer88huang/gtplanner/internal/providers"
)

// DefaultToolTimeout bounds tools that report no timeout of their own.
const DefaultToolTimeout = 60 * time.Second

// Execution is one completed tool call: the original request, its result,
// and the tool message to append to the dialogue.
type Execution struct {
	Call     providers.ToolCall
	Result   *Result
	Message  providers.Message
	Duration time.Duration
}

// Executor runs a batch of tool calls in parallel and returns the results
// in the calls' original order.
type Executor struct {
	registry *Registry
}

func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// ExecuteAll dispatches every call on its own goroutine. Start events go
// out upfront in parse order; end events fire as each call finishes. The
// returned slice is sorted back to parse order so the tool messages land
// deterministically regardless of completion timing.
func (e *Executor) ExecuteAll(ctx context.Context, sessionID string, calls []providers.ToolCall, emit func(*events.StreamEvent)) []Execution {
	if emit == nil {
		emit = func(*events.StreamEvent) {}
	}

	for _, tc := range calls {
		emit(events.ToolCallStart(sessionID, tc.Name, tc.ID, tc.Arguments))
	}

	type indexedResult struct {
		idx      int
		tc       providers.ToolCall
		result   *Result
		duration time.Duration
	}

	resultCh := make(chan indexedResult, len(calls))
	var wg sync.WaitGroup

	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, tc providers.ToolCall) {
			defer wg.Done()
			start := time.Now()
			result := e.executeOne(ctx, sessionID, tc, emit)
			duration := time.Since(start)

			emit(events.ToolCallEnd(sessionID, tc.Name, tc.ID,
				result.Payload, duration.Seconds(), errorMessage(result)))

			resultCh <- indexedResult{idx: idx, tc: tc, result: result, duration: duration}
		}(i, tc)
	}

	go func() { wg.Wait(); close(resultCh) }()

	collected := make([]indexedResult, 0, len(calls))
	for r := range resultCh {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })

	out := make([]Execution, 0, len(collected))
	for _, r := range collected {
		content := r.result.ForLLM
		if r.result.IsError {
			content = errorEnvelope(r.result.ForLLM)
		}
		out = append(out, Execution{
			Call:     r.tc,
			Result:   r.result,
			Duration: r.duration,
			Message: providers.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: r.tc.ID,
			},
		})
	}
	return out
}

// errorEnvelope serializes a failed call for the dialogue, so the model
// reads a structured error instead of bare text.
func errorEnvelope(msg string) string {
	data, _ := json.Marshal(struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}{Success: false, Error: msg})
	return string(data)
}

// executeOne runs a single call under its tool's timeout. A deadline hit
// produces a failed result whose message is exactly "timeout".
func (e *Executor) executeOne(ctx context.Context, sessionID string, tc providers.ToolCall, emit func(*events.StreamEvent)) *Result {
	tool, ok := e.registry.Get(tc.Name)
	if !ok {
		slog.Warn("unknown tool requested", "tool", tc.Name)
		return ErrorResult(fmt.Sprintf("unknown tool %q", tc.Name))
	}

	timeout := tool.Timeout()
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	progress := func(message string) {
		emit(events.ToolCallProgress(sessionID, tc.Name, tc.ID, message))
	}

	argsJSON, _ := json.Marshal(tc.Arguments)
	slog.Info("tool call", "tool", tc.Name, "args_len", len(argsJSON))

	done := make(chan *Result, 1)
	go func() { done <- tool.Execute(callCtx, tc.Arguments, progress) }()

	select {
	case result := <-done:
		if result == nil {
			result = ErrorResult("tool returned no result")
		}
		if result.IsError {
			slog.Warn("tool error", "tool", tc.Name, "error", truncate(result.ForLLM, 200))
		}
		return result
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return ErrorResult("canceled")
		}
		slog.Warn("tool timeout", "tool", tc.Name, "timeout", timeout)
		return ErrorResult("timeout")
	}
}

func errorMessage(r *Result) string {
	if !r.IsError {
		return ""
	}
	return r.ForLLM
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
