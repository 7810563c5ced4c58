package tools

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jennifer88huang/gtplanner/internal/events"
	"github.com/jennifer88huang/gtplanner/internal/providers"
)

// stubTool runs a function with a configurable delay.
type stubTool struct {
	name    string
	timeout time.Duration
	fn      func(ctx context.Context, args map[string]any, progress func(string)) *Result
}

func (t *stubTool) Name() string               { return t.name }
func (t *stubTool) Description() string        { return "stub" }
func (t *stubTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *stubTool) Timeout() time.Duration     { return t.timeout }
func (t *stubTool) Execute(ctx context.Context, args map[string]any, progress func(string)) *Result {
	return t.fn(ctx, args, progress)
}

type eventLog struct {
	mu     sync.Mutex
	events []*events.StreamEvent
}

func (l *eventLog) emit(e *events.StreamEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []events.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Kind, len(l.events))
	for i, e := range l.events {
		out[i] = e.Kind
	}
	return out
}

func TestExecuteAllPreservesCallOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "slow", fn: func(ctx context.Context, _ map[string]any, _ func(string)) *Result {
		time.Sleep(50 * time.Millisecond)
		return NewResult("slow done")
	}})
	reg.Register(&stubTool{name: "fast", fn: func(ctx context.Context, _ map[string]any, _ func(string)) *Result {
		return NewResult("fast done")
	}})

	calls := []providers.ToolCall{
		{ID: "c1", Name: "slow"},
		{ID: "c2", Name: "fast"},
	}
	execs := NewExecutor(reg).ExecuteAll(context.Background(), "s", calls, nil)

	if len(execs) != 2 {
		t.Fatalf("got %d executions", len(execs))
	}
	// The slow call finished last but stays first in the results.
	if execs[0].Call.ID != "c1" || execs[1].Call.ID != "c2" {
		t.Errorf("order = %s, %s", execs[0].Call.ID, execs[1].Call.ID)
	}
	if execs[0].Message.ToolCallID != "c1" || execs[0].Message.Role != "tool" {
		t.Errorf("message = %+v", execs[0].Message)
	}
}

func TestExecuteAllRunsInParallel(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "sleepy", fn: func(ctx context.Context, _ map[string]any, _ func(string)) *Result {
		time.Sleep(80 * time.Millisecond)
		return NewResult("ok")
	}})

	calls := []providers.ToolCall{
		{ID: "c1", Name: "sleepy"},
		{ID: "c2", Name: "sleepy"},
		{ID: "c3", Name: "sleepy"},
	}
	start := time.Now()
	NewExecutor(reg).ExecuteAll(context.Background(), "s", calls, nil)
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("three 80ms calls took %v, expected parallel execution", elapsed)
	}
}

func TestExecuteAllStartEventsInParseOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "a", fn: func(ctx context.Context, _ map[string]any, _ func(string)) *Result {
		return NewResult("ok")
	}})

	log := &eventLog{}
	calls := []providers.ToolCall{
		{ID: "c1", Name: "a"},
		{ID: "c2", Name: "a"},
	}
	NewExecutor(reg).ExecuteAll(context.Background(), "s", calls, log.emit)

	kinds := log.kinds()
	if len(kinds) != 4 {
		t.Fatalf("got %d events, want 2 starts + 2 ends", len(kinds))
	}
	if kinds[0] != events.KindToolCallStart || kinds[1] != events.KindToolCallStart {
		t.Errorf("starts not emitted upfront: %v", kinds)
	}

	log.mu.Lock()
	first := log.events[0].Data.(events.ToolCallData)
	second := log.events[1].Data.(events.ToolCallData)
	log.mu.Unlock()
	if first.CallID != "c1" || second.CallID != "c2" {
		t.Errorf("start order = %s, %s", first.CallID, second.CallID)
	}
}

func TestExecuteTimeoutProducesTimeoutResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{
		name:    "hang",
		timeout: 30 * time.Millisecond,
		fn: func(ctx context.Context, _ map[string]any, _ func(string)) *Result {
			<-ctx.Done()
			time.Sleep(time.Hour) // never returns in time
			return NewResult("late")
		},
	})

	execs := NewExecutor(reg).ExecuteAll(context.Background(), "s",
		[]providers.ToolCall{{ID: "c1", Name: "hang"}}, nil)

	if !execs[0].Result.IsError {
		t.Fatal("timeout call not marked failed")
	}
	if execs[0].Result.ForLLM != "timeout" {
		t.Errorf("error message = %q, want %q", execs[0].Result.ForLLM, "timeout")
	}
}

func TestExecuteAllWrapsFailuresInEnvelope(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "flaky", fn: func(ctx context.Context, _ map[string]any, _ func(string)) *Result {
		return ErrorResult("HTTP 500")
	}})
	reg.Register(&stubTool{name: "solid", fn: func(ctx context.Context, _ map[string]any, _ func(string)) *Result {
		return NewResult("all good")
	}})

	execs := NewExecutor(reg).ExecuteAll(context.Background(), "s", []providers.ToolCall{
		{ID: "c1", Name: "flaky"},
		{ID: "c2", Name: "solid"},
	}, nil)

	var env struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(execs[0].Message.Content), &env); err != nil {
		t.Fatalf("failed tool message is not JSON: %v (content %q)", err, execs[0].Message.Content)
	}
	if env.Success || env.Error != "HTTP 500" {
		t.Errorf("envelope = %+v", env)
	}
	// Successful results stay as the tool produced them.
	if execs[1].Message.Content != "all good" {
		t.Errorf("success content = %q", execs[1].Message.Content)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	execs := NewExecutor(NewRegistry()).ExecuteAll(context.Background(), "s",
		[]providers.ToolCall{{ID: "c1", Name: "nope"}}, nil)
	if !execs[0].Result.IsError {
		t.Error("unknown tool not marked failed")
	}
}

func TestExtractResultUpdates(t *testing.T) {
	plan := ShortPlan{Title: "t", Steps: []string{"a"}}
	execs := []Execution{
		{Call: providers.ToolCall{Name: "short_planning"}, Result: StructuredResult("1. a", plan)},
		{Call: providers.ToolCall{Name: "research"}, Result: ErrorResult("timeout")},
		{Call: providers.ToolCall{Name: "web_search"}, Result: NewResult("hits")},
		{Call: providers.ToolCall{Name: "tool_recommend"}, Result: NewResult("plain text")},
	}

	updates := ExtractResultUpdates(execs)
	if len(updates) != 2 {
		t.Fatalf("updates = %v", updates)
	}
	if _, ok := updates[KeyShortPlanning].(ShortPlan); !ok {
		t.Errorf("short_planning payload type %T", updates[KeyShortPlanning])
	}
	// Failed research contributes nothing.
	if _, ok := updates[KeyResearchFindings]; ok {
		t.Error("failed tool leaked into updates")
	}
	// Unmapped tools (web_search) contribute nothing.
	if updates[KeyRecommendedTools] != "plain text" {
		t.Errorf("recommended_tools = %v", updates[KeyRecommendedTools])
	}
}

func TestRegistryProviderDefs(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "b", fn: nil})
	reg.Register(&stubTool{name: "a", fn: nil})

	defs := reg.ProviderDefs()
	if len(defs) != 2 {
		t.Fatalf("defs = %d", len(defs))
	}
	// Registration order, not alphabetical.
	if defs[0].Function.Name != "b" || defs[1].Function.Name != "a" {
		t.Errorf("def order = %s, %s", defs[0].Function.Name, defs[1].Function.Name)
	}
	if defs[0].Type != "function" {
		t.Errorf("def type = %q", defs[0].Type)
	}
}
