package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jennifer88huang/gtplanner/internal/config"
	"github.com/jennifer88huang/gtplanner/internal/events"
	"github.com/jennifer88huang/gtplanner/internal/providers"
	"github.com/jennifer88huang/gtplanner/internal/sessions"
	"github.com/jennifer88huang/gtplanner/internal/store"
	"github.com/jennifer88huang/gtplanner/internal/stream"
	"github.com/jennifer88huang/gtplanner/internal/tools"
)

// scriptTurn is one scripted assistant turn.
type scriptTurn struct {
	chunks    []string
	toolCalls []providers.ToolCall
}

// scriptedProvider streams canned turns in order.
type scriptedProvider struct {
	mu    sync.Mutex
	turns []scriptTurn
	calls int
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	p.mu.Lock()
	if p.calls >= len(p.turns) {
		p.mu.Unlock()
		return nil, fmt.Errorf("unscripted turn %d", p.calls)
	}
	turn := p.turns[p.calls]
	p.calls++
	p.mu.Unlock()

	var content string
	for _, c := range turn.chunks {
		content += c
		if onChunk != nil {
			onChunk(providers.StreamChunk{Content: c})
		}
	}
	if onChunk != nil {
		onChunk(providers.StreamChunk{Done: true})
	}

	resp := &providers.ChatResponse{
		Content:      content,
		ToolCalls:    turn.toolCalls,
		FinishReason: "stop",
		Usage:        &providers.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	if len(turn.toolCalls) > 0 {
		resp.FinishReason = "tool_calls"
	}
	return resp, nil
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return p.ChatStream(ctx, req, nil)
}

func (p *scriptedProvider) DefaultModel() string { return "scripted" }
func (p *scriptedProvider) Name() string         { return "scripted" }

// captureHandler records delivered events.
type captureHandler struct {
	mu     sync.Mutex
	events []*events.StreamEvent
}

func (h *captureHandler) HandleEvent(e *events.StreamEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	copied := *e
	h.events = append(h.events, &copied)
	return nil
}

func (h *captureHandler) HandleError(err error, sessionID string) {}
func (h *captureHandler) Close() error                            { return nil }

func (h *captureHandler) kinds() []events.Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.Kind, len(h.events))
	for i, e := range h.events {
		out[i] = e.Kind
	}
	return out
}

func (h *captureHandler) byKind(k events.Kind) []*events.StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*events.StreamEvent
	for _, e := range h.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// fixedTool returns a fixed result after an optional delay.
type fixedTool struct {
	name    string
	result  *tools.Result
	delay   time.Duration
	timeout time.Duration
}

func (t *fixedTool) Name() string               { return t.name }
func (t *fixedTool) Description() string        { return "test tool" }
func (t *fixedTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *fixedTool) Timeout() time.Duration     { return t.timeout }
func (t *fixedTool) Execute(ctx context.Context, args map[string]any, progress func(string)) *tools.Result {
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			<-make(chan struct{}) // simulate a tool that ignores cancellation
		}
	}
	return t.result
}

type plannerFixture struct {
	planner  *Planner
	mgr      *sessions.Manager
	session  *stream.Session
	capture  *captureHandler
	sessID   string
	registry *tools.Registry
}

func newPlannerFixture(t *testing.T, provider providers.Provider, reg *tools.Registry, cfg config.AgentConfig) *plannerFixture {
	t.Helper()
	s, err := store.Open(":memory:", 0)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	mgr := sessions.NewManager(s)
	sess, err := mgr.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if reg == nil {
		reg = tools.NewRegistry()
	}
	engine := NewEngine(provider, reg, cfg)
	planner := NewPlanner(engine, mgr, nil, "en")

	streamSess := stream.NewSession(sess.ID)
	capture := &captureHandler{}
	streamSess.AddHandler(capture)

	return &plannerFixture{
		planner:  planner,
		mgr:      mgr,
		session:  streamSess,
		capture:  capture,
		sessID:   sess.ID,
		registry: reg,
	}
}

func TestRunSingleTurnWithoutTools(t *testing.T) {
	provider := &scriptedProvider{turns: []scriptTurn{
		{chunks: []string{"Here is ", "your plan."}},
	}}
	fx := newPlannerFixture(t, provider, nil, config.AgentConfig{})

	res, err := fx.planner.Run(context.Background(), fx.sessID, "plan a url shortener", fx.session)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Errorf("Success = false, errors = %v", res.Errors)
	}
	if res.FinalMessage != "Here is your plan." {
		t.Errorf("FinalMessage = %q", res.FinalMessage)
	}

	kinds := fx.capture.kinds()
	wantPrefix := []events.Kind{
		events.KindConversationStart,
		events.KindAssistantMessageStart,
	}
	for i, k := range wantPrefix {
		if kinds[i] != k {
			t.Errorf("event %d = %s, want %s", i, kinds[i], k)
		}
	}
	if kinds[len(kinds)-1] != events.KindConversationEnd {
		t.Errorf("last event = %s", kinds[len(kinds)-1])
	}

	// Final chunk is flagged complete and the end event still follows.
	chunks := fx.capture.byKind(events.KindAssistantMessageChunk)
	last := chunks[len(chunks)-1].Data.(events.AssistantMessageChunkData)
	if !last.IsComplete {
		t.Error("final chunk not flagged complete")
	}
	ends := fx.capture.byKind(events.KindAssistantMessageEnd)
	if len(ends) != 1 {
		t.Fatalf("assistant end events = %d", len(ends))
	}
	if d := ends[0].Data.(events.AssistantMessageEndData); d.CompleteMessage != "Here is your plan." {
		t.Errorf("complete message = %q", d.CompleteMessage)
	}

	// Both the user input and the reply persisted.
	ac, err := fx.mgr.BuildAgentContext(context.Background(), fx.sessID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ac.Messages) != 2 {
		t.Errorf("persisted %d messages, want 2", len(ac.Messages))
	}
}

func TestRunWithParallelToolsThenAnswer(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&fixedTool{
		name:   "tool_recommend",
		result: tools.StructuredResult("use sqlite", []tools.RecommendedTool{{Name: "sqlite", Kind: "library"}}),
	})
	reg.Register(&fixedTool{
		name:   "research",
		result: tools.StructuredResult("findings", tools.ResearchFindings{Topic: "x", Findings: []string{"f1"}}),
	})

	provider := &scriptedProvider{turns: []scriptTurn{
		{
			chunks: []string{"Let me look into that."},
			toolCalls: []providers.ToolCall{
				{ID: "c1", Name: "tool_recommend", Arguments: map[string]any{"task": "x"}},
				{ID: "c2", Name: "research", Arguments: map[string]any{"topic": "x"}},
			},
		},
		{chunks: []string{"Based on the research, use sqlite."}},
	}}
	fx := newPlannerFixture(t, provider, reg, config.AgentConfig{})

	res, err := fx.planner.Run(context.Background(), fx.sessID, "what storage should I use", fx.session)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || res.FinalMessage != "Based on the research, use sqlite." {
		t.Errorf("res = %+v", res)
	}
	if _, ok := res.ResultUpdates[tools.KeyRecommendedTools]; !ok {
		t.Error("recommended_tools not extracted")
	}
	if _, ok := res.ResultUpdates[tools.KeyResearchFindings]; !ok {
		t.Error("research_findings not extracted")
	}

	starts := fx.capture.byKind(events.KindToolCallStart)
	if len(starts) != 2 {
		t.Fatalf("tool_call_start events = %d", len(starts))
	}
	if d := starts[0].Data.(events.ToolCallData); d.CallID != "c1" {
		t.Errorf("first start = %s, want parse order", d.CallID)
	}
	if ends := fx.capture.byKind(events.KindToolCallEnd); len(ends) != 2 {
		t.Errorf("tool_call_end events = %d", len(ends))
	}

	// Dialogue order: user, assistant(+calls), tool c1, tool c2, assistant.
	ac, _ := fx.mgr.BuildAgentContext(context.Background(), fx.sessID)
	roles := make([]string, len(ac.Messages))
	for i, m := range ac.Messages {
		roles[i] = m.Role
	}
	want := []string{"user", "assistant", "tool", "tool", "assistant"}
	if strings.Join(roles, ",") != strings.Join(want, ",") {
		t.Errorf("roles = %v", roles)
	}
	if ac.Messages[2].ToolCallID != "c1" || ac.Messages[3].ToolCallID != "c2" {
		t.Errorf("tool message order = %s, %s", ac.Messages[2].ToolCallID, ac.Messages[3].ToolCallID)
	}

	// Audit rows recorded.
	execs, err := fx.mgr.Store().ListToolExecutions(context.Background(), fx.sessID)
	if err != nil {
		t.Fatal(err)
	}
	if len(execs) != 2 {
		t.Errorf("tool executions = %d", len(execs))
	}
}

func TestRunHitsRecursionCap(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&fixedTool{name: "research", result: tools.NewResult("more data")})

	// Every turn asks for another tool call, forever.
	turns := make([]scriptTurn, 10)
	for i := range turns {
		turns[i] = scriptTurn{
			chunks:    []string{"digging deeper"},
			toolCalls: []providers.ToolCall{{ID: fmt.Sprintf("c%d", i), Name: "research"}},
		}
	}
	provider := &scriptedProvider{turns: turns}
	fx := newPlannerFixture(t, provider, reg, config.AgentConfig{MaxRecursionDepth: 2})

	res, err := fx.planner.Run(context.Background(), fx.sessID, "loop forever", fx.session)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Hitting the cap is a successful run with partial work.
	if !res.Success {
		t.Error("cap run not successful")
	}
	if !strings.Contains(res.FinalMessage, "maximum recursion depth (2)") {
		t.Errorf("FinalMessage = %q", res.FinalMessage)
	}

	ends := fx.capture.byKind(events.KindAssistantMessageEnd)
	lastMeta := ends[len(ends)-1].Data.(events.AssistantMessageEndData).MessageMetadata
	if lastMeta["execution_mode"] != "recursion_limit_reached" {
		t.Errorf("metadata = %v", lastMeta)
	}

	// Exactly MaxRecursionDepth LLM turns ran.
	if provider.calls != 2 {
		t.Errorf("LLM calls = %d, want 2", provider.calls)
	}
}

func TestRunToolTimeoutContained(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&fixedTool{
		name:    "research",
		result:  tools.NewResult("never returned"),
		delay:   time.Hour,
		timeout: 30 * time.Millisecond,
	})

	provider := &scriptedProvider{turns: []scriptTurn{
		{chunks: []string{"checking"}, toolCalls: []providers.ToolCall{{ID: "c1", Name: "research"}}},
		{chunks: []string{"proceeding without that data"}},
	}}
	fx := newPlannerFixture(t, provider, reg, config.AgentConfig{})

	res, err := fx.planner.Run(context.Background(), fx.sessID, "research slowly", fx.session)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalMessage != "proceeding without that data" {
		t.Errorf("FinalMessage = %q", res.FinalMessage)
	}
	if len(res.Errors) == 0 || !strings.Contains(res.Errors[0], "timeout") {
		t.Errorf("Errors = %v", res.Errors)
	}

	// The timed-out call still produced a tool message for the LLM,
	// wrapped as an error envelope.
	ac, _ := fx.mgr.BuildAgentContext(context.Background(), fx.sessID)
	found := false
	for _, m := range ac.Messages {
		if m.Role == "tool" && m.Content == `{"success":false,"error":"timeout"}` {
			found = true
		}
	}
	if !found {
		t.Error("no timeout tool message in dialogue")
	}
}

func TestRunWithoutStreamHandlersFails(t *testing.T) {
	provider := &scriptedProvider{turns: []scriptTurn{
		{chunks: []string{"never streamed"}},
	}}
	fx := newPlannerFixture(t, provider, nil, config.AgentConfig{})

	bare := stream.NewSession(fx.sessID)
	defer bare.Stop()

	_, err := fx.planner.Run(context.Background(), fx.sessID, "hello", bare)
	if !errors.Is(err, ErrStreamingRequired) {
		t.Errorf("err = %v, want ErrStreamingRequired", err)
	}
	if provider.calls != 0 {
		t.Errorf("LLM called %d times with nowhere to stream", provider.calls)
	}
}

func TestRunFiltersToolTagsFromStream(t *testing.T) {
	provider := &scriptedProvider{turns: []scriptTurn{
		{chunks: []string{"Plan: <tool_", "call>{\"internal\":1}</tool_", "call>done."}},
	}}
	fx := newPlannerFixture(t, provider, nil, config.AgentConfig{})

	res, err := fx.planner.Run(context.Background(), fx.sessID, "plan it", fx.session)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalMessage != "Plan: done." {
		t.Errorf("FinalMessage = %q", res.FinalMessage)
	}
	for _, e := range fx.capture.byKind(events.KindAssistantMessageChunk) {
		if strings.Contains(e.Data.(events.AssistantMessageChunkData).Content, "tool_call") {
			t.Errorf("tag leaked into chunk: %+v", e.Data)
		}
	}
}

func TestRunRejectsEmptyInput(t *testing.T) {
	fx := newPlannerFixture(t, &scriptedProvider{}, nil, config.AgentConfig{})

	_, err := fx.planner.Run(context.Background(), fx.sessID, "   ", fx.session)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("err = %v, want ValidationError", err)
	}
	if len(fx.capture.kinds()) != 0 {
		t.Error("events emitted for rejected input")
	}
}

func TestRunMissingContextEndsUnsuccessfully(t *testing.T) {
	fx := newPlannerFixture(t, &scriptedProvider{}, nil, config.AgentConfig{})

	_, err := fx.planner.Run(context.Background(), "not-a-session", "hello", fx.session)
	if !errors.Is(err, store.ErrNoActiveContext) {
		t.Errorf("err = %v", err)
	}

	ends := fx.capture.byKind(events.KindConversationEnd)
	if len(ends) != 1 {
		t.Fatalf("conversation_end events = %d", len(ends))
	}
	if d := ends[0].Data.(events.ConversationEndData); d.Success {
		t.Error("conversation_end reports success")
	}
}

func TestRunLLMFailureContained(t *testing.T) {
	provider := &scriptedProvider{} // no scripted turns: first call errors
	fx := newPlannerFixture(t, provider, nil, config.AgentConfig{})

	res, err := fx.planner.Run(context.Background(), fx.sessID, "hello", fx.session)
	if err == nil {
		t.Fatal("want engine error")
	}
	_ = res

	// The user message still persisted and the stream closed cleanly.
	ac, acErr := fx.mgr.BuildAgentContext(context.Background(), fx.sessID)
	if acErr != nil {
		t.Fatal(acErr)
	}
	if len(ac.Messages) != 1 || ac.Messages[0].Role != "user" {
		t.Errorf("persisted = %+v", ac.Messages)
	}
	kinds := fx.capture.kinds()
	if kinds[len(kinds)-1] != events.KindConversationEnd {
		t.Errorf("last event = %s", kinds[len(kinds)-1])
	}
	errEvents := fx.capture.byKind(events.KindError)
	if len(errEvents) != 1 {
		t.Errorf("error events = %d", len(errEvents))
	}

	// The failed turn still closed its assistant frame.
	starts := fx.capture.byKind(events.KindAssistantMessageStart)
	ends := fx.capture.byKind(events.KindAssistantMessageEnd)
	if len(starts) != len(ends) {
		t.Errorf("assistant starts = %d, ends = %d", len(starts), len(ends))
	}
}
