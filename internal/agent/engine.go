package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jennifer88huang/gtplanner/internal/config"
	"github.com/jennifer88huang/gtplanner/internal/events"
	"github.com/jennifer88huang/gtplanner/internal/providers"
	"github.com/jennifer88huang/gtplanner/internal/store"
	"github.com/jennifer88huang/gtplanner/internal/stream"
	"github.com/jennifer88huang/gtplanner/internal/tools"
)

// Engine runs the recursive LLM/tool cycle for one request. Execution is
// streaming-only: every assistant turn goes through ChatStream and its
// chunks reach the stream session as they arrive.
type Engine struct {
	provider providers.Provider
	registry *tools.Registry
	executor *tools.Executor
	cfg      config.AgentConfig
	tracer   trace.Tracer
}

func NewEngine(provider providers.Provider, registry *tools.Registry, cfg config.AgentConfig) *Engine {
	if cfg.MaxRecursionDepth <= 0 {
		cfg.MaxRecursionDepth = 5
	}
	return &Engine{
		provider: provider,
		registry: registry,
		executor: tools.NewExecutor(registry),
		cfg:      cfg,
		tracer:   otel.Tracer("gtplanner/agent"),
	}
}

// ErrStreamingRequired rejects runs with nowhere to deliver events.
// Execution is streaming-only; there is no silent non-streaming path.
var ErrStreamingRequired = errors.New("streaming required: session has no stream handlers")

// Run drives cycles until an assistant turn requests no tools or the
// recursion cap is hit. LLM and tool failures are contained in the state;
// the returned error is reserved for conditions where no progress at all
// was made.
func (e *Engine) Run(ctx context.Context, st *State, sess *stream.Session) error {
	if sess == nil || sess.HandlerCount() == 0 {
		st.recordError("run", ErrStreamingRequired)
		return ErrStreamingRequired
	}
	return e.cycle(ctx, st, sess, 0)
}

func (e *Engine) cycle(ctx context.Context, st *State, sess *stream.Session, depth int) error {
	if depth >= e.cfg.MaxRecursionDepth {
		e.capRecursion(st, sess, depth)
		return nil
	}

	st.Turn++
	ctx, span := e.tracer.Start(ctx, "agent.cycle",
		trace.WithAttributes(
			attribute.String("session.id", st.SessionID),
			attribute.Int("agent.turn", st.Turn),
			attribute.Int("agent.depth", depth),
		))
	defer span.End()

	resp, content, err := e.streamTurn(ctx, st, sess)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		st.recordError(fmt.Sprintf("turn %d", st.Turn), err)
		sess.Emit(events.Error(st.SessionID, "model call failed", err.Error()))
		return err
	}
	if resp.Usage != nil {
		st.Usage.Add(resp.Usage)
		span.SetAttributes(attribute.Int("llm.tokens.total", resp.Usage.TotalTokens))
	}

	st.appendMessage(providers.Message{
		Role:      "assistant",
		Content:   content,
		ToolCalls: resp.ToolCalls,
	})

	if len(resp.ToolCalls) == 0 {
		st.FinalMessage = content
		return nil
	}

	span.SetAttributes(attribute.Int("agent.tool_calls", len(resp.ToolCalls)))
	e.runTools(ctx, st, sess, resp.ToolCalls)

	return e.cycle(ctx, st, sess, depth+1)
}

// streamTurn runs one ChatStream call, filtering tool tags out of the
// streamed text and emitting chunk events. Returns the provider response
// and the filtered complete text.
func (e *Engine) streamTurn(ctx context.Context, st *State, sess *stream.Session) (*providers.ChatResponse, string, error) {
	sess.Emit(events.AssistantMessageStart(st.SessionID, st.Turn))

	filter := &toolTagFilter{}
	var full string
	chunkIndex := 0

	emitChunk := func(text string, complete bool) {
		sess.Emit(events.AssistantMessageChunk(st.SessionID, text, chunkIndex, complete))
		chunkIndex++
	}

	req := providers.ChatRequest{
		Model:    e.cfg.Model,
		Messages: st.History,
		Tools:    e.registry.ProviderDefs(),
		Options:  e.requestOptions(),
	}

	resp, err := e.provider.ChatStream(ctx, req, func(c providers.StreamChunk) {
		if c.Done {
			// The closing chunk is flagged complete and still precedes
			// the end event.
			tail := filter.Flush()
			full += tail
			if chunkIndex > 0 || tail != "" {
				emitChunk(tail, true)
			}
			return
		}
		visible := filter.Feed(c.Content)
		if visible == "" {
			return
		}
		full += visible
		emitChunk(visible, false)
	})
	if err != nil {
		// Close the started assistant frame so consumers never see an
		// unpaired start.
		sess.Emit(events.AssistantMessageEnd(st.SessionID, full, map[string]any{"turn": st.Turn}))
		return nil, "", err
	}

	meta := map[string]any{"turn": st.Turn}
	if resp.Usage != nil {
		meta["usage"] = resp.Usage
	}
	sess.Emit(events.AssistantMessageEnd(st.SessionID, full, meta))
	return resp, full, nil
}

// runTools executes the turn's tool calls in parallel and folds results
// back into the state.
func (e *Engine) runTools(ctx context.Context, st *State, sess *stream.Session, calls []providers.ToolCall) {
	executions := e.executor.ExecuteAll(ctx, st.SessionID, calls, sess.Emit)

	for _, ex := range executions {
		st.appendMessage(ex.Message)
		st.Executions = append(st.Executions, executionRecord(st.SessionID, ex))
		if ex.Result.IsError {
			st.recordError("tool "+ex.Call.Name, fmt.Errorf("%s", ex.Result.ForLLM))
		}
	}

	updates := tools.ExtractResultUpdates(executions)
	for k, v := range updates {
		st.ResultUpdates[k] = v
	}

	// A fresh plan is a document worth announcing on its own.
	for _, ex := range executions {
		if ex.Call.Name == "short_planning" && !ex.Result.IsError {
			sess.Emit(events.DesignDocumentGenerated(st.SessionID, "short_planning", ex.Result.ForLLM))
		}
	}
}

// capRecursion ends a run that hit the depth limit: the partial work is
// kept and a closing assistant message says so.
func (e *Engine) capRecursion(st *State, sess *stream.Session, depth int) {
	slog.Warn("recursion depth limit reached", "session", st.SessionID, "depth", depth)

	st.Turn++
	msg := fmt.Sprintf("Reached maximum recursion depth (%d). Stopping here with the work completed so far.", depth)

	sess.Emit(events.AssistantMessageStart(st.SessionID, st.Turn))
	sess.Emit(events.AssistantMessageChunk(st.SessionID, msg, 0, true))
	sess.Emit(events.AssistantMessageEnd(st.SessionID, msg, map[string]any{
		"turn":           st.Turn,
		"execution_mode": "recursion_limit_reached",
	}))

	st.appendMessage(providers.Message{Role: "assistant", Content: msg})
	st.FinalMessage = msg
}

func (e *Engine) requestOptions() map[string]any {
	opts := map[string]any{}
	if e.cfg.MaxTokens > 0 {
		opts[providers.OptMaxTokens] = e.cfg.MaxTokens
	}
	if e.cfg.Temperature > 0 {
		opts[providers.OptTemperature] = e.cfg.Temperature
	}
	opts[providers.OptParallelToolCalls] = e.cfg.ParallelToolCalls
	return opts
}

func executionRecord(sessionID string, ex tools.Execution) *store.ToolExecution {
	args, _ := json.Marshal(ex.Call.Arguments)
	status := store.ExecutionCompleted
	errMsg := ""
	if ex.Result.IsError {
		status = store.ExecutionFailed
		errMsg = ex.Result.ForLLM
	}

	result := "null"
	if ex.Result.Payload != nil {
		if data, err := json.Marshal(ex.Result.Payload); err == nil {
			result = string(data)
		}
	} else if !ex.Result.IsError && ex.Result.ForLLM != "" {
		if data, err := json.Marshal(ex.Result.ForLLM); err == nil {
			result = string(data)
		}
	}

	now := time.Now()
	return &store.ToolExecution{
		SessionID:       sessionID,
		ToolName:        ex.Call.Name,
		Arguments:       string(args),
		Result:          result,
		Status:          status,
		ErrorMessage:    errMsg,
		ExecutionTimeMS: float64(ex.Duration) / float64(time.Millisecond),
		StartedAt:       now.Add(-ex.Duration),
		CompletedAt:     now,
		CreatedAt:       now,
	}
}
