package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jennifer88huang/gtplanner/internal/compressor"
	"github.com/jennifer88huang/gtplanner/internal/events"
	"github.com/jennifer88huang/gtplanner/internal/providers"
	"github.com/jennifer88huang/gtplanner/internal/sessions"
	"github.com/jennifer88huang/gtplanner/internal/stream"
)

// Planner is the request-level entry point: it loads session context,
// drives the engine, persists the run's delta and frames the whole thing
// in conversation start/end events.
type Planner struct {
	engine     *Engine
	sessions   *sessions.Manager
	compressor *compressor.Compressor // optional
	language   string
	tracer     trace.Tracer
}

func NewPlanner(engine *Engine, mgr *sessions.Manager, comp *compressor.Compressor, language string) *Planner {
	if language == "" {
		language = "en"
	}
	return &Planner{
		engine:     engine,
		sessions:   mgr,
		compressor: comp,
		language:   language,
		tracer:     otel.Tracer("gtplanner/planner"),
	}
}

// RunResult is what one planning request produced.
type RunResult struct {
	FinalMessage  string
	Success       bool
	Errors        []string
	Usage         providers.Usage
	ResultUpdates map[string]any
	ExecutionTime time.Duration
}

// Run processes one user input against a session. Pre-run failures
// (validation, missing context) return an error before any model work;
// failures mid-run are contained and reported through the result and the
// conversation_end event.
func (p *Planner) Run(ctx context.Context, sessionID, userInput string, sess *stream.Session) (*RunResult, error) {
	userInput = strings.TrimSpace(userInput)
	if userInput == "" {
		return nil, &ValidationError{Field: "user_input", Reason: "must not be empty"}
	}
	if sessionID == "" {
		return nil, &ValidationError{Field: "session_id", Reason: "must not be empty"}
	}

	ctx, span := p.tracer.Start(ctx, "planner.run",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	start := time.Now()
	sess.Start()
	sess.Emit(events.ConversationStart(sessionID, userInput))

	ac, err := p.sessions.BuildAgentContext(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		sess.Emit(events.Error(sessionID, "failed to load session context", err.Error()))
		sess.Emit(events.ConversationEnd(sessionID, events.ConversationEndData{
			Success:       false,
			Error:         err.Error(),
			ExecutionTime: time.Since(start).Seconds(),
		}))
		return nil, err
	}

	st := newState(sessionID, p.buildHistory(ac))
	st.appendMessage(providers.Message{Role: "user", Content: userInput})

	runErr := p.engine.Run(ctx, st, sess)
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
	}

	if err := p.sessions.UpdateFromAgentResult(ctx, sessionID, &sessions.AgentResult{
		NewMessages:                 st.NewMessages,
		ToolExecutionResultsUpdates: st.ResultUpdates,
		ToolExecutions:              st.Executions,
	}); err != nil {
		st.recordError("persist", err)
		slog.Error("failed to persist run", "session", sessionID, "error", err)
	}

	p.maybeTitle(ctx, sessionID, userInput)

	if p.compressor != nil {
		p.compressor.CompressIfNeeded(ctx, sessionID)
	}

	res := &RunResult{
		FinalMessage:  st.FinalMessage,
		Success:       runErr == nil,
		Errors:        st.Errors,
		Usage:         st.Usage,
		ResultUpdates: st.ResultUpdates,
		ExecutionTime: time.Since(start),
	}

	end := events.ConversationEndData{
		Success:                     res.Success,
		FinalMessage:                res.FinalMessage,
		ExecutionTime:               res.ExecutionTime.Seconds(),
		ToolExecutionResultsUpdates: st.ResultUpdates,
	}
	if len(st.Errors) > 0 {
		end.Error = strings.Join(st.Errors, "; ")
	}
	sess.Emit(events.ConversationEnd(sessionID, end))

	span.SetAttributes(
		attribute.Bool("run.success", res.Success),
		attribute.Int("run.turns", st.Turn),
		attribute.Int("run.new_messages", len(st.NewMessages)),
	)
	return res, runErr
}

// buildHistory assembles the LLM input: the system prompt derived from
// the active context, then the context's dialogue.
func (p *Planner) buildHistory(ac *sessions.AgentContext) []providers.Message {
	history := make([]providers.Message, 0, len(ac.Messages)+1)
	history = append(history, providers.Message{
		Role:    "system",
		Content: p.systemPrompt(ac),
	})
	history = append(history, ac.Messages...)
	return history
}

func (p *Planner) systemPrompt(ac *sessions.AgentContext) string {
	var sb strings.Builder
	sb.WriteString(`You are a software planning assistant. You help users turn
vague product ideas into concrete, reviewable implementation plans. Use
the available tools to recommend technology, research open questions and
draft or revise the step plan. Think briefly, act through tools, and keep
answers grounded in what the tools returned.`)
	fmt.Fprintf(&sb, "\n\nRespond in language: %s.", p.language)

	if ac.Summary != "" {
		sb.WriteString("\n\nConversation so far (summary):\n")
		sb.WriteString(ac.Summary)
	}
	if len(ac.KeyDecisions) > 0 {
		sb.WriteString("\n\nDecisions already made:\n")
		for _, d := range ac.KeyDecisions {
			sb.WriteString("- ")
			sb.WriteString(d)
			sb.WriteString("\n")
		}
	}
	if len(ac.ToolExecutionResults) > 0 {
		if data, err := json.Marshal(ac.ToolExecutionResults); err == nil {
			sb.WriteString("\n\nCurrent working results:\n")
			sb.Write(data)
		}
	}
	return sb.String()
}

// maybeTitle names an untitled session after its first input.
func (p *Planner) maybeTitle(ctx context.Context, sessionID, userInput string) {
	sess, err := p.sessions.LoadSession(ctx, sessionID)
	if err != nil || sess.Title != "" {
		return
	}
	if err := p.sessions.SetTitle(ctx, sessionID, userInput); err != nil {
		slog.Warn("failed to set session title", "session", sessionID, "error", err)
	}
}
