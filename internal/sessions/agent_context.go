package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jennifer88huang/gtplanner/internal/providers"
	"github.com/jennifer88huang/gtplanner/internal/store"
)

// AgentContext is the orchestrator's input view of one session, built
// exclusively from the active compressed context.
type AgentContext struct {
	SessionID            string
	Messages             []providers.Message
	Summary              string
	KeyDecisions         []string
	ToolExecutionResults map[string]any
	ContextVersion       int
}

// AgentResult is the delta an orchestration run produces. Messages are
// appended in order; result updates replace whole values per key.
type AgentResult struct {
	NewMessages                 []providers.Message
	ToolExecutionResultsUpdates map[string]any
	ToolExecutions              []*store.ToolExecution
}

// BuildAgentContext reconstructs agent input from the session's active
// compressed context. A missing active context is corruption and is
// reported as store.ErrNoActiveContext, never papered over with the raw
// messages table.
func (m *Manager) BuildAgentContext(ctx context.Context, sessionID string) (*AgentContext, error) {
	active, err := m.store.ActiveContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := &AgentContext{
		SessionID:            sessionID,
		Summary:              active.Summary,
		ToolExecutionResults: make(map[string]any),
		ContextVersion:       active.Version,
	}
	if err := json.Unmarshal([]byte(active.CompressedMessages), &out.Messages); err != nil {
		return nil, fmt.Errorf("decode context messages for %s: %w", sessionID, err)
	}
	if err := json.Unmarshal([]byte(active.KeyDecisions), &out.KeyDecisions); err != nil {
		return nil, fmt.Errorf("decode key decisions for %s: %w", sessionID, err)
	}
	if err := json.Unmarshal([]byte(active.ToolExecutionResults), &out.ToolExecutionResults); err != nil {
		return nil, fmt.Errorf("decode tool execution results for %s: %w", sessionID, err)
	}

	out.Messages = SanitizeHistory(out.Messages)
	return out, nil
}

// UpdateFromAgentResult persists an orchestration run's delta in one
// transaction. Tool messages without a tool_call_id are invalid for
// replay and are skipped with a warning rather than failing the whole
// update.
func (m *Manager) UpdateFromAgentResult(ctx context.Context, sessionID string, res *AgentResult) error {
	if res == nil {
		return nil
	}

	msgs := make([]providers.Message, 0, len(res.NewMessages))
	for _, msg := range res.NewMessages {
		if msg.Role == "tool" && msg.ToolCallID == "" {
			slog.Warn("dropping tool message without tool_call_id", "session", sessionID)
			continue
		}
		msgs = append(msgs, msg)
	}

	return m.appendMessages(ctx, sessionID, msgs, res.ToolExecutionResultsUpdates, res.ToolExecutions)
}

// SanitizeHistory repairs a dialogue so it replays cleanly against
// OpenAI-compatible APIs: orphan tool results are dropped, and assistant
// tool calls with no recorded result get a synthetic one.
func SanitizeHistory(msgs []providers.Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	var pending []string // call ids awaiting a tool result, in call order
	seen := make(map[string]bool)

	flushPending := func() {
		for _, id := range pending {
			if !seen[id] {
				continue
			}
			seen[id] = false
			out = append(out, providers.Message{
				Role:       "tool",
				Content:    "(result unavailable)",
				ToolCallID: id,
			})
		}
		pending = pending[:0]
	}

	for _, msg := range msgs {
		switch msg.Role {
		case "assistant":
			flushPending()
			out = append(out, msg)
			for _, tc := range msg.ToolCalls {
				pending = append(pending, tc.ID)
				seen[tc.ID] = true
			}
		case "tool":
			if !seen[msg.ToolCallID] {
				slog.Debug("dropping orphan tool message", "tool_call_id", msg.ToolCallID)
				continue
			}
			seen[msg.ToolCallID] = false
			out = append(out, msg)
		default:
			flushPending()
			out = append(out, msg)
		}
	}
	flushPending()
	return out
}
