// Package sessions is the facade over persistent conversation state. It
// owns the message/context mirror write: every appended message lands in
// the messages table and in the session's active compressed context
// inside one transaction, so agent input can always be rebuilt from the
// active context alone.
package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jennifer88huang/gtplanner/internal/providers"
	"github.com/jennifer88huang/gtplanner/internal/store"
)

// Manager wraps the store with conversation-level operations.
type Manager struct {
	store *store.Store
}

func NewManager(s *store.Store) *Manager {
	return &Manager{store: s}
}

// Store exposes the underlying store for read paths that need it.
func (m *Manager) Store() *store.Store { return m.store }

// CreateSession creates a session row together with its version-1 active
// context in one transaction. A session without an active context never
// exists, even transiently.
func (m *Manager) CreateSession(ctx context.Context, title string) (*store.Session, error) {
	sess := &store.Session{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(title),
		CreatedAt: time.Now(),
	}
	err := m.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.InsertSessionTx(tx, sess); err != nil {
			return err
		}
		return store.InsertContextTx(tx, &store.Context{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Version:   1,
			IsActive:  true,
			CreatedAt: sess.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	slog.Info("session created", "session", sess.ID, "title", sess.Title)
	return sess, nil
}

// LoadSession loads a session by exact id.
func (m *Manager) LoadSession(ctx context.Context, id string) (*store.Session, error) {
	return m.store.GetSession(ctx, id)
}

// LoadSessionByPrefix resolves a session from a partial id.
func (m *Manager) LoadSessionByPrefix(ctx context.Context, prefix string) (*store.Session, error) {
	return m.store.FindSessionByPrefix(ctx, prefix)
}

// ListSessions returns live sessions, most recently active first.
func (m *Manager) ListSessions(ctx context.Context, limit, offset int) ([]*store.Session, error) {
	return m.store.ListSessions(ctx, limit, offset)
}

// DeleteSession soft-deletes a session.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	return m.store.SoftDeleteSession(ctx, id)
}

// ArchiveSession marks a session archived. Archived sessions stay
// listed and loadable; only deletion hides them.
func (m *Manager) ArchiveSession(ctx context.Context, id string) error {
	return m.store.SetSessionStatus(ctx, id, store.SessionArchived)
}

// SearchSessions runs full-text search over stored message content.
func (m *Manager) SearchSessions(ctx context.Context, query string, limit int) ([]*store.SearchHit, error) {
	return m.store.SearchMessages(ctx, query, limit)
}

// Statistics aggregates one session's stored activity.
func (m *Manager) Statistics(ctx context.Context, id string) (*store.SessionStatistics, error) {
	return m.store.GetSessionStatistics(ctx, id)
}

// SetTitle names a session, typically from its first user input.
func (m *Manager) SetTitle(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	const maxTitle = 80
	if len(title) > maxTitle {
		title = title[:maxTitle]
	}
	return m.store.UpdateSessionTitle(ctx, id, title)
}

// AddUserMessage appends a user message with the mirror write.
func (m *Manager) AddUserMessage(ctx context.Context, sessionID, content string) error {
	return m.appendMessages(ctx, sessionID, []providers.Message{
		{Role: "user", Content: content},
	}, nil, nil)
}

// AddAssistantMessage appends an assistant message, optionally carrying
// tool calls, with the mirror write.
func (m *Manager) AddAssistantMessage(ctx context.Context, sessionID, content string, toolCalls []providers.ToolCall) error {
	return m.appendMessages(ctx, sessionID, []providers.Message{
		{Role: "assistant", Content: content, ToolCalls: toolCalls},
	}, nil, nil)
}

// AddToolMessage appends a tool result message with the mirror write.
func (m *Manager) AddToolMessage(ctx context.Context, sessionID, toolCallID, content string) error {
	if toolCallID == "" {
		return fmt.Errorf("tool message for session %s has no tool_call_id", sessionID)
	}
	return m.appendMessages(ctx, sessionID, []providers.Message{
		{Role: "tool", Content: content, ToolCallID: toolCallID},
	}, nil, nil)
}

// appendMessages performs the mirror write for a batch of messages plus
// optional context-level updates, all in one transaction.
func (m *Manager) appendMessages(
	ctx context.Context,
	sessionID string,
	msgs []providers.Message,
	resultUpdates map[string]any,
	executions []*store.ToolExecution,
) error {
	return m.store.WithTx(ctx, func(tx *sql.Tx) error {
		active, err := store.ActiveContextTx(tx, sessionID)
		if err != nil {
			return err
		}

		var mirrored []providers.Message
		if err := json.Unmarshal([]byte(active.CompressedMessages), &mirrored); err != nil {
			return fmt.Errorf("decode active context messages for %s: %w", sessionID, err)
		}

		for _, msg := range msgs {
			rec := &store.Message{
				ID:         uuid.NewString(),
				SessionID:  sessionID,
				Role:       msg.Role,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
				TokenCount: EstimateTokens(msg.Content),
				CreatedAt:  time.Now(),
			}
			if len(msg.ToolCalls) > 0 {
				calls, err := json.Marshal(msg.ToolCalls)
				if err != nil {
					return fmt.Errorf("encode tool calls: %w", err)
				}
				rec.ToolCalls = string(calls)
			}
			if err := store.InsertMessageTx(tx, rec); err != nil {
				return err
			}
			mirrored = append(mirrored, msg)
		}

		data, err := json.Marshal(mirrored)
		if err != nil {
			return fmt.Errorf("encode context messages: %w", err)
		}
		active.CompressedMessages = string(data)
		active.CompressedMessageCount = len(mirrored)
		tokens := 0
		for _, m := range mirrored {
			tokens += EstimateTokens(m.Content)
		}
		active.CompressedTokenCount = tokens

		if len(resultUpdates) > 0 {
			results := make(map[string]any)
			if err := json.Unmarshal([]byte(active.ToolExecutionResults), &results); err != nil {
				return fmt.Errorf("decode tool execution results for %s: %w", sessionID, err)
			}
			// Whole-value replacement per key; absent keys are untouched.
			for k, v := range resultUpdates {
				results[k] = v
			}
			merged, err := json.Marshal(results)
			if err != nil {
				return fmt.Errorf("encode tool execution results: %w", err)
			}
			active.ToolExecutionResults = string(merged)
		}

		if err := store.UpdateContextPayloadTx(tx, active); err != nil {
			return err
		}

		for _, exec := range executions {
			if exec.ID == "" {
				exec.ID = uuid.NewString()
			}
			exec.SessionID = sessionID
			if exec.CreatedAt.IsZero() {
				exec.CreatedAt = time.Now()
			}
			if err := store.InsertToolExecutionTx(tx, exec); err != nil {
				return err
			}
		}
		return nil
	})
}

// EstimateTokens approximates token count from text length. Used when the
// provider reports no usage.
func EstimateTokens(content string) int {
	return (len(content) + 3) / 4
}
