package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Message is one conversation message row. JSON-typed columns stay as
// strings here; the sessions facade owns their shape.
type Message struct {
	ID         string
	SessionID  string
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  string // JSON array
	Metadata   string // JSON object
	TokenCount int
	Seq        int
	CreatedAt  time.Time
}

const messageColumns = `message_id, session_id, role, content, tool_call_id,
	tool_calls, metadata, token_count, sequence_number, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var created string
	err := row.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.ToolCallID,
		&m.ToolCalls, &m.Metadata, &m.TokenCount, &m.Seq, &created)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = parseTime(created)
	return &m, nil
}

// InsertMessageTx appends one message inside tx, assigning the next
// sequence number for its session. Session counters and the search index
// update via triggers.
func InsertMessageTx(tx *sql.Tx, m *Message) error {
	if m.ToolCalls == "" {
		m.ToolCalls = "[]"
	}
	if m.Metadata == "" {
		m.Metadata = "{}"
	}

	err := tx.QueryRow(
		`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM messages WHERE session_id = ?`,
		m.SessionID,
	).Scan(&m.Seq)
	if err != nil {
		return fmt.Errorf("next sequence number: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO messages (`+messageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, m.ToolCallID,
		m.ToolCalls, m.Metadata, m.TokenCount, m.Seq, formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	return nil
}

// ListMessages returns a session's messages in sequence order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE session_id = ?
		 ORDER BY sequence_number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMessages returns the number of stored messages for a session.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
