package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Context is one compressed_context row. Exactly one row per session is
// active at a time; it is the sole source for building agent input.
type Context struct {
	ID                   string
	SessionID            string
	Version              int
	CompressedMessages   string // JSON array of messages
	Summary              string
	KeyDecisions         string // JSON array of strings
	ToolExecutionResults string // JSON object keyed by result kind
	IsActive               bool
	OriginalMessageCount   int
	CompressedMessageCount int
	OriginalTokenCount     int
	CompressedTokenCount   int
	CompressionRatio       float64
	CreatedAt              time.Time
}

const contextColumns = `context_id, session_id, version, compressed_messages,
	summary, key_decisions, tool_execution_results, is_active,
	original_message_count, compressed_message_count, original_token_count,
	compressed_token_count, compression_ratio, created_at`

func scanContext(row interface{ Scan(...any) error }) (*Context, error) {
	var c Context
	var created string
	var active int
	err := row.Scan(&c.ID, &c.SessionID, &c.Version, &c.CompressedMessages,
		&c.Summary, &c.KeyDecisions, &c.ToolExecutionResults, &active,
		&c.OriginalMessageCount, &c.CompressedMessageCount, &c.OriginalTokenCount,
		&c.CompressedTokenCount, &c.CompressionRatio, &created)
	if err != nil {
		return nil, err
	}
	c.IsActive = active != 0
	c.CreatedAt = parseTime(created)
	return &c, nil
}

func (c *Context) normalize() {
	if c.CompressedMessages == "" {
		c.CompressedMessages = "[]"
	}
	if c.KeyDecisions == "" {
		c.KeyDecisions = "[]"
	}
	if c.ToolExecutionResults == "" {
		c.ToolExecutionResults = "{}"
	}
}

// InsertContextTx writes a context row inside tx. It does not touch
// other rows' is_active flags; use SwapActiveContextTx for rotation.
func InsertContextTx(tx *sql.Tx, c *Context) error {
	c.normalize()
	active := 0
	if c.IsActive {
		active = 1
	}
	_, err := tx.Exec(
		`INSERT INTO compressed_context (`+contextColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.Version, c.CompressedMessages,
		c.Summary, c.KeyDecisions, c.ToolExecutionResults, active,
		c.OriginalMessageCount, c.CompressedMessageCount, c.OriginalTokenCount,
		c.CompressedTokenCount, c.CompressionRatio, formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert context v%d for %s: %w", c.Version, c.SessionID, err)
	}
	return nil
}

// ActiveContextTx loads the session's active context inside tx.
func ActiveContextTx(tx *sql.Tx, sessionID string) (*Context, error) {
	row := tx.QueryRow(
		`SELECT `+contextColumns+` FROM compressed_context
		 WHERE session_id = ? AND is_active = 1`, sessionID)
	c, err := scanContext(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNoActiveContext)
	}
	if err != nil {
		return nil, fmt.Errorf("active context for %s: %w", sessionID, err)
	}
	return c, nil
}

// ActiveContext loads the session's active context.
func (s *Store) ActiveContext(ctx context.Context, sessionID string) (*Context, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contextColumns+` FROM compressed_context
		 WHERE session_id = ? AND is_active = 1`, sessionID)
	c, err := scanContext(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNoActiveContext)
	}
	if err != nil {
		return nil, fmt.Errorf("active context for %s: %w", sessionID, err)
	}
	return c, nil
}

// UpdateContextPayloadTx rewrites the mutable payload columns of one
// context row inside tx. Used by the mirror write that keeps the active
// context in step with the messages table.
func UpdateContextPayloadTx(tx *sql.Tx, c *Context) error {
	c.normalize()
	res, err := tx.Exec(
		`UPDATE compressed_context
		 SET compressed_messages = ?, tool_execution_results = ?,
		     compressed_message_count = ?, compressed_token_count = ?
		 WHERE context_id = ?`,
		c.CompressedMessages, c.ToolExecutionResults,
		c.CompressedMessageCount, c.CompressedTokenCount, c.ID)
	if err != nil {
		return fmt.Errorf("update context %s: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("context %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

// SwapActiveContextTx atomically deactivates the session's current active
// context and inserts next as the new active row. Next's version must be
// the successor of the current one.
func SwapActiveContextTx(tx *sql.Tx, next *Context) error {
	_, err := tx.Exec(
		`UPDATE compressed_context SET is_active = 0
		 WHERE session_id = ? AND is_active = 1`, next.SessionID)
	if err != nil {
		return fmt.Errorf("deactivate context for %s: %w", next.SessionID, err)
	}
	next.IsActive = true
	return InsertContextTx(tx, next)
}

// ListContextVersions returns every context row for a session, oldest
// version first.
func (s *Store) ListContextVersions(ctx context.Context, sessionID string) ([]*Context, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contextColumns+` FROM compressed_context
		 WHERE session_id = ?
		 ORDER BY version`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var out []*Context
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
