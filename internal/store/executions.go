package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tool execution status values.
const (
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// ToolExecution is one tool call's audit row.
type ToolExecution struct {
	ID              string
	SessionID       string
	MessageID       string
	ToolName        string
	Arguments       string // JSON object
	Result          string // JSON value
	Status          string
	ErrorMessage    string
	ExecutionTimeMS float64
	StartedAt       time.Time
	CompletedAt     time.Time
	CreatedAt       time.Time
}

const executionColumns = `execution_id, session_id, message_id, tool_name,
	arguments, result, status, error_message, execution_time_ms,
	started_at, completed_at, created_at`

// InsertToolExecutionTx records one tool call inside tx. Missing
// timestamps are derived from created_at and the measured duration.
func InsertToolExecutionTx(tx *sql.Tx, e *ToolExecution) error {
	if e.Arguments == "" {
		e.Arguments = "{}"
	}
	if e.Result == "" {
		e.Result = "null"
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = e.CreatedAt
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = e.CompletedAt.Add(-time.Duration(e.ExecutionTimeMS * float64(time.Millisecond)))
	}
	_, err := tx.Exec(
		`INSERT INTO tool_executions (`+executionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.MessageID, e.ToolName,
		e.Arguments, e.Result, e.Status, e.ErrorMessage,
		e.ExecutionTimeMS, formatTime(e.StartedAt), formatTime(e.CompletedAt),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert tool execution %s: %w", e.ID, err)
	}
	return nil
}

// ListToolExecutions returns a session's tool calls oldest first.
func (s *Store) ListToolExecutions(ctx context.Context, sessionID string) ([]*ToolExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM tool_executions
		 WHERE session_id = ?
		 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tool executions: %w", err)
	}
	defer rows.Close()

	var out []*ToolExecution
	for rows.Next() {
		var e ToolExecution
		var started, completed, created string
		err := rows.Scan(&e.ID, &e.SessionID, &e.MessageID, &e.ToolName,
			&e.Arguments, &e.Result, &e.Status, &e.ErrorMessage,
			&e.ExecutionTimeMS, &started, &completed, &created)
		if err != nil {
			return nil, fmt.Errorf("scan tool execution: %w", err)
		}
		e.StartedAt = parseTime(started)
		e.CompletedAt = parseTime(completed)
		e.CreatedAt = parseTime(created)
		out = append(out, &e)
	}
	return out, rows.Err()
}
