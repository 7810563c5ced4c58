package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session status values. Soft deletion and archival are both status
// transitions; only 'deleted' hides a session from listings.
const (
	SessionActive   = "active"
	SessionArchived = "archived"
	SessionDeleted  = "deleted"
)

// Session is one conversation's row.
type Session struct {
	ID            string    `json:"session_id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	LastActivity  time.Time `json:"last_activity"`
	ProjectStage  string    `json:"project_stage,omitempty"`
	TotalMessages int       `json:"total_messages"`
	TotalTokens   int       `json:"total_tokens"`
	Metadata      string    `json:"metadata,omitempty"`
	Status        string    `json:"status"`
}

const sessionColumns = `session_id, title, created_at, updated_at, last_activity,
	project_stage, total_messages, total_tokens, metadata, status`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	var created, updated, activity string
	err := row.Scan(&s.ID, &s.Title, &created, &updated, &activity,
		&s.ProjectStage, &s.TotalMessages, &s.TotalTokens, &s.Metadata, &s.Status)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = parseTime(created)
	s.UpdatedAt = parseTime(updated)
	s.LastActivity = parseTime(activity)
	return &s, nil
}

// InsertSessionTx creates a session row inside tx.
func InsertSessionTx(tx *sql.Tx, s *Session) error {
	now := formatTime(s.CreatedAt)
	if s.Metadata == "" {
		s.Metadata = "{}"
	}
	if s.Status == "" {
		s.Status = SessionActive
	}
	_, err := tx.Exec(
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		s.ID, s.Title, now, now, now, s.ProjectStage, s.Metadata, s.Status,
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

// GetSession loads one session by exact id. Soft-deleted sessions are
// still returned; callers decide whether deletion matters.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

// FindSessionByPrefix resolves a partial session id. Exactly one live
// match is required; zero or several is an error.
func (s *Store) FindSessionByPrefix(ctx context.Context, prefix string) (*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE session_id LIKE ? || '%' AND status != 'deleted'
		 LIMIT 3`, prefix)
	if err != nil {
		return nil, fmt.Errorf("find session by prefix: %w", err)
	}
	defer rows.Close()

	var matches []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		matches = append(matches, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("session prefix %q: %w", prefix, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("session prefix %q is ambiguous", prefix)
	}
}

// ListSessions returns live sessions ordered by recency.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE status != 'deleted'
		 ORDER BY updated_at DESC
		 LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpdateSessionTitle sets a session's title.
func (s *Store) UpdateSessionTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE session_id = ?`,
		title, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetSessionStatus moves a session between active, archived and deleted.
func (s *Store) SetSessionStatus(ctx context.Context, id, status string) error {
	switch status {
	case SessionActive, SessionArchived, SessionDeleted:
	default:
		return fmt.Errorf("invalid session status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE session_id = ?`,
		status, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// SoftDeleteSession hides a session from listings without dropping rows.
func (s *Store) SoftDeleteSession(ctx context.Context, id string) error {
	return s.SetSessionStatus(ctx, id, SessionDeleted)
}

// PurgeDeletedSessions hard-deletes soft-deleted sessions whose last
// activity is older than cutoff. Cascades remove dependent rows.
func (s *Store) PurgeDeletedSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE status = 'deleted' AND last_activity < ?`,
		formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// SessionStatistics aggregates one session's stored activity.
type SessionStatistics struct {
	Session          *Session       `json:"session"`
	MessagesByRole   map[string]int `json:"messages_by_role"`
	ToolExecutions   int            `json:"tool_executions"`
	FailedExecutions int            `json:"failed_executions"`
	ContextVersions  int            `json:"context_versions"`
	ActiveVersion    int            `json:"active_version"`
}

// GetSessionStatistics gathers per-role message counts and tool and
// compression activity for one session.
func (s *Store) GetSessionStatistics(ctx context.Context, id string) (*SessionStatistics, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	stats := &SessionStatistics{
		Session:        sess,
		MessagesByRole: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, COUNT(*) FROM messages WHERE session_id = ? GROUP BY role`, id)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		stats.MessagesByRole[role] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		 FROM tool_executions WHERE session_id = ?`, id).
		Scan(&stats.ToolExecutions, &stats.FailedExecutions)
	if err != nil {
		return nil, fmt.Errorf("count tool executions: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(MAX(CASE WHEN is_active = 1 THEN version END), 0)
		 FROM compressed_context WHERE session_id = ?`, id).
		Scan(&stats.ContextVersions, &stats.ActiveVersion)
	if err != nil {
		return nil, fmt.Errorf("count contexts: %w", err)
	}

	return stats, nil
}
