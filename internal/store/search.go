package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SearchHit is one full-text match.
type SearchHit struct {
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id"`
	Role      string    `json:"role"`
	Snippet   string    `json:"snippet"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchMessages runs an FTS5 query over stored message content. The
// query is quoted per token so user input cannot inject FTS syntax.
func (s *Store) SearchMessages(ctx context.Context, query string, limit int) ([]*SearchHit, error) {
	q := ftsQuote(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, message_id, role,
		        snippet(search_index, 0, '[', ']', '…', 12),
		        created_at
		 FROM search_index
		 WHERE search_index MATCH ?
		 ORDER BY rank
		 LIMIT ?`, q, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var out []*SearchHit
	for rows.Next() {
		var h SearchHit
		var created string
		if err := rows.Scan(&h.SessionID, &h.MessageID, &h.Role, &h.Snippet, &created); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		h.CreatedAt = parseTime(created)
		out = append(out, &h)
	}
	return out, rows.Err()
}

// ftsQuote turns free text into a safe FTS5 query: each token becomes a
// quoted phrase, joined with implicit AND.
func ftsQuote(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}
