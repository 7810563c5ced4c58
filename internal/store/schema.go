package store

import (
	"fmt"
)

const schemaVersion = "1"

// schema is the full idempotent DDL. CREATE IF NOT EXISTS keeps reopen
// cheap; golang-migrate handles cross-version upgrades separately.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id     TEXT PRIMARY KEY,
    title          TEXT NOT NULL DEFAULT '',
    created_at     TEXT NOT NULL,
    updated_at     TEXT NOT NULL,
    last_activity  TEXT NOT NULL,
    project_stage  TEXT NOT NULL DEFAULT '',
    total_messages INTEGER NOT NULL DEFAULT 0,
    total_tokens   INTEGER NOT NULL DEFAULT 0,
    metadata       TEXT NOT NULL DEFAULT '{}',
    status         TEXT NOT NULL DEFAULT 'active'
                   CHECK (status IN ('active','archived','deleted'))
);

CREATE TABLE IF NOT EXISTS messages (
    message_id      TEXT PRIMARY KEY,
    session_id      TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
    role            TEXT NOT NULL CHECK (role IN ('user','assistant','tool','system')),
    content         TEXT NOT NULL DEFAULT '',
    tool_call_id    TEXT NOT NULL DEFAULT '',
    tool_calls      TEXT NOT NULL DEFAULT '[]',
    metadata        TEXT NOT NULL DEFAULT '{}',
    token_count     INTEGER NOT NULL DEFAULT 0,
    sequence_number INTEGER NOT NULL,
    created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS compressed_context (
    context_id             TEXT PRIMARY KEY,
    session_id             TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
    version                INTEGER NOT NULL,
    compressed_messages    TEXT NOT NULL DEFAULT '[]',
    summary                TEXT NOT NULL DEFAULT '',
    key_decisions          TEXT NOT NULL DEFAULT '[]',
    tool_execution_results TEXT NOT NULL DEFAULT '{}',
    is_active              INTEGER NOT NULL DEFAULT 0,
    original_message_count   INTEGER NOT NULL DEFAULT 0,
    compressed_message_count INTEGER NOT NULL DEFAULT 0,
    original_token_count     INTEGER NOT NULL DEFAULT 0,
    compressed_token_count   INTEGER NOT NULL DEFAULT 0,
    compression_ratio        REAL NOT NULL DEFAULT 0,
    created_at             TEXT NOT NULL,
    UNIQUE (session_id, version)
);

CREATE TABLE IF NOT EXISTS tool_executions (
    execution_id      TEXT PRIMARY KEY,
    session_id        TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
    message_id        TEXT NOT NULL DEFAULT '',
    tool_name         TEXT NOT NULL,
    arguments         TEXT NOT NULL DEFAULT '{}',
    result            TEXT NOT NULL DEFAULT 'null',
    status            TEXT NOT NULL CHECK (status IN ('completed','failed')),
    error_message     TEXT NOT NULL DEFAULT '',
    execution_time_ms REAL NOT NULL DEFAULT 0,
    started_at        TEXT NOT NULL DEFAULT '',
    completed_at      TEXT NOT NULL DEFAULT '',
    created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS database_metadata (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS search_index USING fts5(
    content,
    session_id UNINDEXED,
    message_id UNINDEXED,
    role UNINDEXED,
    created_at UNINDEXED
);

CREATE INDEX IF NOT EXISTS idx_messages_session_seq
    ON messages(session_id, sequence_number);
CREATE INDEX IF NOT EXISTS idx_messages_created
    ON messages(created_at);
CREATE INDEX IF NOT EXISTS idx_context_session_active
    ON compressed_context(session_id, is_active);
CREATE INDEX IF NOT EXISTS idx_tool_executions_session
    ON tool_executions(session_id, started_at);
CREATE INDEX IF NOT EXISTS idx_sessions_updated
    ON sessions(updated_at);

CREATE TRIGGER IF NOT EXISTS trg_messages_after_insert
AFTER INSERT ON messages
BEGIN
    UPDATE sessions
    SET total_messages = total_messages + 1,
        total_tokens   = total_tokens + NEW.token_count,
        updated_at     = NEW.created_at,
        last_activity  = NEW.created_at
    WHERE session_id = NEW.session_id;

    INSERT INTO search_index (content, session_id, message_id, role, created_at)
    VALUES (NEW.content, NEW.session_id, NEW.message_id, NEW.role, NEW.created_at);
END;

CREATE TRIGGER IF NOT EXISTS trg_messages_after_delete
AFTER DELETE ON messages
BEGIN
    UPDATE sessions
    SET total_messages = MAX(total_messages - 1, 0),
        total_tokens   = MAX(total_tokens - OLD.token_count, 0)
    WHERE session_id = OLD.session_id;

    DELETE FROM search_index WHERE message_id = OLD.message_id;
END;

CREATE TRIGGER IF NOT EXISTS trg_sessions_after_delete
AFTER DELETE ON sessions
BEGIN
    DELETE FROM search_index WHERE session_id = OLD.session_id;
END;
`

func (s *Store) applySchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	_, err := s.db.Exec(
		`INSERT INTO database_metadata (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		schemaVersion,
	)
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// SchemaVersion reads the recorded schema version.
func (s *Store) SchemaVersion() (string, error) {
	var v string
	err := s.db.QueryRow(
		`SELECT value FROM database_metadata WHERE key = 'schema_version'`,
	).Scan(&v)
	if err != nil {
		return "", fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
