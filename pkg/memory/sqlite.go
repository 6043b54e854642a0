package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SessionStore persists session exports in SQLite, keyed by session ID.
// It backs the in-process Memory for durability across process restarts;
// retention and eviction are driven by the caller, not the store.
type SessionStore struct {
	db *sql.DB
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    context_json TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS messages (
    session_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    timestamp_ms INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    metadata_json TEXT,
    PRIMARY KEY (session_id, seq),
    FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS store_metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

const sessionSchemaVersion = 1

// NewSessionStore opens (creating if needed) a session store at dbPath.
// Use ":memory:" for an ephemeral store in tests.
func NewSessionStore(dbPath string) (*SessionStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SessionStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SessionStore) init() error {
	if _, err := s.db.Exec(sessionSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version > sessionSchemaVersion {
		return fmt.Errorf("session store schema version %d is newer than supported %d", version, sessionSchemaVersion)
	}
	if version < sessionSchemaVersion {
		if err := s.setMetadata("schema_version", strconv.Itoa(sessionSchemaVersion)); err != nil {
			return err
		}
	}
	return nil
}

func (s *SessionStore) schemaVersion() (int, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM store_metadata WHERE key = ?`, "schema_version").Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid schema_version %q: %w", value, err)
	}
	return v, nil
}

func (s *SessionStore) setMetadata(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO store_metadata (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("writing store metadata: %w", err)
	}
	return nil
}

// SaveSession writes a session export, replacing any prior state for the
// same session ID. The whole write is transactional.
func (s *SessionStore) SaveSession(export SessionExport) error {
	if export.SessionID == "" {
		return fmt.Errorf("session export has no session ID")
	}

	contextJSON, err := json.Marshal(export.PatientContext)
	if err != nil {
		return fmt.Errorf("marshaling patient context: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	createdAt := export.PatientContext.CreatedAt.UnixMilli()
	if export.PatientContext.CreatedAt.IsZero() {
		createdAt = now
	}

	if _, err := tx.Exec(`
		INSERT INTO sessions (session_id, created_at, updated_at, context_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET updated_at = excluded.updated_at, context_json = excluded.context_json
	`, export.SessionID, createdAt, now, string(contextJSON)); err != nil {
		return fmt.Errorf("saving session row: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, export.SessionID); err != nil {
		return fmt.Errorf("clearing old messages: %w", err)
	}

	for i, msg := range export.Conversation {
		var metadataJSON sql.NullString
		if msg.Metadata != nil {
			data, err := json.Marshal(msg.Metadata)
			if err != nil {
				return fmt.Errorf("marshaling message %d metadata: %w", i, err)
			}
			metadataJSON = sql.NullString{String: string(data), Valid: true}
		}

		if _, err := tx.Exec(`
			INSERT INTO messages (session_id, seq, timestamp_ms, role, content, metadata_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`, export.SessionID, i, msg.Timestamp.UnixMilli(), string(msg.Role), msg.Content, metadataJSON); err != nil {
			return fmt.Errorf("saving message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing save: %w", err)
	}
	return nil
}

// LoadSession reads a session export. Returns (nil, nil) if the session
// is not stored.
func (s *SessionStore) LoadSession(sessionID string) (*SessionExport, error) {
	var contextJSON string
	err := s.db.QueryRow(`SELECT context_json FROM sessions WHERE session_id = ?`, sessionID).Scan(&contextJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session row: %w", err)
	}

	export := SessionExport{
		Version:   ExportVersion,
		SessionID: sessionID,
	}
	if err := json.Unmarshal([]byte(contextJSON), &export.PatientContext); err != nil {
		return nil, fmt.Errorf("parsing patient context: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT timestamp_ms, role, content, metadata_json
		FROM messages
		WHERE session_id = ?
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var timestampMs int64
		var role, content string
		var metadataJSON sql.NullString

		if err := rows.Scan(&timestampMs, &role, &content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		msg := Message{
			Timestamp: time.UnixMilli(timestampMs),
			Role:      Role(role),
			Content:   content,
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			var meta MessageMetadata
			if err := json.Unmarshal([]byte(metadataJSON.String), &meta); err != nil {
				return nil, fmt.Errorf("parsing message metadata: %w", err)
			}
			msg.Metadata = &meta
		}

		export.Conversation = append(export.Conversation, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return &export, nil
}

// DeleteSession removes a stored session. Deleting an absent session is a no-op.
func (s *SessionStore) DeleteSession(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// ListSessions returns the IDs of all stored sessions, oldest first
func (s *SessionStore) ListSessions() ([]string, error) {
	rows, err := s.db.Query(`SELECT session_id FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return ids, nil
}

// Close closes the underlying database
func (s *SessionStore) Close() error {
	return s.db.Close()
}
