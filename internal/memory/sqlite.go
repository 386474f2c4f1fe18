package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists conversation memory and run history across sessions.
type SQLiteStore struct {
	db        *sql.DB
	sessionID string
}

// NewSQLiteStore opens (creating if needed) the store at dbPath, scoped to
// one session.
func NewSQLiteStore(dbPath, sessionID string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db, sessionID: sessionID}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);

	CREATE TABLE IF NOT EXISTS run_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		session_id TEXT NOT NULL,
		query TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		outcome TEXT NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_session ON run_history(session_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Add appends a conversation message.
func (s *SQLiteStore) Add(role, content string) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (timestamp, session_id, role, content) VALUES (?, ?, ?, ?)`,
		time.Now(), s.sessionID, role, content,
	)
	return err
}

// History returns up to n most recent messages for the session, oldest first.
func (s *SQLiteStore) History(n int) ([]Message, error) {
	if n <= 0 {
		n = 100
	}

	rows, err := s.db.Query(`
		SELECT timestamp, role, content
		FROM messages
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?`, s.sessionID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.CreatedAt, &m.Role, &m.Content); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Clear drops the session's messages. Run history is kept.
func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE session_id = ?`, s.sessionID)
	return err
}

// RecordRun appends one run to the history.
func (s *SQLiteStore) RecordRun(rec RunRecord) error {
	sessionID := rec.SessionID
	if sessionID == "" {
		sessionID = s.sessionID
	}
	_, err := s.db.Exec(`
		INSERT INTO run_history (timestamp, session_id, query, fingerprint, outcome, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now(), sessionID, rec.Query, rec.Fingerprint, rec.Outcome, rec.Duration.Milliseconds(),
	)
	return err
}

// RecentRuns returns up to limit most recent runs for the session.
func (s *SQLiteStore) RecentRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT timestamp, session_id, query, fingerprint, outcome, duration_ms
		FROM run_history
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?`, s.sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var durationMS int64
		if err := rows.Scan(&rec.CreatedAt, &rec.SessionID, &rec.Query, &rec.Fingerprint, &rec.Outcome, &durationMS); err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
