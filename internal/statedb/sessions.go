package statedb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SessionRow represents a session row in the database.
type SessionRow struct {
	ID          string
	FolderPath  string
	Provider    string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FolderSession is a session listed for a folder, with its linked plan if any.
type FolderSession struct {
	ID         string
	Provider   string
	CreatedAt  string
	LinkedPlan string // empty when the session has no plan link
}

// CreateSession records a new session. Inserting an already-known ID is a
// no-op so providers can re-report their session ID on resume.
func (s *StateDB) CreateSession(sessionID, folderPath, provider string) error {
	now := nowRFC3339()
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO sessions (id, folder_path, provider, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, folderPath, provider, now, now)
	if err != nil {
		return fmt.Errorf("statedb: create session: %w", err)
	}
	_ = s.Touch()
	return nil
}

// FolderSessions returns all sessions for a folder, newest first, each with
// its linked plan file name when a plan link exists.
func (s *StateDB) FolderSessions(folderPath string) ([]FolderSession, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.provider, s.created_at, sl.file_name
		FROM sessions s
		LEFT JOIN session_links sl ON s.id = sl.session_id AND sl.link_type = 'plan'
		WHERE s.folder_path = ?
		ORDER BY s.created_at DESC
	`, folderPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: query sessions: %w", err)
	}
	defer rows.Close()

	var result []FolderSession
	for rows.Next() {
		var fs FolderSession
		var plan sql.NullString
		if err := rows.Scan(&fs.ID, &fs.Provider, &fs.CreatedAt, &plan); err != nil {
			return nil, fmt.Errorf("statedb: scan session: %w", err)
		}
		fs.LinkedPlan = plan.String
		result = append(result, fs)
	}
	return result, rows.Err()
}

// Session returns a single session row, or nil when no row matches.
func (s *StateDB) Session(sessionID string) (*SessionRow, error) {
	var r SessionRow
	var display sql.NullString
	var created, updated string
	err := s.db.QueryRow(`
		SELECT id, folder_path, provider, display_name, created_at, updated_at
		FROM sessions WHERE id = ?
	`, sessionID).Scan(&r.ID, &r.FolderPath, &r.Provider, &display, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statedb: get session: %w", err)
	}
	r.DisplayName = display.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, created)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &r, nil
}

// SetSessionDisplayName updates the user-facing name of a session.
func (s *StateDB) SetSessionDisplayName(sessionID, displayName string) error {
	_, err := s.db.Exec(
		"UPDATE sessions SET display_name = ?, updated_at = ? WHERE id = ?",
		displayName, nowRFC3339(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("statedb: set display name: %w", err)
	}
	return nil
}

// DeleteSession removes a session along with its messages and links.
func (s *StateDB) DeleteSession(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin delete session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		"DELETE FROM messages WHERE session_id = ?",
		"DELETE FROM session_links WHERE session_id = ?",
		"DELETE FROM sessions WHERE id = ?",
	} {
		if _, err := tx.Exec(stmt, sessionID); err != nil {
			return fmt.Errorf("statedb: delete session: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	_ = s.Touch()
	return nil
}

// --- Messages ---

// SaveMessage stores one streamed message for a session. Re-saving the same
// (session, sequence) pair replaces the earlier row.
func (s *StateDB) SaveMessage(sessionID string, sequence int, messageType, messageJSON string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO messages (session_id, sequence, message_type, message_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, sequence, messageType, messageJSON, nowRFC3339())
	if err != nil {
		return fmt.Errorf("statedb: save message: %w", err)
	}
	return nil
}

// SessionMessages returns all messages for a session in sequence order.
// Rows whose JSON no longer parses are skipped.
func (s *StateDB) SessionMessages(sessionID string) ([]json.RawMessage, error) {
	rows, err := s.db.Query(`
		SELECT message_json FROM messages
		WHERE session_id = ?
		ORDER BY sequence ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("statedb: query messages: %w", err)
	}
	defer rows.Close()

	var result []json.RawMessage
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("statedb: scan message: %w", err)
		}
		if !json.Valid([]byte(raw)) {
			continue
		}
		result = append(result, json.RawMessage(raw))
	}
	return result, rows.Err()
}

// NextSequence returns the next message sequence number for a session,
// starting at 1 for a session with no messages.
func (s *StateDB) NextSequence(sessionID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(
		"SELECT MAX(sequence) FROM messages WHERE session_id = ?", sessionID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("statedb: max sequence: %w", err)
	}
	return int(max.Int64) + 1, nil
}
