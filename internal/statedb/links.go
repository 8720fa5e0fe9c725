package statedb

import (
	"database/sql"
	"fmt"
)

// Link types connecting a session to a workspace file.
const (
	LinkTypePlan = "plan"
	LinkTypePRD  = "ralph_prd"
)

// SessionLink connects a session to a plan or PRD file in a folder.
type SessionLink struct {
	ID         int64
	FolderPath string
	SessionID  string
	FileName   string
	LinkType   string
	CreatedAt  string
	UpdatedAt  string
	Provider   string
}

// SaveSessionLink creates or updates a link. A folder can have at most one
// link per (file, type) pair; saving again points the link at the new session.
func (s *StateDB) SaveSessionLink(folderPath, sessionID, fileName, linkType string) error {
	now := nowRFC3339()
	_, err := s.db.Exec(`
		INSERT INTO session_links (folder_path, session_id, file_name, link_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(folder_path, file_name, link_type) DO UPDATE SET
			session_id = excluded.session_id,
			updated_at = excluded.updated_at
	`, folderPath, sessionID, fileName, linkType, now, now)
	if err != nil {
		return fmt.Errorf("statedb: save session link: %w", err)
	}
	_ = s.Touch()
	return nil
}

// LinkByPlan returns the link for a plan file, or nil when none exists.
func (s *StateDB) LinkByPlan(folderPath, planName string) (*SessionLink, error) {
	return s.linkByFile(folderPath, planName, LinkTypePlan)
}

// LinkByPRD returns the link for a Ralph PRD, or nil when none exists.
func (s *StateDB) LinkByPRD(folderPath, prdName string) (*SessionLink, error) {
	return s.linkByFile(folderPath, prdName, LinkTypePRD)
}

func (s *StateDB) linkByFile(folderPath, fileName, linkType string) (*SessionLink, error) {
	var l SessionLink
	err := s.db.QueryRow(`
		SELECT sl.id, sl.folder_path, sl.session_id, sl.file_name, sl.link_type,
			sl.created_at, sl.updated_at, s.provider
		FROM session_links sl
		JOIN sessions s ON sl.session_id = s.id
		WHERE sl.folder_path = ? AND sl.file_name = ? AND sl.link_type = ?
	`, folderPath, fileName, linkType).Scan(
		&l.ID, &l.FolderPath, &l.SessionID, &l.FileName, &l.LinkType,
		&l.CreatedAt, &l.UpdatedAt, &l.Provider,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statedb: get link: %w", err)
	}
	return &l, nil
}

// UpdatePlanLinkFileName follows a plan rename so the link tracks the new name.
func (s *StateDB) UpdatePlanLinkFileName(folderPath, oldName, newName string) error {
	_, err := s.db.Exec(`
		UPDATE session_links SET file_name = ?, updated_at = ?
		WHERE folder_path = ? AND file_name = ? AND link_type = 'plan'
	`, newName, nowRFC3339(), folderPath, oldName)
	if err != nil {
		return fmt.Errorf("statedb: update link filename: %w", err)
	}
	return nil
}
