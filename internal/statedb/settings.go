package statedb

import (
	"database/sql"
	"fmt"

	"github.com/trellico/trellico/internal/provider"
)

// FolderProvider returns the provider configured for a folder, falling back
// to the default when the folder has no setting.
func (s *StateDB) FolderProvider(folderPath string) (provider.Provider, error) {
	var raw string
	err := s.db.QueryRow(
		"SELECT provider FROM folder_settings WHERE folder_path = ?", folderPath,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return provider.Default, nil
	}
	if err != nil {
		return provider.Default, fmt.Errorf("statedb: get folder provider: %w", err)
	}
	p, err := provider.Parse(raw)
	if err != nil {
		return provider.Default, fmt.Errorf("statedb: stored provider: %w", err)
	}
	return p, nil
}

// SetFolderProvider records the provider to use for a folder.
func (s *StateDB) SetFolderProvider(folderPath string, p provider.Provider) error {
	_, err := s.db.Exec(`
		INSERT INTO folder_settings (folder_path, provider, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(folder_path) DO UPDATE SET
			provider = excluded.provider,
			updated_at = excluded.updated_at
	`, folderPath, string(p), nowRFC3339())
	if err != nil {
		return fmt.Errorf("statedb: set folder provider: %w", err)
	}
	_ = s.Touch()
	return nil
}
