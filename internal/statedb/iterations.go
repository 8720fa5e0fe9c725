package statedb

import (
	"database/sql"
	"fmt"
)

// Iteration statuses.
const (
	IterationRunning   = "running"
	IterationCompleted = "completed"
	IterationStopped   = "stopped"
)

// IterationRow is one Ralph loop iteration for a PRD.
type IterationRow struct {
	ID              int64
	FolderPath      string
	PRDName         string
	IterationNumber int
	SessionID       string // empty until the provider reports its session ID
	Status          string
	CreatedAt       string
	Provider        string // from the joined session row, empty when unlinked
}

// SaveIteration records an iteration. Saving an existing
// (folder, prd, number) triple updates its status in place.
func (s *StateDB) SaveIteration(folderPath, prdName string, iterationNumber int, status string) error {
	_, err := s.db.Exec(`
		INSERT INTO ralph_iterations (folder_path, prd_name, iteration_number, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(folder_path, prd_name, iteration_number) DO UPDATE SET
			status = excluded.status
	`, folderPath, prdName, iterationNumber, status, nowRFC3339())
	if err != nil {
		return fmt.Errorf("statedb: save iteration: %w", err)
	}
	_ = s.Touch()
	return nil
}

// UpdateIterationSessionID attaches a provider session to an iteration.
func (s *StateDB) UpdateIterationSessionID(folderPath, prdName string, iterationNumber int, sessionID string) error {
	_, err := s.db.Exec(`
		UPDATE ralph_iterations SET session_id = ?
		WHERE folder_path = ? AND prd_name = ? AND iteration_number = ?
	`, sessionID, folderPath, prdName, iterationNumber)
	if err != nil {
		return fmt.Errorf("statedb: update iteration session: %w", err)
	}
	return nil
}

// UpdateIterationStatus changes the status of an iteration.
func (s *StateDB) UpdateIterationStatus(folderPath, prdName string, iterationNumber int, status string) error {
	_, err := s.db.Exec(`
		UPDATE ralph_iterations SET status = ?
		WHERE folder_path = ? AND prd_name = ? AND iteration_number = ?
	`, status, folderPath, prdName, iterationNumber)
	if err != nil {
		return fmt.Errorf("statedb: update iteration status: %w", err)
	}
	return nil
}

// IterationsForPRD returns a PRD's iterations in ascending number order.
func (s *StateDB) IterationsForPRD(folderPath, prdName string) ([]IterationRow, error) {
	rows, err := s.db.Query(`
		SELECT ri.id, ri.folder_path, ri.prd_name, ri.iteration_number,
			ri.session_id, ri.status, ri.created_at, s.provider
		FROM ralph_iterations ri
		LEFT JOIN sessions s ON ri.session_id = s.id
		WHERE ri.folder_path = ? AND ri.prd_name = ?
		ORDER BY ri.iteration_number ASC
	`, folderPath, prdName)
	if err != nil {
		return nil, fmt.Errorf("statedb: query iterations: %w", err)
	}
	defer rows.Close()
	return scanIterations(rows)
}

// AllIterations returns every iteration for a folder grouped by PRD name.
func (s *StateDB) AllIterations(folderPath string) (map[string][]IterationRow, error) {
	rows, err := s.db.Query(`
		SELECT ri.id, ri.folder_path, ri.prd_name, ri.iteration_number,
			ri.session_id, ri.status, ri.created_at, s.provider
		FROM ralph_iterations ri
		LEFT JOIN sessions s ON ri.session_id = s.id
		WHERE ri.folder_path = ?
		ORDER BY ri.prd_name, ri.iteration_number ASC
	`, folderPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: query iterations: %w", err)
	}
	defer rows.Close()

	iterations, err := scanIterations(rows)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]IterationRow)
	for _, it := range iterations {
		result[it.PRDName] = append(result[it.PRDName], it)
	}
	return result, nil
}

// DeletePRDIterations removes all iteration records for a PRD.
func (s *StateDB) DeletePRDIterations(folderPath, prdName string) error {
	_, err := s.db.Exec(
		"DELETE FROM ralph_iterations WHERE folder_path = ? AND prd_name = ?",
		folderPath, prdName,
	)
	if err != nil {
		return fmt.Errorf("statedb: delete prd iterations: %w", err)
	}
	return nil
}

// MarkRunningIterationsStopped flags every running iteration as stopped.
// Called at startup: anything still marked running belonged to a process
// that exited without cleaning up.
func (s *StateDB) MarkRunningIterationsStopped() error {
	_, err := s.db.Exec(
		"UPDATE ralph_iterations SET status = ? WHERE status = ?",
		IterationStopped, IterationRunning,
	)
	if err != nil {
		return fmt.Errorf("statedb: mark running stopped: %w", err)
	}
	return nil
}

func scanIterations(rows *sql.Rows) ([]IterationRow, error) {
	var result []IterationRow
	for rows.Next() {
		var it IterationRow
		var session, provider sql.NullString
		if err := rows.Scan(
			&it.ID, &it.FolderPath, &it.PRDName, &it.IterationNumber,
			&session, &it.Status, &it.CreatedAt, &provider,
		); err != nil {
			return nil, fmt.Errorf("statedb: scan iteration: %w", err)
		}
		it.SessionID = session.String
		it.Provider = provider.String
		result = append(result, it)
	}
	return result, rows.Err()
}
