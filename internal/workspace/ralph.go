package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Iteration statuses as stored in the iterations file.
const (
	IterationRunning   = "running"
	IterationCompleted = "completed"
	IterationStopped   = "stopped"
)

// Iteration is one Ralph run against a PRD.
type Iteration struct {
	IterationNumber int    `json:"iteration_number"`
	SessionID       string `json:"session_id"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
	Provider        string `json:"provider,omitempty"`
}

// IterationStore is the on-disk shape of the Ralph iterations file,
// keyed by PRD name.
type IterationStore struct {
	Version    int                    `json:"version"`
	Iterations map[string][]Iteration `json:"iterations"`
}

// ListPRDs returns the sorted PRD names (directories containing prd.json)
// for a folder. A missing ralph directory is an empty list.
func ListPRDs(folder string) ([]string, error) {
	dir := RalphDir(folder)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read ralph directory: %w", err)
	}

	var prds []string
	for _, entry := range entries {
		if entry.IsDir() && hasManifest(filepath.Join(dir, entry.Name())) {
			prds = append(prds, entry.Name())
		}
	}
	sort.Strings(prds)
	return prds, nil
}

// ReadPRD returns the raw prd.json content for one PRD.
func ReadPRD(folder, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(RalphDir(folder), name, PRDManifest))
	if err != nil {
		return "", fmt.Errorf("failed to read PRD file: %w", err)
	}
	return string(data), nil
}

// PRDNames scans a ralph directory and returns the set of PRD entry names.
// Scan errors yield an empty set.
func PRDNames(dir string) map[string]bool {
	names := make(map[string]bool)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return names
	}
	for _, entry := range entries {
		if entry.IsDir() && hasManifest(filepath.Join(dir, entry.Name())) {
			names[entry.Name()] = true
		}
	}
	return names
}

func hasManifest(prdDir string) bool {
	_, err := os.Stat(filepath.Join(prdDir, PRDManifest))
	return err == nil
}

// Iterations returns the iterations recorded for one PRD.
func Iterations(folder, prdName string) []Iteration {
	store := loadIterations(folder)
	return store.Iterations[prdName]
}

// AllIterations returns every PRD's iterations, keyed by PRD name.
func AllIterations(folder string) map[string][]Iteration {
	return loadIterations(folder).Iterations
}

// SaveIteration appends an iteration to a PRD's list.
func SaveIteration(folder, prdName string, iter Iteration) error {
	store := loadIterations(folder)
	if store.Version == 0 {
		store.Version = 1
	}
	if iter.CreatedAt == "" {
		iter.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	store.Iterations[prdName] = append(store.Iterations[prdName], iter)
	return WriteJSON(IterationsPath(folder), store)
}

// UpdateIterationStatus sets the status of one iteration.
func UpdateIterationStatus(folder, prdName string, iterationNumber int, status string) error {
	return updateIteration(folder, prdName, iterationNumber, func(it *Iteration) {
		it.Status = status
	})
}

// UpdateIterationSessionID records the session id a provider reported for
// one iteration.
func UpdateIterationSessionID(folder, prdName string, iterationNumber int, sessionID string) error {
	return updateIteration(folder, prdName, iterationNumber, func(it *Iteration) {
		it.SessionID = sessionID
	})
}

func updateIteration(folder, prdName string, iterationNumber int, apply func(*Iteration)) error {
	path := IterationsPath(folder)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("iterations file does not exist")
	}

	var store IterationStore
	if err := ReadJSON(path, &store); err != nil {
		return err
	}
	if store.Iterations == nil {
		store.Iterations = make(map[string][]Iteration)
	}

	iters := store.Iterations[prdName]
	for i := range iters {
		if iters[i].IterationNumber == iterationNumber {
			apply(&iters[i])
		}
	}
	return WriteJSON(path, store)
}

// DeleteIterations forgets all recorded iterations for a PRD.
func DeleteIterations(folder, prdName string) error {
	store := loadIterations(folder)
	if _, ok := store.Iterations[prdName]; !ok {
		return nil
	}
	delete(store.Iterations, prdName)
	return WriteJSON(IterationsPath(folder), store)
}

func loadIterations(folder string) IterationStore {
	store := IterationStore{Iterations: make(map[string][]Iteration)}
	ReadJSONOrZero(IterationsPath(folder), &store)
	if store.Iterations == nil {
		store.Iterations = make(map[string][]Iteration)
	}
	return store
}
