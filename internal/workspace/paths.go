// Package workspace reads and writes the per-folder artifacts Trellico
// keeps under <folder>/.trellico: plan markdown files, Ralph PRD
// directories, and the Ralph iterations store.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// MetaDirName is the per-folder state directory.
const MetaDirName = ".trellico"

// PRDManifest is the file that marks a directory as a PRD entry.
const PRDManifest = "prd.json"

// MetaDir returns the .trellico directory for a working folder.
func MetaDir(folder string) string {
	return filepath.Join(folder, MetaDirName)
}

// PlansDir returns the plans directory for a working folder.
func PlansDir(folder string) string {
	return filepath.Join(MetaDir(folder), "plans")
}

// RalphDir returns the Ralph PRD directory for a working folder.
func RalphDir(folder string) string {
	return filepath.Join(MetaDir(folder), "ralph")
}

// IterationsPath returns the Ralph iterations store file for a working folder.
func IterationsPath(folder string) string {
	return filepath.Join(MetaDir(folder), "ralph-iterations.json")
}

// Setup creates the .trellico directory for a folder if missing.
func Setup(folder string) error {
	if err := os.MkdirAll(MetaDir(folder), 0o755); err != nil {
		return fmt.Errorf("failed to create %s folder: %w", MetaDirName, err)
	}
	return nil
}
