package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ListPlans returns the sorted plan names (file stems) for a folder.
// A missing plans directory is an empty list, not an error.
func ListPlans(folder string) ([]string, error) {
	dir := PlansDir(folder)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans directory: %w", err)
	}

	var plans []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if name, ok := planStem(entry.Name()); ok {
			plans = append(plans, name)
		}
	}
	sort.Strings(plans)
	return plans, nil
}

// ReadPlan returns the markdown content of one plan.
func ReadPlan(folder, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(PlansDir(folder), name+".md"))
	if err != nil {
		return "", fmt.Errorf("failed to read plan file: %w", err)
	}
	return string(data), nil
}

// WritePlan writes a plan's markdown content, creating the plans directory
// if needed.
func WritePlan(folder, name, content string) error {
	dir := PlansDir(folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create plans directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".md"), []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}

// PlanStems scans a plans directory and returns the set of plan file stems.
// Scan errors yield an empty set; the watcher treats the scan as ground
// truth and a vanished directory simply means no plans.
func PlanStems(dir string) map[string]bool {
	stems := make(map[string]bool)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return stems
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if name, ok := planStem(entry.Name()); ok {
			stems[name] = true
		}
	}
	return stems
}

// planStem strips the .md extension, rejecting other file types.
func planStem(fileName string) (string, bool) {
	if filepath.Ext(fileName) != ".md" {
		return "", false
	}
	return strings.TrimSuffix(fileName, ".md"), true
}
