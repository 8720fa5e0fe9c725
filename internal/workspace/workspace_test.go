package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlanFile(t *testing.T, folder, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(PlansDir(folder), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(PlansDir(folder), name), []byte(content), 0o644))
}

func writePRD(t *testing.T, folder, name string) {
	t.Helper()
	dir := filepath.Join(RalphDir(folder), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, PRDManifest), []byte(`{"name":"`+name+`"}`), 0o644))
}

func TestSetup(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, Setup(folder))

	info, err := os.Stat(MetaDir(folder))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Idempotent
	assert.NoError(t, Setup(folder))
}

func TestListPlans(t *testing.T) {
	folder := t.TempDir()

	// No plans directory: empty, not an error
	plans, err := ListPlans(folder)
	require.NoError(t, err)
	assert.Empty(t, plans)

	writePlanFile(t, folder, "beta.md", "# b")
	writePlanFile(t, folder, "alpha.md", "# a")
	writePlanFile(t, folder, "notes.txt", "ignored")

	plans, err = ListPlans(folder)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, plans)
}

func TestReadWritePlan(t *testing.T) {
	folder := t.TempDir()

	require.NoError(t, WritePlan(folder, "roadmap", "# Roadmap\n"))

	content, err := ReadPlan(folder, "roadmap")
	require.NoError(t, err)
	assert.Equal(t, "# Roadmap\n", content)

	_, err = ReadPlan(folder, "missing")
	assert.Error(t, err)
}

func TestPlanStems(t *testing.T) {
	folder := t.TempDir()
	writePlanFile(t, folder, "one.md", "1")
	writePlanFile(t, folder, "two.md", "2")
	writePlanFile(t, folder, "skip.json", "{}")

	stems := PlanStems(PlansDir(folder))
	assert.Equal(t, map[string]bool{"one": true, "two": true}, stems)

	// Missing directory scans as empty
	assert.Empty(t, PlanStems(filepath.Join(folder, "nope")))
}

func TestListPRDs(t *testing.T) {
	folder := t.TempDir()

	prds, err := ListPRDs(folder)
	require.NoError(t, err)
	assert.Empty(t, prds)

	writePRD(t, folder, "feature-x")
	writePRD(t, folder, "feature-a")

	// A directory without the manifest doesn't count
	require.NoError(t, os.MkdirAll(filepath.Join(RalphDir(folder), "scratch"), 0o755))

	prds, err = ListPRDs(folder)
	require.NoError(t, err)
	assert.Equal(t, []string{"feature-a", "feature-x"}, prds)

	names := PRDNames(RalphDir(folder))
	assert.Equal(t, map[string]bool{"feature-a": true, "feature-x": true}, names)
}

func TestReadPRD(t *testing.T) {
	folder := t.TempDir()
	writePRD(t, folder, "feature-x")

	content, err := ReadPRD(folder, "feature-x")
	require.NoError(t, err)
	assert.Contains(t, content, "feature-x")
}

func TestIterationsRoundTrip(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, Setup(folder))

	// Empty store
	assert.Empty(t, Iterations(folder, "prd-1"))

	require.NoError(t, SaveIteration(folder, "prd-1", Iteration{
		IterationNumber: 1,
		Status:          IterationRunning,
		Provider:        "claude_code",
	}))
	require.NoError(t, SaveIteration(folder, "prd-1", Iteration{
		IterationNumber: 2,
		Status:          IterationRunning,
	}))

	iters := Iterations(folder, "prd-1")
	require.Len(t, iters, 2)
	assert.Equal(t, 1, iters[0].IterationNumber)
	assert.NotEmpty(t, iters[0].CreatedAt)

	require.NoError(t, UpdateIterationStatus(folder, "prd-1", 1, IterationCompleted))
	require.NoError(t, UpdateIterationSessionID(folder, "prd-1", 2, "sess-42"))

	all := AllIterations(folder)
	require.Contains(t, all, "prd-1")
	assert.Equal(t, IterationCompleted, all["prd-1"][0].Status)
	assert.Equal(t, "sess-42", all["prd-1"][1].SessionID)
}

func TestUpdateIterationMissingFile(t *testing.T) {
	folder := t.TempDir()
	err := UpdateIterationStatus(folder, "prd-1", 1, IterationStopped)
	assert.Error(t, err)
}

func TestDeleteIterations(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, Setup(folder))

	require.NoError(t, SaveIteration(folder, "prd-1", Iteration{IterationNumber: 1, Status: IterationCompleted}))
	require.NoError(t, SaveIteration(folder, "prd-2", Iteration{IterationNumber: 1, Status: IterationRunning}))

	require.NoError(t, DeleteIterations(folder, "prd-1"))
	assert.Empty(t, Iterations(folder, "prd-1"))
	assert.Len(t, Iterations(folder, "prd-2"), 1)

	// Unknown PRD is a no-op
	assert.NoError(t, DeleteIterations(folder, "missing"))
}
