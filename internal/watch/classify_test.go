package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trellico/trellico/internal/events"
)

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func TestClassifyNoChange(t *testing.T) {
	assert.Nil(t, classify(HeuristicRename{}, set("a", "b"), set("a", "b")))
	assert.Nil(t, classify(HeuristicRename{}, set(), set()))
}

func TestClassifySingleCreate(t *testing.T) {
	changes := classify(HeuristicRename{}, set(), set("a"))
	assert.Equal(t, []Change{{Type: events.ChangeCreated, Name: "a"}}, changes)
}

func TestClassifySingleRemove(t *testing.T) {
	changes := classify(HeuristicRename{}, set("a"), set())
	assert.Equal(t, []Change{{Type: events.ChangeRemoved, Name: "a"}}, changes)
}

func TestClassifyRenameHeuristic(t *testing.T) {
	// Exactly one added and one removed in the same scan reads as a rename
	changes := classify(HeuristicRename{}, set("a"), set("b"))
	assert.Equal(t, []Change{{Type: events.ChangeRenamed, Name: "b", OldName: "a"}}, changes)
}

func TestClassifyBurstIsNotRename(t *testing.T) {
	// Two creates plus one remove in one scan window must not collapse
	// into a rename.
	changes := classify(HeuristicRename{}, set("z"), set("x", "y"))
	assert.Equal(t, []Change{
		{Type: events.ChangeCreated, Name: "x"},
		{Type: events.ChangeCreated, Name: "y"},
		{Type: events.ChangeRemoved, Name: "z"},
	}, changes)
}

func TestClassifyCreatedBeforeRemoved(t *testing.T) {
	changes := classify(HeuristicRename{}, set("a", "b"), set("c", "d"))
	// 2+2 is not a rename; creations are emitted before removals
	assert.Equal(t, []Change{
		{Type: events.ChangeCreated, Name: "c"},
		{Type: events.ChangeCreated, Name: "d"},
		{Type: events.ChangeRemoved, Name: "a"},
		{Type: events.ChangeRemoved, Name: "b"},
	}, changes)
}

// strictRename never sees a rename; used to prove the policy is swappable.
type strictRename struct{}

func (strictRename) Rename(added, removed []string) (string, string, bool) {
	return "", "", false
}

func TestClassifyPolicySwap(t *testing.T) {
	changes := classify(strictRename{}, set("a"), set("b"))
	assert.Equal(t, []Change{
		{Type: events.ChangeCreated, Name: "b"},
		{Type: events.ChangeRemoved, Name: "a"},
	}, changes)
}

func TestDiffSetsSorted(t *testing.T) {
	added, removed := diffSets(set("m", "z", "a"), set("m", "b", "c"))
	assert.Equal(t, []string{"b", "c"}, added)
	assert.Equal(t, []string{"a", "z"}, removed)
}
