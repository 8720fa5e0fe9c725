package watch

import (
	"sort"

	"github.com/trellico/trellico/internal/events"
)

// Change is one classified filesystem change.
type Change struct {
	Type    string // events.ChangeCreated etc.
	Name    string
	OldName string // set for renames only
}

// RenamePolicy decides whether a scan diff represents a rename. The
// default heuristic can misfire when an unrelated create and delete land
// in the same scan window; a stricter implementation (inode or content
// matching) can be swapped in without changing the event contract.
type RenamePolicy interface {
	// Rename returns the old and new name when the diff is a rename.
	Rename(added, removed []string) (oldName, newName string, ok bool)
}

// HeuristicRename treats exactly one addition plus exactly one removal in
// a single scan as a rename. Best-effort only.
type HeuristicRename struct{}

func (HeuristicRename) Rename(added, removed []string) (string, string, bool) {
	if len(added) == 1 && len(removed) == 1 {
		return removed[0], added[0], true
	}
	return "", "", false
}

// diffSets returns the names in current but not known (added) and in known
// but not current (removed), each sorted for deterministic event order.
func diffSets(known, current map[string]bool) (added, removed []string) {
	for name := range current {
		if !known[name] {
			added = append(added, name)
		}
	}
	for name := range known {
		if !current[name] {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// classify turns a scan diff into semantic changes: a single rename when
// the policy says so, otherwise one created per addition and one removed
// per removal, in that order. The modified case is handled separately by
// the caller because it needs the raw event's path.
func classify(policy RenamePolicy, known, current map[string]bool) []Change {
	added, removed := diffSets(known, current)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	if oldName, newName, ok := policy.Rename(added, removed); ok {
		return []Change{{Type: events.ChangeRenamed, Name: newName, OldName: oldName}}
	}

	changes := make([]Change, 0, len(added)+len(removed))
	for _, name := range added {
		changes = append(changes, Change{Type: events.ChangeCreated, Name: name})
	}
	for _, name := range removed {
		changes = append(changes, Change{Type: events.ChangeRemoved, Name: name})
	}
	return changes
}
