// Package watch converts raw filesystem notifications on a folder's
// .trellico artifacts into semantic change events. One registry entry per
// watched folder path; paths are compared as strings and never
// canonicalized, so two spellings of the same directory are two entries.
package watch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/trellico/trellico/internal/events"
	"github.com/trellico/trellico/internal/logging"
	"github.com/trellico/trellico/internal/platform"
	"github.com/trellico/trellico/internal/workspace"
)

var watchLog = logging.ForComponent(logging.CompWatch)

// Kind selects which artifact directory of a folder is watched.
type Kind string

const (
	// KindPlans watches <folder>/.trellico/plans for *.md files.
	KindPlans Kind = "plans"
	// KindPRDs watches <folder>/.trellico/ralph for directories holding prd.json.
	KindPRDs Kind = "prds"

	// kindIterations is the internal kind for the iterations-file watcher.
	kindIterations Kind = "iterations"
)

// dir returns the directory this kind watches within a folder.
func (k Kind) dir(folder string) string {
	switch k {
	case KindPRDs:
		return workspace.RalphDir(folder)
	case kindIterations:
		return workspace.MetaDir(folder)
	default:
		return workspace.PlansDir(folder)
	}
}

// scan computes the current ground-truth name set for this kind.
func (k Kind) scan(dir string) map[string]bool {
	if k == KindPRDs {
		return workspace.PRDNames(dir)
	}
	return workspace.PlanStems(dir)
}

// folderEntry holds the live watchers and diff baselines for one folder.
type folderEntry struct {
	watchers map[Kind]*fsnotify.Watcher
	known    map[Kind]map[string]bool
}

// Registry owns all folder watch state. Construct with NewRegistry.
type Registry struct {
	sink   events.Sink
	policy RenamePolicy

	mu      sync.Mutex
	folders map[string]*folderEntry
}

// NewRegistry creates a watch registry publishing to sink, using the
// default rename heuristic.
func NewRegistry(sink events.Sink) *Registry {
	if sink == nil {
		sink = events.Discard
	}
	return &Registry{
		sink:    sink,
		policy:  HeuristicRename{},
		folders: make(map[string]*folderEntry),
	}
}

// SetRenamePolicy swaps the rename detection policy. Not safe to call
// while watchers are active; set it before the first Watch.
func (r *Registry) SetRenamePolicy(p RenamePolicy) {
	if p != nil {
		r.policy = p
	}
}

// Watch starts watching one kind of artifact for a folder. The watched
// directory is created if missing (the only filesystem mutation in this
// package), the known-set is seeded before the watcher starts so
// pre-existing files never look new, and a previous watcher for the same
// folder/kind is replaced, not added to.
func (r *Registry) Watch(folder string, kind Kind) error {
	if kind != KindPlans && kind != KindPRDs {
		return fmt.Errorf("unknown watch kind %q", kind)
	}
	return r.install(folder, kind)
}

// WatchIterations watches a folder's Ralph iterations file and publishes a
// refresh signal whenever it changes. The .trellico directory itself is
// watched because the file may not exist yet.
func (r *Registry) WatchIterations(folder string) error {
	return r.install(folder, kindIterations)
}

func (r *Registry) install(folder string, kind Kind) error {
	dir := kind.dir(folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	if warning := platform.WatchSupportWarning(dir); warning != "" {
		watchLog.Warn("unreliable watch filesystem", "folder", folder, "reason", warning)
	}

	// Seed the baseline before the watcher starts: an event for a file
	// that existed before Watch must not classify as created.
	known := kind.scan(dir)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	// fsnotify watches are not recursive. PRD manifests live one level
	// down, so each entry directory is watched as well; new ones are
	// picked up in the event callback.
	if kind == KindPRDs {
		addSubdirWatches(w, dir)
	}

	r.mu.Lock()
	entry := r.folders[folder]
	if entry == nil {
		entry = &folderEntry{
			watchers: make(map[Kind]*fsnotify.Watcher),
			known:    make(map[Kind]map[string]bool),
		}
		r.folders[folder] = entry
	}
	if prev := entry.watchers[kind]; prev != nil {
		_ = prev.Close()
	}
	entry.watchers[kind] = w
	entry.known[kind] = known
	r.mu.Unlock()

	watchLog.Info("watch_started",
		slog.String("folder", folder),
		slog.String("kind", string(kind)),
		slog.Int("seeded", len(known)),
	)

	go r.eventLoop(folder, kind, dir, w)
	return nil
}

// StopWatching drops every watcher and known-set for a folder in a single
// lock acquisition. This is the only way watch resources are released.
func (r *Registry) StopWatching(folder string) {
	r.mu.Lock()
	entry := r.folders[folder]
	delete(r.folders, folder)
	r.mu.Unlock()

	if entry == nil {
		return
	}
	for kind, w := range entry.watchers {
		_ = w.Close()
		watchLog.Info("watch_stopped",
			slog.String("folder", folder),
			slog.String("kind", string(kind)),
		)
	}
}

// Watched returns the folder paths with at least one active watcher.
func (r *Registry) Watched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	folders := make([]string, 0, len(r.folders))
	for folder := range r.folders {
		folders = append(folders, folder)
	}
	return folders
}

// eventLoop drains one fsnotify watcher until it is closed. Events for the
// same folder/kind are serialized here; different folders process
// concurrently and meet at the registry lock.
func (r *Registry) eventLoop(folder string, kind Kind, dir string, w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if kind == kindIterations {
				r.handleIterationsEvent(folder, ev)
				continue
			}
			r.handleEvent(folder, kind, dir, w, ev)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			// No synchronous caller to report to; log and keep going.
			watchLog.Warn("watch_error",
				slog.String("folder", folder),
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// handleEvent is the classification callback: rescan, diff against the
// stored baseline under the lock, publish the semantic events in order
// (renamed-or-created, removed, modified), advance the baseline, and
// always finish with the generic refresh signal.
func (r *Registry) handleEvent(folder string, kind Kind, dir string, w *fsnotify.Watcher, ev fsnotify.Event) {
	if kind == KindPRDs && ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.Add(ev.Name)
		}
	}

	// The raw event only says that something changed; the rescan is the
	// ground truth for what.
	current := kind.scan(dir)

	r.mu.Lock()
	entry := r.folders[folder]
	if entry == nil || entry.watchers[kind] != w {
		// Stale callback: the folder was unwatched or re-watched while
		// this event was in flight.
		r.mu.Unlock()
		return
	}
	known := entry.known[kind]
	changes := classify(r.policy, known, current)

	var modified string
	if kind == KindPlans && ev.Op&fsnotify.Write != 0 {
		if stem, ok := kind.eventStem(ev.Name); ok && known[stem] && current[stem] {
			modified = stem
		}
	}

	entry.known[kind] = current
	r.mu.Unlock()

	if kind == KindPlans {
		for _, c := range changes {
			r.sink.Publish(events.EventPlanChange, events.PlanChange{
				ChangeType:  c.Type,
				FileName:    c.Name,
				OldFileName: c.OldName,
				FolderPath:  folder,
			})
		}
		if modified != "" {
			r.sink.Publish(events.EventPlanChange, events.PlanChange{
				ChangeType: events.ChangeModified,
				FileName:   modified,
				FolderPath: folder,
			})
		}
		r.sink.Publish(events.EventPlansChanged, events.FolderRef{FolderPath: folder})
		return
	}

	// PRD entries only get the refresh signal; the UI re-lists the
	// directory rather than interpreting per-entry changes.
	r.sink.Publish(events.EventPRDChanged, events.FolderRef{FolderPath: folder})
}

// handleIterationsEvent reacts only to changes of the iterations file
// itself, ignoring everything else in .trellico.
func (r *Registry) handleIterationsEvent(folder string, ev fsnotify.Event) {
	if ev.Name != workspace.IterationsPath(folder) {
		return
	}
	r.sink.Publish(events.EventIterationsChanged, events.FolderRef{FolderPath: folder})
}

// eventStem extracts the plan name a raw event path refers to, rejecting
// paths that are not plan files.
func (k Kind) eventStem(path string) (string, bool) {
	base := filepath.Base(path)
	if k != KindPlans || filepath.Ext(base) != ".md" {
		return "", false
	}
	return strings.TrimSuffix(base, ".md"), true
}

// addSubdirWatches registers existing entry directories with the watcher.
// Best effort: a directory that vanishes mid-scan is just skipped.
func addSubdirWatches(w *fsnotify.Watcher, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			_ = w.Add(filepath.Join(dir, entry.Name()))
		}
	}
}
