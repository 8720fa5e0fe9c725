// Package events defines the in-process event contract between the core
// (process supervisor, folder watchers) and whatever presentation layer is
// observing: the TUI, the WebSocket feed, or plain CLI output.
package events

// Change types carried by plan-change events.
const (
	ChangeCreated  = "created"
	ChangeModified = "modified"
	ChangeRemoved  = "removed"
	ChangeRenamed  = "renamed"
)

// Folder-scoped refresh event names. Process event names are derived from
// the provider id (e.g. "claude_code-output"); see OutputEvent et al.
const (
	EventPlanChange        = "plan-change"
	EventPlansChanged      = "plans-changed"
	EventPRDChanged        = "ralph-prd-changed"
	EventIterationsChanged = "ralph-iterations-changed"
)

// OutputEvent returns the output event name for a provider id.
func OutputEvent(provider string) string { return provider + "-output" }

// ExitEvent returns the terminal exit event name for a provider id.
func ExitEvent(provider string) string { return provider + "-exit" }

// ErrorEvent returns the terminal error event name for a provider id.
func ErrorEvent(provider string) string { return provider + "-error" }

// Output is one decoded chunk of terminal output from a managed process.
type Output struct {
	ProcessID string `json:"process_id"`
	Data      string `json:"data"`
}

// Exit reports the exit code of a managed process. Exactly one Exit or
// ProcessError is published per started process, never both.
type Exit struct {
	ProcessID string `json:"process_id"`
	Code      int    `json:"code"`
}

// ProcessError reports a spawn, read, or wait failure for a managed process.
type ProcessError struct {
	ProcessID string `json:"process_id"`
	Error     string `json:"error"`
}

// PlanChange is a classified filesystem change in a folder's plans directory.
type PlanChange struct {
	ChangeType  string `json:"change_type"`
	FileName    string `json:"file_name"`
	OldFileName string `json:"old_file_name,omitempty"`
	FolderPath  string `json:"folder_path"`
}

// FolderRef is the payload of generic per-folder refresh events.
type FolderRef struct {
	FolderPath string `json:"folder_path"`
}

// Sink receives events from the core. Publish is fire-and-forget: it must
// not block and the core never learns about delivery failures.
type Sink interface {
	Publish(name string, payload any)
}

// Discard is a Sink that drops everything.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Publish(string, any) {}
