//go:build !windows
// +build !windows

// Package supervisor creates, tracks, and cancels provider invocations.
// Each started process runs attached to a pseudo-terminal on its own
// goroutine, streaming decoded output chunks to the event sink until EOF,
// cancellation, or child exit.
package supervisor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"unicode/utf8"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/trellico/trellico/internal/events"
	"github.com/trellico/trellico/internal/logging"
	"github.com/trellico/trellico/internal/provider"
)

var supLog = logging.ForComponent(logging.CompSupervisor)

// readChunkSize is the PTY read granularity. It also bounds how quickly a
// stop request is noticed: the cancellation flag is checked once per read.
const readChunkSize = 256

// ptyRows/ptyCols is the fixed terminal geometry given to the child.
// Providers run headless here; nothing ever resizes the terminal.
const (
	ptyRows = 24
	ptyCols = 80
)

// process is one registered provider invocation. The run goroutine holds a
// reference to the cancellation flag only; the registry owns the rest.
type process struct {
	id       string
	provider string
	folder   string
	cancel   atomic.Bool
}

// Registry tracks every in-flight provider invocation. Construct with New;
// the zero value is not usable.
type Registry struct {
	desc provider.Descriptor
	sink events.Sink

	mu    sync.Mutex
	procs map[string]*process
}

// New creates a process registry that spawns binaries resolved through desc
// and reports output and terminal events through sink.
func New(desc provider.Descriptor, sink events.Sink) *Registry {
	if sink == nil {
		sink = events.Discard
	}
	return &Registry{
		desc:  desc,
		sink:  sink,
		procs: make(map[string]*process),
	}
}

// Start registers a new process and returns its id immediately. The spawn
// itself happens on a background goroutine: a missing binary or a failed
// spawn surfaces as an asynchronous error event, not as a Start error.
// There is no concurrency limit.
func (r *Registry) Start(providerID, message, folder, resumeSession string) (string, error) {
	if message == "" {
		return "", errors.New("message must not be empty")
	}
	if folder == "" {
		return "", errors.New("folder must not be empty")
	}

	p := &process{
		id:       uuid.NewString(),
		provider: providerID,
		folder:   folder,
	}

	r.mu.Lock()
	r.procs[p.id] = p
	r.mu.Unlock()

	supLog.Info("process_started",
		slog.String("process_id", p.id),
		slog.String("provider", providerID),
		slog.String("folder", folder),
		slog.Bool("resume", resumeSession != ""),
	)

	go r.run(p, message, resumeSession)
	return p.id, nil
}

// Stop requests cooperative cancellation of one process. Stopping an
// unknown or already-finished id is a no-op. The process still runs its
// normal exit path after the kill, so observers see an exit event, not an
// error event.
func (r *Registry) Stop(id string) {
	r.mu.Lock()
	p := r.procs[id]
	r.mu.Unlock()
	if p != nil {
		p.cancel.Store(true)
		supLog.Info("process_stop_requested", slog.String("process_id", id))
	}
}

// StopAll requests cancellation of every registered process.
func (r *Registry) StopAll() {
	r.mu.Lock()
	for _, p := range r.procs {
		p.cancel.Store(true)
	}
	n := len(r.procs)
	r.mu.Unlock()
	if n > 0 {
		supLog.Info("process_stop_all", slog.Int("count", n))
	}
}

// Running returns the ids of all registered processes.
func (r *Registry) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.procs))
	for id := range r.procs {
		ids = append(ids, id)
	}
	return ids
}

// run owns the PTY and the child for the process's whole lifetime. It
// removes the registry entry itself, immediately before reporting the
// outcome, so an id stays visible exactly until its terminal event.
func (r *Registry) run(p *process, message, resumeSession string) {
	code, err := r.execute(p, message, resumeSession)

	r.mu.Lock()
	delete(r.procs, p.id)
	r.mu.Unlock()

	if err != nil {
		supLog.Warn("process_failed",
			slog.String("process_id", p.id),
			slog.String("error", err.Error()),
		)
		r.sink.Publish(events.ErrorEvent(p.provider), events.ProcessError{
			ProcessID: p.id,
			Error:     err.Error(),
		})
		return
	}

	supLog.Info("process_exited",
		slog.String("process_id", p.id),
		slog.Int("code", code),
	)
	r.sink.Publish(events.ExitEvent(p.provider), events.Exit{
		ProcessID: p.id,
		Code:      code,
	})
}

// execute spawns the provider attached to a PTY and drives the
// read/emit/cancel loop. The returned error means no exit code could be
// produced (spawn or wait failed); read errors mid-stream are reported as
// error events but still fall through to the exit path.
func (r *Registry) execute(p *process, message, resumeSession string) (int, error) {
	binary, ok := r.desc.FindBinary(p.provider)
	if !ok {
		return 0, fmt.Errorf("%s is not installed", r.desc.DisplayName(p.provider))
	}

	args := r.desc.BuildArgs(p.provider, message, resumeSession)
	cmd := exec.Command(binary, args...)
	cmd.Dir = p.folder

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: ptyRows, Cols: ptyCols})
	if err != nil {
		return 0, fmt.Errorf("failed to spawn %s: %w", r.desc.DisplayName(p.provider), err)
	}
	defer func() { _ = ptmx.Close() }()

	outputEvent := events.OutputEvent(p.provider)
	buf := make([]byte, readChunkSize)
	for {
		if p.cancel.Load() {
			_ = cmd.Process.Kill()
			break
		}

		n, readErr := ptmx.Read(buf)
		if n > 0 {
			// Chunks that are not valid UTF-8 are dropped rather than
			// buffered across reads, so a multi-byte rune split on a chunk
			// boundary is lost. Matches the historical streaming behavior;
			// observers treat the stream as best-effort text.
			if utf8.Valid(buf[:n]) {
				r.sink.Publish(outputEvent, events.Output{
					ProcessID: p.id,
					Data:      string(buf[:n]),
				})
				logging.Aggregate(logging.CompSupervisor, "output_chunk",
					slog.String("process_id", p.id))
			}
		}
		if readErr != nil {
			if !isStreamClosed(readErr) {
				r.sink.Publish(events.ErrorEvent(p.provider), events.ProcessError{
					ProcessID: p.id,
					Error:     fmt.Sprintf("read error: %v", readErr),
				})
			}
			break
		}
	}

	state := cmd.Wait()
	if state != nil {
		var exitErr *exec.ExitError
		if !errors.As(state, &exitErr) {
			return 0, fmt.Errorf("failed to wait for process: %w", state)
		}
		// ExitCode is -1 when the child was killed by a signal, which is
		// exactly the cancellation path.
		return exitErr.ExitCode(), nil
	}
	return 0, nil
}

// isStreamClosed reports whether a PTY read error just means the child
// exited and the terminal went away. Linux returns EIO from the master
// side once the slave is closed; that is EOF, not a failure.
func isStreamClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, fs.ErrClosed) ||
		errors.Is(err, syscall.EIO)
}
