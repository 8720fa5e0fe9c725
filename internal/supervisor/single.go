//go:build !windows
// +build !windows

package supervisor

import (
	"sync"

	"github.com/trellico/trellico/internal/events"
	"github.com/trellico/trellico/internal/provider"
)

// Single is the capacity-one configuration of the registry: at most one
// conversation at a time, stopped without naming an id. Earlier builds of
// the app modeled this with a dedicated running flag and a shared PTY
// handle; it is now just a specialization of the multi-process registry.
type Single struct {
	reg *Registry

	mu      sync.Mutex
	current string
}

// NewSingle creates a single-process supervisor.
func NewSingle(desc provider.Descriptor, sink events.Sink) *Single {
	return &Single{reg: New(desc, sink)}
}

// Start replaces any in-flight conversation: the previous process is asked
// to stop, then the new one is registered. The returned id is still useful
// for correlating events.
func (s *Single) Start(providerID, message, folder, resumeSession string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != "" {
		s.reg.Stop(s.current)
	}
	id, err := s.reg.Start(providerID, message, folder, resumeSession)
	if err != nil {
		return "", err
	}
	s.current = id
	return id, nil
}

// Stop cancels whatever is running. No identity needed.
func (s *Single) Stop() {
	s.reg.StopAll()
}

// Busy reports whether a process is still registered.
func (s *Single) Busy() bool {
	return len(s.reg.Running()) > 0
}
