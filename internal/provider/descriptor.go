package provider

// Descriptor is the subset of provider behavior the process supervisor
// needs. Tests substitute a stub that points at a shell script instead of
// a real AI CLI.
type Descriptor interface {
	// FindBinary returns the executable path for a provider id and whether
	// it was found.
	FindBinary(provider string) (string, bool)

	// BuildArgs returns the argument vector for a message. sessionID is
	// empty for new conversations.
	BuildArgs(provider, message, sessionID string) []string

	// DisplayName returns the human-readable provider name for error text.
	DisplayName(provider string) string
}

// Registry is the production Descriptor backed by the Provider table.
type Registry struct{}

func (Registry) FindBinary(id string) (string, bool) {
	p, err := Parse(id)
	if err != nil {
		return "", false
	}
	return p.FindBinary()
}

func (Registry) BuildArgs(id, message, sessionID string) []string {
	p, err := Parse(id)
	if err != nil {
		return nil
	}
	return p.BuildArgs(message, sessionID)
}

func (Registry) DisplayName(id string) string {
	p, err := Parse(id)
	if err != nil {
		return id
	}
	return p.DisplayName()
}
