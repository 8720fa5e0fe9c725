package provider

import (
	"fmt"
	"os/exec"
)

// Error types reported by CheckAvailable.
const (
	ErrTypeNotInstalled = "not_installed"
	ErrTypeNotLoggedIn  = "not_logged_in"
	ErrTypeUnknown      = "unknown"
)

// Status is the result of an availability probe.
type Status struct {
	Available        bool   `json:"available"`
	Error            string `json:"error,omitempty"`
	ErrorType        string `json:"error_type,omitempty"`
	AuthInstructions string `json:"auth_instructions,omitempty"`
}

// CheckAvailable verifies that the provider binary exists, runs, and is
// authenticated. It never returns an error; failures are described in the
// returned Status so the UI can render install/login guidance.
func CheckAvailable(p Provider) Status {
	binary, ok := p.FindBinary()
	if !ok {
		return Status{
			Error:     p.NotInstalledMessage(),
			ErrorType: ErrTypeNotInstalled,
		}
	}

	out, err := exec.Command(binary, "--version").CombinedOutput()
	if err != nil {
		if _, isExit := err.(*exec.ExitError); !isExit {
			return Status{
				Error:     fmt.Sprintf("Failed to run %s: %v", p.DisplayName(), err),
				ErrorType: ErrTypeNotInstalled,
			}
		}
		// Binary ran but exited non-zero: auth failure or something else
		if p.IsAuthError(string(out)) {
			return Status{
				Error:            p.NotLoggedInMessage(),
				ErrorType:        ErrTypeNotLoggedIn,
				AuthInstructions: p.AuthInstructions(),
			}
		}
		return Status{
			Error:     fmt.Sprintf("%s error: %s", p.DisplayName(), string(out)),
			ErrorType: ErrTypeUnknown,
		}
	}

	if err := p.CheckAuthenticated(); err != nil {
		return Status{
			Error:            err.Error(),
			ErrorType:        ErrTypeNotLoggedIn,
			AuthInstructions: p.AuthInstructions(),
		}
	}
	return Status{Available: true}
}
