// Package provider describes the interchangeable AI CLI tools Trellico can
// drive: where their binaries live, how to invoke them for new and resumed
// conversations, and how to tell whether they are installed and logged in.
package provider

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Provider identifies an external AI CLI tool.
type Provider string

const (
	ClaudeCode Provider = "claude_code"
	Amp        Provider = "amp"
)

// Default is the provider used when a folder has no explicit setting.
const Default = ClaudeCode

// Parse converts a provider id string to a Provider.
func Parse(s string) (Provider, error) {
	switch Provider(s) {
	case ClaudeCode, Amp:
		return Provider(s), nil
	case "":
		return Default, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// All lists the supported providers.
func All() []Provider {
	return []Provider{ClaudeCode, Amp}
}

// BinaryName returns the executable name for this provider.
func (p Provider) BinaryName() string {
	switch p {
	case Amp:
		return "amp"
	default:
		return "claude"
	}
}

// DisplayName returns the human-readable name.
func (p Provider) DisplayName() string {
	switch p {
	case Amp:
		return "Amp"
	default:
		return "Claude Code"
	}
}

// InstallURL returns the provider's installation page.
func (p Provider) InstallURL() string {
	switch p {
	case Amp:
		return "https://ampcode.com"
	default:
		return "https://claude.com/product/claude-code"
	}
}

// FindBinary locates the provider binary by probing common install paths.
// GUI apps on macOS don't inherit the user's shell PATH, so candidate paths
// are checked first and exec.LookPath is only a dev-mode fallback.
func (p Provider) FindBinary() (string, bool) {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		switch p {
		case Amp:
			candidates = append(candidates,
				filepath.Join(home, ".amp", "bin", "amp"),
				filepath.Join(home, ".local", "bin", "amp"),
			)
		default:
			candidates = append(candidates, filepath.Join(home, ".local", "bin", "claude"))
		}
	}
	name := p.BinaryName()
	candidates = append(candidates,
		"/usr/local/bin/"+name,
		"/opt/homebrew/bin/"+name,
		"/usr/bin/"+name,
	)

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}

	if path, err := exec.LookPath(p.BinaryName()); err == nil && path != "" {
		return path, true
	}
	return "", false
}

// BuildArgs builds the argument vector for running this provider against a
// message. sessionID, when non-empty, selects the resume-conversation form.
func (p Provider) BuildArgs(message, sessionID string) []string {
	switch p {
	case Amp:
		var args []string
		if sessionID != "" {
			// Thread continuation uses a different command structure
			args = []string{"threads", "continue", sessionID, "-x"}
		} else {
			args = []string{"-x"}
		}
		args = append(args, message, "--stream-json", "--dangerously-allow-all")
		return args
	default:
		args := []string{
			"-p",
			"--output-format", "stream-json",
			"--verbose",
			"--dangerously-skip-permissions",
		}
		if sessionID != "" {
			args = append(args, "--resume", sessionID)
		}
		return append(args, message)
	}
}

// NotInstalledMessage returns the user-facing message for a missing binary.
func (p Provider) NotInstalledMessage() string {
	return fmt.Sprintf("%s is not installed. Please install it from %s", p.DisplayName(), p.InstallURL())
}

// NotLoggedInMessage returns the user-facing message for an unauthenticated provider.
func (p Provider) NotLoggedInMessage() string {
	switch p {
	case Amp:
		return "Amp is not logged in. Please run 'amp login' to authenticate."
	default:
		return "Claude Code is not logged in. Please run 'claude' in your terminal to authenticate."
	}
}

// AuthInstructions returns a short hint for authenticating.
func (p Provider) AuthInstructions() string {
	switch p {
	case Amp:
		return "Run 'amp login' to authenticate"
	default:
		return "Run 'claude' in your terminal to authenticate"
	}
}

// CheckAuthenticated probes the provider's credential files on disk.
func (p Provider) CheckAuthenticated() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot find home directory: %w", err)
	}

	switch p {
	case Amp:
		// Amp authenticates via browser login and keeps settings under
		// ~/.config/amp; presence of the settings file is the best signal.
		if fileExists(filepath.Join(home, ".config", "amp", "settings.json")) {
			return nil
		}
	default:
		if fileExists(filepath.Join(home, ".claude", ".credentials.json")) ||
			fileExists(filepath.Join(home, ".claude.json")) {
			return nil
		}
	}
	return fmt.Errorf("%s", p.NotLoggedInMessage())
}

// IsAuthError reports whether provider output looks like an authentication failure.
func (p Provider) IsAuthError(output string) bool {
	lower := strings.ToLower(output)
	common := strings.Contains(lower, "not logged in") ||
		strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "unauthorized")
	switch p {
	case Amp:
		return common ||
			strings.Contains(lower, "amp login") ||
			strings.Contains(lower, "please login")
	default:
		return common || strings.Contains(lower, "please run 'claude'")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
