package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	p, err := Parse("claude_code")
	require.NoError(t, err)
	assert.Equal(t, ClaudeCode, p)

	p, err = Parse("amp")
	require.NoError(t, err)
	assert.Equal(t, Amp, p)

	// Empty falls back to the default provider
	p, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, Default, p)

	_, err = Parse("cursor")
	assert.Error(t, err)
}

func TestBuildArgsClaudeNewConversation(t *testing.T) {
	args := ClaudeCode.BuildArgs("test message", "")

	assert.Contains(t, args, "-p")
	assert.Contains(t, args, "--output-format")
	assert.Contains(t, args, "stream-json")
	assert.Contains(t, args, "--verbose")
	assert.Contains(t, args, "--dangerously-skip-permissions")
	assert.Contains(t, args, "test message")
	assert.NotContains(t, args, "--resume")

	// Message is the final argument
	assert.Equal(t, "test message", args[len(args)-1])
}

func TestBuildArgsClaudeResume(t *testing.T) {
	args := ClaudeCode.BuildArgs("test message", "session-123")

	assert.Contains(t, args, "--resume")
	assert.Contains(t, args, "session-123")
	assert.Equal(t, "test message", args[len(args)-1])
}

func TestBuildArgsAmpNewConversation(t *testing.T) {
	args := Amp.BuildArgs("test message", "")

	assert.Equal(t, "-x", args[0])
	assert.Contains(t, args, "test message")
	assert.Contains(t, args, "--stream-json")
	assert.Contains(t, args, "--dangerously-allow-all")
	assert.NotContains(t, args, "threads")
}

func TestBuildArgsAmpResume(t *testing.T) {
	args := Amp.BuildArgs("test message", "thread-123")

	assert.Equal(t, []string{"threads", "continue", "thread-123", "-x"}, args[:4])
	assert.Contains(t, args, "test message")
}

func TestDisplayNames(t *testing.T) {
	assert.Equal(t, "Claude Code", ClaudeCode.DisplayName())
	assert.Equal(t, "Amp", Amp.DisplayName())
	assert.Equal(t, "claude", ClaudeCode.BinaryName())
	assert.Equal(t, "amp", Amp.BinaryName())
}

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		provider Provider
		output   string
		want     bool
	}{
		{ClaudeCode, "Error: Invalid API key", true},
		{ClaudeCode, "you are Not Logged In", true},
		{ClaudeCode, "please run 'claude' to authenticate", true},
		{ClaudeCode, "some unrelated failure", false},
		{Amp, "run amp login first", true},
		{Amp, "Unauthorized", true},
		{Amp, "network timeout", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.provider.IsAuthError(tt.output),
			"%s: %q", tt.provider, tt.output)
	}
}

func TestRegistryDescriptor(t *testing.T) {
	var d Descriptor = Registry{}

	assert.Equal(t, "Claude Code", d.DisplayName("claude_code"))
	assert.Equal(t, "Amp", d.DisplayName("amp"))
	// Unknown ids pass through so error messages stay informative
	assert.Equal(t, "cursor", d.DisplayName("cursor"))

	args := d.BuildArgs("amp", "hi", "")
	assert.Contains(t, args, "-x")
	assert.Nil(t, d.BuildArgs("cursor", "hi", ""))

	_, found := d.FindBinary("cursor")
	assert.False(t, found)
}
