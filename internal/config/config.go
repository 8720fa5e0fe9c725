// Package config loads user preferences from ~/.trellico/config.toml.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/trellico/trellico/internal/provider"
)

// UserConfigFileName is the TOML config file for user preferences
const UserConfigFileName = "config.toml"

// UserConfig represents user-facing configuration in TOML format
type UserConfig struct {
	// DefaultProvider is the agent used when a folder has no provider setting
	// Valid values: "claude_code", "amp"
	// If empty or invalid, defaults to "claude_code"
	DefaultProvider string `toml:"default_provider"`

	// Theme sets the color scheme: "dark" (default), "light", or "system"
	Theme string `toml:"theme"`

	// Logs defines log file management settings
	Logs LogSettings `toml:"logs"`

	// Web defines the local event feed server settings
	Web WebSettings `toml:"web"`

	// Ralph defines the autonomous iteration loop settings
	Ralph RalphSettings `toml:"ralph"`
}

// LogSettings defines log file management configuration
type LogSettings struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `toml:"level"`

	// Format sets the log format: "json" (default) or "text"
	Format string `toml:"format"`

	// MaxSizeMB is the max size in MB for trellico.log before rotation
	// Default: 10
	MaxSizeMB int `toml:"max_size_mb"`

	// MaxBackups is the number of rotated log files to keep
	// Default: 5
	MaxBackups int `toml:"max_backups"`

	// MaxAgeDays is the number of days to keep rotated logs
	// Default: 10
	MaxAgeDays int `toml:"max_age_days"`

	// Compress enables gzip compression for rotated logs
	// Default: true
	Compress *bool `toml:"compress"`

	// RingBufferMB is the in-memory ring buffer size in MB for crash dumps
	// Default: 4
	RingBufferMB int `toml:"ring_buffer_mb"`

	// PprofEnabled starts a pprof server on localhost:6060
	// Default: false
	PprofEnabled bool `toml:"pprof_enabled"`

	// AggregateIntervalS is the event aggregation flush interval in seconds
	// Default: 30
	AggregateIntervalS int `toml:"aggregate_interval_secs"`
}

// GetCompress returns whether to compress rotated logs, defaulting to true
func (l *LogSettings) GetCompress() bool {
	if l.Compress == nil {
		return true
	}
	return *l.Compress
}

// WebSettings defines the local event feed server configuration
type WebSettings struct {
	// Enabled starts the WebSocket event feed server (default: false)
	Enabled bool `toml:"enabled"`

	// ListenAddr is the address to bind (default: "127.0.0.1:7420")
	ListenAddr string `toml:"listen_addr"`

	// EventsPerSecond rate-limits events sent to each client (default: 50)
	EventsPerSecond int `toml:"events_per_second"`

	// Token, when set, is required from clients (?token= or Bearer header).
	// Empty disables auth; the server binds to loopback by default.
	Token string `toml:"token"`
}

// RalphSettings defines the autonomous iteration loop configuration
type RalphSettings struct {
	// MaxIterations caps a Ralph run (default: 10)
	MaxIterations int `toml:"max_iterations"`
}

// GetMaxIterations returns the iteration cap, defaulting to 10
func (r *RalphSettings) GetMaxIterations() int {
	if r.MaxIterations <= 0 {
		return 10
	}
	return r.MaxIterations
}

var defaultUserConfig = UserConfig{}

// Cache for user config (loaded once per process)
var (
	userConfigCache   *UserConfig
	userConfigCacheMu sync.RWMutex
)

// TrellicoDir returns the base trellico directory (~/.trellico)
func TrellicoDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: home dir: %w", err)
	}
	return filepath.Join(home, ".trellico"), nil
}

// UserConfigPath returns the path to the user config file
func UserConfigPath() (string, error) {
	dir, err := TrellicoDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, UserConfigFileName), nil
}

// LoadUserConfig loads the user configuration from TOML file
// Returns cached config after first load
func LoadUserConfig() (*UserConfig, error) {
	userConfigCacheMu.RLock()
	if userConfigCache != nil {
		defer userConfigCacheMu.RUnlock()
		return userConfigCache, nil
	}
	userConfigCacheMu.RUnlock()

	userConfigCacheMu.Lock()
	defer userConfigCacheMu.Unlock()

	// Double-check after acquiring write lock
	if userConfigCache != nil {
		return userConfigCache, nil
	}

	configPath, err := UserConfigPath()
	if err != nil {
		userConfigCache = &defaultUserConfig
		return userConfigCache, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Return default config (no file exists yet)
		userConfigCache = &defaultUserConfig
		return userConfigCache, nil
	}

	var config UserConfig
	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		// Return error so caller can display it to user
		// Still cache default to prevent repeated parse attempts
		userConfigCache = &defaultUserConfig
		return userConfigCache, fmt.Errorf("config.toml parse error: %w", err)
	}

	userConfigCache = &config
	return userConfigCache, nil
}

// ReloadUserConfig forces a reload of the user config
func ReloadUserConfig() (*UserConfig, error) {
	ClearUserConfigCache()
	return LoadUserConfig()
}

// ClearUserConfigCache clears the cached user config, allowing tests to reset state
func ClearUserConfigCache() {
	userConfigCacheMu.Lock()
	userConfigCache = nil
	userConfigCacheMu.Unlock()
}

// SaveUserConfig writes the config to config.toml using atomic write pattern
// This clears the cache so next LoadUserConfig() reads fresh values
func SaveUserConfig(config *UserConfig) error {
	configPath, err := UserConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# Trellico Configuration\n\n")

	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// Write temp then atomic rename so a crash never leaves a half-written file
	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}

	ClearUserConfigCache()
	return nil
}

// DefaultProvider returns the configured default provider, falling back to
// claude_code when unset or invalid.
func DefaultProvider() provider.Provider {
	config, err := LoadUserConfig()
	if err != nil || config == nil {
		return provider.Default
	}
	p, err := provider.Parse(config.DefaultProvider)
	if err != nil {
		return provider.Default
	}
	return p
}

// Theme returns the configured theme, defaulting to "dark"
func Theme() string {
	config, err := LoadUserConfig()
	if err != nil || config == nil {
		return "dark"
	}
	switch config.Theme {
	case "dark", "light", "system":
		return config.Theme
	default:
		return "dark"
	}
}

// ResolveTheme resolves the configured theme to "dark" or "light".
// If theme is "system", detects the OS dark mode setting.
// Falls back to "dark" on detection failure.
func ResolveTheme() string {
	theme := Theme()
	if theme != "system" {
		return theme
	}
	isDark, err := dark.IsDarkMode()
	if err != nil {
		return "dark"
	}
	if isDark {
		return "dark"
	}
	return "light"
}

// LogSettingsWithDefaults returns log settings with defaults applied
func LogSettingsWithDefaults() LogSettings {
	settings := LogSettings{}
	if config, err := LoadUserConfig(); err == nil && config != nil {
		settings = config.Logs
	}

	if settings.Level == "" {
		settings.Level = "info"
	}
	if settings.Format == "" {
		settings.Format = "json"
	}
	if settings.MaxSizeMB <= 0 {
		settings.MaxSizeMB = 10
	}
	if settings.MaxBackups <= 0 {
		settings.MaxBackups = 5
	}
	if settings.MaxAgeDays <= 0 {
		settings.MaxAgeDays = 10
	}
	if settings.RingBufferMB <= 0 {
		settings.RingBufferMB = 4
	}
	if settings.AggregateIntervalS <= 0 {
		settings.AggregateIntervalS = 30
	}
	return settings
}

// WebSettingsWithDefaults returns web server settings with defaults applied
func WebSettingsWithDefaults() WebSettings {
	settings := WebSettings{}
	if config, err := LoadUserConfig(); err == nil && config != nil {
		settings = config.Web
	}
	if settings.ListenAddr == "" {
		settings.ListenAddr = "127.0.0.1:7420"
	}
	if settings.EventsPerSecond <= 0 {
		settings.EventsPerSecond = 50
	}
	return settings
}

// ExpandTilde expands a leading ~/ to the user's home directory.
func ExpandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// CreateExampleConfig creates an example config file if none exists
func CreateExampleConfig() error {
	configPath, err := UserConfigPath()
	if err != nil {
		return err
	}

	// Don't overwrite existing config
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	exampleConfig := `# Trellico User Configuration
# This file is loaded on startup.

# Default agent provider for folders without an explicit setting
# Valid values: "claude_code", "amp"
# default_provider = "claude_code"

# Color scheme: "dark" (default), "light", or "system"
# theme = "dark"

# Log file management
# Trellico logs to ~/.trellico/trellico.log
[logs]
# Minimum log level: "debug", "info", "warn", "error" (default: "info")
level = "info"
# Log format: "json" (default) or "text"
format = "json"
# Max size in MB before rotation (default: 10)
max_size_mb = 10
# Rotated files to keep (default: 5)
max_backups = 5
# Days to keep rotated files (default: 10)
max_age_days = 10

# Local WebSocket event feed
# [web]
# enabled = true
# listen_addr = "127.0.0.1:7420"
# token = ""

# Ralph autonomous iteration loop
# [ralph]
# max_iterations = 10
`

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(configPath, []byte(exampleConfig), 0o600)
}
