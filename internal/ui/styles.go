// Package ui renders the terminal stream viewer used by `trellico run` and
// `trellico watch` when stdout is a terminal.
package ui

import (
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/trellico/trellico/internal/logging"
)

var uiLog = logging.ForComponent("ui")

// Theme is the active color scheme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

var currentTheme Theme = ThemeDark

type palette struct {
	Bg, Surface, Border, Text, TextDim lipgloss.Color
	Accent, Green, Yellow, Red, Cyan   lipgloss.Color
	Comment                            lipgloss.Color
}

// Tokyo Night
var darkColors = palette{
	Bg:      lipgloss.Color("#1a1b26"),
	Surface: lipgloss.Color("#24283b"),
	Border:  lipgloss.Color("#414868"),
	Text:    lipgloss.Color("#c0caf5"),
	TextDim: lipgloss.Color("#787fa0"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Green:   lipgloss.Color("#9ece6a"),
	Yellow:  lipgloss.Color("#e0af68"),
	Red:     lipgloss.Color("#f7768e"),
	Cyan:    lipgloss.Color("#7dcfff"),
	Comment: lipgloss.Color("#787fa0"),
}

// Tokyo Night Light variant
var lightColors = palette{
	Bg:      lipgloss.Color("#d5d6db"),
	Surface: lipgloss.Color("#e9e9ec"),
	Border:  lipgloss.Color("#9699a3"),
	Text:    lipgloss.Color("#343b58"),
	TextDim: lipgloss.Color("#6a6d7c"),
	Accent:  lipgloss.Color("#34548a"),
	Green:   lipgloss.Color("#485e30"),
	Yellow:  lipgloss.Color("#8f5e15"),
	Red:     lipgloss.Color("#8c4351"),
	Cyan:    lipgloss.Color("#166775"),
	Comment: lipgloss.Color("#6a6d7c"),
}

// Active color variables (set by InitTheme)
var (
	ColorBg      lipgloss.Color
	ColorSurface lipgloss.Color
	ColorBorder  lipgloss.Color
	ColorText    lipgloss.Color
	ColorTextDim lipgloss.Color
	ColorAccent  lipgloss.Color
	ColorGreen   lipgloss.Color
	ColorYellow  lipgloss.Color
	ColorRed     lipgloss.Color
	ColorCyan    lipgloss.Color
	ColorComment lipgloss.Color
)

// themeMu protects global color/style variables during live theme switches.
// Write lock held by InitTheme; read lock held by the render helpers.
var themeMu sync.RWMutex

// InitTheme sets the active palette ("light" or anything else for dark) and
// rebuilds every style. Must be called before rendering.
func InitTheme(theme string) {
	themeMu.Lock()
	defer themeMu.Unlock()
	p := darkColors
	currentTheme = ThemeDark
	if theme == "light" {
		p = lightColors
		currentTheme = ThemeLight
	}
	ColorBg = p.Bg
	ColorSurface = p.Surface
	ColorBorder = p.Border
	ColorText = p.Text
	ColorTextDim = p.TextDim
	ColorAccent = p.Accent
	ColorGreen = p.Green
	ColorYellow = p.Yellow
	ColorRed = p.Red
	ColorCyan = p.Cyan
	ColorComment = p.Comment
	initStyles()
}

// GetCurrentTheme returns the active theme.
func GetCurrentTheme() Theme {
	themeMu.RLock()
	defer themeMu.RUnlock()
	return currentTheme
}

func init() {
	InitTheme("dark")
}

var (
	TitleStyle   lipgloss.Style
	HeaderStyle  lipgloss.Style
	DimStyle     lipgloss.Style
	ErrorStyle   lipgloss.Style
	SuccessStyle lipgloss.Style
	WarningStyle lipgloss.Style
	InfoStyle    lipgloss.Style

	StatusBarStyle lipgloss.Style
	KeyStyle       lipgloss.Style
	KeyDescStyle   lipgloss.Style
	SeparatorStyle lipgloss.Style

	EventNameStyle lipgloss.Style
	FileNameStyle  lipgloss.Style
)

func initStyles() {
	TitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent).
		Background(ColorSurface).
		Padding(0, 1)

	HeaderStyle = lipgloss.NewStyle().
		Background(ColorSurface).
		Foreground(ColorText).
		Padding(0, 1)

	DimStyle = lipgloss.NewStyle().
		Foreground(ColorComment)

	ErrorStyle = lipgloss.NewStyle().
		Foreground(ColorRed).
		Bold(true)

	SuccessStyle = lipgloss.NewStyle().
		Foreground(ColorGreen).
		Bold(true)

	WarningStyle = lipgloss.NewStyle().
		Foreground(ColorYellow).
		Bold(true)

	InfoStyle = lipgloss.NewStyle().
		Foreground(ColorCyan)

	StatusBarStyle = lipgloss.NewStyle().
		Background(ColorSurface).
		Foreground(ColorTextDim).
		Padding(0, 1)

	KeyStyle = lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true)

	KeyDescStyle = lipgloss.NewStyle().
		Foreground(ColorText)

	SeparatorStyle = lipgloss.NewStyle().
		Foreground(ColorBorder)

	EventNameStyle = lipgloss.NewStyle().
		Foreground(ColorCyan).
		Bold(true)

	FileNameStyle = lipgloss.NewStyle().
		Foreground(ColorText).
		Bold(true)
}

// MenuKey formats one key binding for the status bar.
func MenuKey(key, description string) string {
	themeMu.RLock()
	defer themeMu.RUnlock()
	return KeyStyle.Render(key) + " " + KeyDescStyle.Render(description)
}

// StatusIndicator returns a styled one-rune status glyph.
// Symbols: ● streaming, ○ done, ✕ error, ◐ waiting
func StatusIndicator(status string) string {
	themeMu.RLock()
	defer themeMu.RUnlock()
	switch status {
	case "streaming", "running":
		return SuccessStyle.Render("●")
	case "waiting":
		return WarningStyle.Render("◐")
	case "error":
		return ErrorStyle.Render("✕")
	default:
		return DimStyle.Render("○")
	}
}
