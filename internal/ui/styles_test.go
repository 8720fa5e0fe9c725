package ui

import (
	"testing"
)

func TestColorsDefined(t *testing.T) {
	colors := []string{
		string(ColorBg),
		string(ColorSurface),
		string(ColorBorder),
		string(ColorText),
		string(ColorAccent),
	}
	for _, c := range colors {
		if c == "" {
			t.Error("Color should not be empty")
		}
	}
}

func TestInitThemeSwitches(t *testing.T) {
	t.Cleanup(func() { InitTheme("dark") })

	InitTheme("light")
	if GetCurrentTheme() != ThemeLight {
		t.Errorf("theme after InitTheme(light) = %s", GetCurrentTheme())
	}
	if ColorBg != lightColors.Bg {
		t.Errorf("ColorBg = %s, want light palette %s", ColorBg, lightColors.Bg)
	}

	InitTheme("dark")
	if GetCurrentTheme() != ThemeDark {
		t.Errorf("theme after InitTheme(dark) = %s", GetCurrentTheme())
	}
	if ColorBg != darkColors.Bg {
		t.Errorf("ColorBg = %s, want dark palette %s", ColorBg, darkColors.Bg)
	}
}

func TestInitThemeUnknownFallsBackToDark(t *testing.T) {
	t.Cleanup(func() { InitTheme("dark") })

	InitTheme("solarized")
	if GetCurrentTheme() != ThemeDark {
		t.Errorf("unknown theme resolved to %s, want dark", GetCurrentTheme())
	}
}

func TestStatusIndicator(t *testing.T) {
	for _, status := range []string{"streaming", "running", "waiting", "error", "done", "unknown"} {
		if StatusIndicator(status) == "" {
			t.Errorf("StatusIndicator(%s) returned empty", status)
		}
	}
}

func TestMenuKey(t *testing.T) {
	if MenuKey("q", "quit") == "" {
		t.Error("MenuKey returned empty")
	}
}
