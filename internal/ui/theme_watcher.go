package ui

import (
	"context"
	"log/slog"
	"sync"

	dark "github.com/thiagokokada/dark-mode-go"
)

// ThemeWatcher follows the OS appearance so a viewer configured with the
// "system" theme restyles live. Theme names ("dark"/"light") arrive on
// ChangeChannel; sends are non-blocking, a slow consumer only sees the
// latest state it reads.
type ThemeWatcher struct {
	themes    chan string
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewThemeWatcher starts watching the OS appearance. Returns nil when the
// platform probe fails; callers then stay on the initially resolved theme.
func NewThemeWatcher(parentCtx context.Context) *ThemeWatcher {
	ctx, cancel := context.WithCancel(parentCtx)

	changes, errs, err := dark.WatchDarkMode(ctx)
	if err != nil {
		cancel()
		uiLog.Warn("theme_watch_unavailable", slog.String("error", err.Error()))
		return nil
	}

	tw := &ThemeWatcher{
		themes: make(chan string, 1),
		cancel: cancel,
	}
	go tw.forward(ctx, changes, errs)
	return tw
}

func (tw *ThemeWatcher) forward(ctx context.Context, changes <-chan bool, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case isDark, ok := <-changes:
			if !ok {
				return
			}
			theme := "light"
			if isDark {
				theme = "dark"
			}
			// Drop the stale pending value, keep only the newest.
			select {
			case <-tw.themes:
			default:
			}
			tw.themes <- theme
		case err, ok := <-errs:
			if ok && err != nil {
				uiLog.Warn("theme_watch_error", slog.String("error", err.Error()))
			}
		}
	}
}

// ChangeChannel delivers the theme name after each OS appearance change.
func (tw *ThemeWatcher) ChangeChannel() <-chan string {
	return tw.themes
}

// Close stops the watcher. Safe to call multiple times.
func (tw *ThemeWatcher) Close() {
	tw.closeOnce.Do(tw.cancel)
}
