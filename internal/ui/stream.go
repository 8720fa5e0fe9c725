package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/trellico/trellico/internal/events"
)

// maxBufferedLines caps the viewer's scrollback. Oldest lines are dropped;
// the full output still goes to the provider session on disk.
const maxBufferedLines = 5000

// StreamOptions configures a stream viewer.
type StreamOptions struct {
	// Title is shown in the header ("claude_code @ /path" or "watch /path").
	Title string
	// Events is a bus subscription; the viewer drains it until it closes.
	Events <-chan events.Event
	// OnQuit is invoked once when the user quits, before the program exits.
	// Used to stop the process or the watchers feeding the channel.
	OnQuit func()
	// ThemeWatcher, when non-nil, restyles the viewer on OS theme changes.
	ThemeWatcher *ThemeWatcher
}

// Stream is the bubbletea model for the event stream viewer.
type Stream struct {
	opts StreamOptions

	vp      viewport.Model
	ready   bool
	follow  bool
	width   int
	height  int
	status  string // "streaming", "done", "error"
	detail  string // exit code or error text for the header
	lines   []string
	partial string // output tail not yet terminated by a newline
	closed  bool
	quitted bool
}

type streamEventMsg struct {
	ev events.Event
}

type streamClosedMsg struct{}

type themeChangeMsg struct {
	theme string
}

// NewStream creates a stream viewer model.
func NewStream(opts StreamOptions) *Stream {
	return &Stream{
		opts:   opts,
		follow: true,
		status: "streaming",
	}
}

// RunStream runs the viewer until the user quits. Blocks.
func RunStream(opts StreamOptions) error {
	p := tea.NewProgram(NewStream(opts), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("ui: stream viewer: %w", err)
	}
	return nil
}

func (s *Stream) Init() tea.Cmd {
	cmds := []tea.Cmd{waitForEvent(s.opts.Events)}
	if s.opts.ThemeWatcher != nil {
		cmds = append(cmds, waitForTheme(s.opts.ThemeWatcher))
	}
	return tea.Batch(cmds...)
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return streamEventMsg{ev: ev}
	}
}

func waitForTheme(tw *ThemeWatcher) tea.Cmd {
	return func() tea.Msg {
		theme, ok := <-tw.ChangeChannel()
		if !ok {
			return nil
		}
		return themeChangeMsg{theme: theme}
	}
}

func (s *Stream) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
		bodyHeight := msg.Height - 2 // header + status bar
		if bodyHeight < 1 {
			bodyHeight = 1
		}
		if !s.ready {
			s.vp = viewport.New(msg.Width, bodyHeight)
			s.ready = true
		} else {
			s.vp.Width = msg.Width
			s.vp.Height = bodyHeight
		}
		s.vp.SetContent(s.content())
		if s.follow {
			s.vp.GotoBottom()
		}
		return s, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			s.quit()
			return s, tea.Quit
		case "f":
			s.follow = !s.follow
			if s.follow {
				s.vp.GotoBottom()
			}
			return s, nil
		case "g", "home":
			s.follow = false
			s.vp.GotoTop()
			return s, nil
		case "G", "end":
			s.follow = true
			s.vp.GotoBottom()
			return s, nil
		case "up", "k", "pgup", "b":
			// Manual scrolling disengages follow mode.
			s.follow = false
		}
		var cmd tea.Cmd
		s.vp, cmd = s.vp.Update(msg)
		return s, cmd

	case streamEventMsg:
		s.appendEvent(msg.ev)
		if s.ready {
			s.vp.SetContent(s.content())
			if s.follow {
				s.vp.GotoBottom()
			}
		}
		return s, waitForEvent(s.opts.Events)

	case streamClosedMsg:
		s.closed = true
		if s.status == "streaming" {
			s.status = "done"
		}
		return s, nil

	case themeChangeMsg:
		InitTheme(msg.theme)
		if s.opts.ThemeWatcher != nil {
			return s, waitForTheme(s.opts.ThemeWatcher)
		}
		return s, nil
	}

	if s.ready {
		var cmd tea.Cmd
		s.vp, cmd = s.vp.Update(msg)
		return s, cmd
	}
	return s, nil
}

func (s *Stream) quit() {
	if s.quitted {
		return
	}
	s.quitted = true
	if s.opts.OnQuit != nil {
		s.opts.OnQuit()
	}
}

// appendEvent folds one bus event into the scrollback.
func (s *Stream) appendEvent(ev events.Event) {
	switch p := ev.Payload.(type) {
	case events.Output:
		s.appendOutput(p.Data)
	case events.Exit:
		s.flushPartial()
		s.status = "done"
		s.detail = fmt.Sprintf("exit %d", p.Code)
		if p.Code == 0 {
			s.appendLine(SuccessStyle.Render(fmt.Sprintf("process exited (code %d)", p.Code)))
		} else {
			s.status = "error"
			s.appendLine(ErrorStyle.Render(fmt.Sprintf("process exited (code %d)", p.Code)))
		}
	case events.ProcessError:
		s.flushPartial()
		s.status = "error"
		s.detail = p.Error
		s.appendLine(ErrorStyle.Render("process error: " + p.Error))
	case events.PlanChange:
		s.appendLine(formatPlanChange(ev.Name, p))
	case events.FolderRef:
		s.appendLine(DimStyle.Render(ev.Name + " " + p.FolderPath))
	default:
		s.appendLine(DimStyle.Render(ev.Name))
	}
}

// formatPlanChange renders one classified change as a log line.
func formatPlanChange(name string, p events.PlanChange) string {
	label := EventNameStyle.Render(p.ChangeType)
	switch p.ChangeType {
	case events.ChangeRenamed:
		return fmt.Sprintf("%s  %s -> %s", label,
			DimStyle.Render(p.OldFileName), FileNameStyle.Render(p.FileName))
	default:
		return fmt.Sprintf("%s  %s", label, FileNameStyle.Render(p.FileName))
	}
}

// appendOutput folds a raw chunk into lines. PTY output arrives in arbitrary
// chunk boundaries; the tail after the last newline stays pending until the
// next chunk or a terminal event completes it.
func (s *Stream) appendOutput(data string) {
	s.partial += data
	for {
		idx := strings.IndexByte(s.partial, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(s.partial[:idx], "\r")
		s.partial = s.partial[idx+1:]
		s.appendLine(line)
	}
}

func (s *Stream) flushPartial() {
	if s.partial != "" {
		s.appendLine(s.partial)
		s.partial = ""
	}
}

func (s *Stream) appendLine(line string) {
	s.lines = append(s.lines, line)
	if len(s.lines) > maxBufferedLines {
		s.lines = s.lines[len(s.lines)-maxBufferedLines:]
	}
}

func (s *Stream) content() string {
	if s.partial == "" {
		return strings.Join(s.lines, "\n")
	}
	return strings.Join(s.lines, "\n") + "\n" + s.partial
}

func (s *Stream) View() string {
	if !s.ready {
		return "loading..."
	}
	return s.headerView() + "\n" + s.vp.View() + "\n" + s.statusBarView()
}

func (s *Stream) headerView() string {
	title := s.opts.Title
	if s.detail != "" {
		title += "  (" + s.detail + ")"
	}
	// Leave room for the indicator and padding.
	if maxWidth := s.width - 4; maxWidth > 0 && runewidth.StringWidth(title) > maxWidth {
		title = runewidth.Truncate(title, maxWidth, "...")
	}
	return HeaderStyle.Width(s.width).Render(StatusIndicator(s.status) + " " + title)
}

func (s *Stream) statusBarView() string {
	followKey := "follow"
	if s.follow {
		followKey = "unfollow"
	}
	keys := strings.Join([]string{
		MenuKey("q", "quit"),
		MenuKey("f", followKey),
		MenuKey("g/G", "top/bottom"),
	}, SeparatorStyle.Render("  |  "))
	return StatusBarStyle.Width(s.width).Render(keys)
}
