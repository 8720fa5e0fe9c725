package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/trellico/trellico/internal/events"
)

func newTestStream(t *testing.T) *Stream {
	t.Helper()
	s := NewStream(StreamOptions{Title: "test"})
	model, _ := s.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return model.(*Stream)
}

func sendEvent(s *Stream, name string, payload any) *Stream {
	model, _ := s.Update(streamEventMsg{ev: events.Event{Name: name, Payload: payload}})
	return model.(*Stream)
}

func TestStreamAppendsOutputLines(t *testing.T) {
	s := newTestStream(t)
	s = sendEvent(s, "claude_code-output", events.Output{ProcessID: "p1", Data: "hello\nworld\n"})

	if len(s.lines) != 2 {
		t.Fatalf("lines = %d, want 2: %q", len(s.lines), s.lines)
	}
	if s.lines[0] != "hello" || s.lines[1] != "world" {
		t.Errorf("lines = %q", s.lines)
	}
}

func TestStreamKeepsPartialChunk(t *testing.T) {
	s := newTestStream(t)
	s = sendEvent(s, "claude_code-output", events.Output{ProcessID: "p1", Data: "par"})
	s = sendEvent(s, "claude_code-output", events.Output{ProcessID: "p1", Data: "tial\nrest"})

	if len(s.lines) != 1 || s.lines[0] != "partial" {
		t.Fatalf("lines = %q", s.lines)
	}
	if s.partial != "rest" {
		t.Errorf("partial = %q, want rest", s.partial)
	}
	if !strings.HasSuffix(s.content(), "rest") {
		t.Errorf("content should end with pending tail: %q", s.content())
	}
}

func TestStreamStripsCarriageReturns(t *testing.T) {
	s := newTestStream(t)
	s = sendEvent(s, "claude_code-output", events.Output{ProcessID: "p1", Data: "line\r\n"})

	if len(s.lines) != 1 || s.lines[0] != "line" {
		t.Fatalf("lines = %q", s.lines)
	}
}

func TestStreamExitZeroMarksDone(t *testing.T) {
	s := newTestStream(t)
	s = sendEvent(s, "claude_code-output", events.Output{ProcessID: "p1", Data: "tail"})
	s = sendEvent(s, "claude_code-exit", events.Exit{ProcessID: "p1", Code: 0})

	if s.status != "done" {
		t.Errorf("status = %s, want done", s.status)
	}
	// The pending tail is flushed before the exit line.
	if s.partial != "" {
		t.Errorf("partial not flushed: %q", s.partial)
	}
	if len(s.lines) != 2 {
		t.Fatalf("lines = %q", s.lines)
	}
	if s.lines[0] != "tail" {
		t.Errorf("flushed tail = %q", s.lines[0])
	}
}

func TestStreamNonZeroExitMarksError(t *testing.T) {
	s := newTestStream(t)
	s = sendEvent(s, "amp-exit", events.Exit{ProcessID: "p1", Code: 3})

	if s.status != "error" {
		t.Errorf("status = %s, want error", s.status)
	}
	if s.detail != "exit 3" {
		t.Errorf("detail = %q", s.detail)
	}
}

func TestStreamProcessError(t *testing.T) {
	s := newTestStream(t)
	s = sendEvent(s, "claude_code-error", events.ProcessError{ProcessID: "p1", Error: "binary not found"})

	if s.status != "error" {
		t.Errorf("status = %s, want error", s.status)
	}
	if len(s.lines) != 1 || !strings.Contains(s.lines[0], "binary not found") {
		t.Errorf("lines = %q", s.lines)
	}
}

func TestStreamPlanChangeRendering(t *testing.T) {
	s := newTestStream(t)
	s = sendEvent(s, events.EventPlanChange, events.PlanChange{
		ChangeType: events.ChangeRenamed,
		FileName:   "new.md", OldFileName: "old.md", FolderPath: "/w",
	})
	s = sendEvent(s, events.EventPlanChange, events.PlanChange{
		ChangeType: events.ChangeCreated,
		FileName:   "plan.md", FolderPath: "/w",
	})

	if len(s.lines) != 2 {
		t.Fatalf("lines = %q", s.lines)
	}
	if !strings.Contains(s.lines[0], "old.md") || !strings.Contains(s.lines[0], "new.md") {
		t.Errorf("rename line = %q", s.lines[0])
	}
	if !strings.Contains(s.lines[1], "plan.md") {
		t.Errorf("create line = %q", s.lines[1])
	}
}

func TestStreamScrollbackCap(t *testing.T) {
	s := newTestStream(t)
	var b strings.Builder
	for i := 0; i < maxBufferedLines+100; i++ {
		b.WriteString("x\n")
	}
	s = sendEvent(s, "claude_code-output", events.Output{ProcessID: "p1", Data: b.String()})

	if len(s.lines) != maxBufferedLines {
		t.Errorf("lines = %d, want cap %d", len(s.lines), maxBufferedLines)
	}
}

func TestStreamQuitInvokesOnQuit(t *testing.T) {
	stopped := 0
	s := NewStream(StreamOptions{Title: "t", OnQuit: func() { stopped++ }})
	model, _ := s.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	s = model.(*Stream)

	model, cmd := s.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	s = model.(*Stream)
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	// Quit is idempotent even if a second key slips in.
	s.quit()
	if stopped != 1 {
		t.Errorf("OnQuit called %d times, want 1", stopped)
	}
}

func TestStreamFollowToggle(t *testing.T) {
	s := newTestStream(t)
	if !s.follow {
		t.Fatal("follow should default on")
	}
	model, _ := s.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'f'}})
	s = model.(*Stream)
	if s.follow {
		t.Error("f should toggle follow off")
	}
	model, _ = s.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'G'}})
	s = model.(*Stream)
	if !s.follow {
		t.Error("G should re-engage follow")
	}
}

func TestStreamClosedChannelMarksDone(t *testing.T) {
	s := newTestStream(t)
	model, _ := s.Update(streamClosedMsg{})
	s = model.(*Stream)
	if !s.closed || s.status != "done" {
		t.Errorf("closed = %v status = %s", s.closed, s.status)
	}
}

func TestStreamViewBeforeReady(t *testing.T) {
	s := NewStream(StreamOptions{Title: "t"})
	if s.View() == "" {
		t.Error("View before first WindowSizeMsg should render placeholder")
	}
}
