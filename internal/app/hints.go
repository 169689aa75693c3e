package app

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	hintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f9e2af"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f38ba8")).Bold(true)
	idleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6adc8"))
)

// TerminalHints prints user-facing hints, one line each. A shown hint is
// printed once until hidden.
type TerminalHints struct {
	mu      sync.Mutex
	out     io.Writer
	showing string
}

func NewTerminalHints(out io.Writer) *TerminalHints {
	return &TerminalHints{out: out}
}

func (h *TerminalHints) ShowMuted() {
	h.show("muted", hintStyle.Render("Your microphone seems muted. Unmute it or speak up to continue."))
}

func (h *TerminalHints) ShowDenied() {
	h.show("denied", errStyle.Render("Microphone access was denied. Voice features are unavailable."))
}

func (h *TerminalHints) ShowReady(wakeword string) {
	msg := "Press Enter to talk to your task list."
	if wakeword != "" {
		msg = fmt.Sprintf("Say %q or press Enter to talk to your task list.", wakeword)
	}
	h.show("ready", idleStyle.Render(msg))
}

func (h *TerminalHints) HideHints() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.showing = ""
}

func (h *TerminalHints) show(key, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.showing == key {
		return
	}
	h.showing = key
	_, _ = fmt.Fprintln(h.out, "\r\033[K"+line)
}
