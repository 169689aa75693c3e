package waveform

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var levels = []rune(" ▁▂▃▄▅▆▇█")

var (
	liveStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#cdd6f4"))
	thinkingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#fab387"))
)

// TextSink draws frames as a single redrawn terminal line.
type TextSink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewTextSink(out io.Writer) *TextSink {
	return &TextSink{out: out}
}

func (s *TextSink) Draw(f Frame) error {
	line := RenderLine(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprint(s.out, "\r"+line)
	return err
}

// Clear erases the line.
func (s *TextSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprint(s.out, "\r\033[K")
}

// RenderLine mirrors the half bars around the center, one cell per bar.
func RenderLine(f Frame) string {
	n := len(f.Bars)
	cells := make([]rune, 2*n)
	for i, h := range f.Bars {
		r := level(h, f.MaxHeight)
		cells[n+i] = r
		cells[n-1-i] = r
	}
	style := liveStyle
	if f.Thinking {
		style = thinkingStyle
	}
	return style.Render(string(cells))
}

func level(h, maxHeight float64) rune {
	if maxHeight <= 0 || h <= MinBarHeight {
		return levels[1]
	}
	idx := int(h / maxHeight * float64(len(levels)-1))
	idx = max(1, min(idx, len(levels)-1))
	return levels[idx]
}
