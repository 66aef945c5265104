package monitor

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"
	"golang.org/x/term"
)

const (
	// cellLabelWidth is the fixed column width for the cell id so bars from
	// different cells line up.
	cellLabelWidth = 14
	barWidth       = 30
	defaultWidth   = 80
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// RenderLine renders a one-line progress summary for a monitor snapshot.
// width <= 0 uses a sane default.
func RenderLine(s Snapshot, width int) string {
	if width <= 0 {
		width = defaultWidth
	}

	label := truncate.StringWithTail(s.CellID, cellLabelWidth, "…")
	label = runewidth.FillRight(label, cellLabelWidth)

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = barWidth
	bar.ShowPercentage = false

	counts := fmt.Sprintf("%d/%d tasks", s.TasksCompleted, s.TotalTasks)
	tail := dimStyle.Render(fmt.Sprintf("jobs %d/%d  stages %d/%d  cores %d  execs %d",
		s.JobsCompleted, s.JobsStarted,
		s.StagesCompleted, s.StagesSubmitted,
		s.Resources.TotalCores, s.Resources.NumExecutors))

	line := fmt.Sprintf("%s %s %3.0f%% %s  %s",
		labelStyle.Render(label),
		bar.ViewAs(s.Progress()),
		s.Progress()*100,
		counts,
		tail)

	return truncate.String(line, uint(width))
}

// Progress returns task completion as a fraction in [0, 1]. Zero total
// tasks renders as zero progress rather than a division by zero.
func (s Snapshot) Progress() float64 {
	if s.TotalTasks <= 0 {
		return 0
	}
	p := float64(s.TasksCompleted) / float64(s.TotalTasks)
	if p > 1 {
		p = 1
	}
	return p
}

// InlineDisplay renders a monitor as a single self-overwriting line on a
// writer (the non-TUI `run` output). Teardown finishes the line.
type InlineDisplay struct {
	mu    sync.Mutex
	w     io.Writer
	width int
	done  bool
}

// NewInlineDisplay creates a display writing to w. When w is a terminal the
// current width is detected once; otherwise a default is used.
func NewInlineDisplay(w io.Writer) *InlineDisplay {
	width := defaultWidth
	if f, ok := w.(*os.File); ok {
		if tw, _, err := term.GetSize(int(f.Fd())); err == nil && tw > 0 {
			width = tw
		}
	}
	return &InlineDisplay{w: w, width: width}
}

// Update implements Display.
func (d *InlineDisplay) Update(s Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return
	}
	fmt.Fprintf(d.w, "\r\x1b[2K%s", RenderLine(s, d.width))
}

// Teardown implements Display.
func (d *InlineDisplay) Teardown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return
	}
	d.done = true
	fmt.Fprintln(d.w)
}
