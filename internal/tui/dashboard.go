// Package tui provides the live monitor dashboard.
package tui

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sparkmon/sparkmon/internal/engine"
	"github.com/sparkmon/sparkmon/internal/monitor"
)

// tickMsg drives the periodic snapshot refresh.
type tickMsg time.Time

const refreshInterval = 500 * time.Millisecond

// keyMap defines dashboard key bindings.
type keyMap struct {
	Quit   key.Binding
	Toggle key.Binding
	Show   key.Binding
	Hide   key.Binding
}

var keys = keyMap{
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Toggle: key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "toggle")),
	Show:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "show all")),
	Hide:   key.NewBinding(key.WithKeys("h"), key.WithHelp("h", "hide all")),
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle = lipgloss.NewStyle().Faint(true)
	helpStyle   = lipgloss.NewStyle().Faint(true)
	emptyStyle  = lipgloss.NewStyle().Italic(true).Faint(true)
)

// Model is the dashboard bubbletea model. It reads engine state through
// snapshots only; all mutation goes through the engine's exported
// visibility operations.
type Model struct {
	eng      *engine.Engine
	session  engine.SessionState
	snaps    []monitor.Snapshot
	width    int
	height   int
	quitting bool
}

// NewModel creates a dashboard over the given engine.
func NewModel(eng *engine.Engine) Model {
	return Model{eng: eng, width: 80}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Toggle):
			m.eng.ToggleVisibility()
		case key.Matches(msg, keys.Show):
			m.eng.ShowAll()
		case key.Matches(msg, keys.Hide):
			m.eng.HideAll()
		}
		return m, nil

	case tickMsg:
		m.session = m.eng.Session()
		m.snaps = m.eng.Snapshots()
		sort.Slice(m.snaps, func(i, j int) bool {
			return m.snaps[i].CellID < m.snaps[j].CellID
		})
		return m, tick()
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	s := m.session
	appName := s.AppName
	if appName == "" {
		appName = "(waiting for application start)"
	}

	var b []byte
	b = append(b, titleStyle.Render("sparkmon")...)
	b = append(b, '\n')
	b = append(b, headerStyle.Render(fmt.Sprintf("%s  instance %s  cores %d  executors %d  display %s",
		appName, s.AppInstance, s.TotalCores, s.NumExecutors, s.Visibility))...)
	b = append(b, '\n', '\n')

	if len(m.snaps) == 0 {
		b = append(b, emptyStyle.Render("no monitors yet (run a cell)")...)
		b = append(b, '\n')
	}
	for _, snap := range m.snaps {
		b = append(b, monitor.RenderLine(snap, m.width)...)
		b = append(b, '\n')
	}

	b = append(b, '\n')
	b = append(b, helpStyle.Render("q quit · t toggle · s show all · h hide all")...)
	return string(b)
}

// Run starts the dashboard and blocks until the user quits.
func Run(eng *engine.Engine) error {
	p := tea.NewProgram(NewModel(eng), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
