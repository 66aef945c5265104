// Package monitor accumulates per-cell progress state for the Spark jobs,
// stages, and tasks attributed to one notebook cell, and owns that cell's
// display lifecycle.
package monitor

import (
	"sync"
	"time"

	"github.com/sparkmon/sparkmon/internal/events"
)

// Resources is the cluster resource snapshot copied into a monitor at event
// forward time, so a monitor never observes a half-updated session state.
type Resources struct {
	TotalCores   int `json:"total_cores"`
	NumExecutors int `json:"num_executors"`
}

// Display renders a monitor's progress and is torn down exactly once when
// the monitor is retired or replaced.
type Display interface {
	Update(Snapshot)
	Teardown()
}

// Monitor tracks one cell's association with Spark work. Created by the
// engine on the cell's first qualifying job start, destroyed when the cell
// is removed or re-run.
type Monitor struct {
	mu sync.Mutex

	cellID    string
	display   Display
	displayed bool
	retired   bool

	jobsStarted     int
	jobsCompleted   int
	stagesSubmitted int
	stagesCompleted int
	tasksStarted    int
	tasksCompleted  int
	totalTasks      int

	res       Resources
	startedAt time.Time
	lastEvent time.Time
}

// Snapshot is a point-in-time copy of a monitor's state, safe to hand to
// renderers on other goroutines.
type Snapshot struct {
	CellID          string    `json:"cell_id"`
	Displayed       bool      `json:"displayed"`
	Retired         bool      `json:"retired"`
	JobsStarted     int       `json:"jobs_started"`
	JobsCompleted   int       `json:"jobs_completed"`
	StagesSubmitted int       `json:"stages_submitted"`
	StagesCompleted int       `json:"stages_completed"`
	TasksStarted    int       `json:"tasks_started"`
	TasksCompleted  int       `json:"tasks_completed"`
	TotalTasks      int       `json:"total_tasks"`
	Resources       Resources `json:"resources"`
	StartedAt       time.Time `json:"started_at"`
	LastEvent       time.Time `json:"last_event"`
}

// New creates a monitor for the given cell. display may be nil (state is
// still tracked, nothing is rendered).
func New(cellID string, display Display) *Monitor {
	return &Monitor{
		cellID:    cellID,
		display:   display,
		displayed: display != nil,
		startedAt: time.Now(),
	}
}

// CellID returns the owning cell's id.
func (m *Monitor) CellID() string { return m.cellID }

// OnEvent folds a resolved event into the monitor's counters and refreshes
// the display. Events arriving after retirement are ignored.
func (m *Monitor) OnEvent(ev events.CellEvent, res Resources) {
	m.mu.Lock()
	if m.retired {
		m.mu.Unlock()
		return
	}

	m.res = res
	m.lastEvent = ev.Timestamp
	if m.lastEvent.IsZero() {
		m.lastEvent = time.Now()
	}

	switch e := ev.Event.(type) {
	case *events.JobStart:
		m.jobsStarted++
	case *events.JobEnd:
		m.jobsCompleted++
	case *events.StageSubmitted:
		m.stagesSubmitted++
		m.totalTasks += e.NumTasks
	case *events.StageCompleted:
		m.stagesCompleted++
	case *events.TaskStart:
		m.tasksStarted++
	case *events.TaskEnd:
		m.tasksCompleted++
	}

	display := m.display
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if display != nil {
		display.Update(snap)
	}
}

// Snapshot returns a copy of the monitor's current state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Snapshot {
	return Snapshot{
		CellID:          m.cellID,
		Displayed:       m.displayed,
		Retired:         m.retired,
		JobsStarted:     m.jobsStarted,
		JobsCompleted:   m.jobsCompleted,
		StagesSubmitted: m.stagesSubmitted,
		StagesCompleted: m.stagesCompleted,
		TasksStarted:    m.tasksStarted,
		TasksCompleted:  m.tasksCompleted,
		TotalTasks:      m.totalTasks,
		Resources:       m.res,
		StartedAt:       m.startedAt,
		LastEvent:       m.lastEvent,
	}
}

// Retire tears down the display and marks the monitor dead. Idempotent and
// total: the display is removed exactly once, never partially.
func (m *Monitor) Retire() {
	m.mu.Lock()
	if m.retired {
		m.mu.Unlock()
		return
	}
	m.retired = true
	display := m.display
	m.display = nil
	m.displayed = false
	m.mu.Unlock()

	if display != nil {
		display.Teardown()
	}
}

// Retired reports whether the monitor has been retired.
func (m *Monitor) Retired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retired
}

// HideDisplay tears down the display without retiring the monitor. Used by
// the engine's hide-all: state keeps accumulating, nothing renders.
func (m *Monitor) HideDisplay() {
	m.mu.Lock()
	display := m.display
	m.display = nil
	m.displayed = false
	m.mu.Unlock()

	if display != nil {
		display.Teardown()
	}
}

// Displayed reports whether the monitor currently owns a live display.
func (m *Monitor) Displayed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayed
}
