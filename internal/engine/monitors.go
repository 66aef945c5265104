package engine

import (
	"github.com/sparkmon/sparkmon/internal/monitor"
)

// Monitor returns the live monitor for a cell id, if any. A retired monitor
// is never returned.
func (e *Engine) Monitor(cellID string) (*monitor.Monitor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.monitors[cellID]
	return m, ok
}

// createMonitorLocked replaces any existing monitor for the cell with a
// fresh one; the old monitor's display is fully torn down first so a re-run
// always starts clean. Caller holds e.mu.
func (e *Engine) createMonitorLocked(cellID string) *monitor.Monitor {
	if old, ok := e.monitors[cellID]; ok {
		old.Retire()
		delete(e.monitors, cellID)
	}

	var display monitor.Display
	if e.displays != nil {
		display = e.displays(cellID)
	}
	m := monitor.New(cellID, display)
	e.monitors[cellID] = m
	return m
}

// RetireMonitor tears down a cell's display and evicts its monitor.
// Retiring an absent id is a no-op, so the call is idempotent.
func (e *Engine) RetireMonitor(cellID string) {
	e.mu.Lock()
	m, ok := e.monitors[cellID]
	if ok {
		delete(e.monitors, cellID)
	}
	e.mu.Unlock()

	if ok {
		m.Retire()
	}
}

// CellRemoved handles the frontend's notification that a cell was deleted:
// its monitor, if any, is retired and evicted. Job/stage records for the
// cell are intentionally left in place.
func (e *Engine) CellRemoved(cellID string) {
	e.RetireMonitor(cellID)
}

// ShowAll flips the display mode to shown. Past displays are not
// resurrected; only a subsequent job start creates a monitor.
func (e *Engine) ShowAll() {
	e.mu.Lock()
	e.session.Visibility = VisibilityShown
	e.mu.Unlock()
	e.log.Info("monitor display enabled")
}

// HideAll tears down the display of every monitor currently showing one and
// flips the mode to hidden. Monitors themselves survive; new events are
// dropped before monitor creation while hidden.
func (e *Engine) HideAll() {
	e.mu.Lock()
	e.session.Visibility = VisibilityHidden
	var displayed []*monitor.Monitor
	for _, m := range e.monitors {
		if m.Displayed() {
			displayed = append(displayed, m)
		}
	}
	e.mu.Unlock()

	for _, m := range displayed {
		m.HideDisplay()
	}
	e.log.Info("monitor display hidden", "torn_down", len(displayed))
}

// ToggleVisibility switches between shown and hidden.
func (e *Engine) ToggleVisibility() {
	e.mu.Lock()
	hidden := e.session.Visibility == VisibilityHidden
	e.mu.Unlock()

	if hidden {
		e.ShowAll()
	} else {
		e.HideAll()
	}
}

// Visibility returns the current display mode.
func (e *Engine) Visibility() Visibility {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Visibility
}

// Snapshots returns a point-in-time copy of every live monitor's state,
// for the dashboard and the run summary.
func (e *Engine) Snapshots() []monitor.Snapshot {
	e.mu.Lock()
	monitors := make([]*monitor.Monitor, 0, len(e.monitors))
	for _, m := range e.monitors {
		monitors = append(monitors, m)
	}
	e.mu.Unlock()

	snaps := make([]monitor.Snapshot, 0, len(monitors))
	for _, m := range monitors {
		snaps = append(snaps, m.Snapshot())
	}
	return snaps
}
