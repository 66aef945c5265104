// Package engine implements the correlation engine: the single authoritative
// router from decoded Spark listener events to per-cell monitors. It owns the
// job/stage id maps, the live monitor set, and the per-connection session
// state.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sparkmon/sparkmon/internal/cell"
	"github.com/sparkmon/sparkmon/internal/events"
	"github.com/sparkmon/sparkmon/internal/monitor"
)

// Visibility is the engine-wide display mode.
type Visibility string

const (
	VisibilityShown  Visibility = "shown"
	VisibilityHidden Visibility = "hidden"
)

// SessionState is the per-connection application state. It lives for the
// duration of the connection and is mutated only by the engine's handlers;
// monitors receive copied snapshots, never references.
type SessionState struct {
	AppID        string     `json:"app_id"`
	AppName      string     `json:"app_name"`
	AppAttemptID string     `json:"app_attempt_id"`
	AppInstance  string     `json:"app_instance"`
	TotalCores   int        `json:"total_cores"`
	NumExecutors int        `json:"num_executors"`
	Visibility   Visibility `json:"visibility"`

	// cellsAtLastJobStart is the execution-count watermark used to tell a
	// fresh cell run from another job of the same run.
	cellsAtLastJobStart int
}

type jobKey struct {
	appInstance string
	jobID       int64
}

type stageKey struct {
	appInstance string
	stageID     int64
}

// DisplayFactory builds the display attached to a newly created monitor.
// A nil factory (or nil return) leaves monitors display-less.
type DisplayFactory func(cellID string) monitor.Display

// Engine correlates listener events with notebook cells.
//
// One engine instance exists per session and is passed explicitly to every
// collaborator. All event handlers run on the single goroutine driven by the
// channel adapter; the mutex exists because the dashboard snapshots monitor
// state from its own goroutine.
type Engine struct {
	mu sync.Mutex

	tracker  cell.Tracker
	bus      *events.Bus
	log      *slog.Logger
	displays DisplayFactory

	session SessionState

	// jobs and stages map composite (appInstance, id) keys to the owning
	// cell id. Entries are written once and never mutated; they are also
	// never evicted within a session, matching the upstream behavior. Long
	// sessions grow these maps without bound.
	jobs   map[jobKey]string
	stages map[stageKey]string

	monitors map[string]*monitor.Monitor
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus sets the bus resolved events are published on.
func WithBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithDisplayFactory sets the factory used for new monitors' displays.
func WithDisplayFactory(f DisplayFactory) Option {
	return func(e *Engine) { e.displays = f }
}

// WithVisibility sets the initial display mode.
func WithVisibility(v Visibility) Option {
	return func(e *Engine) { e.session.Visibility = v }
}

// New creates an engine reading the active cell from tracker.
func New(tracker cell.Tracker, opts ...Option) *Engine {
	e := &Engine{
		tracker:  tracker,
		log:      slog.Default(),
		jobs:     make(map[jobKey]string),
		stages:   make(map[stageKey]string),
		monitors: make(map[string]*monitor.Monitor),
		session: SessionState{
			Visibility: VisibilityShown,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.session.AppInstance = appInstance(e.session.AppID, e.session.AppAttemptID)
	return e
}

func appInstance(appID, attemptID string) string {
	return fmt.Sprintf("%s_%s", appID, attemptID)
}

// HandleMessage decodes a raw channel message and routes it to the matching
// handler. The whole pipeline is skipped while the engine is hidden; unknown
// message types are ignored; malformed payloads are logged and dropped. No
// failure escalates to the caller.
func (e *Engine) HandleMessage(raw []byte) {
	e.mu.Lock()
	hidden := e.session.Visibility == VisibilityHidden
	e.mu.Unlock()
	if hidden {
		return
	}

	ev, err := events.Decode(raw)
	if err != nil {
		e.log.Warn("dropping malformed channel message", "error", err)
		return
	}
	if ev == nil {
		e.log.Debug("ignoring channel message with unknown msgtype")
		return
	}
	e.Dispatch(ev)
}

// Dispatch routes a decoded event to its handler.
func (e *Engine) Dispatch(ev events.Event) {
	switch v := ev.(type) {
	case *events.JobStart:
		e.OnJobStart(v)
	case *events.JobEnd:
		e.OnJobEnd(v)
	case *events.StageSubmitted:
		e.OnStageSubmitted(v)
	case *events.StageCompleted:
		e.OnStageCompleted(v)
	case *events.TaskStart:
		e.OnTaskStart(v)
	case *events.TaskEnd:
		e.OnTaskEnd(v)
	case *events.ApplicationStart:
		e.OnApplicationStart(v)
	case *events.ApplicationEnd:
		e.OnApplicationEnd(v)
	case *events.ExecutorAdded:
		e.OnExecutorAdded(v)
	case *events.ExecutorRemoved:
		e.OnExecutorRemoved(v)
	default:
		e.log.Debug("ignoring event with unknown kind", "kind", ev.Kind())
	}
}

// OnApplicationStart records the application identifiers and recomputes the
// app instance key. Existing job/stage records stay keyed under the prior
// instance; composite keys keep instances from colliding.
func (e *Engine) OnApplicationStart(ev *events.ApplicationStart) {
	e.mu.Lock()
	e.session.AppID = ev.AppID
	e.session.AppName = ev.AppName
	e.session.AppAttemptID = ev.AppAttemptID
	e.session.AppInstance = appInstance(ev.AppID, ev.AppAttemptID)
	instance := e.session.AppInstance
	e.mu.Unlock()

	e.log.Info("application started", "app_id", ev.AppID, "app_name", ev.AppName, "instance", instance)
	e.publish("", instance, ev)
}

// OnApplicationEnd is a session-level terminal notice; no mapping mutation.
func (e *Engine) OnApplicationEnd(ev *events.ApplicationEnd) {
	e.mu.Lock()
	instance := e.session.AppInstance
	e.mu.Unlock()

	e.log.Info("application ended", "instance", instance)
	e.publish("", instance, ev)
}

// OnJobStart attributes a new job to the currently active cell, creating or
// replacing the cell's monitor as needed.
func (e *Engine) OnJobStart(ev *events.JobStart) {
	e.mu.Lock()
	// Last-write-wins: events may be missed while reconnecting, so totals
	// are always taken from the most recent job start.
	e.session.TotalCores = ev.TotalCores
	e.session.NumExecutors = ev.NumExecutors

	active := e.tracker.Active()
	if active == nil {
		e.mu.Unlock()
		e.log.Error("job started with no active cell", "job_id", ev.JobID)
		return
	}
	if active.ID() == "" {
		active.SetID(cell.FreshID())
	}
	cellID := active.ID()

	execCount := e.tracker.ExecutionCount()
	isNewRun := execCount > e.session.cellsAtLastJobStart
	if isNewRun {
		e.session.cellsAtLastJobStart = execCount
	}

	if e.session.Visibility == VisibilityShown {
		if _, ok := e.monitors[cellID]; !ok || isNewRun {
			e.createMonitorLocked(cellID)
		}
	}

	key := jobKey{appInstance: e.session.AppInstance, jobID: ev.JobID}
	e.jobs[key] = cellID

	mon := e.monitors[cellID]
	res := e.resourcesLocked()
	instance := e.session.AppInstance
	e.mu.Unlock()

	e.forward(mon, cellID, instance, ev, res)
}

// OnJobEnd forwards a job's end to the monitor that saw its start. A missing
// record is an error; a missing monitor is not (the display may have been
// hidden or the cell removed).
func (e *Engine) OnJobEnd(ev *events.JobEnd) {
	e.mu.Lock()
	key := jobKey{appInstance: e.session.AppInstance, jobID: ev.JobID}
	cellID, ok := e.jobs[key]
	if !ok {
		instance := e.session.AppInstance
		e.mu.Unlock()
		e.log.Error("job end for unknown job", "job_id", ev.JobID, "instance", instance)
		return
	}
	mon := e.monitors[cellID]
	res := e.resourcesLocked()
	instance := e.session.AppInstance
	e.mu.Unlock()

	e.forward(mon, cellID, instance, ev, res)
}

// OnStageSubmitted attributes a stage to whichever cell is active at
// submission time, which in interactive use may differ from the cell that
// triggered the job.
func (e *Engine) OnStageSubmitted(ev *events.StageSubmitted) {
	active := e.tracker.Active()
	if active == nil {
		e.log.Error("stage submitted with no active cell", "stage_id", ev.StageID)
		return
	}
	cellID := active.ID()
	if cellID == "" {
		e.log.Error("stage submitted while active cell has no id", "stage_id", ev.StageID)
		return
	}

	e.mu.Lock()
	key := stageKey{appInstance: e.session.AppInstance, stageID: ev.StageID}
	e.stages[key] = cellID
	mon := e.monitors[cellID]
	res := e.resourcesLocked()
	instance := e.session.AppInstance
	e.mu.Unlock()

	e.forward(mon, cellID, instance, ev, res)
}

// OnStageCompleted resolves the owning cell through the stage record.
func (e *Engine) OnStageCompleted(ev *events.StageCompleted) {
	e.forwardByStage(ev.StageID, ev)
}

// OnTaskStart resolves the owning cell through the stage record.
func (e *Engine) OnTaskStart(ev *events.TaskStart) {
	e.forwardByStage(ev.StageID, ev)
}

// OnTaskEnd resolves the owning cell through the stage record.
func (e *Engine) OnTaskEnd(ev *events.TaskEnd) {
	e.forwardByStage(ev.StageID, ev)
}

func (e *Engine) forwardByStage(stageID int64, ev events.Event) {
	e.mu.Lock()
	key := stageKey{appInstance: e.session.AppInstance, stageID: stageID}
	cellID, ok := e.stages[key]
	if !ok {
		instance := e.session.AppInstance
		e.mu.Unlock()
		e.log.Error("event for unknown stage", "kind", ev.Kind(), "stage_id", stageID, "instance", instance)
		return
	}
	mon := e.monitors[cellID]
	res := e.resourcesLocked()
	instance := e.session.AppInstance
	e.mu.Unlock()

	e.forward(mon, cellID, instance, ev, res)
}

// OnExecutorAdded updates cluster totals and best-effort annotates the
// active cell's monitor.
func (e *Engine) OnExecutorAdded(ev *events.ExecutorAdded) {
	e.onExecutorChange(ev.TotalCores, +1, ev)
}

// OnExecutorRemoved updates cluster totals and best-effort annotates the
// active cell's monitor.
func (e *Engine) OnExecutorRemoved(ev *events.ExecutorRemoved) {
	e.onExecutorChange(ev.TotalCores, -1, ev)
}

func (e *Engine) onExecutorChange(totalCores, delta int, ev events.Event) {
	e.mu.Lock()
	e.session.TotalCores = totalCores
	e.session.NumExecutors += delta

	var cellID string
	var mon *monitor.Monitor
	if active := e.tracker.Active(); active != nil {
		cellID = active.ID()
		mon = e.monitors[cellID]
	}
	res := e.resourcesLocked()
	instance := e.session.AppInstance
	e.mu.Unlock()

	e.forward(mon, cellID, instance, ev, res)
}

// forward delivers a resolved event to its monitor (when one exists) and
// publishes it on the bus. res was snapshotted under the lock so the monitor
// never sees half-updated session state.
func (e *Engine) forward(mon *monitor.Monitor, cellID, instance string, ev events.Event, res monitor.Resources) {
	cev := events.CellEvent{
		CellID:      cellID,
		AppInstance: instance,
		Timestamp:   time.Now(),
		Event:       ev,
	}
	if mon != nil {
		mon.OnEvent(cev, res)
	}
	if e.bus != nil {
		e.bus.Publish(cev)
	}
}

func (e *Engine) publish(cellID, instance string, ev events.Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.CellEvent{
		CellID:      cellID,
		AppInstance: instance,
		Timestamp:   time.Now(),
		Event:       ev,
	})
}

func (e *Engine) resourcesLocked() monitor.Resources {
	return monitor.Resources{
		TotalCores:   e.session.TotalCores,
		NumExecutors: e.session.NumExecutors,
	}
}

// Session returns a copy of the current session state.
func (e *Engine) Session() SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// JobCell returns the cell id recorded for a job under the current app
// instance.
func (e *Engine) JobCell(jobID int64) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.jobs[jobKey{appInstance: e.session.AppInstance, jobID: jobID}]
	return id, ok
}

// StageCell returns the cell id recorded for a stage under the current app
// instance.
func (e *Engine) StageCell(stageID int64) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.stages[stageKey{appInstance: e.session.AppInstance, stageID: stageID}]
	return id, ok
}
