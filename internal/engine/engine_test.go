package engine

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/sparkmon/sparkmon/internal/cell"
	"github.com/sparkmon/sparkmon/internal/events"
	"github.com/sparkmon/sparkmon/internal/monitor"
)

// fakeDisplay records teardown calls so tests can assert display lifecycle.
type fakeDisplay struct {
	mu        sync.Mutex
	updates   int
	teardowns int
}

func (d *fakeDisplay) Update(monitor.Snapshot) {
	d.mu.Lock()
	d.updates++
	d.mu.Unlock()
}

func (d *fakeDisplay) Teardown() {
	d.mu.Lock()
	d.teardowns++
	d.mu.Unlock()
}

// displayCounter is a DisplayFactory that tracks every display it built.
type displayCounter struct {
	mu       sync.Mutex
	displays []*fakeDisplay
}

func (c *displayCounter) factory(cellID string) monitor.Display {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := &fakeDisplay{}
	c.displays = append(c.displays, d)
	return d
}

func (c *displayCounter) created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.displays)
}

func (c *displayCounter) tornDown() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, d := range c.displays {
		d.mu.Lock()
		n += d.teardowns
		d.mu.Unlock()
	}
	return n
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *cell.ManualTracker, *displayCounter) {
	t.Helper()
	tracker := cell.NewManualTracker()
	counter := &displayCounter{}
	base := []Option{WithDisplayFactory(counter.factory)}
	e := New(tracker, append(base, opts...)...)
	return e, tracker, counter
}

func startApp(e *Engine, appID, attemptID string) {
	e.OnApplicationStart(&events.ApplicationStart{AppID: appID, AppName: "test-app", AppAttemptID: attemptID})
}

func TestScenarioA_JobStartEndRoundTrip(t *testing.T) {
	e, tracker, _ := newTestEngine(t)
	startApp(e, "app1", "1")

	if got := e.Session().AppInstance; got != "app1_1" {
		t.Fatalf("expected app instance app1_1, got %q", got)
	}

	tracker.BeginExecution(cell.NewRef("c1"))
	e.OnJobStart(&events.JobStart{JobID: 0, TotalCores: 4, NumExecutors: 2})

	if id, ok := e.JobCell(0); !ok || id != "c1" {
		t.Fatalf("expected job 0 recorded for c1, got (%q, %v)", id, ok)
	}
	mon, ok := e.Monitor("c1")
	if !ok {
		t.Fatal("expected a monitor for c1")
	}
	if snap := mon.Snapshot(); snap.JobsStarted != 1 {
		t.Errorf("expected 1 job started, got %d", snap.JobsStarted)
	}

	e.OnJobEnd(&events.JobEnd{JobID: 0})

	if snap := mon.Snapshot(); snap.JobsCompleted != 1 {
		t.Errorf("expected 1 job completed, got %d", snap.JobsCompleted)
	}
	if _, ok := e.JobCell(0); !ok {
		t.Error("job record should survive job end")
	}
}

func TestSameMonitorReceivesStartAndEnd(t *testing.T) {
	e, tracker, _ := newTestEngine(t)
	startApp(e, "app1", "1")
	tracker.BeginExecution(cell.NewRef("c1"))

	e.OnJobStart(&events.JobStart{JobID: 7, TotalCores: 4, NumExecutors: 2})
	monStart, _ := e.Monitor("c1")

	e.OnJobEnd(&events.JobEnd{JobID: 7})
	monEnd, _ := e.Monitor("c1")

	if monStart != monEnd {
		t.Fatal("job start and end must hit the same monitor")
	}
}

func TestScenarioB_UnknownJobEndIsHarmless(t *testing.T) {
	e, tracker, counter := newTestEngine(t)
	startApp(e, "app1", "1")
	tracker.BeginExecution(cell.NewRef("c1"))
	e.OnJobStart(&events.JobStart{JobID: 1, TotalCores: 4, NumExecutors: 2})

	before := e.Session()
	e.OnJobEnd(&events.JobEnd{JobID: 99})

	after := e.Session()
	if before != after {
		t.Error("unknown job end must not mutate session state")
	}
	if _, ok := e.Monitor("c1"); !ok {
		t.Error("existing monitor must survive an unknown job end")
	}
	if counter.tornDown() != 0 {
		t.Error("unknown job end must not tear down displays")
	}
}

func TestScenarioC_HiddenModeCreatesNoMonitor(t *testing.T) {
	e, tracker, counter := newTestEngine(t)
	startApp(e, "app1", "1")
	tracker.BeginExecution(cell.NewRef("c1"))

	e.HideAll()
	e.OnJobStart(&events.JobStart{JobID: 0, TotalCores: 4, NumExecutors: 2})

	if _, ok := e.Monitor("c1"); ok {
		t.Fatal("no monitor may be created while hidden")
	}
	if id, ok := e.JobCell(0); !ok || id != "c1" {
		t.Error("bookkeeping must still record the job while hidden")
	}

	e.ShowAll()
	if _, ok := e.Monitor("c1"); ok {
		t.Fatal("show-all must not retroactively create monitors")
	}

	e.OnJobStart(&events.JobStart{JobID: 1, TotalCores: 4, NumExecutors: 2})
	if _, ok := e.Monitor("c1"); !ok {
		t.Fatal("a job start after show-all must create the monitor")
	}
	if counter.created() != 1 {
		t.Errorf("expected exactly 1 display created, got %d", counter.created())
	}
}

func TestScenarioD_ExecutorEventsUpdateSession(t *testing.T) {
	e, _, _ := newTestEngine(t)
	startApp(e, "app1", "1")

	// No active cell: the update must still land.
	e.OnExecutorAdded(&events.ExecutorAdded{TotalCores: 16})

	s := e.Session()
	if s.TotalCores != 16 {
		t.Errorf("expected total cores 16, got %d", s.TotalCores)
	}
	if s.NumExecutors != 1 {
		t.Errorf("expected 1 executor, got %d", s.NumExecutors)
	}

	e.OnExecutorRemoved(&events.ExecutorRemoved{TotalCores: 8})
	s = e.Session()
	if s.TotalCores != 8 || s.NumExecutors != 0 {
		t.Errorf("expected (8 cores, 0 executors), got (%d, %d)", s.TotalCores, s.NumExecutors)
	}
}

func TestRerunRetiresThenCreatesExactlyOnce(t *testing.T) {
	e, tracker, counter := newTestEngine(t)
	startApp(e, "app1", "1")

	ref := cell.NewRef("c1")
	tracker.BeginExecution(ref)
	e.OnJobStart(&events.JobStart{JobID: 0, TotalCores: 4, NumExecutors: 2})
	first, _ := e.Monitor("c1")

	// Same run, second job: the monitor is reused.
	e.OnJobStart(&events.JobStart{JobID: 1, TotalCores: 4, NumExecutors: 2})
	second, _ := e.Monitor("c1")
	if first != second {
		t.Fatal("same run must reuse the monitor")
	}

	// Re-run: exactly one retirement, one creation.
	tracker.BeginExecution(ref)
	e.OnJobStart(&events.JobStart{JobID: 2, TotalCores: 4, NumExecutors: 2})
	third, ok := e.Monitor("c1")
	if !ok {
		t.Fatal("re-run must produce a monitor")
	}
	if third == first {
		t.Fatal("re-run must produce a fresh monitor")
	}
	if !first.Retired() {
		t.Error("old monitor must be retired")
	}
	if counter.created() != 2 {
		t.Errorf("expected 2 displays created, got %d", counter.created())
	}
	if counter.tornDown() != 1 {
		t.Errorf("expected 1 display torn down, got %d", counter.tornDown())
	}
}

func TestRetireMonitorIdempotent(t *testing.T) {
	e, tracker, counter := newTestEngine(t)
	startApp(e, "app1", "1")
	tracker.BeginExecution(cell.NewRef("c1"))
	e.OnJobStart(&events.JobStart{JobID: 0, TotalCores: 4, NumExecutors: 2})

	e.RetireMonitor("c1")
	e.RetireMonitor("c1")

	if _, ok := e.Monitor("c1"); ok {
		t.Fatal("monitor must be absent after retirement")
	}
	if counter.tornDown() != 1 {
		t.Errorf("double retire must tear down once, got %d", counter.tornDown())
	}

	// Retiring an id that never existed is a no-op.
	e.RetireMonitor("never-existed")
}

func TestEmptyCellIDGetsFreshID(t *testing.T) {
	e, tracker, _ := newTestEngine(t)
	startApp(e, "app1", "1")

	ref := cell.NewRef("")
	tracker.BeginExecution(ref)
	e.OnJobStart(&events.JobStart{JobID: 0, TotalCores: 4, NumExecutors: 2})

	if ref.ID() == "" {
		t.Fatal("engine must assign an id to an unnamed cell")
	}
	if id, _ := e.JobCell(0); id != ref.ID() {
		t.Errorf("job record id %q does not match assigned cell id %q", id, ref.ID())
	}
}

func TestJobStartWithoutActiveCell(t *testing.T) {
	e, _, counter := newTestEngine(t)
	startApp(e, "app1", "1")

	e.OnJobStart(&events.JobStart{JobID: 0, TotalCores: 4, NumExecutors: 2})

	if _, ok := e.JobCell(0); ok {
		t.Error("a job with no active cell must not be recorded")
	}
	if counter.created() != 0 {
		t.Error("a job with no active cell must not create a monitor")
	}
	// Resource totals still apply (last-write-wins).
	if s := e.Session(); s.TotalCores != 4 || s.NumExecutors != 2 {
		t.Errorf("expected resources (4, 2), got (%d, %d)", s.TotalCores, s.NumExecutors)
	}
}

func TestStageAttributionFollowsActiveCell(t *testing.T) {
	e, tracker, _ := newTestEngine(t)
	startApp(e, "app1", "1")

	c1 := cell.NewRef("c1")
	tracker.BeginExecution(c1)
	e.OnJobStart(&events.JobStart{JobID: 0, TotalCores: 4, NumExecutors: 2})

	// A different cell becomes active before the stage is submitted: the
	// stage belongs to it, not to the job's cell.
	c2 := cell.NewRef("c2")
	tracker.BeginExecution(c2)
	e.OnJobStart(&events.JobStart{JobID: 1, TotalCores: 4, NumExecutors: 2})
	e.OnStageSubmitted(&events.StageSubmitted{StageID: 10, NumTasks: 8})

	if id, ok := e.StageCell(10); !ok || id != "c2" {
		t.Fatalf("expected stage 10 attributed to c2, got (%q, %v)", id, ok)
	}

	mon, _ := e.Monitor("c2")
	e.OnTaskStart(&events.TaskStart{StageID: 10})
	e.OnTaskEnd(&events.TaskEnd{StageID: 10})
	e.OnStageCompleted(&events.StageCompleted{StageID: 10})

	snap := mon.Snapshot()
	if snap.TasksStarted != 1 || snap.TasksCompleted != 1 || snap.StagesCompleted != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}
}

func TestUnknownStageEventsAreDropped(t *testing.T) {
	e, tracker, _ := newTestEngine(t)
	startApp(e, "app1", "1")
	tracker.BeginExecution(cell.NewRef("c1"))
	e.OnJobStart(&events.JobStart{JobID: 0, TotalCores: 4, NumExecutors: 2})

	before := e.Session()
	e.OnTaskStart(&events.TaskStart{StageID: 404})
	e.OnTaskEnd(&events.TaskEnd{StageID: 404})
	e.OnStageCompleted(&events.StageCompleted{StageID: 404})

	if e.Session() != before {
		t.Error("unknown stage events must not mutate session state")
	}
	mon, _ := e.Monitor("c1")
	if snap := mon.Snapshot(); snap.TasksStarted != 0 || snap.StagesCompleted != 0 {
		t.Error("unknown stage events must not reach any monitor")
	}
}

func TestAppInstanceIsolatesRecords(t *testing.T) {
	e, tracker, _ := newTestEngine(t)
	startApp(e, "app1", "1")
	tracker.BeginExecution(cell.NewRef("c1"))
	e.OnJobStart(&events.JobStart{JobID: 0, TotalCores: 4, NumExecutors: 2})

	// A new attempt starts: old records stay under the prior instance and
	// are no longer visible through the current-instance lookup.
	startApp(e, "app1", "2")

	if _, ok := e.JobCell(0); ok {
		t.Fatal("job from a previous attempt must not resolve under the new instance")
	}
}

func TestHideAllTearsDownDisplays(t *testing.T) {
	e, tracker, counter := newTestEngine(t)
	startApp(e, "app1", "1")
	tracker.BeginExecution(cell.NewRef("c1"))
	e.OnJobStart(&events.JobStart{JobID: 0, TotalCores: 4, NumExecutors: 2})

	e.HideAll()

	if counter.tornDown() != 1 {
		t.Errorf("expected 1 display torn down, got %d", counter.tornDown())
	}
	// The monitor itself survives; only the display is gone.
	mon, ok := e.Monitor("c1")
	if !ok {
		t.Fatal("hide-all must not evict monitors")
	}
	if mon.Displayed() {
		t.Error("hidden monitor must not report a live display")
	}
}

func TestToggleVisibility(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if e.Visibility() != VisibilityShown {
		t.Fatal("engine must start shown by default")
	}
	e.ToggleVisibility()
	if e.Visibility() != VisibilityHidden {
		t.Error("first toggle must hide")
	}
	e.ToggleVisibility()
	if e.Visibility() != VisibilityShown {
		t.Error("second toggle must show")
	}
}

func envelope(t *testing.T, inner any) []byte {
	t.Helper()
	innerJSON, err := json.Marshal(inner)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(events.Envelope{MsgType: events.EnvelopeFromBackend, Msg: string(innerJSON)})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestHandleMessageRoutesEvents(t *testing.T) {
	e, tracker, _ := newTestEngine(t)
	tracker.BeginExecution(cell.NewRef("c1"))

	e.HandleMessage(envelope(t, map[string]any{
		"msgtype": "sparkApplicationStart", "appId": "app1", "appName": "demo", "appAttemptId": "1",
	}))
	e.HandleMessage(envelope(t, map[string]any{
		"msgtype": "sparkJobStart", "jobId": 3, "totalCores": 8, "numExecutors": 2,
	}))

	if got := e.Session().AppInstance; got != "app1_1" {
		t.Errorf("expected instance app1_1, got %q", got)
	}
	if id, ok := e.JobCell(3); !ok || id != "c1" {
		t.Errorf("expected job 3 owned by c1, got (%q, %v)", id, ok)
	}
}

func TestHandleMessageIgnoresUnknownAndMalformed(t *testing.T) {
	e, tracker, _ := newTestEngine(t)
	tracker.BeginExecution(cell.NewRef("c1"))

	e.HandleMessage([]byte("{not json"))
	e.HandleMessage(envelope(t, map[string]any{"msgtype": "sparkSomethingNew"}))
	e.HandleMessage([]byte(`{"msgtype":"unrelated","msg":""}`))

	if len(e.Snapshots()) != 0 {
		t.Error("bad messages must not create monitors")
	}
}

func TestHandleMessageDroppedWhileHidden(t *testing.T) {
	e, tracker, _ := newTestEngine(t)
	tracker.BeginExecution(cell.NewRef("c1"))
	e.HideAll()

	e.HandleMessage(envelope(t, map[string]any{
		"msgtype": "sparkJobStart", "jobId": 0, "totalCores": 4, "numExecutors": 2,
	}))

	// Hidden mode short-circuits before decode: not even bookkeeping runs.
	if _, ok := e.JobCell(0); ok {
		t.Error("messages must be dropped entirely while hidden")
	}
}

func TestCellRemovedEvictsMonitor(t *testing.T) {
	e, tracker, counter := newTestEngine(t)
	startApp(e, "app1", "1")
	tracker.BeginExecution(cell.NewRef("c1"))
	e.OnJobStart(&events.JobStart{JobID: 0, TotalCores: 4, NumExecutors: 2})

	e.CellRemoved("c1")

	if _, ok := e.Monitor("c1"); ok {
		t.Fatal("removed cell must have no monitor")
	}
	if counter.tornDown() != 1 {
		t.Errorf("expected 1 teardown on cell removal, got %d", counter.tornDown())
	}
	// Job end for the removed cell's job: record resolves, no monitor, no error.
	e.OnJobEnd(&events.JobEnd{JobID: 0})
}

func TestBusReceivesResolvedEvents(t *testing.T) {
	bus := events.NewBus()
	tracker := cell.NewManualTracker()
	e := New(tracker, WithBus(bus))

	var got []events.CellEvent
	bus.SubscribeAll(func(ev events.CellEvent) {
		got = append(got, ev)
	})

	startApp(e, "app1", "1")
	tracker.BeginExecution(cell.NewRef("c1"))
	e.OnJobStart(&events.JobStart{JobID: 0, TotalCores: 4, NumExecutors: 2})
	e.OnJobEnd(&events.JobEnd{JobID: 0})

	if len(got) != 3 {
		t.Fatalf("expected 3 published events, got %d", len(got))
	}
	if got[1].CellID != "c1" || got[1].EventKind() != events.KindJobStart {
		t.Errorf("unexpected second event: %+v", got[1])
	}
	if got[2].EventKind() != events.KindJobEnd {
		t.Errorf("unexpected third event: %+v", got[2])
	}
}
