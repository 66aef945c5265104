// Package cell tracks which notebook cell is currently executing. The host
// frontend owns cell identity; the correlation engine only reads it through
// the Tracker contract.
package cell

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Ref identifies one live cell in the host frontend. The ID may be empty
// until the engine assigns one on the cell's first job start.
type Ref struct {
	mu sync.Mutex
	id string
}

// NewRef creates a cell reference with the given id ("" is valid).
func NewRef(id string) *Ref {
	return &Ref{id: id}
}

// ID returns the cell's current id.
func (r *Ref) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// SetID assigns the cell's id. Used by the engine when the frontend has not
// named the cell yet.
func (r *Ref) SetID(id string) {
	r.mu.Lock()
	r.id = id
	r.mu.Unlock()
}

// Tracker reports the currently executing cell and re-execution state.
// Implemented by the host frontend integration; ManualTracker is the
// reference implementation used by the CLI and tests.
type Tracker interface {
	// Active returns the cell currently executing, or nil when none is.
	Active() *Ref
	// Reexecuted reports whether the active cell is a re-run of a cell
	// that already executed this session.
	Reexecuted() bool
	// ClearReexecuted resets the re-execution flag (called on reconnect).
	ClearReexecuted()
	// ExecutionCount returns the number of cell executions so far,
	// monotonically increasing across the session.
	ExecutionCount() int
}

// ManualTracker is a Tracker driven by explicit BeginExecution calls.
type ManualTracker struct {
	mu         sync.Mutex
	active     *Ref
	reexecuted bool
	seen       map[string]bool
	count      atomic.Int64
}

// NewManualTracker creates a tracker with no active cell.
func NewManualTracker() *ManualTracker {
	return &ManualTracker{seen: make(map[string]bool)}
}

// SetActive sets the active cell without counting an execution. Pass nil to
// mark no cell active.
func (t *ManualTracker) SetActive(r *Ref) {
	t.mu.Lock()
	t.active = r
	t.mu.Unlock()
}

// BeginExecution marks r as the active cell and counts one execution,
// flagging a re-run when the same cell id executed before.
func (t *ManualTracker) BeginExecution(r *Ref) {
	t.count.Add(1)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = r
	if r == nil {
		return
	}
	id := r.ID()
	if id == "" {
		return
	}
	if t.seen[id] {
		t.reexecuted = true
	}
	t.seen[id] = true
}

// Active implements Tracker.
func (t *ManualTracker) Active() *Ref {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Reexecuted implements Tracker.
func (t *ManualTracker) Reexecuted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reexecuted
}

// ClearReexecuted implements Tracker.
func (t *ManualTracker) ClearReexecuted() {
	t.mu.Lock()
	t.reexecuted = false
	t.mu.Unlock()
}

// ExecutionCount implements Tracker.
func (t *ManualTracker) ExecutionCount() int {
	return int(t.count.Load())
}

var freshID atomic.Int64

// FreshID returns a session-unique cell id for cells the frontend left
// unnamed.
func FreshID() string {
	return fmt.Sprintf("cell-%d", freshID.Add(1))
}
