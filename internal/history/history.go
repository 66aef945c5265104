// Package history keeps a bounded in-memory log of correlated events for
// delta queries: "what happened to this cell since t". It subscribes to the
// event bus and prunes by size and age.
package history

import (
	"sync"
	"time"

	"github.com/sparkmon/sparkmon/internal/events"
)

// Entry is one correlated event as recorded in the log.
type Entry struct {
	Timestamp   time.Time `json:"timestamp"`
	Kind        string    `json:"kind"`
	CellID      string    `json:"cell_id,omitempty"`
	AppInstance string    `json:"app_instance,omitempty"`
}

// Log is a bounded, age-pruned event log.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
	maxAge  time.Duration
}

// DefaultMaxSize is the default maximum number of entries retained.
const DefaultMaxSize = 1000

// DefaultMaxAge is the default maximum entry age retained.
const DefaultMaxAge = 10 * time.Minute

// New creates a log with default limits.
func New() *Log {
	return NewWithConfig(DefaultMaxSize, DefaultMaxAge)
}

// NewWithConfig creates a log with custom limits. Non-positive values fall
// back to the defaults.
func NewWithConfig(maxSize int, maxAge time.Duration) *Log {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Log{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
		maxAge:  maxAge,
	}
}

// Attach subscribes the log to a bus. The returned func detaches it.
func (l *Log) Attach(bus *events.Bus) events.UnsubscribeFunc {
	return bus.SubscribeAll(func(ev events.CellEvent) {
		l.Record(ev)
	})
}

// Record appends a correlated event to the log.
func (l *Log) Record(ev events.CellEvent) {
	entry := Entry{
		Timestamp:   ev.Timestamp,
		Kind:        ev.EventKind(),
		CellID:      ev.CellID,
		AppInstance: ev.AppInstance,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneOld()
	if len(l.entries) >= l.maxSize {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, entry)
}

// Since returns all entries after the given timestamp.
func (l *Log) Since(ts time.Time) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]Entry, 0)
	for _, e := range l.entries {
		if e.Timestamp.After(ts) {
			result = append(result, e)
		}
	}
	return result
}

// ByCell returns all entries attributed to the given cell.
func (l *Log) ByCell(cellID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]Entry, 0)
	for _, e := range l.entries {
		if e.CellID == cellID {
			result = append(result, e)
		}
	}
	return result
}

// Count returns the number of retained entries.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear drops all entries.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = make([]Entry, 0, l.maxSize)
	l.mu.Unlock()
}

// pruneOld removes entries older than maxAge. Caller holds l.mu.
func (l *Log) pruneOld() {
	if len(l.entries) == 0 {
		return
	}
	cutoff := time.Now().Add(-l.maxAge)
	keepFrom := 0
	for i, e := range l.entries {
		if e.Timestamp.After(cutoff) {
			keepFrom = i
			break
		}
		keepFrom = i + 1
	}
	if keepFrom > 0 && keepFrom <= len(l.entries) {
		l.entries = l.entries[keepFrom:]
	}
}

// CoalescedEntry summarizes a run of same-kind entries for one cell.
type CoalescedEntry struct {
	Kind    string    `json:"kind"`
	CellID  string    `json:"cell_id,omitempty"`
	Count   int       `json:"count"`
	FirstAt time.Time `json:"first_at"`
	LastAt  time.Time `json:"last_at"`
}

// Coalesce merges consecutive entries of the same kind for the same cell
// into summary rows. Task-level floods compress well.
func (l *Log) Coalesce() []CoalescedEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return nil
	}

	result := make([]CoalescedEntry, 0)
	var current *CoalescedEntry
	for _, e := range l.entries {
		if current != nil && current.Kind == e.Kind && current.CellID == e.CellID {
			current.Count++
			current.LastAt = e.Timestamp
			continue
		}
		if current != nil {
			result = append(result, *current)
		}
		current = &CoalescedEntry{
			Kind:    e.Kind,
			CellID:  e.CellID,
			Count:   1,
			FirstAt: e.Timestamp,
			LastAt:  e.Timestamp,
		}
	}
	if current != nil {
		result = append(result, *current)
	}
	return result
}
