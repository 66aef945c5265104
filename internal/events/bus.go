package events

import (
	"log/slog"
	"sync"
)

// Handler receives correlated events from a Bus.
type Handler func(CellEvent)

// UnsubscribeFunc removes a subscription. Safe to call more than once.
type UnsubscribeFunc func()

// Bus fans correlated events out to in-process consumers (history, notify
// sinks, the dashboard). Publish is synchronous: handlers run on the
// publishing goroutine, which preserves the engine's single-threaded event
// ordering. Handlers must not block.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	all    map[int]Handler
	byKind map[string]map[int]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		all:    make(map[int]Handler),
		byKind: make(map[string]map[int]Handler),
	}
}

// SubscribeAll registers a handler for every published event.
func (b *Bus) SubscribeAll(h Handler) UnsubscribeFunc {
	if h == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.all[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.all, id)
		b.mu.Unlock()
	}
}

// Subscribe registers a handler for one event kind.
func (b *Bus) Subscribe(kind string, h Handler) UnsubscribeFunc {
	if h == nil || kind == "" {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	m, ok := b.byKind[kind]
	if !ok {
		m = make(map[int]Handler)
		b.byKind[kind] = m
	}
	m[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		if m, ok := b.byKind[kind]; ok {
			delete(m, id)
		}
		b.mu.Unlock()
	}
}

// Publish delivers ev to every matching handler. A panicking handler is
// recovered and logged so one bad consumer cannot take down event
// processing.
func (b *Bus) Publish(ev CellEvent) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.all)+4)
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	if m, ok := b.byKind[ev.EventKind()]; ok {
		for _, h := range m {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Default().Error("event handler panicked", "kind", ev.EventKind(), "panic", r)
				}
			}()
			h(ev)
		}()
	}
}
