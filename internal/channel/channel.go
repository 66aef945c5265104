// Package channel provides the WebSocket message pipe between the frontend
// and the backend comm target. The adapter is deliberately opaque: it moves
// raw messages and knows nothing about their contents.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sparkmon/sparkmon/internal/events"
)

// ErrNotOpen is returned by Send before the first successful Open.
var ErrNotOpen = errors.New("channel not open")

// MessageHandler receives raw inbound messages, one at a time, in arrival
// order.
type MessageHandler func(raw []byte)

// CloseHandler is invoked when the connection drops. The adapter performs no
// retry of its own; reconnection is driven externally via the kernel-status
// hook.
type CloseHandler func(err error)

// Adapter is a reconnect-safe WebSocket client. Open may be called again
// after a backend restart; the previous connection and its read loop are
// shut down without leaking.
type Adapter struct {
	url string
	log *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	gen     int // connection generation; stale read loops exit quietly
	onMsg   MessageHandler
	onClose CloseHandler
}

// New creates an adapter for the given WebSocket URL.
func New(url string, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{url: url, log: log}
}

// OnMessage sets the inbound message handler. Must be set before Open.
func (a *Adapter) OnMessage(fn MessageHandler) {
	a.mu.Lock()
	a.onMsg = fn
	a.mu.Unlock()
}

// OnClose sets the close handler.
func (a *Adapter) OnClose(fn CloseHandler) {
	a.mu.Lock()
	a.onClose = fn
	a.mu.Unlock()
}

// Open dials the backend, sends the frontend handshake, and starts the read
// loop. Any previous connection is closed first.
func (a *Adapter) Open(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.conn != nil {
		_ = a.conn.Close()
	}
	a.conn = conn
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	if err := a.Send(events.OpenHandshake()); err != nil {
		a.log.Warn("channel handshake failed", "error", err)
	}

	go a.readLoop(conn, gen)
	a.log.Info("channel open", "url", a.url)
	return nil
}

// Send writes one text message. Serialized with a mutex; gorilla permits at
// most one concurrent writer.
func (a *Adapter) Send(msg []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return ErrNotOpen
	}
	return a.conn.WriteMessage(websocket.TextMessage, msg)
}

// Close shuts the current connection down.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	a.gen++
	return err
}

// readLoop delivers messages to the handler sequentially. It exits when the
// connection errors or a newer connection supersedes it.
func (a *Adapter) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			current := a.gen == gen
			onClose := a.onClose
			if current {
				a.conn = nil
			}
			a.mu.Unlock()

			if current {
				a.log.Info("channel closed", "error", err)
				if onClose != nil {
					onClose(err)
				}
			}
			return
		}

		a.mu.Lock()
		current := a.gen == gen
		onMsg := a.onMsg
		a.mu.Unlock()
		if !current {
			return
		}
		if onMsg != nil {
			onMsg(raw)
		}
	}
}
