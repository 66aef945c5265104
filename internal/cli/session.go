package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sparkmon/sparkmon/internal/cell"
	"github.com/sparkmon/sparkmon/internal/channel"
	"github.com/sparkmon/sparkmon/internal/config"
	"github.com/sparkmon/sparkmon/internal/engine"
	"github.com/sparkmon/sparkmon/internal/events"
	"github.com/sparkmon/sparkmon/internal/history"
	"github.com/sparkmon/sparkmon/internal/notify"
)

// session wires one engine instance to its collaborators. Everything hangs
// off this struct; nothing here is a package-level singleton.
type session struct {
	tracker    *cell.ManualTracker
	bus        *events.Bus
	eng        *engine.Engine
	adapter    *channel.Adapter
	supervisor *channel.Supervisor
	hist       *history.Log
	dispatcher *notify.Dispatcher

	mu    sync.Mutex
	cells map[string]*cell.Ref
}

// newSession builds the full pipeline from config. displays may be nil.
func newSession(cfg *config.Config, projectDir string, displays engine.DisplayFactory) (*session, error) {
	log := slog.Default()

	s := &session{
		tracker: cell.NewManualTracker(),
		bus:     events.NewBus(),
		cells:   make(map[string]*cell.Ref),
	}

	visibility := engine.VisibilityShown
	if cfg.Visibility == "hidden" {
		visibility = engine.VisibilityHidden
	}
	s.eng = engine.New(s.tracker,
		engine.WithBus(s.bus),
		engine.WithLogger(log),
		engine.WithDisplayFactory(displays),
		engine.WithVisibility(visibility),
	)

	maxAge, err := cfg.HistoryMaxAge()
	if err != nil {
		return nil, err
	}
	s.hist = history.NewWithConfig(cfg.History.MaxEntries, maxAge)
	s.hist.Attach(s.bus)

	if cfg.Notify.Enabled {
		sinks, err := notify.LoadSinks(filepath.Join(projectDir, cfg.Notify.File))
		if err != nil {
			return nil, err
		}
		if len(sinks) > 0 {
			s.dispatcher = notify.NewDispatcher(sinks, log)
			s.dispatcher.Attach(s.bus)
			log.Info("notify sinks loaded", "count", len(sinks))
		}
	}

	s.adapter = channel.New(cfg.Endpoint, log)
	s.adapter.OnMessage(s.eng.HandleMessage)
	s.supervisor = channel.NewSupervisor(s.adapter, s.tracker, log)

	return s, nil
}

// open dials the channel.
func (s *session) open(ctx context.Context) error {
	return s.adapter.Open(ctx)
}

// close shuts the channel down and drains notify deliveries.
func (s *session) close() {
	_ = s.adapter.Close()
	if s.dispatcher != nil {
		s.dispatcher.Wait()
	}
}

// cellRef returns the stable Ref for a cell id, creating it on first use.
func (s *session) cellRef(id string) *cell.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.cells[id]; ok {
		return r
	}
	r := cell.NewRef(id)
	s.cells[id] = r
	return r
}

// control applies one host-UI control line. The grammar mirrors the hooks a
// notebook frontend would invoke directly:
//
//	cell <id>      mark <id> as the executing cell
//	removed <id>   cell deleted from the frontend
//	kernel <st>    kernel status change ("starting" reconnects)
//	show | hide | toggle   global display mode
func (s *session) control(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "cell":
		if len(fields) < 2 {
			return fmt.Errorf("cell: missing id")
		}
		s.tracker.BeginExecution(s.cellRef(fields[1]))
	case "removed":
		if len(fields) < 2 {
			return fmt.Errorf("removed: missing id")
		}
		s.eng.CellRemoved(fields[1])
		s.mu.Lock()
		delete(s.cells, fields[1])
		s.mu.Unlock()
	case "kernel":
		if len(fields) < 2 {
			return fmt.Errorf("kernel: missing status")
		}
		s.supervisor.HandleKernelStatus(ctx, fields[1])
	case "show":
		s.eng.ShowAll()
	case "hide":
		s.eng.HideAll()
	case "toggle":
		s.eng.ToggleVisibility()
	default:
		return fmt.Errorf("unknown control %q", fields[0])
	}
	return nil
}

// applyConfig applies the hot-reloadable settings from a fresh config.
func (s *session) applyConfig(cfg *config.Config) {
	setupLogging(cfg)
	switch cfg.Visibility {
	case "shown":
		if s.eng.Visibility() != engine.VisibilityShown {
			s.eng.ShowAll()
		}
	case "hidden":
		if s.eng.Visibility() != engine.VisibilityHidden {
			s.eng.HideAll()
		}
	}
}
