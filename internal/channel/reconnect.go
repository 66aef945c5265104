package channel

import (
	"context"
	"log/slog"

	"github.com/sparkmon/sparkmon/internal/cell"
)

// KernelStatusStarting is the kernel status that signals a backend restart.
const KernelStatusStarting = "starting"

// Supervisor drives reconnection from kernel-status notifications. On a
// restart signal it clears the tracker's re-execution flag and reopens the
// channel. Job and stage records are deliberately not cleared: events missed
// during the gap are tolerated by the engine's last-write-wins fields.
type Supervisor struct {
	adapter *Adapter
	tracker cell.Tracker
	log     *slog.Logger
}

// NewSupervisor wires an adapter and tracker for kernel-status handling.
func NewSupervisor(adapter *Adapter, tracker cell.Tracker, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{adapter: adapter, tracker: tracker, log: log}
}

// HandleKernelStatus processes a kernel status change. Only the "starting"
// transition acts; everything else is ignored.
func (s *Supervisor) HandleKernelStatus(ctx context.Context, status string) {
	if status != KernelStatusStarting {
		return
	}

	s.log.Info("kernel restarting, reopening channel")
	if s.tracker != nil {
		s.tracker.ClearReexecuted()
	}
	if err := s.adapter.Open(ctx); err != nil {
		s.log.Error("channel reopen failed", "error", err)
	}
}
