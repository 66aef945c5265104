package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/sparkmon/sparkmon/internal/tui"
)

var dashCell string

var dashCmd = &cobra.Command{
	Use:   "dash",
	Short: "Live dashboard over the per-cell monitors",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isatty.IsTerminal(os.Stdout.Fd()) {
			return fmt.Errorf("dash requires a terminal")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// The dashboard owns the terminal, so monitors get no inline display;
		// their state is rendered from snapshots instead.
		sess, err := newSession(cfg, ".", nil)
		if err != nil {
			return err
		}
		defer sess.close()

		if err := sess.open(ctx); err != nil {
			return fmt.Errorf("opening channel: %w", err)
		}

		// Without a frontend attached there is no cell signal, so all work
		// is attributed to one named cell.
		sess.tracker.BeginExecution(sess.cellRef(dashCell))

		return tui.Run(sess.eng)
	},
}

func init() {
	dashCmd.Flags().StringVar(&dashCell, "cell", "notebook", "cell id to attribute events to")
}
