package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sparkmon/sparkmon/internal/config"
	"github.com/sparkmon/sparkmon/internal/engine"
	"github.com/sparkmon/sparkmon/internal/monitor"
)

var (
	runProjectDir string
	runWatch      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the backend and correlate events",
	Long: `Connect to the backend comm channel and route listener events to per-cell
monitors. Host-UI hooks are read from stdin, one per line:

  cell <id>      mark <id> as the executing cell
  removed <id>   cell was deleted
  kernel <st>    kernel status changed ("starting" triggers reconnect)
  show | hide | toggle   control the global display mode`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		displays := func(cellID string) monitor.Display {
			return monitor.NewInlineDisplay(os.Stdout)
		}
		sess, err := newSession(cfg, runProjectDir, displays)
		if err != nil {
			return err
		}
		defer sess.close()

		if err := sess.open(ctx); err != nil {
			return fmt.Errorf("opening channel: %w", err)
		}

		if runWatch {
			go func() {
				err := config.Watch(ctx, cfgFile, slog.Default(), sess.applyConfig)
				if err != nil && ctx.Err() == nil {
					slog.Default().Warn("config watch stopped", "error", err)
				}
			}()
		}

		go readControls(ctx, sess)

		<-ctx.Done()
		printSummary(sess.eng)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runProjectDir, "project", ".", "project directory (notify sink file location)")
	runCmd.Flags().BoolVar(&runWatch, "watch-config", false, "hot-reload config on file change")
}

func readControls(ctx context.Context, sess *session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := sess.control(ctx, scanner.Text()); err != nil {
			slog.Default().Warn("bad control line", "error", err)
		}
	}
}

func printSummary(eng *engine.Engine) {
	snaps := eng.Snapshots()
	if len(snaps) == 0 {
		return
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CellID < snaps[j].CellID })

	fmt.Println()
	for _, s := range snaps {
		fmt.Println(monitor.RenderLine(s, 0))
	}
}
