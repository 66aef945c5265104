// Package cli implements the sparkmon command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/sparkmon/sparkmon/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config

	// Global JSON log output flag - inherited by all subcommands
	jsonOutput bool

	// Global color control flag - inherited by all subcommands
	noColor bool

	// Build information - set via ldflags
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "sparkmon",
	Short: "Correlate Spark listener events with the notebook cell that triggered them",
	Long: `sparkmon connects to the backend listener's comm channel, attributes every
job, stage, and task event to the notebook cell that triggered it, and keeps
a live per-cell progress monitor.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		setupLogging(cfg)
		setupColor()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/sparkmon/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "log in JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dashCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if jsonOutput || cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// setupColor disables styling when asked to or when stdout is not a
// terminal, so piped output stays clean.
func setupColor() {
	if noColor || os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd()) {
		// termenv's Ascii profile strips all styling from lipgloss renders.
		termenv.SetDefaultOutput(termenv.NewOutput(os.Stdout, termenv.WithProfile(termenv.Ascii)))
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sparkmon %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}
