package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/elecmate/api/internal/config"
	"github.com/elecmate/api/internal/logging"
)

var (
	// Global flags
	verbose bool

	// Set by PersistentPreRunE
	cfg  *config.Config
	logs *logging.Logging
)

var rootCmd = &cobra.Command{
	Use:   "jobwatch",
	Short: "Follow batch jobs from the terminal",
	Long: `jobwatch reads batch jobs straight from the configured job store
(STORE_DRIVER=redis or postgres). The memory driver only lives inside the
server process, so it cannot be watched from here.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := "warn"
		if verbose {
			level = "debug"
		}
		logs, err = logging.New(logging.Options{Level: level})
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [jobId]",
	Short: "Follow a job until it completes or fails",
	Long: `Polls the job and prints one line per update until the job reaches
a terminal status. Ctrl-C stops watching. Exits 1 when the job failed or
could not be read.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recent jobs",
	Args:  cobra.NoArgs,
	RunE:  runRecent,
}

var (
	watchInterval time.Duration
	watchJSON     bool
	recentLimit   int
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "Poll interval (default from MONITOR_INTERVAL_MS)")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print snapshots as JSON lines")

	recentCmd.Flags().IntVarP(&recentLimit, "limit", "n", 5, "Number of jobs to list")

	rootCmd.AddCommand(watchCmd, recentCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logs != nil {
			logs.Logger.Debug("Command failed", zap.Error(err))
		}
		os.Exit(1)
	}
}
