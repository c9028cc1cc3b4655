package chronograph

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/chronograph/pkg/checkpoint"
	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/logger"
	"github.com/soundprediction/chronograph/pkg/types"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and clean ingestion checkpoints",
}

var (
	stalledAfter time.Duration
	maxAge       time.Duration
)

var checkpointsFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List episodes whose ingestion failed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCheckpoints(func(m *checkpoint.Manager) error {
			failed, err := m.List(cmd.Context(), types.StateFailed)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), failed)
		})
	},
}

var checkpointsStalledCmd = &cobra.Command{
	Use:   "stalled",
	Short: "List in-flight episodes not updated recently",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCheckpoints(func(m *checkpoint.Manager) error {
			stalled, err := m.FindStalled(cmd.Context(), stalledAfter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stalled)
		})
	},
}

var checkpointsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize checkpoints by state and error kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCheckpoints(func(m *checkpoint.Manager) error {
			stats, err := m.GetStatistics(cmd.Context(), stalledAfter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

var checkpointsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove finished checkpoints older than --max-age",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCheckpoints(func(m *checkpoint.Manager) error {
			n, err := m.CleanOld(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d checkpoints\n", n)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(checkpointsFailedCmd, checkpointsStalledCmd, checkpointsStatsCmd, checkpointsCleanCmd)

	checkpointsStalledCmd.Flags().DurationVar(&stalledAfter, "after", 10*time.Minute, "Idle time after which an episode counts as stalled")
	checkpointsStatsCmd.Flags().DurationVar(&stalledAfter, "stalled-after", 10*time.Minute, "Idle time after which an episode counts as stalled")
	checkpointsCleanCmd.Flags().DurationVar(&maxAge, "max-age", 7*24*time.Hour, "Age beyond which finished checkpoints are removed")
}

// withCheckpoints opens only the checkpoint store, so it works without model
// credentials.
func withCheckpoints(fn func(*checkpoint.Manager) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := slog.New(logger.NewColorHandler(os.Stderr, &slog.HandlerOptions{Level: logger.ParseLevel(cfg.Log.Level)}))

	store, err := checkpoint.New(cfg.Checkpoint, log)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer store.Close()
	return fn(checkpoint.NewManager(store, log))
}
