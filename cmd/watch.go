package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/internal/mission"
	"github.com/xkilldash9x/trident-cli/internal/observability"
)

// newWatchCmd creates and configures the `watch` command.
func newWatchCmd() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follows the mission spool and executes missions as they are queued",
		Long: `Watch tails the spool file and executes each mission named by an appended
line. Lines name mission files, resolved relative to the spool's directory
unless absolute. The command runs until interrupted; reports are written as
each mission finishes.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("missions.spool_file", cmd.Flags().Lookup("spool")); err != nil {
				return err
			}
			if err := viper.BindPFlag("report.dir", cmd.Flags().Lookup("output")); err != nil {
				return err
			}
			return viper.BindPFlag("report.junit", cmd.Flags().Lookup("junit"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			finalizeRunConfig(cmd, args, cfg)

			components, err := initializeRunComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown(ctx)
				}
				return fmt.Errorf("failed to initialize watch components: %w", err)
			}
			defer components.Shutdown(ctx)

			missions, err := mission.Follow(ctx, cfg.Missions.SpoolFile, logger)
			if err != nil {
				return fmt.Errorf("failed to follow mission spool: %w", err)
			}

			logger.Info("Watching mission spool",
				zap.String("spool", cfg.Missions.SpoolFile),
				zap.Int("engine_concurrency", cfg.Engine.WorkerConcurrency),
			)

			// Blocks until the context is cancelled: the follower closes the
			// channel, the workers drain it, and Stop returns.
			components.Engine.Start(ctx, missions)
			components.Engine.Stop()

			results := components.Engine.Results()
			if err := emitJUnit(cfg, results, logger); err != nil {
				return err
			}

			failed := components.Engine.Failures()
			fmt.Printf("\nWatch stopped: %d missions executed, %d failed. Reports in %s\n",
				len(results), failed, cfg.Run.OutputDir)
			return failuresError(failed, len(results))
		},
	}

	watchCmd.Flags().String("spool", "", "Spool file to follow. (Overrides config/env)")
	watchCmd.Flags().StringP("output", "o", "", "Directory for execution reports. (Overrides config/env)")
	watchCmd.Flags().Bool("junit", false, "Also write a JUnit XML report when the watch stops. (Overrides config/env)")

	return watchCmd
}
