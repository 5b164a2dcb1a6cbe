package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
	"github.com/xkilldash9x/trident-cli/internal/browser"
	"github.com/xkilldash9x/trident-cli/internal/compiler"
	"github.com/xkilldash9x/trident-cli/internal/config"
	"github.com/xkilldash9x/trident-cli/internal/engine"
	"github.com/xkilldash9x/trident-cli/internal/executor"
	"github.com/xkilldash9x/trident-cli/internal/heal"
	"github.com/xkilldash9x/trident-cli/internal/learning"
	"github.com/xkilldash9x/trident-cli/internal/llmclient"
	"github.com/xkilldash9x/trident-cli/internal/mission"
	"github.com/xkilldash9x/trident-cli/internal/observability"
	"github.com/xkilldash9x/trident-cli/internal/report"
	"github.com/xkilldash9x/trident-cli/internal/store"
	"github.com/xkilldash9x/trident-cli/internal/verify"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [mission files...]",
		Short: "Executes missions and verifies the outcome across database, API and UI",
		Long: `Run executes each mission in a fresh browser session, records the network
traffic, and reconciles what the database, the API responses and the rendered
UI each claim happened. Missions come from the listed files, from the
configured git repository (--git), or from the missions directory.

The command exits non-zero when any mission's overall verification fails.`,
		Args: cobra.ArbitraryArgs,
		// PreRunE finalizes configuration before the main logic in RunE.
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their corresponding Viper keys so command-line
			// flags correctly override values from the config file and
			// environment variables.
			if err := viper.BindPFlag("engine.worker_concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return err
			}
			if err := viper.BindPFlag("engine.mission_timeout", cmd.Flags().Lookup("timeout")); err != nil {
				return err
			}
			if err := viper.BindPFlag("report.dir", cmd.Flags().Lookup("output")); err != nil {
				return err
			}
			if err := viper.BindPFlag("report.junit", cmd.Flags().Lookup("junit")); err != nil {
				return err
			}
			return viper.BindPFlag("report.junit_file", cmd.Flags().Lookup("junit-file"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			finalizeRunConfig(cmd, args, cfg)

			src := selectMissionSource(cfg, logger)

			logger.Info("Starting mission run",
				zap.Int("engine_concurrency", cfg.Engine.WorkerConcurrency),
				zap.Duration("mission_timeout", cfg.Engine.MissionTimeout),
				zap.String("report_dir", cfg.Run.OutputDir),
			)

			components, err := initializeRunComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown(ctx)
				}
				return fmt.Errorf("failed to initialize run components: %w", err)
			}
			defer components.Shutdown(ctx)

			if err := runMissions(ctx, components.Engine, src, cfg.Engine.QueueSize, logger); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Run aborted gracefully")
					return err
				}
				logger.Error("Mission run failed", zap.Error(err))
				return err
			}

			results := components.Engine.Results()
			if err := emitJUnit(cfg, results, logger); err != nil {
				return err
			}

			failed := components.Engine.Failures()
			fmt.Printf("\nRun complete: %d missions executed, %d failed. Reports in %s\n",
				len(results), failed, cfg.Run.OutputDir)
			return failuresError(failed, len(results))
		},
	}

	// Reporting flags.
	runCmd.Flags().StringP("output", "o", "", "Directory for execution reports. (Overrides config/env)")
	runCmd.Flags().Bool("junit", false, "Also write a JUnit XML report for CI. (Overrides config/env)")
	runCmd.Flags().String("junit-file", "", "JUnit XML file name, relative to the report directory. (Overrides config/env)")

	// Execution override flags.
	runCmd.Flags().IntP("concurrency", "j", 0, "Number of concurrent mission workers. (Overrides config/env)")
	runCmd.Flags().Duration("timeout", 0, "Per-mission execution timeout. (Overrides config/env)")

	// Mission source flags.
	runCmd.Flags().Bool("git", false, "Pull missions from the configured git repository instead of the missions directory.")

	return runCmd
}

// finalizeRunConfig populates the per-invocation RunConfig from command-line
// arguments and the final resolved config values.
func finalizeRunConfig(cmd *cobra.Command, args []string, cfg *config.Config) {
	cfg.Run.Paths = args
	cfg.Run.Git, _ = cmd.Flags().GetBool("git")
	cfg.Run.OutputDir = cfg.Report.Dir
	cfg.Run.JUnit = cfg.Report.JUnit
}

// selectMissionSource picks where missions come from: explicit file paths
// win, then the configured git repository, then the missions directory.
func selectMissionSource(cfg *config.Config, logger *zap.Logger) mission.Source {
	switch {
	case len(cfg.Run.Paths) > 0:
		return mission.NewFileSource(cfg.Run.Paths...)
	case cfg.Run.Git:
		return mission.NewGitSource(cfg.Missions.Git, logger)
	default:
		return mission.NewDirSource(cfg.Missions.Dir, logger)
	}
}

// missionEngine is the engine surface the commands drive, kept narrow so
// tests can substitute a fake.
type missionEngine interface {
	Start(ctx context.Context, missions <-chan *schemas.Mission)
	Stop()
	Results() []schemas.ExecutionReport
	Failures() int
}

// runMissions loads every mission from the source, feeds them through the
// engine and waits for the pool to drain. Cancellation mid-dispatch abandons
// the undispatched remainder; missions already in flight write aborted
// reports on their own.
func runMissions(ctx context.Context, eng missionEngine, src mission.Source, queueSize int, logger *zap.Logger) error {
	missions, err := src.Missions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load missions: %w", err)
	}
	logger.Info("Dispatching missions", zap.Int("count", len(missions)))

	queue := make(chan *schemas.Mission, queueSize)
	eng.Start(ctx, queue)

dispatch:
	for _, m := range missions {
		select {
		case queue <- m:
		case <-ctx.Done():
			logger.Warn("Dispatch interrupted; abandoning remaining missions", zap.Error(ctx.Err()))
			break dispatch
		}
	}
	close(queue)

	eng.Stop()
	return nil
}

// emitJUnit writes the JUnit XML artifact when the invocation asked for one.
func emitJUnit(cfg *config.Config, results []schemas.ExecutionReport, logger *zap.Logger) error {
	if !cfg.Run.JUnit || len(results) == 0 {
		return nil
	}

	path := junitPath(cfg)
	if err := report.WriteJUnit(path, results); err != nil {
		return fmt.Errorf("failed to write junit report: %w", err)
	}
	logger.Info("JUnit report written", zap.String("path", path))
	return nil
}

// junitPath resolves the JUnit artifact location; a relative junit_file
// lands inside the report directory.
func junitPath(cfg *config.Config) string {
	if filepath.IsAbs(cfg.Report.JUnitFile) {
		return cfg.Report.JUnitFile
	}
	return filepath.Join(cfg.Run.OutputDir, cfg.Report.JUnitFile)
}

// failuresError maps failed missions to the command error that drives the
// non-zero process exit code.
func failuresError(failed, total int) error {
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d missions failed", failed, total)
}

// runComponents holds the initialized services behind one mission run.
type runComponents struct {
	DBPool   *pgxpool.Pool
	Store    *store.Store
	Manager  *browser.Manager
	Learning schemas.LearningStore
	Writer   *report.Writer
	Engine   *engine.Engine
}

// Shutdown gracefully closes all components.
func (rc *runComponents) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if rc.Engine != nil {
		rc.Engine.Stop()
	}
	if rc.Manager != nil {
		if err := rc.Manager.Shutdown(shutdownCtx); err != nil {
			observability.GetLogger().Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
}

// initializeRunComponents handles dependency injection for run and watch.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}

	// 1. Database and store. The database is optional: without it the DB
	// verification leg reports itself skipped.
	var querier schemas.RowQuerier
	if cfg.Database.URL != "" {
		pool, err := store.NewPool(ctx, cfg.Database)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = pool

		dbStore, err := store.New(ctx, pool, cfg.Database.Schema, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize database store: %w", err)
		}
		components.Store = dbStore
		querier = dbStore
	} else {
		logger.Info("No database configured (TRIDENT_DATABASE_URL); database verification legs will be skipped.")
	}

	// 2. Browser manager.
	manager, err := browser.NewManager(ctx, cfg, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	components.Manager = manager

	// 3. LLM client. Also optional: without it instruction-only missions
	// abort and selector healing is disabled.
	var client schemas.LLMClient
	if needsAPIKey(cfg.LLM.Provider) && cfg.LLM.APIKey == "" {
		logger.Info("No LLM API key configured (TRIDENT_LLM_API_KEY); plan compilation and selector healing are disabled.")
	} else {
		client, err = llmclient.NewClient(ctx, cfg.LLM, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
	}

	// 4. Selector learning store. Config validation already forces the
	// memory backend when no database is configured.
	var pool store.DBPool
	if components.DBPool != nil {
		pool = components.DBPool
	}
	learn, err := learning.New(ctx, cfg.Learning, pool, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize learning store: %w", err)
	}
	components.Learning = learn

	// 5. Plan compiler and selector healer exist only with an LLM client.
	var planner engine.PlanCompiler
	var recoverer executor.Recoverer
	if client != nil {
		planner = compiler.New(client, logger)
		recoverer = heal.New(client, learn, logger)
	}

	// 6. Executor, verifier and report writer.
	exec := executor.New(learn, recoverer, cfg.Browser.DefaultStepTimeout, logger)
	verifier := verify.New(querier, logger)
	components.Writer = report.NewWriter(cfg.Run.OutputDir, logger)

	// 7. Mission engine.
	eng, err := engine.New(cfg.Engine, logger, sessionFactory{manager}, planner, exec, verifier, components.Writer)
	if err != nil {
		return components, fmt.Errorf("failed to initialize mission engine: %w", err)
	}
	components.Engine = eng

	return components, nil
}

// sessionFactory adapts the concrete browser manager to the engine's
// session factory contract.
type sessionFactory struct {
	manager *browser.Manager
}

func (f sessionFactory) NewSession(ctx context.Context) (schemas.BrowserSession, error) {
	return f.manager.NewSession(ctx)
}

// needsAPIKey reports whether the provider cannot run without a key; the
// mock provider is always constructible.
func needsAPIKey(p config.LLMProvider) bool {
	return config.LLMProvider(strings.ToLower(string(p))) != config.ProviderMock
}
