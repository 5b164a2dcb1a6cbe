// Package cmd wires the trident commands: run executes missions from files,
// a directory or a git repository; watch follows the mission spool.
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/internal/config"
	"github.com/xkilldash9x/trident-cli/internal/observability"
)

var (
	cfgFile string
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = newRootCmd()

// newRootCmd builds the root command; tests use it to get pristine instances.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "trident",
		Short:   "Trident executes browser missions and verifies them against the database, the API and the UI.",
		Version: Version,
		// Runtime failures should not dump usage text; Execute logs the
		// error once instead of letting cobra print it a second time.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before any command, setting up config and logging.
			if err := initializeConfig(); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				// Initialize a fallback logger so the failure still lands somewhere.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "trident-cli"})
				return err
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting trident-cli", zap.String("version", Version))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./trident.yaml)")
	cmd.SetVersionTemplate(`{{printf "trident-cli version %s\n" .Version}}`)

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command under the signal-aware context from main.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		return err
	}
	return nil
}

// initializeConfig reads in the config file and TRIDENT_* env variables.
func initializeConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("trident")
		viper.SetConfigType("yaml")
	}

	config.SetDefaults(viper.GetViper())

	viper.SetEnvPrefix("TRIDENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and env vars.
	}
	return nil
}

// resolveConfig re-reads the finalized configuration after a command's
// PreRunE flag bindings, so command-line overrides land with the right
// precedence over file and environment values.
func resolveConfig() (*config.Config, error) {
	cfg, err := config.NewConfigFromViper(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to finalize config with flag overrides: %w", err)
	}
	return cfg, nil
}
