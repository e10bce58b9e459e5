package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/internal/config"
	"github.com/dverhoef/scanwarden/internal/observability"
)

var cfgFile string

// NewRootCommand builds the root command tree. A fresh instance is created
// per invocation so flag state never leaks between executions.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "scanwarden",
		Short:         "Scanwarden aggregates security scanner results and enforces severity policy.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeConfig(); err != nil {
				return err
			}

			var cfg config.Config
			if err := viper.Unmarshal(&cfg); err != nil {
				// Fall back to a working logger so the failure is visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scanwarden"})
				return fmt.Errorf("failed to unmarshal config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting scanwarden", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./scanwarden.yaml, then ~/.scanwarden.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newScanCmd(),
		newReportCmd(),
		newHistoryCmd(),
		newNotifyCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command against the signal-aware context. The error
// is returned to main, which owns the process exit code.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}

// initializeConfig reads the config file and environment. A missing config
// file is fine; defaults and environment variables carry the run.
func initializeConfig() error {
	viper.Reset()
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			viper.AddConfigPath(home)
			viper.AddConfigPath(filepath.Join(home, ".scanwarden"))
		}
		viper.SetConfigName("scanwarden")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SCANWARDEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// loadConfig unmarshals and validates the effective configuration.
func loadConfig() (*config.Config, error) {
	return config.NewFromViper(viper.GetViper())
}
