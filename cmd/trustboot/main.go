// Package main is the entry point for the trustboot binary.
// It runs the startup trust bootstrap and exposes audit and inspection tools.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/polisai/trustboot/pkg/config"
	"github.com/polisai/trustboot/pkg/logging"
	"github.com/spf13/cobra"
)

const defaultLogLevel = ""

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for trustboot
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trustboot",
		Short: "Startup trust bootstrap for TLS clients",
		Long: `Merges the platform certificate store with a bundled root pack, installs the
result as the process-wide TLS client context, and audits the platform trust
store for a required root certificate authority.

Example:
  trustboot run --config trustboot.yaml --probe https://example.com`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(
		newRunCmd(),
		newAuditCmd(),
		newInspectCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

// cliEnv is the configuration and logger shared by every subcommand.
type cliEnv struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

// loadEnv reads the persistent flags, loads the configuration and sets up logging.
func loadEnv(cmd *cobra.Command) (*cliEnv, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Logging.Validate(); err != nil {
			return nil, err
		}
	}

	logger := logging.SetupLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})

	return &cliEnv{configPath: configPath, cfg: cfg, logger: logger}, nil
}
