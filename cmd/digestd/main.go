// Package main implements the digestd CLI: digest runs, the feedback
// server, persona management, and the blocker board.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/config"
	"github.com/crestline-labs/digestd/internal/logging"
)

var (
	// configPath is the YAML config file location.
	configPath string
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "digestd",
	Short: "Personalized cross-team digest daemon",
	Long: `digestd turns team chat activity into personalized daily digests:
it extracts structured events, detects cross-team dependencies, remembers
decisions and blockers across runs, and adapts to reader feedback.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "digestd.yaml", "config file path")
}

// setup loads configuration and builds the process logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}
