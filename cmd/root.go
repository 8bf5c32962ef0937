// Package cmd defines the CLI commands for the adharvest executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brandsight/adharvest/internal/config"
	"github.com/brandsight/adharvest/internal/harvest"
	"github.com/brandsight/adharvest/internal/logging"
)

var cfgFile string

// adapters holds the channel extraction recipes linked into this build.
// Site-specific adapters register themselves via RegisterAdapter; the core
// ships none.
var adapters []harvest.ChannelAdapter

// RegisterAdapter adds a channel adapter to the harvest run. Call before
// Execute, typically from an init function in the adapter's package.
func RegisterAdapter(adapter harvest.ChannelAdapter) {
	adapters = append(adapters, adapter)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adharvest",
		Short: "Sponsored-content harvesting and ingestion backbone",
		Long: `adharvest runs synthetic observer identities across ad surfaces,
collects sponsored-content sightings through pluggable channel adapters and
promotes them into a deduplicated, identity-resolved canonical catalog.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newHarvestCmd(), newGCCmd(), newServeCmd())
	return cmd
}

// Execute runs the CLI. Configuration errors exit non-zero; per-channel
// partial failures during a harvest do not.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the process logger. All commands
// start here; a config error aborts before any work starts.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}
