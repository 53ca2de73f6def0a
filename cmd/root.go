// Package cmd wires the lexharvest CLI.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexharvest/lexharvest/internal/config"
	"github.com/lexharvest/lexharvest/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lexharvest",
		Short: "A resilient crawler for legal document archives.",
		Long: `lexharvest enumerates book catalogs and arbitration award archives,
scrapes each document's detail page, and optionally downloads the
original asset and fragments the text for downstream embedding.

Progress is checkpointed so interrupted runs can resume where they
left off.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the configuration file")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

// bootstrap loads configuration and builds the logger shared by every
// subcommand.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load configuration: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("initialize logger: %w", err)
	}
	return cfg, logger, nil
}
