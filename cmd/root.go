// Package cmd implements the docharvest command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/docharvest/docharvest/internal/config"
	"github.com/docharvest/docharvest/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docharvest",
		Short: "Documentation site scraper",
		Long: `docharvest crawls documentation sites into structured page content.

It fetches pages over HTTP or from local files, follows in-scope links up
to a depth and page budget, extracts titles, text, and links per content
type, and splits oversized content into byte-budgeted chunks. Serve mode
exposes the same crawler behind a queue-backed HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env overrides use the DOCHARVEST_ prefix)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newCrawlCmd(), newServeCmd(), newVersionCmd())
	return cmd
}

// Execute is the entry point used by the docharvest binary.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger builds the CLI logger. Without --verbose the floor is raised
// to Info so one-shot crawls stay readable.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if !verbose {
		logger = logger.WithOptions(zap.IncreaseLevel(zapcore.InfoLevel))
	}
	return logger, nil
}
