package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docharvest/docharvest/internal/server"
)

// newServeCmd creates the 'serve' subcommand, which runs the crawl
// service until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl service: HTTP API, queue, and worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if verbose {
				cfg.Logging.Development = true
			}
			app, err := server.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}
