package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version is overridden at release build time via -ldflags.
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the docharvest version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docharvest %s (%s)\n", version, runtime.Version())
		},
	}
}
