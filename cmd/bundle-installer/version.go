package main

import (
	"fmt"

	"github.com/open-edge-platform/bundle-installer/internal/utils/system"
	"github.com/spf13/cobra"
)

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bundle-installer %s (commit %s, built %s)\n", Version, Commit, BuildDate)
			host, _ := system.GetHostInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "host: %s\n", host)
		},
	}
}
