package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// createFetchCommand creates the fetch subcommand
func createFetchCommand() *cobra.Command {
	fetchCmd := &cobra.Command{
		Use:   "fetch [flags] IDENTIFIER|DESCRIPTOR_FILE...",
		Short: "Download and verify archives into the cache",
		Long: `Fetch downloads the release archives of the given packages in parallel,
verifies them and stores them in the download cache so a later install
works offline. Packages without an integrity digest are not cached.`,
		Args:              cobra.MinimumNArgs(1),
		RunE:              executeFetch,
		ValidArgsFunction: descriptorCompletion,
	}
	fetchCmd.Flags().Duration("timeout", 0,
		"Deadline for all downloads (default from config)")
	return fetchCmd
}

// executeFetch handles the fetch command logic
func executeFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	opts, err := installOptions(cmd.Flags())
	if err != nil {
		return err
	}
	ds, err := resolveDescriptors(ctx, args)
	if err != nil {
		return err
	}
	in, err := newInstaller(cmd)
	if err != nil {
		return err
	}

	results, err := in.Prefetch(ctx, ds, opts.Timeout)
	out := cmd.OutOrStdout()
	for _, r := range results {
		if r.OK {
			fmt.Fprintf(out, "==> Verified %s:%s\n", r.Algorithm, r.Actual)
		}
	}
	return err
}
