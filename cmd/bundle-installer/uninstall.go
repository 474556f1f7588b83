package main

import (
	"fmt"

	"github.com/open-edge-platform/bundle-installer/internal/catalog"
	"github.com/open-edge-platform/bundle-installer/internal/descriptor"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
	"github.com/open-edge-platform/bundle-installer/internal/zap"
	"github.com/spf13/cobra"
)

var purgeUninstall bool

// createUninstallCommand creates the uninstall subcommand
func createUninstallCommand() *cobra.Command {
	uninstallCmd := &cobra.Command{
		Use:   "uninstall [flags] IDENTIFIER|DESCRIPTOR_FILE",
		Short: "Remove an installed package",
		Long: `Uninstall removes the installed bundle and its receipt. With --purge the
user data paths declared by the descriptor are removed as well, even when
the package is not installed.`,
		Args:              cobra.ExactArgs(1),
		RunE:              executeUninstall,
		ValidArgsFunction: descriptorCompletion,
	}
	uninstallCmd.Flags().BoolVar(&purgeUninstall, "purge", false,
		"Also remove the descriptor's uninstall paths (user data)")
	return uninstallCmd
}

// createZapCommand creates the zap subcommand
func createZapCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "zap IDENTIFIER|DESCRIPTOR_FILE",
		Short:             "Remove a package's user data paths",
		Long:              `Zap removes the uninstall paths of a descriptor regardless of install state.`,
		Args:              cobra.ExactArgs(1),
		RunE:              executeZap,
		ValidArgsFunction: descriptorCompletion,
	}
}

// executeUninstall handles the uninstall command logic
func executeUninstall(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	ctx := cmd.Context()
	id := args[0]

	var d *descriptor.Descriptor
	switch {
	case catalog.IsFileRef(id):
		loaded, err := descriptor.Load(id)
		if err != nil {
			return err
		}
		d, id = loaded, loaded.Identifier
	case purgeUninstall:
		resolved, err := newCatalog().Resolve(ctx, id)
		if err != nil {
			log.Debugf("no descriptor for %s, using the receipt's uninstall paths: %v", id, err)
		} else {
			d = resolved
		}
	}

	in, err := newInstaller(cmd)
	if err != nil {
		return err
	}
	res, err := in.Uninstall(ctx, id, purgeUninstall, d)
	if res != nil {
		out := cmd.OutOrStdout()
		if res.Removed != "" {
			fmt.Fprintf(out, "==> Uninstalled %s (%s)\n", id, res.Removed)
		}
		printZapResult(cmd, res.Zap)
	}
	return err
}

// executeZap handles the zap command logic
func executeZap(cmd *cobra.Command, args []string) error {
	d, err := newCatalog().Resolve(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	in, err := newInstaller(cmd)
	if err != nil {
		return err
	}
	res, err := in.Zap(d)
	printZapResult(cmd, res)
	return err
}

func printZapResult(cmd *cobra.Command, res zap.Result) {
	out := cmd.OutOrStdout()
	for _, p := range res.Removed {
		fmt.Fprintf(out, "==> Removed %s\n", p)
	}
	for _, p := range res.Skipped {
		fmt.Fprintf(out, "    %s not present\n", p)
	}
}
