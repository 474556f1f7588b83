package main

import (
	"errors"
	"fmt"

	"github.com/open-edge-platform/bundle-installer/internal/config"
	"github.com/open-edge-platform/bundle-installer/internal/installer"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var writeReport bool

// createInstallCommand creates the install subcommand
func createInstallCommand() *cobra.Command {
	installCmd := &cobra.Command{
		Use:   "install [flags] IDENTIFIER|DESCRIPTOR_FILE...",
		Short: "Install one or more packages",
		Long: `Install resolves each argument to a package descriptor, downloads and
verifies the release archive and places the application bundle in the
install root. Installing a version that is already present does nothing.
Different packages are installed in parallel.`,
		Args:              cobra.MinimumNArgs(1),
		RunE:              executeInstall,
		ValidArgsFunction: descriptorCompletion,
	}

	installCmd.Flags().Bool("force", false,
		"Replace a destination not installed by bundle-installer and reinstall unchanged packages")
	installCmd.Flags().Duration("timeout", 0,
		"Deadline for downloading the archive (default from config)")
	installCmd.Flags().BoolVar(&writeReport, "report", false,
		"Write the list of fetched URLs to the reports directory")

	return installCmd
}

// createUpgradeCommand creates the upgrade subcommand
func createUpgradeCommand() *cobra.Command {
	upgradeCmd := &cobra.Command{
		Use:   "upgrade [flags] IDENTIFIER|DESCRIPTOR_FILE",
		Short: "Upgrade an installed package",
		Long: `Upgrade replaces an installed package with the version in its current
descriptor. Lower versions are refused unless --force is given.`,
		Args:              cobra.ExactArgs(1),
		RunE:              executeUpgrade,
		ValidArgsFunction: descriptorCompletion,
	}

	upgradeCmd.Flags().Bool("force", false, "Allow a downgrade")
	upgradeCmd.Flags().Duration("timeout", 0,
		"Deadline for downloading the archive (default from config)")

	return upgradeCmd
}

// installOptions reads --force and --timeout from flags. Commands without
// --force never force.
func installOptions(flags *pflag.FlagSet) (installer.Options, error) {
	var opts installer.Options
	if flags.Lookup("force") != nil {
		force, err := flags.GetBool("force")
		if err != nil {
			return opts, err
		}
		opts.Force = force
	}

	if flags.Changed("timeout") {
		timeout, err := flags.GetDuration("timeout")
		if err != nil {
			return opts, err
		}
		if timeout < 0 {
			return opts, fmt.Errorf("--timeout must not be negative")
		}
		opts.Timeout = timeout
		return opts, nil
	}
	timeout, err := config.Global().FetchTimeout()
	if err != nil {
		return opts, err
	}
	opts.Timeout = timeout
	return opts, nil
}

// executeInstall handles the install command logic
func executeInstall(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
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

	results, installErr := in.InstallAll(ctx, ds, opts)
	for _, res := range results {
		if res != nil {
			printResult(cmd, res)
		}
	}

	if writeReport {
		dir, err := config.NewConfigHelpers(config.Global()).ReportsDir()
		if err != nil {
			return err
		}
		path, err := logger.GlobalFetchReport.WriteToFile(dir)
		if err != nil {
			log.Warnf("writing fetch report: %v", err)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "fetch report written to %s\n", path)
		}
	}
	return installErr
}

// executeUpgrade handles the upgrade command logic
func executeUpgrade(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	opts, err := installOptions(cmd.Flags())
	if err != nil {
		return err
	}
	d, err := newCatalog().Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	in, err := newInstaller(cmd)
	if err != nil {
		return err
	}

	res, err := in.Upgrade(ctx, d, opts)
	if errors.Is(err, installer.ErrUpToDate) {
		fmt.Fprintf(cmd.OutOrStdout(), "==> %s %s is already up to date\n", d.Identifier, d.Version)
		return nil
	}
	if err != nil {
		return err
	}
	printResult(cmd, res)
	return nil
}
