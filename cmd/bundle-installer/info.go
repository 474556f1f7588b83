package main

import (
	"fmt"

	"github.com/open-edge-platform/bundle-installer/internal/config"
	"github.com/open-edge-platform/bundle-installer/internal/hooks"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var listAvailable bool

// createInfoCommand creates the info subcommand
func createInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "info IDENTIFIER|DESCRIPTOR_FILE",
		Short:             "Show a package descriptor and its install status",
		Args:              cobra.ExactArgs(1),
		RunE:              executeInfo,
		ValidArgsFunction: descriptorCompletion,
	}
}

// executeInfo handles the info command logic
func executeInfo(cmd *cobra.Command, args []string) error {
	d, err := newCatalog().Resolve(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	in, err := newInstaller(cmd)
	if err != nil {
		return err
	}
	rec, err := in.Status(d.Identifier)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "==> %s: %s\n", d.DisplayName(), d.Version)
	if d.Description != "" {
		fmt.Fprintln(out, d.Description)
	}
	if d.Homepage != "" {
		fmt.Fprintln(out, d.Homepage)
	}

	switch {
	case rec == nil:
		fmt.Fprintln(out, "Not installed")
	case rec.SameIdentity(d):
		fmt.Fprintf(out, "Installed: %s (%s)\n", rec.InstallPath, rec.InstalledAt.Format("2006-01-02 15:04:05 MST"))
	default:
		fmt.Fprintf(out, "Installed: %s %s, descriptor has %s (run upgrade)\n", rec.Version, rec.InstallPath, d.Version)
	}

	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding descriptor: %w", err)
	}
	fmt.Fprintf(out, "==> Descriptor (%s)\n%s", d.Source, data)
	printCaveats(out, hooks.ExpandArgs([]string{d.Caveats}, hooks.Vars{
		InstallPath: d.InstallPath(in.InstallRoot()),
		InstallRoot: in.InstallRoot(),
		Identifier:  d.Identifier,
	})[0])
	return nil
}

// createListCommand creates the list subcommand
func createListCommand() *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Args:  cobra.NoArgs,
		RunE:  executeList,
	}
	listCmd.Flags().BoolVar(&listAvailable, "available", false,
		"List the identifiers in the configured catalog directories instead")
	return listCmd
}

// executeList handles the list command logic
func executeList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if listAvailable {
		ids, err := newCatalog().Available()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintf(out, "no descriptors in %v\n", config.Global().Catalog.Dirs)
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	in, err := newInstaller(cmd)
	if err != nil {
		return err
	}
	receipts, err := in.Receipts().List()
	if err != nil {
		return err
	}
	if len(receipts) == 0 {
		fmt.Fprintln(out, "no packages installed")
		return nil
	}
	for _, r := range receipts {
		fmt.Fprintf(out, "%-28s %-12s %s\n", r.Identifier, r.Version, r.InstallPath)
	}
	return nil
}

// createCheckCommand creates the check subcommand
func createCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check IDENTIFIER",
		Short: "Check that an installed package is present on disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := newInstaller(cmd)
			if err != nil {
				return err
			}
			rec, err := in.Check(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s %s is installed at %s\n", rec.Identifier, rec.Version, rec.InstallPath)
			return nil
		},
		ValidArgsFunction: descriptorCompletion,
	}
}
