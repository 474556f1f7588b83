package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/open-edge-platform/bundle-installer/internal/catalog"
	"github.com/open-edge-platform/bundle-installer/internal/config"
	"github.com/open-edge-platform/bundle-installer/internal/descriptor"
	"github.com/open-edge-platform/bundle-installer/internal/errdefs"
	"github.com/open-edge-platform/bundle-installer/internal/installer"
	"github.com/spf13/cobra"
)

func newCatalog() *catalog.Catalog {
	cfg := config.Global()
	return catalog.New(cfg.Catalog.Dirs, cfg.Catalog.URL)
}

func newInstaller(cmd *cobra.Command) (*installer.Installer, error) {
	return installer.FromConfig(config.Global(), cmd.ErrOrStderr())
}

// resolveDescriptors resolves every argument, stopping at the first failure.
func resolveDescriptors(ctx context.Context, args []string) ([]*descriptor.Descriptor, error) {
	cat := newCatalog()
	ds := make([]*descriptor.Descriptor, 0, len(args))
	for _, arg := range args {
		d, err := cat.Resolve(ctx, arg)
		if err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	return ds, nil
}

func printWarnings(w io.Writer, warnings []errdefs.Warning) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "Warning: %s\n", warn)
	}
}

func printCaveats(w io.Writer, caveats string) {
	caveats = strings.TrimSpace(caveats)
	if caveats == "" {
		return
	}
	fmt.Fprintf(w, "==> Caveats\n%s\n", caveats)
}

func printResult(cmd *cobra.Command, res *installer.Result) {
	out := cmd.OutOrStdout()
	switch res.Status {
	case installer.StatusUnchanged:
		fmt.Fprintf(out, "==> %s %s is already installed at %s\n", res.Identifier, res.Version, res.InstallPath)
	case installer.StatusUpgraded:
		fmt.Fprintf(out, "==> Upgraded %s to %s at %s\n", res.Identifier, res.Version, res.InstallPath)
	default:
		fmt.Fprintf(out, "==> Installed %s %s at %s\n", res.Identifier, res.Version, res.InstallPath)
	}
	printWarnings(cmd.ErrOrStderr(), res.Warnings)
	if res.Status != installer.StatusUnchanged {
		printCaveats(out, res.Caveats)
	}
}

// descriptorCompletion offers catalog identifiers and descriptor files.
func descriptorCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	ids, err := newCatalog().Available()
	if err != nil || len(ids) == 0 {
		return []string{"yml", "yaml", "json"}, cobra.ShellCompDirectiveFilterFileExt
	}
	return ids, cobra.ShellCompDirectiveDefault
}
