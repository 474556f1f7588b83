package main

import (
	"fmt"

	"github.com/open-edge-platform/bundle-installer/internal/descriptor"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
	"github.com/spf13/cobra"
)

var strictAudit bool

// createValidateCommand creates the validate subcommand
func createValidateCommand() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate [flags] DESCRIPTOR_FILE",
		Short: "Validate a package descriptor",
		Long: `Validate a package descriptor against the descriptor schema and the
semantic rules (semantic version, URL, digest format, relative paths)
without fetching anything.`,
		Args: cobra.ExactArgs(1),
		RunE: executeValidate,
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return []string{"yml", "yaml", "json"}, cobra.ShellCompDirectiveFilterFileExt
		},
	}
	return validateCmd
}

// executeValidate handles the validate command logic
func executeValidate(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	file := args[0]
	log.Infof("validating descriptor file: %s", file)

	d, err := descriptor.Load(file)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s %s is valid\n", d.Identifier, d.Version)
	if verbose {
		log.Infof("Source: %s", d.SourceURL)
		log.Infof("Digest: %s", d.Digest())
		log.Infof("Bundle: %s -> %s", d.BundlePath, d.TargetPath())
		log.Infof("Post-install actions: %d, uninstall paths: %d", len(d.PostInstallActions), len(d.UninstallPaths))
	}
	return nil
}

// createAuditCommand creates the audit subcommand
func createAuditCommand() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit [flags] IDENTIFIER|DESCRIPTOR_FILE...",
		Short: "Report policy findings in package descriptors",
		Long: `Audit reports descriptors that download from mutable references, skip
integrity verification, fetch over plain http, run elevated actions or
clear the quarantine attribute.`,
		Args:              cobra.MinimumNArgs(1),
		RunE:              executeAudit,
		ValidArgsFunction: descriptorCompletion,
	}
	auditCmd.Flags().BoolVar(&strictAudit, "strict", false, "Exit non-zero when anything is found")
	return auditCmd
}

// executeAudit handles the audit command logic
func executeAudit(cmd *cobra.Command, args []string) error {
	ds, err := resolveDescriptors(cmd.Context(), args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	total := 0
	for _, d := range ds {
		findings := descriptor.Audit(d)
		total += len(findings)
		if len(findings) == 0 {
			fmt.Fprintf(out, "%s %s: no findings\n", d.Identifier, d.Version)
			continue
		}
		fmt.Fprintf(out, "%s %s:\n", d.Identifier, d.Version)
		for _, f := range findings {
			fmt.Fprintf(out, "  %s\n", f)
		}
	}

	if strictAudit && total > 0 {
		return fmt.Errorf("audit found %d finding(s)", total)
	}
	return nil
}
