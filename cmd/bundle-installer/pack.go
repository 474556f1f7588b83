package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/open-edge-platform/bundle-installer/internal/archive"
	"github.com/open-edge-platform/bundle-installer/internal/descriptor"
	"github.com/open-edge-platform/bundle-installer/internal/errdefs"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
	"github.com/open-edge-platform/bundle-installer/internal/verify"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Pack command flags
var (
	packFormat     string
	packOutputDir  string
	packIdentifier string
	packVersion    string
	packBaseURL    string
	packTarget     string
	packName       string
	packDescriptor string
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9._-]+`)

// createPackCommand creates the pack subcommand
func createPackCommand() *cobra.Command {
	packCmd := &cobra.Command{
		Use:   "pack [flags] BUNDLE_DIR",
		Short: "Create a release archive and a pinned descriptor",
		Long: `Pack archives an application bundle directory and prints a descriptor
whose integrityDigest is the sha256 of the archive. With --url the
sourceUrl is the archive name under that base URL (upload the archive
there); otherwise it is a file:// URL of the local archive.`,
		Args: cobra.ExactArgs(1),
		RunE: executePack,
	}

	packCmd.Flags().StringVar(&packFormat, "format", "tar.gz",
		"Archive format: "+strings.Join(archive.Names(), ", "))
	packCmd.Flags().StringVarP(&packOutputDir, "output-dir", "o", ".", "Directory to write the archive to")
	packCmd.Flags().StringVar(&packIdentifier, "identifier", "", "Package identifier (default: derived from the bundle name)")
	packCmd.Flags().StringVar(&packVersion, "version", "", "Package version (semver)")
	packCmd.Flags().StringVar(&packBaseURL, "url", "", "Base URL the archive will be published under")
	packCmd.Flags().StringVar(&packTarget, "target", "", "installTargetPath of the descriptor")
	packCmd.Flags().StringVar(&packName, "name", "", "Human readable package name")
	packCmd.Flags().StringVar(&packDescriptor, "descriptor", "", "Write the descriptor to this file instead of stdout")
	packCmd.MarkFlagRequired("version")

	return packCmd
}

// packSlug derives an identifier from a bundle directory name.
func packSlug(bundle string) string {
	base := strings.TrimSuffix(filepath.Base(bundle), filepath.Ext(bundle))
	slug := slugInvalid.ReplaceAllString(strings.ToLower(base), "-")
	return strings.Trim(slug, "-._")
}

// executePack handles the pack command logic
func executePack(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	bundle, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	info, err := os.Stat(bundle)
	if err != nil {
		return fmt.Errorf("bundle: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("bundle %s is not a directory", bundle)
	}

	format, ok := archive.Get(packFormat)
	if !ok {
		return fmt.Errorf("unknown archive format %q (known: %s)", packFormat, strings.Join(archive.Names(), ", "))
	}
	id := packIdentifier
	if id == "" {
		id = packSlug(bundle)
	}

	if !descriptor.ValidIdentifier(id) {
		return errdefs.Newf(errdefs.MalformedDescriptor, "identifier", id, "not a valid identifier (set --identifier)")
	}
	if _, err := semver.NewVersion(packVersion); err != nil {
		return errdefs.Newf(errdefs.MalformedDescriptor, "version", packVersion, "not a semantic version: %v", err)
	}

	outDir, err := filepath.Abs(packOutputDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	name := fmt.Sprintf("%s-%s%s", id, packVersion, format.Extensions()[0])
	out := filepath.Join(outDir, name)

	log.Infof("packing %s into %s", bundle, out)
	if err := archive.Create(bundle, out, format.Name()); err != nil {
		return err
	}
	sum, err := verify.FileDigest(out, descriptor.SHA256)
	if err != nil {
		return err
	}

	sourceURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(out)}).String()
	if packBaseURL != "" {
		sourceURL = strings.TrimRight(packBaseURL, "/") + "/" + url.PathEscape(name)
	}

	d := &descriptor.Descriptor{
		Identifier:        id,
		Version:           packVersion,
		Name:              packName,
		SourceURL:         sourceURL,
		IntegrityDigest:   descriptor.SHA256 + ":" + sum,
		BundlePath:        filepath.Base(bundle),
		InstallTargetPath: packTarget,
		Source:            out,
	}
	if err := d.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding descriptor: %w", err)
	}
	if packDescriptor != "" {
		if err := os.WriteFile(packDescriptor, data, 0644); err != nil {
			return fmt.Errorf("writing descriptor: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "descriptor written to %s\n", packDescriptor)
		return nil
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
