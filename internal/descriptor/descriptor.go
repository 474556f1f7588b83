// Package descriptor loads and checks package descriptors: the YAML or JSON
// documents that say where a release archive lives, how to verify it, what
// to place from it and what to clean up on zap.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/open-edge-platform/bundle-installer/internal/config/validate"
	"github.com/open-edge-platform/bundle-installer/internal/errdefs"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"sigs.k8s.io/yaml"
)

var identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Action is one post-install command. Args are passed verbatim to the
// program; only the ${installPath}, ${installRoot} and ${identifier}
// placeholders are expanded.
type Action struct {
	Command string   `json:"command" yaml:"command"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	Elevate bool     `json:"elevate,omitempty" yaml:"elevate,omitempty"`
}

// Platform restricts a descriptor to some GOOS/GOARCH values. Empty lists
// mean any.
type Platform struct {
	OS   []string `json:"os,omitempty" yaml:"os,omitempty"`
	Arch []string `json:"arch,omitempty" yaml:"arch,omitempty"`
}

// Signature points at a detached OpenPGP signature of the archive.
type Signature struct {
	URL       string `json:"url" yaml:"url"`
	PublicKey string `json:"publicKey" yaml:"publicKey"`
}

// Descriptor is a parsed package descriptor.
type Descriptor struct {
	Identifier         string     `json:"identifier" yaml:"identifier"`
	Version            string     `json:"version" yaml:"version"`
	Name               string     `json:"name,omitempty" yaml:"name,omitempty"`
	Description        string     `json:"description,omitempty" yaml:"description,omitempty"`
	Homepage           string     `json:"homepage,omitempty" yaml:"homepage,omitempty"`
	SourceURL          string     `json:"sourceUrl" yaml:"sourceUrl"`
	IntegrityDigest    string     `json:"integrityDigest" yaml:"integrityDigest"`
	BundlePath         string     `json:"bundlePath" yaml:"bundlePath"`
	InstallTargetPath  string     `json:"installTargetPath,omitempty" yaml:"installTargetPath,omitempty"`
	PostInstallActions []Action   `json:"postInstallActions,omitempty" yaml:"postInstallActions,omitempty"`
	UninstallPaths     []string   `json:"uninstallPaths,omitempty" yaml:"uninstallPaths,omitempty"`
	Caveats            string     `json:"caveats,omitempty" yaml:"caveats,omitempty"`
	DependsOn          *Platform  `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Signature          *Signature `json:"signature,omitempty" yaml:"signature,omitempty"`

	// Source is the file or URL the descriptor was read from.
	Source string `json:"-" yaml:"-"`
}

// ValidIdentifier reports whether s is usable as a package identifier.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Load reads and parses the descriptor file at path.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.New(errdefs.MalformedDescriptor, "", path, fmt.Errorf("reading descriptor: %w", err))
	}
	return Parse(data, path)
}

// Parse converts a YAML or JSON descriptor, validates it against the
// descriptor schema and applies the semantic checks in Validate. source is
// only used in error messages.
func Parse(data []byte, source string) (*Descriptor, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, errdefs.New(errdefs.MalformedDescriptor, "", source, fmt.Errorf("invalid YAML: %w", err))
	}
	if err := validate.ValidateDescriptorJSON(jsonData); err != nil {
		return nil, errdefs.New(errdefs.MalformedDescriptor, schemaErrorField(err), source, err)
	}

	var d Descriptor
	if err := json.Unmarshal(jsonData, &d); err != nil {
		return nil, errdefs.New(errdefs.MalformedDescriptor, "", source, fmt.Errorf("decoding descriptor: %w", err))
	}
	d.Source = source

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

var quotedName = regexp.MustCompile(`'([^']+)'`)

// schemaErrorField names the descriptor field a schema failure is about.
func schemaErrorField(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return ""
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	if loc := strings.Trim(leaf.InstanceLocation, "/"); loc != "" {
		return strings.ReplaceAll(loc, "/", ".")
	}
	if m := quotedName.FindStringSubmatch(leaf.Message); m != nil {
		return m[1]
	}
	return ""
}

// Validate applies the checks the schema cannot express. Every failure is a
// MalformedDescriptor naming the field.
func (d *Descriptor) Validate() error {
	malformed := func(field, format string, args ...interface{}) error {
		return errdefs.Newf(errdefs.MalformedDescriptor, field, d.Source, format, args...)
	}

	if d.Identifier == "" {
		return malformed("identifier", "missing")
	}
	if !identifierPattern.MatchString(d.Identifier) {
		return malformed("identifier", "%q must match %s", d.Identifier, identifierPattern)
	}
	if _, err := semver.NewVersion(d.Version); err != nil {
		return malformed("version", "%q is not a semantic version: %v", d.Version, err)
	}

	if d.SourceURL == "" {
		return malformed("sourceUrl", "missing")
	}
	if err := checkURL(d.SourceURL); err != nil {
		return malformed("sourceUrl", "%v", err)
	}
	if _, err := ParseDigest(d.IntegrityDigest); err != nil {
		return malformed("integrityDigest", "%v", err)
	}

	if d.BundlePath == "" {
		return malformed("bundlePath", "missing")
	}
	if err := checkRelativePath(d.BundlePath); err != nil {
		return malformed("bundlePath", "%v", err)
	}
	if d.InstallTargetPath != "" {
		if err := checkRelativePath(d.InstallTargetPath); err != nil {
			return malformed("installTargetPath", "%v", err)
		}
	}

	for i, a := range d.PostInstallActions {
		if strings.TrimSpace(a.Command) == "" {
			return malformed(fmt.Sprintf("postInstallActions[%d].command", i), "missing")
		}
	}
	for i, p := range d.UninstallPaths {
		if strings.TrimSpace(p) == "" {
			return malformed(fmt.Sprintf("uninstallPaths[%d]", i), "empty path")
		}
	}

	if d.Signature != nil {
		if err := checkURL(d.Signature.URL); err != nil {
			return malformed("signature.url", "%v", err)
		}
		if strings.TrimSpace(d.Signature.PublicKey) == "" {
			return malformed("signature.publicKey", "missing")
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("URL %q has no host", raw)
		}
	case "file":
		if u.Path == "" {
			return fmt.Errorf("URL %q has no path", raw)
		}
	default:
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	return nil
}

// checkRelativePath rejects absolute paths and any ".." element.
func checkRelativePath(p string) error {
	if filepath.IsAbs(p) || path.IsAbs(p) || strings.HasPrefix(p, `\`) {
		return fmt.Errorf("%q must be relative", p)
	}
	for _, elem := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if elem == ".." {
			return fmt.Errorf("%q must not contain '..'", p)
		}
	}
	if filepath.Clean(p) == "." {
		return fmt.Errorf("%q does not name an entry", p)
	}
	return nil
}

// Digest returns the parsed integrity digest. Validate has already checked it.
func (d *Descriptor) Digest() Digest {
	dg, _ := ParseDigest(d.IntegrityDigest)
	return dg
}

// SemVer returns the parsed version.
func (d *Descriptor) SemVer() (*semver.Version, error) {
	return semver.NewVersion(d.Version)
}

// TargetPath is the install target relative to the install root. It
// defaults to the base name of bundlePath.
func (d *Descriptor) TargetPath() string {
	if d.InstallTargetPath != "" {
		return filepath.FromSlash(d.InstallTargetPath)
	}
	return filepath.Base(filepath.Clean(filepath.FromSlash(d.BundlePath)))
}

// InstallPath joins the target path onto root.
func (d *Descriptor) InstallPath(root string) string {
	return filepath.Join(root, d.TargetPath())
}

// DisplayName returns the human readable name, falling back to the identifier.
func (d *Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Identifier
}

// CheckPlatform fails with MalformedDescriptor (field dependsOn) when the
// descriptor does not support goos/goarch.
func (d *Descriptor) CheckPlatform(goos, goarch string) error {
	if d.DependsOn == nil {
		return nil
	}
	if len(d.DependsOn.OS) > 0 && !slices.Contains(d.DependsOn.OS, goos) {
		return errdefs.Newf(errdefs.MalformedDescriptor, "dependsOn.os", d.Source,
			"%s supports %s, host is %s", d.Identifier, strings.Join(d.DependsOn.OS, ", "), goos)
	}
	if len(d.DependsOn.Arch) > 0 && !slices.Contains(d.DependsOn.Arch, goarch) {
		return errdefs.Newf(errdefs.MalformedDescriptor, "dependsOn.arch", d.Source,
			"%s supports %s, host is %s", d.Identifier, strings.Join(d.DependsOn.Arch, ", "), goarch)
	}
	return nil
}
