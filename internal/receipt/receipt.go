// Package receipt records what is installed: one JSON document per
// identifier under the state directory. A receipt is also the ownership
// record for its install path.
package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/open-edge-platform/bundle-installer/internal/descriptor"
)

// ErrNotFound is returned by Get when no receipt exists.
var ErrNotFound = errors.New("receipt not found")

// ActionResult is the outcome of one post-install action.
type ActionResult struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Message string `json:"message,omitempty"`
}

// Receipt describes one installed package.
type Receipt struct {
	// InstallID is unique per install run.
	InstallID       string         `json:"installId"`
	Identifier      string         `json:"identifier"`
	Version         string         `json:"version"`
	IntegrityDigest string         `json:"integrityDigest"`
	SourceURL       string         `json:"sourceUrl"`
	InstallPath     string         `json:"installPath"`
	InstallRoot     string         `json:"installRoot"`
	DescriptorPath  string         `json:"descriptorPath,omitempty"`
	InstalledAt     time.Time      `json:"installedAt"`
	PostInstall     []ActionResult `json:"postInstall,omitempty"`
	// UninstallPaths is copied from the descriptor so a purge works without it.
	UninstallPaths []string `json:"uninstallPaths,omitempty"`
	// CreatedDirs are parent directories of InstallPath created by the
	// install, removed again on uninstall when empty.
	CreatedDirs []string `json:"createdDirs,omitempty"`
}

// SameIdentity reports whether r was installed from the same version and
// digest as d.
func (r *Receipt) SameIdentity(d *descriptor.Descriptor) bool {
	return r.Version == d.Version && r.IntegrityDigest == d.Digest().String()
}

// Store reads and writes receipts in a directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created on the
// first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the receipts directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(identifier string) (string, error) {
	if !descriptor.ValidIdentifier(identifier) {
		return "", fmt.Errorf("invalid identifier %q", identifier)
	}
	return filepath.Join(s.dir, identifier+".json"), nil
}

// Get loads the receipt for identifier, or ErrNotFound.
func (s *Store) Get(identifier string) (*Receipt, error) {
	p, err := s.path(identifier)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", identifier, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading receipt %s: %w", p, err)
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding receipt %s: %w", p, err)
	}
	return &r, nil
}

// Put writes r atomically, replacing any previous receipt.
func (s *Store) Put(r *Receipt) error {
	p, err := s.path(r.Identifier)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding receipt: %w", err)
	}
	if err := writeFileAtomicDurable(p, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing receipt %s: %w", p, err)
	}
	return nil
}

// Delete removes the receipt for identifier. A missing receipt is not an
// error.
func (s *Store) Delete(identifier string) error {
	p, err := s.path(identifier)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing receipt %s: %w", p, err)
	}
	return fsyncDir(s.dir)
}

// List returns all receipts sorted by identifier. Unreadable files are
// reported as an error.
func (s *Store) List() ([]*Receipt, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	var out []*Receipt
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		r, err := s.Get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

// Owner returns the receipt whose install path is installPath, if any.
func (s *Store) Owner(installPath string) (*Receipt, error) {
	receipts, err := s.List()
	if err != nil {
		return nil, err
	}
	clean := filepath.Clean(installPath)
	for _, r := range receipts {
		if filepath.Clean(r.InstallPath) == clean {
			return r, nil
		}
	}
	return nil, nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
