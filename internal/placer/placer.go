// Package placer moves a bundle out of a verified archive into the install
// root. Extraction happens in a staging directory next to the target so
// the final step is a rename on one filesystem.
package placer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/open-edge-platform/bundle-installer/internal/archive"
	"github.com/open-edge-platform/bundle-installer/internal/errdefs"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
)

// StagingPrefix names the temporary directories created in the install root.
const StagingPrefix = ".bundle-installer-staging-"

// Request describes one placement.
type Request struct {
	// Archive is the verified archive on local disk.
	Archive string
	// BundlePath is the entry to place, relative to the archive root.
	BundlePath  string
	InstallRoot string
	// TargetPath is relative to InstallRoot.
	TargetPath string
	// Owned is set when an install receipt owns the existing target.
	Owned bool
	// Force replaces an existing target nobody owns.
	Force bool
}

// Target returns the absolute destination of req.
func (r Request) Target() string {
	return filepath.Join(r.InstallRoot, filepath.FromSlash(r.TargetPath))
}

// CheckConflict fails with DestinationConflict when the target exists and
// is neither owned nor forced.
func CheckConflict(target string, owned, force bool) error {
	if _, err := os.Lstat(target); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking %s: %w", target, err)
	}
	if owned || force {
		return nil
	}
	return errdefs.Newf(errdefs.DestinationConflict, "installTargetPath", target,
		"destination exists and was not installed by bundle-installer (use --force to replace it)")
}

// Placement is the outcome of a successful Place.
type Placement struct {
	Target string
	// CreatedDirs are the parent directories of Target that did not exist
	// before, outermost first.
	CreatedDirs []string
}

// Place extracts the archive, locates the bundle and renames it onto the
// target, replacing any previous install. On failure the target is left
// as it was and the staging directory is removed.
func Place(req Request) (pl *Placement, err error) {
	log := logger.Logger()
	target := req.Target()

	if err := CheckConflict(target, req.Owned, req.Force); err != nil {
		return nil, err
	}
	rootDirs, err := createRoot(req.InstallRoot)
	defer func() {
		if err != nil {
			if rerr := RemoveEmptyDirs(rootDirs); rerr != nil {
				log.Warnf("%v", rerr)
			}
		}
	}()
	if err != nil {
		return nil, err
	}

	staging := filepath.Join(req.InstallRoot, StagingPrefix+uuid.NewString())
	if err := os.Mkdir(staging, 0700); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			log.Warnf("removing staging directory %s: %v", staging, err)
		}
	}()

	extractDir := filepath.Join(staging, "extract")
	log.Infof("extracting %s", filepath.Base(req.Archive))
	if err = archive.Extract(req.Archive, extractDir); err != nil {
		return nil, err
	}

	src := filepath.Join(extractDir, filepath.FromSlash(req.BundlePath))
	if _, lerr := os.Lstat(src); lerr != nil {
		if os.IsNotExist(lerr) {
			err = errdefs.Newf(errdefs.BundleNotFound, "bundlePath", req.BundlePath,
				"not present in archive (top level: %s)", strings.Join(topLevel(extractDir), ", "))
			return nil, err
		}
		err = fmt.Errorf("locating bundle: %w", lerr)
		return nil, err
	}

	created, err := createParents(req.InstallRoot, filepath.Dir(target))
	defer func() {
		if err != nil {
			if rerr := RemoveEmptyDirs(created); rerr != nil {
				log.Warnf("%v", rerr)
			}
		}
	}()
	if err != nil {
		return nil, err
	}

	backup := ""
	if _, lerr := os.Lstat(target); lerr == nil {
		backup = filepath.Join(staging, "backup")
		if rerr := os.Rename(target, backup); rerr != nil {
			err = fmt.Errorf("moving previous install aside: %w", rerr)
			return nil, err
		}
	}
	if perr := os.Rename(src, target); perr != nil {
		err = fmt.Errorf("placing %s: %w", target, perr)
		if backup != "" {
			if rerr := os.Rename(backup, target); rerr != nil {
				err = errors.Join(err, fmt.Errorf("restoring previous install from %s: %w", backup, rerr))
			}
		}
		return nil, err
	}

	log.Infof("placed %s", target)
	return &Placement{Target: target, CreatedDirs: append(rootDirs, created...)}, nil
}

// createRoot creates the install root and returns the directories that did
// not exist before, outermost first.
func createRoot(root string) ([]string, error) {
	var missing []string
	for dir := filepath.Clean(root); ; dir = filepath.Dir(dir) {
		if _, err := os.Lstat(dir); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("checking %s: %w", dir, err)
		}
		missing = append([]string{dir}, missing...)
		if filepath.Dir(dir) == dir {
			break
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating install root %s: %w", root, err)
	}
	return missing, nil
}

func topLevel(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		return []string{"<empty>"}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// Remove deletes an installed bundle. A missing path is not an error.
func Remove(target string) error {
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("removing %s: %w", target, err)
	}
	return nil
}

// createParents creates dir and any missing directories between root and
// dir. It returns the directories it created, outermost first.
func createParents(root, dir string) ([]string, error) {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return nil, err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%s is outside the install root %s", dir, root)
	}

	var created []string
	cur := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		if err := os.Mkdir(cur, 0755); err != nil {
			if os.IsExist(err) {
				continue
			}
			return created, fmt.Errorf("creating %s: %w", cur, err)
		}
		created = append(created, cur)
	}
	return created, nil
}

// RemoveEmptyDirs removes the directories in dirs that are empty, innermost
// first. Directories that are missing or still hold entries are left alone.
func RemoveEmptyDirs(dirs []string) error {
	var errs []error
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dirs[i]); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("removing %s: %w", dirs[i], err))
		}
	}
	return errors.Join(errs...)
}
