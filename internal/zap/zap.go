// Package zap removes the auxiliary paths a package leaves behind, such as
// user documents and preference files. It does not look at install state.
package zap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-edge-platform/bundle-installer/internal/errdefs"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
)

// Result lists what a zap removed and which paths were already absent.
type Result struct {
	Removed []string `json:"removed"`
	Skipped []string `json:"skipped"`
}

// ExpandHome replaces a leading "~" or "~/" with home.
func ExpandHome(p, home string) string {
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}

// Resolve expands and checks every path before anything is removed. Paths
// must be absolute after expansion and may not name the filesystem root or
// the home directory itself.
func Resolve(paths []string, home string) ([]string, error) {
	home = filepath.Clean(home)
	out := make([]string, 0, len(paths))
	for i, raw := range paths {
		field := fmt.Sprintf("uninstallPaths[%d]", i)
		if strings.TrimSpace(raw) == "" {
			return nil, errdefs.Newf(errdefs.MalformedDescriptor, field, raw, "empty path")
		}
		p := filepath.Clean(ExpandHome(filepath.FromSlash(raw), home))
		if !filepath.IsAbs(p) {
			return nil, errdefs.Newf(errdefs.MalformedDescriptor, field, raw, "path must be absolute or start with ~/")
		}
		if err := guard(p, home); err != nil {
			return nil, errdefs.New(errdefs.MalformedDescriptor, field, raw, err)
		}
		if !strings.ContainsAny(raw, "*?[") {
			out = append(out, p)
			continue
		}
		if _, err := filepath.Match(globPattern(raw, p, home), ""); err != nil {
			return nil, errdefs.New(errdefs.MalformedDescriptor, field, raw, fmt.Errorf("invalid pattern: %w", err))
		}
		out = append(out, p)
	}
	return out, nil
}

// globPattern escapes the expanded home prefix of p so that only
// metacharacters written in raw act as a pattern.
func globPattern(raw, p, home string) string {
	home = filepath.Clean(home)
	if !strings.HasPrefix(raw, "~") || !strings.HasPrefix(p, home) || filepath.Separator == '\\' {
		return p
	}
	var b strings.Builder
	for _, r := range home {
		if strings.ContainsRune(`*?[\\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String() + p[len(home):]
}

func guard(p, home string) error {
	if p == string(filepath.Separator) || p == filepath.VolumeName(p)+string(filepath.Separator) {
		return fmt.Errorf("refusing to remove the filesystem root")
	}
	if p == home {
		return fmt.Errorf("refusing to remove the home directory")
	}
	return nil
}

// Zap removes every existing path matching paths. Missing paths are
// reported as skipped, so running it twice is harmless.
func Zap(paths []string, home string) (Result, error) {
	log := logger.Logger()
	var res Result

	resolved, err := Resolve(paths, home)
	if err != nil {
		return res, err
	}

	for i, p := range resolved {
		matches := []string{p}
		if _, err := os.Lstat(p); os.IsNotExist(err) && strings.ContainsAny(paths[i], "*?[") {
			matches, _ = filepath.Glob(globPattern(paths[i], p, home))
			if len(matches) == 0 {
				res.Skipped = append(res.Skipped, p)
				continue
			}
		}

		for _, m := range matches {
			if err := guard(filepath.Clean(m), filepath.Clean(home)); err != nil {
				return res, errdefs.New(errdefs.MalformedDescriptor, "uninstallPaths", m, err)
			}
			if _, err := os.Lstat(m); os.IsNotExist(err) {
				log.Debugf("zap: %s not present", m)
				res.Skipped = append(res.Skipped, m)
				continue
			}
			if err := os.RemoveAll(m); err != nil {
				return res, fmt.Errorf("removing %s: %w", m, err)
			}
			log.Infof("zap: removed %s", m)
			res.Removed = append(res.Removed, m)
		}
	}
	return res, nil
}
