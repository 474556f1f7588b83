package fetcher

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/open-edge-platform/bundle-installer/internal/descriptor"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
	"github.com/open-edge-platform/bundle-installer/internal/verify"
)

// CacheEnabled reports whether a cache directory is configured.
func (f *Fetcher) CacheEnabled() bool {
	return f.cacheDir != ""
}

func (f *Fetcher) cachePath(digest descriptor.Digest, name string) string {
	return filepath.Join(f.cacheDir, digest.Algorithm+"-"+digest.Hex, name)
}

// Cached returns the cached archive for digest, re-verifying it first. A
// cache entry that no longer matches is removed and reported as a miss.
// Skip digests are never cached.
func (f *Fetcher) Cached(digest descriptor.Digest, name string) (*Download, bool) {
	if !f.CacheEnabled() || digest.Skip {
		return nil, false
	}
	log := logger.Logger()
	p := f.cachePath(digest, name)

	info, err := os.Stat(p)
	if err != nil {
		return nil, false
	}
	if _, err := verify.Verify(p, digest); err != nil {
		log.Warnf("discarding corrupt cache entry %s: %v", p, err)
		os.RemoveAll(filepath.Dir(p))
		return nil, false
	}

	log.Infof("using cached %s", p)
	return &Download{Path: p, Name: name, Size: info.Size(), FromCache: true}, true
}

// Store keeps a verified download in the cache. The entry is written under
// a temporary name and renamed into place. Skip digests are ignored.
func (f *Fetcher) Store(dl *Download, digest descriptor.Digest) error {
	if !f.CacheEnabled() || digest.Skip || dl == nil || dl.FromCache {
		return nil
	}
	dst := f.cachePath(digest, dl.Name)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating cache entry: %w", err)
	}

	tmp := dst + ".tmp-" + uuid.NewString()
	if err := os.Link(dl.Path, tmp); err != nil {
		if err := copyFile(dl.Path, tmp); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("caching %s: %w", dl.Name, err)
		}
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("caching %s: %w", dl.Name, err)
	}
	logger.Logger().Debugf("cached %s as %s", dl.URL, dst)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
