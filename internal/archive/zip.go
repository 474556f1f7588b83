package archive

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

func init() {
	Register(&zipFormat{})
}

// zipFormat handles .zip archives, including the symlinks macOS tools
// store inside .app bundles.
type zipFormat struct{}

func (zipFormat) Name() string         { return "zip" }
func (zipFormat) Extensions() []string { return []string{".zip"} }

func (zipFormat) Match(header []byte) bool {
	return bytes.HasPrefix(header, []byte("PK\x03\x04")) || bytes.HasPrefix(header, []byte("PK\x05\x06"))
}

func (zipFormat) Extract(src, dest string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()

	var dirs []dirMode
	for _, zf := range zr.File {
		// macOS resource forks carry no bundle content
		if strings.HasPrefix(zf.Name, "__MACOSX/") {
			continue
		}
		target, err := safeJoin(dest, zf.Name)
		if err != nil {
			return err
		}
		if err := checkParents(dest, target); err != nil {
			return err
		}

		mode := zf.Mode()
		switch {
		case zf.FileInfo().IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			if target != dest {
				dirs = append(dirs, dirMode{target, mode})
			}
		case mode&os.ModeSymlink != 0:
			linkTarget, err := readZipEntry(zf)
			if err != nil {
				return err
			}
			if err := checkSymlink(dest, target, linkTarget); err != nil {
				return err
			}
			if err := writeSymlink(target, linkTarget); err != nil {
				return fmt.Errorf("symlink %s: %w", zf.Name, err)
			}
		default:
			if err := extractZipFile(zf, target, mode); err != nil {
				return fmt.Errorf("write %s: %w", zf.Name, err)
			}
		}
	}
	return restoreDirModes(dirs)
}

func readZipEntry(zf *zip.File) (string, error) {
	rc, err := zf.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func extractZipFile(zf *zip.File, target string, mode os.FileMode) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	if mode.Perm() == 0 {
		mode = 0644
	}
	if err := writeFile(target, mode, rc); err != nil {
		return err
	}
	os.Chtimes(target, zf.Modified, zf.Modified)
	return nil
}

func (zipFormat) Create(src string, w io.Writer) error {
	src = filepath.Clean(src)
	base := filepath.Dir(src)
	zw := zip.NewWriter(w)

	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
			hdr.Method = zip.Store
		} else {
			hdr.Method = zip.Deflate
		}

		entry, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			_, err = io.WriteString(entry, link)
			return err
		case info.Mode().IsRegular():
			f, err := os.Open(p)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(entry, f)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	return zw.Close()
}
