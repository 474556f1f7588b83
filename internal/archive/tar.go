package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
	"github.com/ulikunitz/xz"
)

func init() {
	Register(&tarFormat{
		name:   "tar.gz",
		exts:   []string{".tar.gz", ".tgz"},
		magic:  []byte{0x1f, 0x8b},
		reader: func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) },
		writer: func(w io.Writer) (io.WriteCloser, error) { return gzip.NewWriterLevel(w, gzip.BestCompression) },
	})
	Register(&tarFormat{
		name:  "tar.xz",
		exts:  []string{".tar.xz", ".txz"},
		magic: []byte{0xfd, '7', 'z', 'X', 'Z', 0x00},
		reader: func(r io.Reader) (io.ReadCloser, error) {
			xr, err := xz.NewReader(r)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(xr), nil
		},
		writer: func(w io.Writer) (io.WriteCloser, error) { return xz.NewWriter(w) },
	})
	Register(&tarFormat{
		name:  "tar.zst",
		exts:  []string{".tar.zst", ".tzst"},
		magic: []byte{0x28, 0xb5, 0x2f, 0xfd},
		reader: func(r io.Reader) (io.ReadCloser, error) {
			zr, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return zr.IOReadCloser(), nil
		},
		writer: func(w io.Writer) (io.WriteCloser, error) { return zstd.NewWriter(w) },
	})
	Register(&tarFormat{
		name:        "tar",
		exts:        []string{".tar"},
		magic:       []byte("ustar"),
		magicOffset: 257,
		reader:      func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(r), nil },
		writer:      func(w io.Writer) (io.WriteCloser, error) { return nopWriteCloser{w}, nil },
	})
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// tarFormat is a tar stream wrapped in an optional compressor.
type tarFormat struct {
	name        string
	exts        []string
	magic       []byte
	magicOffset int
	reader      func(io.Reader) (io.ReadCloser, error)
	writer      func(io.Writer) (io.WriteCloser, error)
}

func (t *tarFormat) Name() string         { return t.name }
func (t *tarFormat) Extensions() []string { return t.exts }

func (t *tarFormat) Match(header []byte) bool {
	end := t.magicOffset + len(t.magic)
	return len(header) >= end && bytes.Equal(header[t.magicOffset:end], t.magic)
}

func (t *tarFormat) Extract(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	rc, err := t.reader(f)
	if err != nil {
		return fmt.Errorf("open %s stream: %w", t.name, err)
	}
	defer rc.Close()
	return extractTar(rc, dest)
}

func (t *tarFormat) Create(src string, w io.Writer) error {
	wc, err := t.writer(w)
	if err != nil {
		return fmt.Errorf("open %s stream: %w", t.name, err)
	}
	if err := createTar(src, wc); err != nil {
		wc.Close()
		return err
	}
	return wc.Close()
}

type dirMode struct {
	path string
	mode os.FileMode
}

// restoreDirModes applies directory permissions after all entries are
// written, deepest first. Owner access is kept so the tree stays
// removable.
func restoreDirModes(dirs []dirMode) error {
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Chmod(dirs[i].path, dirs[i].mode.Perm()|0700); err != nil {
			return err
		}
	}
	return nil
}

func extractTar(r io.Reader, dest string) error {
	log := logger.Logger()
	tr := tar.NewReader(r)
	var dirs []dirMode

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %q", ErrUnsafePath, hdr.Name)
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		if hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		if err := checkParents(dest, target); err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			if target != dest {
				dirs = append(dirs, dirMode{target, hdr.FileInfo().Mode()})
			}
		case tar.TypeReg:
			if err := writeFile(target, hdr.FileInfo().Mode(), tr); err != nil {
				return fmt.Errorf("write %s: %w", hdr.Name, err)
			}
			if !hdr.ModTime.IsZero() {
				os.Chtimes(target, hdr.ModTime, hdr.ModTime)
			}
		case tar.TypeSymlink:
			if err := checkSymlink(dest, target, hdr.Linkname); err != nil {
				return err
			}
			if err := writeSymlink(target, hdr.Linkname); err != nil {
				return fmt.Errorf("symlink %s: %w", hdr.Name, err)
			}
		case tar.TypeLink:
			linkSrc, err := safeJoin(dest, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := os.RemoveAll(target); err != nil {
				return err
			}
			if err := os.Link(linkSrc, target); err != nil {
				return fmt.Errorf("hard link %s: %w", hdr.Name, err)
			}
		default:
			log.Debugf("skipping tar entry %s with type %q", hdr.Name, hdr.Typeflag)
		}
	}
	return restoreDirModes(dirs)
}

// createTar writes src and everything below it. Ownership is dropped so
// archives do not leak the packer's user names.
func createTar(src string, w io.Writer) error {
	src = filepath.Clean(src)
	base := filepath.Dir(src)
	tw := tar.NewWriter(w)

	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
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
		}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	return tw.Close()
}
