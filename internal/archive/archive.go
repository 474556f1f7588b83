// Package archive extracts and creates release archives. Formats register
// themselves by name and are detected from the file name or, failing
// that, from the leading magic bytes.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// ErrUnsafePath marks an archive entry that would land outside the
// extraction root.
var ErrUnsafePath = errors.New("unsafe path in archive")

// Format is one archive container format.
type Format interface {
	// Name is a unique ID, e.g. "tar.gz" or "zip".
	Name() string

	// Extensions lists the file name suffixes of this format, lower case.
	Extensions() []string

	// Match reports whether header, the first bytes of a file, belongs to
	// this format.
	Match(header []byte) bool

	// Extract unpacks the archive at src into the existing directory dest.
	Extract(src, dest string) error

	// Create writes an archive of the file tree at src to w. Entries are
	// named relative to the parent of src so the tree keeps its base name.
	Create(src string, w io.Writer) error
}

var (
	formats = make(map[string]Format)
)

// Register makes a Format available under its Name().
func Register(f Format) {
	formats[f.Name()] = f
}

// Get returns the Format by name.
func Get(name string) (Format, bool) {
	f, ok := formats[name]
	return f, ok
}

// Names lists the registered format names in sorted order.
func Names() []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// headerSize covers the tar "ustar" magic at offset 257.
const headerSize = 512

// Detect picks the format of the file at path.
func Detect(path string) (Format, error) {
	lower := strings.ToLower(path)
	for _, name := range Names() {
		f := formats[name]
		for _, ext := range f.Extensions() {
			if strings.HasSuffix(lower, ext) {
				return f, nil
			}
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	header := make([]byte, headerSize)
	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	header = header[:n]
	for _, name := range Names() {
		if formats[name].Match(header) {
			return formats[name], nil
		}
	}
	return nil, fmt.Errorf("unrecognized archive format: %s", path)
}

// Extract detects the format of src and unpacks it into dest, creating
// dest if needed.
func Extract(src, dest string) error {
	f, err := Detect(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("create extraction dir %s: %w", dest, err)
	}
	if err := f.Extract(src, dest); err != nil {
		return fmt.Errorf("extract %s archive %s: %w", f.Name(), src, err)
	}
	return nil
}

// Create archives the tree at src into the file out using the named
// format. A partially written out is removed on failure.
func Create(src, out, formatName string) (err error) {
	f, ok := Get(formatName)
	if !ok {
		return fmt.Errorf("unknown archive format %q (known: %s)", formatName, strings.Join(Names(), ", "))
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("archive source: %w", err)
	}

	file, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(out)
		}
	}()

	if err := f.Create(src, file); err != nil {
		return fmt.Errorf("create %s archive: %w", f.Name(), err)
	}
	return file.Sync()
}
