// Package catalog resolves a package identifier to its descriptor, looking
// in local descriptor directories first and then in an optional remote
// catalog.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-edge-platform/bundle-installer/internal/descriptor"
	"github.com/open-edge-platform/bundle-installer/internal/errdefs"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
	"github.com/open-edge-platform/bundle-installer/internal/utils/network"
)

var extensions = []string{".yml", ".yaml", ".json"}

// maxDescriptorSize bounds remote descriptor downloads.
const maxDescriptorSize = 1 << 20

// Catalog looks up descriptors.
type Catalog struct {
	dirs    []string
	baseURL string
	client  *http.Client
}

// New returns a catalog searching dirs in order, then baseURL when set.
func New(dirs []string, baseURL string) *Catalog {
	return &Catalog{
		dirs:    dirs,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  network.NewSecureHTTPClient(),
	}
}

// WithClient replaces the HTTP client used for the remote catalog.
func (c *Catalog) WithClient(client *http.Client) *Catalog {
	c.client = client
	return c
}

// IsFileRef reports whether arg names a descriptor file rather than an
// identifier.
func IsFileRef(arg string) bool {
	lower := strings.ToLower(arg)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	if strings.ContainsRune(arg, filepath.Separator) || strings.ContainsRune(arg, '/') {
		return true
	}
	info, err := os.Stat(arg)
	return err == nil && info.Mode().IsRegular()
}

// Resolve returns the descriptor for arg, which is either a descriptor
// file path or an identifier.
func (c *Catalog) Resolve(ctx context.Context, arg string) (*descriptor.Descriptor, error) {
	log := logger.Logger()

	if IsFileRef(arg) {
		return descriptor.Load(arg)
	}
	if !descriptor.ValidIdentifier(arg) {
		return nil, errdefs.Newf(errdefs.MalformedDescriptor, "identifier", arg, "not a valid identifier or descriptor file")
	}

	for _, dir := range c.dirs {
		for _, ext := range extensions {
			p := filepath.Join(dir, arg+ext)
			if _, err := os.Stat(p); err == nil {
				log.Debugf("resolved %s to %s", arg, p)
				return c.checkIdentifier(descriptor.Load(p))
			}
		}
	}

	if c.baseURL != "" {
		d, found, err := c.fetchRemote(ctx, arg)
		if err != nil {
			return nil, err
		}
		if found {
			return c.checkIdentifier(d, nil)
		}
	}

	return nil, errdefs.Newf(errdefs.MalformedDescriptor, "identifier", arg,
		"no descriptor found (searched %s)", c.describeSources())
}

// checkIdentifier guards against a catalog entry whose file name and
// identifier disagree.
func (c *Catalog) checkIdentifier(d *descriptor.Descriptor, err error) (*descriptor.Descriptor, error) {
	if err != nil {
		return nil, err
	}
	base := filepath.Base(d.Source)
	if name := strings.TrimSuffix(base, filepath.Ext(base)); name != d.Identifier {
		return nil, errdefs.Newf(errdefs.MalformedDescriptor, "identifier", d.Source,
			"catalog entry %s declares identifier %q", name, d.Identifier)
	}
	return d, nil
}

func (c *Catalog) fetchRemote(ctx context.Context, id string) (*descriptor.Descriptor, bool, error) {
	u := c.baseURL + "/" + id + ".yml"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, fmt.Errorf("catalog request %s: %w", u, err)
	}
	logger.Logger().Debugf("querying remote catalog %s", u)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false, errdefs.New(errdefs.NetworkError, "catalog.url", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, errdefs.Newf(errdefs.NetworkError, "catalog.url", u, "bad status: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDescriptorSize))
	if err != nil {
		return nil, false, errdefs.New(errdefs.NetworkError, "catalog.url", u, err)
	}
	d, err := descriptor.Parse(data, u)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

func (c *Catalog) describeSources() string {
	var sources []string
	sources = append(sources, c.dirs...)
	if c.baseURL != "" {
		sources = append(sources, c.baseURL)
	}
	if len(sources) == 0 {
		return "no catalog configured"
	}
	return strings.Join(sources, ", ")
}

// Available lists the identifiers found in the local descriptor
// directories. Earlier directories win on duplicates.
func (c *Catalog) Available() ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, dir := range c.dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading catalog %s: %w", dir, err)
		}
		for _, e := range entries {
			name := e.Name()
			ext := filepath.Ext(name)
			id := strings.TrimSuffix(name, ext)
			if e.IsDir() || !isDescriptorExt(ext) || !descriptor.ValidIdentifier(id) || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func isDescriptorExt(ext string) bool {
	for _, e := range extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
