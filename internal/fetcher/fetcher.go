// Package fetcher downloads release archives into scoped temporary
// locations and keeps a digest-addressed cache of verified archives.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/open-edge-platform/bundle-installer/internal/errdefs"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
	"github.com/open-edge-platform/bundle-installer/internal/utils/network"
	"github.com/schollz/progressbar/v3"
)

// Fetcher downloads archives. The zero value is not usable; call New.
type Fetcher struct {
	client   *http.Client
	workDir  string
	cacheDir string
	progress io.Writer
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the secure default HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithWorkDir sets where temporary downloads are written. The directory
// must exist.
func WithWorkDir(dir string) Option {
	return func(f *Fetcher) { f.workDir = dir }
}

// WithCacheDir enables the verified-archive cache rooted at dir.
func WithCacheDir(dir string) Option {
	return func(f *Fetcher) { f.cacheDir = dir }
}

// WithProgress draws byte progress bars on w.
func WithProgress(w io.Writer) Option {
	return func(f *Fetcher) { f.progress = w }
}

// New returns a Fetcher using the secure HTTP client and the system temp dir.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  network.NewSecureHTTPClient(),
		workDir: os.TempDir(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Download is a fetched archive on local disk.
type Download struct {
	URL  string
	Path string
	// Name is the archive file name taken from the URL.
	Name      string
	Size      int64
	FromCache bool

	once    sync.Once
	cleanup func()
}

// Cleanup removes the temporary download. It is safe to call more than
// once and is a no-op for cache entries.
func (d *Download) Cleanup() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		if d.cleanup != nil {
			d.cleanup()
		}
	})
}

// ArchiveName returns the file name component of a source URL.
func ArchiveName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		if name := path.Base(u.Path); name != "/" && name != "." {
			return name
		}
	}
	return "archive"
}

// Fetch streams rawURL into a fresh temporary directory under the work
// directory. On error nothing is left behind. On success the caller must
// call Cleanup on the returned Download.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Download, error) {
	log := logger.Logger()
	name := ArchiveName(rawURL)

	tmpDir, err := os.MkdirTemp(f.workDir, "fetch-*")
	if err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}
	dl := &Download{
		URL:     rawURL,
		Name:    name,
		Path:    filepath.Join(tmpDir, name),
		cleanup: func() { os.RemoveAll(tmpDir) },
	}

	ok := false
	defer func() {
		if !ok {
			dl.Cleanup()
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errdefs.New(errdefs.MalformedDescriptor, "sourceUrl", rawURL, err)
	}

	log.Infof("fetching %s", rawURL)
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(ctx, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errdefs.Newf(errdefs.NetworkError, "sourceUrl", rawURL, "bad status: %s", resp.Status)
	}

	out, err := os.Create(dl.Path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", dl.Path, err)
	}
	defer out.Close()

	var dst io.Writer = out
	if f.progress != nil && resp.ContentLength > 0 {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(f.progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("downloading "+name),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(f.progress) }),
		)
		defer bar.Finish()
		dst = io.MultiWriter(out, bar)
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return nil, classify(ctx, rawURL, err)
	}
	if err := out.Sync(); err != nil {
		return nil, fmt.Errorf("syncing %s: %w", dl.Path, err)
	}
	dl.Size = n

	log.Debugf("fetched %s (%d bytes) in %s", rawURL, n, time.Since(start))
	logger.GlobalFetchReport.Add(rawURL)
	ok = true
	return dl, nil
}

// classify maps transport failures onto the error taxonomy. Deadline
// expiry is a TimeoutError, cancellation is returned as is, anything else
// is a NetworkError.
func classify(ctx context.Context, rawURL string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errdefs.New(errdefs.TimeoutError, "sourceUrl", rawURL, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errdefs.New(errdefs.TimeoutError, "sourceUrl", rawURL, err)
	}
	return errdefs.New(errdefs.NetworkError, "sourceUrl", rawURL, err)
}

// FetchAll downloads urls with a pool of workers and a single progress bar
// counting completed files. Downloads keep the order of urls. When any
// fetch fails every successful download is cleaned up and the joined
// errors are returned.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, workers int) ([]*Download, error) {
	log := logger.Logger()
	if workers < 1 {
		workers = 1
	}

	total := len(urls)
	jobs := make(chan int, total)
	downloads := make([]*Download, total)
	errs := make([]error, total)
	var wg sync.WaitGroup

	// per-file bars would interleave, so workers share one counter
	single := *f
	single.progress = nil

	var bar *progressbar.ProgressBar
	if f.progress != nil {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(f.progress),
			progressbar.OptionShowDescriptionAtLineEnd(),
			progressbar.OptionSetDescription("downloading"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if bar != nil {
					bar.Describe(fmt.Sprintf("downloading %s", ArchiveName(urls[j])))
				}
				downloads[j], errs[j] = single.Fetch(ctx, urls[j])
				if errs[j] != nil {
					log.Errorf("downloading %s failed: %v", urls[j], errs[j])
				}
				if bar != nil {
					bar.Add(1)
				}
			}
		}()
	}

	for i := range urls {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	if bar != nil {
		bar.Finish()
	}

	if err := errors.Join(errs...); err != nil {
		for _, d := range downloads {
			d.Cleanup()
		}
		return nil, err
	}
	return downloads, nil
}
