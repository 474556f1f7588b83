package installer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/open-edge-platform/bundle-installer/internal/descriptor"
	"github.com/open-edge-platform/bundle-installer/internal/fetcher"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
	"github.com/open-edge-platform/bundle-installer/internal/verify"
	"golang.org/x/sync/errgroup"
)

// InstallAll installs ds with up to the configured number of workers.
// Every descriptor is attempted. Results keep the order of ds and are nil
// for failed installs; the failures are joined into the returned error.
func (in *Installer) InstallAll(ctx context.Context, ds []*descriptor.Descriptor, opts Options) ([]*Result, error) {
	results := make([]*Result, len(ds))
	errs := make([]error, len(ds))

	var g errgroup.Group
	g.SetLimit(in.workers)
	for i, d := range ds {
		g.Go(func() error {
			res, err := in.Install(ctx, d, opts)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", d.Identifier, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()
	return results, errors.Join(errs...)
}

// Prefetch downloads and verifies the archives of ds into the cache
// without installing anything. Descriptors with verification disabled
// are skipped since they are never cached.
func (in *Installer) Prefetch(ctx context.Context, ds []*descriptor.Descriptor, timeout time.Duration) ([]verify.Result, error) {
	log := logger.Logger()
	if !in.fetcher.CacheEnabled() {
		return nil, fmt.Errorf("prefetch needs the download cache (fetch.cache is disabled)")
	}

	var (
		urls []string
		jobs []verify.Job
	)
	for _, d := range ds {
		digest := d.Digest()
		if digest.Skip {
			log.Warnf("not caching %s: integrity verification is disabled", d.Identifier)
			continue
		}
		if dl, ok := in.fetcher.Cached(digest, fetcher.ArchiveName(d.SourceURL)); ok {
			log.Infof("%s %s is already cached", d.Identifier, d.Version)
			dl.Cleanup()
			continue
		}
		urls = append(urls, d.SourceURL)
		jobs = append(jobs, verify.Job{Digest: digest})
	}
	if len(urls) == 0 {
		return nil, nil
	}

	fctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	dls, err := in.fetcher.FetchAll(fctx, urls, in.workers)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, dl := range dls {
			dl.Cleanup()
		}
	}()

	for i, dl := range dls {
		jobs[i].Path = dl.Path
	}
	results := verify.VerifyAll(jobs, in.workers)

	var errs []error
	for i, r := range results {
		if r.Error != nil {
			errs = append(errs, fmt.Errorf("%s: %w", urls[i], r.Error))
			continue
		}
		if err := in.fetcher.Store(dls[i], jobs[i].Digest); err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}
