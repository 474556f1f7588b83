// Package installer runs the install, upgrade and uninstall pipelines on
// top of the fetcher, verifier, placer, hooks and receipt store.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/open-edge-platform/bundle-installer/internal/config"
	"github.com/open-edge-platform/bundle-installer/internal/descriptor"
	"github.com/open-edge-platform/bundle-installer/internal/errdefs"
	"github.com/open-edge-platform/bundle-installer/internal/fetcher"
	"github.com/open-edge-platform/bundle-installer/internal/hooks"
	"github.com/open-edge-platform/bundle-installer/internal/lock"
	"github.com/open-edge-platform/bundle-installer/internal/placer"
	"github.com/open-edge-platform/bundle-installer/internal/receipt"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
	"github.com/open-edge-platform/bundle-installer/internal/verify"
)

// ErrUpToDate is returned by Upgrade when the installed version and digest
// already match the descriptor.
var ErrUpToDate = errors.New("already up to date")

// ErrNotInstalled is returned when an operation needs a receipt that does
// not exist.
var ErrNotInstalled = errors.New("not installed")

// Status describes what an install run did.
type Status string

const (
	StatusInstalled Status = "installed"
	StatusUpgraded  Status = "upgraded"
	// StatusUnchanged: the same version and digest were already in place.
	StatusUnchanged Status = "unchanged"
)

// Options are per-call settings.
type Options struct {
	// Force replaces a destination that no receipt owns, allows a
	// downgrade, and reinstalls an unchanged package.
	Force bool
	// Timeout bounds the fetch stage only. Zero disables it.
	Timeout time.Duration
}

// Result reports one install or upgrade.
type Result struct {
	Identifier  string
	Version     string
	InstallPath string
	Status      Status
	Receipt     *receipt.Receipt
	Warnings    []errdefs.Warning
	Caveats     string
}

// Installer wires the pipeline stages together. Use New or FromConfig.
type Installer struct {
	receipts *receipt.Store
	locks    *lock.Locker
	fetcher  *fetcher.Fetcher
	policy   hooks.Policy
	root     string
	home     string
	workers  int
	goos     string
	goarch   string
	now      func() time.Time
}

// Option configures an Installer.
type Option func(*Installer)

// WithFetcher replaces the default fetcher.
func WithFetcher(f *fetcher.Fetcher) Option {
	return func(in *Installer) { in.fetcher = f }
}

// WithPolicy sets the post-install policy.
func WithPolicy(p hooks.Policy) Option {
	return func(in *Installer) { in.policy = p }
}

// WithHome sets the directory "~/" expands to in uninstall paths.
func WithHome(home string) Option {
	return func(in *Installer) { in.home = home }
}

// WithWorkers limits batch concurrency.
func WithWorkers(n int) Option {
	return func(in *Installer) { in.workers = n }
}

// WithPlatform overrides the host platform used for dependsOn checks.
func WithPlatform(goos, goarch string) Option {
	return func(in *Installer) { in.goos, in.goarch = goos, goarch }
}

// New returns an installer placing bundles under root and keeping receipts
// and locks below stateDir.
func New(root, stateDir string, opts ...Option) *Installer {
	home, _ := os.UserHomeDir()
	in := &Installer{
		receipts: receipt.NewStore(filepath.Join(stateDir, "receipts")),
		locks:    lock.New(filepath.Join(stateDir, "locks")),
		fetcher:  fetcher.New(),
		policy:   hooks.Policy{AllowQuarantineRemoval: true, AllowElevation: true},
		root:     root,
		home:     home,
		workers:  config.DefaultWorkers,
		goos:     runtime.GOOS,
		goarch:   runtime.GOARCH,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.workers < 1 {
		in.workers = 1
	}
	return in
}

// FromConfig builds an installer from cfg. progress receives download
// progress bars when cfg enables them; it may be nil.
func FromConfig(cfg *config.GlobalConfig, progress io.Writer) (*Installer, error) {
	h := config.NewConfigHelpers(cfg)

	root, err := h.InstallRoot()
	if err != nil {
		return nil, fmt.Errorf("resolving install root: %w", err)
	}
	stateDir, err := h.StateDir()
	if err != nil {
		return nil, fmt.Errorf("resolving state directory: %w", err)
	}
	workDir, err := h.WorkDir()
	if err != nil {
		return nil, fmt.Errorf("resolving work directory: %w", err)
	}
	if err := h.CreateStateDir(); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	if err := h.CreateWorkDir(); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}

	fopts := []fetcher.Option{fetcher.WithWorkDir(workDir)}
	if cfg.CacheEnabled() {
		cacheDir, err := h.CacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolving cache directory: %w", err)
		}
		if err := h.CreateCacheDir(); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		fopts = append(fopts, fetcher.WithCacheDir(cacheDir))
	}
	// Progress bars redraw over debug log lines on the same terminal.
	if cfg.ProgressEnabled() && progress != nil && !h.IsDebugMode() {
		fopts = append(fopts, fetcher.WithProgress(progress))
	}

	return New(root, stateDir,
		WithFetcher(fetcher.New(fopts...)),
		WithWorkers(h.Workers()),
		WithPolicy(hooks.Policy{
			AllowQuarantineRemoval: cfg.QuarantineRemovalAllowed(),
			AllowElevation:         cfg.ElevationAllowed(),
		}),
	), nil
}

// InstallRoot returns the directory bundles are placed in.
func (in *Installer) InstallRoot() string { return in.root }

// Receipts returns the receipt store.
func (in *Installer) Receipts() *receipt.Store { return in.receipts }

// Install runs the full pipeline for d. Installing the same version and
// digest again is a no-op that does not rerun post-install actions.
func (in *Installer) Install(ctx context.Context, d *descriptor.Descriptor, opts Options) (*Result, error) {
	return in.run(ctx, d, opts, false)
}

// Upgrade replaces an installed package with d. It requires a receipt and
// refuses a lower version unless opts.Force is set.
func (in *Installer) Upgrade(ctx context.Context, d *descriptor.Descriptor, opts Options) (*Result, error) {
	return in.run(ctx, d, opts, true)
}

func (in *Installer) run(ctx context.Context, d *descriptor.Descriptor, opts Options, upgrade bool) (*Result, error) {
	log := logger.Logger()

	if err := d.CheckPlatform(in.goos, in.goarch); err != nil {
		return nil, err
	}

	target := d.InstallPath(in.root)
	unlock, err := in.locks.Lock(ctx, target)
	if err != nil {
		return nil, err
	}
	defer unlock()

	vars := hooks.Vars{
		InstallPath: target,
		InstallRoot: in.root,
		Identifier:  d.Identifier,
	}
	res := &Result{
		Identifier:  d.Identifier,
		Version:     d.Version,
		InstallPath: target,
		Status:      StatusInstalled,
		Caveats:     hooks.ExpandArgs([]string{d.Caveats}, vars)[0],
		Warnings:    sourceWarnings(d),
	}

	prev, err := in.receipts.Get(d.Identifier)
	if err != nil && !errors.Is(err, receipt.ErrNotFound) {
		return nil, err
	}
	if errors.Is(err, receipt.ErrNotFound) {
		prev = nil
	}

	if upgrade {
		if err := checkUpgrade(prev, d, target, opts.Force); err != nil {
			return nil, err
		}
		res.Status = StatusUpgraded
	} else if prev != nil && prev.SameIdentity(d) && prev.InstallPath == target && exists(target) && !opts.Force {
		log.Infof("%s %s is already installed at %s", d.Identifier, d.Version, target)
		res.Status = StatusUnchanged
		res.Receipt = prev
		return res, nil
	}

	owner, err := in.receipts.Owner(target)
	if err != nil {
		return nil, err
	}
	owned := owner != nil && owner.Identifier == d.Identifier
	if err := placer.CheckConflict(target, owned, opts.Force); err != nil {
		return nil, err
	}

	log.Infof("fetching %s %s", d.Identifier, d.Version)
	dl, err := in.download(ctx, d.SourceURL, d.Digest(), opts.Timeout)
	if err != nil {
		return nil, err
	}
	defer dl.Cleanup()

	vr, err := verify.Verify(dl.Path, d.Digest())
	if err != nil {
		return nil, err
	}
	if vr.Skipped {
		log.Warnf("integrity verification is disabled for %s", d.Identifier)
		res.Warnings = append(res.Warnings, errdefs.Warning{
			Kind:    errdefs.Unverified,
			Field:   "integrityDigest",
			Message: fmt.Sprintf("%s was installed without checksum verification", d.Identifier),
		})
	}

	if d.Signature != nil {
		if err := in.checkSignature(ctx, d, dl.Path, opts.Timeout); err != nil {
			return nil, err
		}
	}
	if err := in.fetcher.Store(dl, d.Digest()); err != nil {
		log.Warnf("caching %s: %v", dl.Name, err)
	}

	existed := exists(target)
	pl, err := placer.Place(placer.Request{
		Archive:     dl.Path,
		BundlePath:  d.BundlePath,
		InstallRoot: in.root,
		TargetPath:  d.TargetPath(),
		Owned:       owned,
		Force:       opts.Force,
	})
	if err != nil {
		return nil, err
	}
	created := pl.CreatedDirs
	if prev != nil {
		created = append(ownedAncestors(prev.CreatedDirs, target), created...)
	}

	rec := &receipt.Receipt{
		InstallID:       uuid.NewString(),
		Identifier:      d.Identifier,
		Version:         d.Version,
		IntegrityDigest: d.Digest().String(),
		SourceURL:       d.SourceURL,
		InstallPath:     target,
		InstallRoot:     in.root,
		DescriptorPath:  d.Source,
		InstalledAt:     in.now().UTC(),
		UninstallPaths:  d.UninstallPaths,
		CreatedDirs:     created,
	}
	if err := in.receipts.Put(rec); err != nil {
		if !existed {
			if rerr := placer.Remove(target); rerr != nil {
				log.Warnf("rolling back %s: %v", target, rerr)
			}
			if rerr := placer.RemoveEmptyDirs(pl.CreatedDirs); rerr != nil {
				log.Warnf("rolling back %s: %v", target, rerr)
			}
		}
		return nil, err
	}

	if prev != nil && prev.InstallPath != target {
		in.removePrevious(ctx, prev)
	}

	results, warnings := hooks.Run(d.PostInstallActions, vars, in.policy)
	res.Warnings = append(res.Warnings, warnings...)
	if len(results) > 0 {
		rec.PostInstall = results
		if err := in.receipts.Put(rec); err != nil {
			log.Warnf("recording post-install results: %v", err)
		}
	}
	res.Receipt = rec

	log.Infof("%s %s %s at %s", d.Identifier, d.Version, res.Status, target)
	return res, nil
}

// removePrevious deletes the bundle an upgrade moved away from. Failures
// are logged since the new install is already recorded.
func (in *Installer) removePrevious(ctx context.Context, prev *receipt.Receipt) {
	log := logger.Logger()
	unlock, err := in.locks.Lock(ctx, prev.InstallPath)
	if err != nil {
		log.Warnf("leaving previous install at %s: %v", prev.InstallPath, err)
		return
	}
	defer unlock()

	log.Infof("removing previous install at %s", prev.InstallPath)
	if err := placer.Remove(prev.InstallPath); err != nil {
		log.Warnf("%v", err)
		return
	}
	if err := placer.RemoveEmptyDirs(prev.CreatedDirs); err != nil {
		log.Warnf("%v", err)
	}
}

func checkUpgrade(prev *receipt.Receipt, d *descriptor.Descriptor, target string, force bool) error {
	if prev == nil {
		return fmt.Errorf("upgrading %s: %w", d.Identifier, ErrNotInstalled)
	}
	if prev.SameIdentity(d) && prev.InstallPath == target && exists(target) && !force {
		return fmt.Errorf("%s %s: %w", d.Identifier, d.Version, ErrUpToDate)
	}
	if force {
		return nil
	}
	next, err := d.SemVer()
	if err != nil {
		return err
	}
	cur, err := semver.NewVersion(prev.Version)
	if err != nil {
		logger.Logger().Debugf("installed version %q of %s is not semver, skipping downgrade check", prev.Version, d.Identifier)
		return nil
	}
	if next.LessThan(cur) {
		return fmt.Errorf("refusing to downgrade %s from %s to %s (use --force)", d.Identifier, prev.Version, d.Version)
	}
	return nil
}

// download serves the archive from the cache or fetches it under the
// optional timeout.
func (in *Installer) download(ctx context.Context, rawURL string, digest descriptor.Digest, timeout time.Duration) (*fetcher.Download, error) {
	if dl, ok := in.fetcher.Cached(digest, fetcher.ArchiveName(rawURL)); ok {
		return dl, nil
	}
	fctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	return in.fetcher.Fetch(fctx, rawURL)
}

func (in *Installer) checkSignature(ctx context.Context, d *descriptor.Descriptor, archivePath string, timeout time.Duration) error {
	fctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	sig, err := in.fetcher.Fetch(fctx, d.Signature.URL)
	if err != nil {
		return err
	}
	defer sig.Cleanup()

	if err := verify.VerifySignature(archivePath, sig.Path, d.Signature.PublicKey); err != nil {
		return err
	}
	logger.Logger().Infof("signature of %s verified", d.Identifier)
	return nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// sourceWarnings turns mutable source URLs into warnings.
func sourceWarnings(d *descriptor.Descriptor) []errdefs.Warning {
	var out []errdefs.Warning
	if descriptor.IsMutableURL(d.SourceURL) {
		logger.Logger().Warnf("%s is downloaded from a mutable reference: %s", d.Identifier, d.SourceURL)
		out = append(out, errdefs.Warning{
			Kind:    errdefs.MutableSource,
			Field:   "sourceUrl",
			Message: "the URL points at a branch or latest release and may change without a new version",
		})
	}
	return out
}

// ownedAncestors returns the directories of dirs that contain target. A
// previous install created them, so the new receipt keeps owning them.
func ownedAncestors(dirs []string, target string) []string {
	var out []string
	for _, dir := range dirs {
		rel, err := filepath.Rel(dir, target)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		out = append(out, dir)
	}
	return out
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}
