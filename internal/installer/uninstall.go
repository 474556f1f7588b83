package installer

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-edge-platform/bundle-installer/internal/descriptor"
	"github.com/open-edge-platform/bundle-installer/internal/placer"
	"github.com/open-edge-platform/bundle-installer/internal/receipt"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
	"github.com/open-edge-platform/bundle-installer/internal/zap"
)

// UninstallResult reports what Uninstall removed.
type UninstallResult struct {
	Identifier string
	// Removed is the bundle path, empty when nothing was installed.
	Removed string
	Zap     zap.Result
}

// Uninstall removes the bundle owned by the receipt for id and the receipt
// itself. With purge it also removes the uninstall paths, taken from d when
// given and from the receipt otherwise. A purge works without a receipt.
func (in *Installer) Uninstall(ctx context.Context, id string, purge bool, d *descriptor.Descriptor) (*UninstallResult, error) {
	log := logger.Logger()
	res := &UninstallResult{Identifier: id}

	rec, err := in.receipts.Get(id)
	switch {
	case errors.Is(err, receipt.ErrNotFound):
		if !purge {
			return nil, fmt.Errorf("uninstalling %s: %w", id, ErrNotInstalled)
		}
		log.Infof("%s has no install receipt, only purging user data", id)
		rec = nil
	case err != nil:
		return nil, err
	}

	if rec != nil {
		unlock, err := in.locks.Lock(ctx, rec.InstallPath)
		if err != nil {
			return nil, err
		}
		err = in.removeInstall(rec)
		unlock()
		if err != nil {
			return nil, err
		}
		res.Removed = rec.InstallPath
	}

	if !purge {
		return res, nil
	}

	var paths []string
	switch {
	case d != nil:
		paths = d.UninstallPaths
	case rec != nil:
		paths = rec.UninstallPaths
	}
	if len(paths) == 0 {
		log.Infof("%s declares no uninstall paths", id)
		return res, nil
	}
	zr, err := zap.Zap(paths, in.home)
	res.Zap = zr
	if err != nil {
		return res, err
	}
	return res, nil
}

func (in *Installer) removeInstall(rec *receipt.Receipt) error {
	log := logger.Logger()
	if exists(rec.InstallPath) {
		log.Infof("removing %s", rec.InstallPath)
		if err := placer.Remove(rec.InstallPath); err != nil {
			return err
		}
	} else {
		log.Warnf("%s was already removed", rec.InstallPath)
	}
	if err := placer.RemoveEmptyDirs(rec.CreatedDirs); err != nil {
		log.Warnf("%v", err)
	}
	return in.receipts.Delete(rec.Identifier)
}

// Zap removes the uninstall paths of d regardless of install state.
func (in *Installer) Zap(d *descriptor.Descriptor) (zap.Result, error) {
	return zap.Zap(d.UninstallPaths, in.home)
}

// Check asserts that id is installed and its bundle is present.
func (in *Installer) Check(id string) (*receipt.Receipt, error) {
	rec, err := in.receipts.Get(id)
	if errors.Is(err, receipt.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotInstalled)
	}
	if err != nil {
		return nil, err
	}
	if !exists(rec.InstallPath) {
		return rec, fmt.Errorf("%s %s: install path %s is missing", id, rec.Version, rec.InstallPath)
	}
	return rec, nil
}

// Status returns the receipt for id, or nil when it is not installed.
func (in *Installer) Status(id string) (*receipt.Receipt, error) {
	rec, err := in.receipts.Get(id)
	if errors.Is(err, receipt.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}
