package placer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/open-edge-platform/bundle-installer/internal/archive"
	"github.com/open-edge-platform/bundle-installer/internal/errdefs"
)

func buildArchive(t *testing.T, content string) string {
	t.Helper()
	app := filepath.Join(t.TempDir(), "Time Tracker.app")
	if err := os.MkdirAll(filepath.Join(app, "Contents"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(app, "Contents", "Info.plist"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "TimeTracker.app.tar.gz")
	if err := archive.Create(app, out, "tar.gz"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return out
}

func assertNoStaging(t *testing.T, root string) {
	t.Helper()
	matches, _ := filepath.Glob(filepath.Join(root, StagingPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("staging directories left behind: %v", matches)
	}
}

func readPlist(t *testing.T, target string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(target, "Contents", "Info.plist"))
	if err != nil {
		t.Fatalf("reading placed bundle: %v", err)
	}
	return string(data)
}

func TestPlaceFresh(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Applications")
	req := Request{
		Archive:     buildArchive(t, "v1"),
		BundlePath:  "Time Tracker.app",
		InstallRoot: root,
		TargetPath:  "IACLS Time Tracker.app",
	}

	pl, err := Place(req)
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if pl.Target != filepath.Join(root, "IACLS Time Tracker.app") {
		t.Errorf("unexpected target %s", pl.Target)
	}
	if len(pl.CreatedDirs) != 1 || pl.CreatedDirs[0] != root {
		t.Errorf("expected the install root to be recorded as created, got %v", pl.CreatedDirs)
	}
	if readPlist(t, pl.Target) != "v1" {
		t.Errorf("unexpected bundle content")
	}
	assertNoStaging(t, root)
}

func TestPlaceReplacesOwnedTarget(t *testing.T) {
	root := t.TempDir()
	req := Request{Archive: buildArchive(t, "v1"), BundlePath: "Time Tracker.app", InstallRoot: root, TargetPath: "X.app"}
	if _, err := Place(req); err != nil {
		t.Fatalf("first Place failed: %v", err)
	}

	req.Archive = buildArchive(t, "v2")
	req.Owned = true
	pl, err := Place(req)
	if err != nil {
		t.Fatalf("second Place failed: %v", err)
	}
	if readPlist(t, pl.Target) != "v2" {
		t.Errorf("expected replaced bundle")
	}
	assertNoStaging(t, root)
}

func TestPlaceConflict(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "X.app")
	if err := os.MkdirAll(target, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(target, "user-file"), []byte("mine"), 0644)

	req := Request{Archive: buildArchive(t, "v1"), BundlePath: "Time Tracker.app", InstallRoot: root, TargetPath: "X.app"}
	_, err := Place(req)
	if !errdefs.Is(err, errdefs.DestinationConflict) {
		t.Fatalf("expected DestinationConflict, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "user-file")); err != nil {
		t.Errorf("conflicting destination was modified: %v", err)
	}

	req.Force = true
	if _, err := Place(req); err != nil {
		t.Fatalf("forced Place failed: %v", err)
	}
	if readPlist(t, target) != "v1" {
		t.Errorf("expected forced replacement")
	}
}

func TestPlaceBundleNotFound(t *testing.T) {
	root := t.TempDir()
	req := Request{Archive: buildArchive(t, "v1"), BundlePath: "Other.app", InstallRoot: root, TargetPath: "Other.app"}

	_, err := Place(req)
	if !errdefs.Is(err, errdefs.BundleNotFound) {
		t.Fatalf("expected BundleNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "Time Tracker.app") {
		t.Errorf("expected error to list archive contents, got %v", err)
	}
	if _, err := os.Stat(req.Target()); !os.IsNotExist(err) {
		t.Errorf("destination must not exist after failure")
	}
	assertNoStaging(t, root)
}

func TestPlaceFailedExtractionKeepsPreviousInstall(t *testing.T) {
	root := t.TempDir()
	req := Request{Archive: buildArchive(t, "v1"), BundlePath: "Time Tracker.app", InstallRoot: root, TargetPath: "X.app"}
	pl, err := Place(req)
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	target := pl.Target

	corrupt := filepath.Join(t.TempDir(), "corrupt.tar.gz")
	os.WriteFile(corrupt, []byte("\x1f\x8bnot really gzip"), 0644)
	req.Archive = corrupt
	req.Owned = true
	if _, err := Place(req); err == nil {
		t.Fatal("expected extraction failure")
	}
	if readPlist(t, target) != "v1" {
		t.Errorf("previous install must survive a failed upgrade")
	}
	assertNoStaging(t, root)
}

func TestRemove(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "X.app")
	os.MkdirAll(filepath.Join(target, "Contents"), 0755)

	if err := Remove(target); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := Remove(target); err != nil {
		t.Fatalf("Remove of missing path failed: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Errorf("expected target to be removed")
	}
}

func TestPlaceNestedTargetRecordsCreatedDirs(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "Tools"), 0755); err != nil {
		t.Fatal(err)
	}
	req := Request{
		Archive:     buildArchive(t, "v1"),
		BundlePath:  "Time Tracker.app",
		InstallRoot: root,
		TargetPath:  "Tools/Tracking/Work/X.app",
	}

	pl, err := Place(req)
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	want := []string{filepath.Join(root, "Tools", "Tracking"), filepath.Join(root, "Tools", "Tracking", "Work")}
	if strings.Join(pl.CreatedDirs, "|") != strings.Join(want, "|") {
		t.Errorf("expected created dirs %v, got %v", want, pl.CreatedDirs)
	}

	if err := Remove(pl.Target); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := RemoveEmptyDirs(pl.CreatedDirs); err != nil {
		t.Fatalf("RemoveEmptyDirs failed: %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 1 || entries[0].Name() != "Tools" {
		t.Errorf("expected only the pre-existing Tools directory, got %v", entries)
	}
}

func TestRemoveEmptyDirsKeepsNonEmpty(t *testing.T) {
	root := t.TempDir()
	outer := filepath.Join(root, "Tools")
	inner := filepath.Join(outer, "Work")
	if err := os.MkdirAll(inner, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outer, "other.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := RemoveEmptyDirs([]string{outer, inner, filepath.Join(root, "missing")}); err != nil {
		t.Fatalf("RemoveEmptyDirs failed: %v", err)
	}
	if _, err := os.Stat(inner); !os.IsNotExist(err) {
		t.Errorf("expected empty inner directory to be removed")
	}
	if _, err := os.Stat(outer); err != nil {
		t.Errorf("non-empty directory must be kept: %v", err)
	}
}

func TestPlaceMissingRootRemovedOnFailure(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "Applications", "Tracking")
	req := Request{
		Archive:     buildArchive(t, "v1"),
		BundlePath:  "Missing.app",
		InstallRoot: root,
		TargetPath:  "IACLS Time Tracker.app",
	}

	if _, err := Place(req); !errdefs.Is(err, errdefs.BundleNotFound) {
		t.Fatalf("expected BundleNotFound, got %v", err)
	}
	if entries, _ := os.ReadDir(parent); len(entries) != 0 {
		t.Errorf("install root left behind after a failed placement: %v", entries)
	}
}

func TestPlaceExistingRootNotRecorded(t *testing.T) {
	root := t.TempDir()
	pl, err := Place(Request{
		Archive:     buildArchive(t, "v1"),
		BundlePath:  "Time Tracker.app",
		InstallRoot: root,
		TargetPath:  "IACLS Time Tracker.app",
	})
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if len(pl.CreatedDirs) != 0 {
		t.Errorf("an existing install root must not be recorded, got %v", pl.CreatedDirs)
	}
}
