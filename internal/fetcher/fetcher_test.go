package fetcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/open-edge-platform/bundle-installer/internal/descriptor"
	"github.com/open-edge-platform/bundle-installer/internal/errdefs"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/releases/TimeTracker.app.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("archive-payload"))
	})
	mux.HandleFunc("/missing.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/slow.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func workDirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read work dir: %v", err)
	}
	return len(entries)
}

func TestFetchSuccessAndCleanup(t *testing.T) {
	srv := newServer(t)
	workDir := t.TempDir()
	var progress bytes.Buffer
	f := New(WithClient(srv.Client()), WithWorkDir(workDir), WithProgress(&progress))

	dl, err := f.Fetch(context.Background(), srv.URL+"/releases/TimeTracker.app.tar.gz")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if dl.Name != "TimeTracker.app.tar.gz" {
		t.Errorf("unexpected name %s", dl.Name)
	}
	data, err := os.ReadFile(dl.Path)
	if err != nil || string(data) != "archive-payload" {
		t.Fatalf("unexpected content %q (%v)", data, err)
	}
	if dl.Size != int64(len("archive-payload")) {
		t.Errorf("unexpected size %d", dl.Size)
	}

	dl.Cleanup()
	dl.Cleanup()
	if _, err := os.Stat(dl.Path); !os.IsNotExist(err) {
		t.Errorf("expected download to be removed, got %v", err)
	}
	if n := workDirEntries(t, workDir); n != 0 {
		t.Errorf("expected empty work dir, found %d entries", n)
	}
}

func TestFetchErrors(t *testing.T) {
	srv := newServer(t)

	tests := []struct {
		name     string
		url      string
		timeout  time.Duration
		wantKind errdefs.Kind
	}{
		{"not found", srv.URL + "/missing.tar.gz", 0, errdefs.NetworkError},
		{"unreachable", "http://127.0.0.1:1/a.tar.gz", 0, errdefs.NetworkError},
		{"deadline", srv.URL + "/slow.tar.gz", 100 * time.Millisecond, errdefs.TimeoutError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workDir := t.TempDir()
			f := New(WithClient(srv.Client()), WithWorkDir(workDir))

			ctx := context.Background()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}

			dl, err := f.Fetch(ctx, tt.url)
			if dl != nil {
				t.Errorf("expected no download on failure")
			}
			if !errdefs.Is(err, tt.wantKind) {
				t.Fatalf("expected %s, got %v", tt.wantKind, err)
			}
			if !strings.Contains(err.Error(), "sourceUrl") {
				t.Errorf("expected error to name sourceUrl, got %v", err)
			}
			if n := workDirEntries(t, workDir); n != 0 {
				t.Errorf("expected failed fetch to clean up, found %d entries", n)
			}
		})
	}
}

func TestFetchCancelled(t *testing.T) {
	srv := newServer(t)
	f := New(WithClient(srv.Client()), WithWorkDir(t.TempDir()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, srv.URL+"/slow.tar.gz")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, classified := errdefs.KindOf(err); classified {
		t.Errorf("cancellation should not be classified: %v", err)
	}
}

func TestFetchAll(t *testing.T) {
	srv := newServer(t)
	workDir := t.TempDir()
	var progress bytes.Buffer
	f := New(WithClient(srv.Client()), WithWorkDir(workDir), WithProgress(&progress))

	urls := []string{
		srv.URL + "/releases/TimeTracker.app.tar.gz",
		srv.URL + "/releases/TimeTracker.app.tar.gz",
	}
	downloads, err := f.FetchAll(context.Background(), urls, 2)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(downloads) != 2 || downloads[0].Path == downloads[1].Path {
		t.Fatalf("expected two distinct downloads, got %+v", downloads)
	}
	for _, d := range downloads {
		d.Cleanup()
	}

	_, err = f.FetchAll(context.Background(), append(urls, srv.URL+"/missing.tar.gz"), 2)
	if !errdefs.Is(err, errdefs.NetworkError) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if n := workDirEntries(t, workDir); n != 0 {
		t.Errorf("expected all downloads cleaned up after failure, found %d entries", n)
	}
}

func TestCache(t *testing.T) {
	srv := newServer(t)
	cacheDir := t.TempDir()
	f := New(WithClient(srv.Client()), WithWorkDir(t.TempDir()), WithCacheDir(cacheDir))

	sum := sha256.Sum256([]byte("archive-payload"))
	digest := descriptor.Digest{Algorithm: descriptor.SHA256, Hex: hex.EncodeToString(sum[:])}
	name := "TimeTracker.app.tar.gz"

	if _, hit := f.Cached(digest, name); hit {
		t.Fatal("expected cache miss on empty cache")
	}

	dl, err := f.Fetch(context.Background(), srv.URL+"/releases/"+name)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if err := f.Store(dl, digest); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	dl.Cleanup()

	cached, hit := f.Cached(digest, name)
	if !hit || !cached.FromCache {
		t.Fatal("expected cache hit after Store")
	}
	cached.Cleanup()
	if _, err := os.Stat(cached.Path); err != nil {
		t.Errorf("Cleanup must not remove cache entries: %v", err)
	}

	if err := os.WriteFile(cached.Path, []byte("corrupted"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, hit := f.Cached(digest, name); hit {
		t.Fatal("expected corrupted cache entry to miss")
	}
	if _, err := os.Stat(filepath.Dir(cached.Path)); !os.IsNotExist(err) {
		t.Errorf("expected corrupted entry to be discarded, got %v", err)
	}
}

func TestCacheIgnoresSkipDigest(t *testing.T) {
	cacheDir := t.TempDir()
	f := New(WithWorkDir(t.TempDir()), WithCacheDir(cacheDir))

	src := filepath.Join(t.TempDir(), "a.tar.gz")
	os.WriteFile(src, []byte("x"), 0644)
	if err := f.Store(&Download{Path: src, Name: "a.tar.gz"}, descriptor.Digest{Skip: true}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if n := workDirEntries(t, cacheDir); n != 0 {
		t.Errorf("skip digests must never be cached, found %d entries", n)
	}
}

func TestArchiveName(t *testing.T) {
	tests := map[string]string{
		"https://github.com/o/r/raw/main/TimeTracker_CPP_Latest.app.tar.gz": "TimeTracker_CPP_Latest.app.tar.gz",
		"https://example.com/a%20b.zip?x=1":                                  "a b.zip",
		"https://example.com/":                                               "archive",
		"file:///tmp/bundle.tar.xz":                                          "bundle.tar.xz",
	}
	for in, want := range tests {
		if got := ArchiveName(in); got != want {
			t.Errorf("ArchiveName(%s) = %s, want %s", in, got, want)
		}
	}
}
