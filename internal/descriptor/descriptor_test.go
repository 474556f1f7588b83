package descriptor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/open-edge-platform/bundle-installer/internal/errdefs"
)

const sha256Hex = "4d8b6c2a3e1f09b7a5c4d3e2f1a0b9c8d7e6f5a4b3c2d1e0f9a8b7c6d5e4f3a2"

func baseYAML() string {
	return `identifier: iacls-time-tracker
version: 1.3.6
sourceUrl: https://github.com/iacls/time-tracker/releases/download/v1.3.6/TimeTracker.app.tar.gz
integrityDigest: sha256:` + sha256Hex + `
bundlePath: Time Tracker.app
`
}

func TestLoadFixture(t *testing.T) {
	d, err := Load(filepath.Join("testdata", "iacls-time-tracker.yml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if d.Identifier != "iacls-time-tracker" {
		t.Errorf("unexpected identifier %s", d.Identifier)
	}
	if d.TargetPath() != "IACLS Time Tracker.app" {
		t.Errorf("unexpected target path %s", d.TargetPath())
	}
	if !d.Digest().Skip {
		t.Errorf("expected skip sentinel digest")
	}
	if len(d.PostInstallActions) != 1 || d.PostInstallActions[0].Args[1] != "${installPath}" {
		t.Errorf("unexpected actions %+v", d.PostInstallActions)
	}
	if len(d.UninstallPaths) != 2 {
		t.Errorf("expected 2 uninstall paths, got %v", d.UninstallPaths)
	}
	if d.Source != filepath.Join("testdata", "iacls-time-tracker.yml") {
		t.Errorf("unexpected source %s", d.Source)
	}
}

func TestParseJSON(t *testing.T) {
	data := []byte(`{"identifier":"tool","version":"2.0","sourceUrl":"file:///tmp/tool.tar.gz","integrityDigest":"` + sha256Hex + `","bundlePath":"bin/tool"}`)
	d, err := Parse(data, "inline")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if d.TargetPath() != "tool" {
		t.Errorf("expected target to default to bundle base name, got %s", d.TargetPath())
	}
	if got := d.Digest(); got.Algorithm != SHA256 || got.Hex != sha256Hex {
		t.Errorf("unexpected digest %+v", got)
	}
	if d.InstallPath("/opt") != filepath.Join("/opt", "tool") {
		t.Errorf("unexpected install path %s", d.InstallPath("/opt"))
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantField string
	}{
		{"missing bundlePath", strings.Replace(baseYAML(), "bundlePath: Time Tracker.app\n", "", 1), "bundlePath"},
		{"missing identifier", strings.Replace(baseYAML(), "identifier: iacls-time-tracker\n", "", 1), "identifier"},
		{"bad identifier", strings.Replace(baseYAML(), "iacls-time-tracker", "IACLS Time Tracker", 1), "identifier"},
		{"bad version", strings.Replace(baseYAML(), "1.3.6", "latest", 1), "version"},
		{"bad digest", strings.Replace(baseYAML(), "sha256:"+sha256Hex, "sha256:abc", 1), "integrityDigest"},
		{"unknown algorithm", strings.Replace(baseYAML(), "sha256:", "md5:", 1), "integrityDigest"},
		{"ftp url", strings.Replace(baseYAML(), "https://github.com", "ftp://github.com", 1), "sourceUrl"},
		{"absolute bundle", strings.Replace(baseYAML(), "bundlePath: Time Tracker.app", "bundlePath: /Applications/Time Tracker.app", 1), "bundlePath"},
		{"traversal bundle", strings.Replace(baseYAML(), "bundlePath: Time Tracker.app", "bundlePath: ../../etc", 1), "bundlePath"},
		{"traversal target", baseYAML() + "installTargetPath: ../Evil.app\n", "installTargetPath"},
		{"args not list", baseYAML() + "postInstallActions:\n  - command: xattr\n    args: -cr\n", "postInstallActions.0.args"},
		{"unknown field", baseYAML() + "sha256: " + sha256Hex + "\n", "sha256"},
		{"not yaml", "identifier: [\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "test.yml")
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errdefs.Is(err, errdefs.MalformedDescriptor) {
				t.Fatalf("expected MalformedDescriptor, got %v", err)
			}
			if tt.wantField != "" && !strings.Contains(err.Error(), tt.wantField) {
				t.Errorf("expected error to name %q, got: %v", tt.wantField, err)
			}
			if !strings.Contains(err.Error(), "test.yml") {
				t.Errorf("expected error to name the source, got: %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if !errdefs.Is(err, errdefs.MalformedDescriptor) {
		t.Fatalf("expected MalformedDescriptor, got %v", err)
	}
}

func TestParseDigest(t *testing.T) {
	sha512Hex := strings.Repeat("ab", 64)
	tests := []struct {
		in      string
		algo    string
		skip    bool
		wantErr bool
	}{
		{in: "no_check", skip: true},
		{in: ":no_check", skip: true},
		{in: "sha256:" + strings.ToUpper(sha256Hex), algo: SHA256},
		{in: sha256Hex, algo: SHA256},
		{in: "sha512:" + sha512Hex, algo: SHA512},
		{in: sha512Hex, algo: SHA512},
		{in: "", wantErr: true},
		{in: "sha256:" + sha512Hex, wantErr: true},
		{in: "sha1:abcd", wantErr: true},
		{in: strings.Repeat("zz", 32), wantErr: true},
		{in: "deadbeef", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDigest(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDigest(%q) failed: %v", tt.in, err)
			}
			if d.Skip != tt.skip || d.Algorithm != tt.algo {
				t.Errorf("unexpected digest %+v", d)
			}
			if !d.Skip && d.Hex != strings.ToLower(d.Hex) {
				t.Errorf("expected lower-case hex, got %s", d.Hex)
			}
		})
	}
}

func TestCheckPlatform(t *testing.T) {
	d := &Descriptor{Identifier: "x", DependsOn: &Platform{OS: []string{"darwin"}, Arch: []string{"arm64", "amd64"}}}

	if err := d.CheckPlatform("darwin", "arm64"); err != nil {
		t.Errorf("expected darwin/arm64 to be supported: %v", err)
	}
	err := d.CheckPlatform("linux", "amd64")
	if !errdefs.Is(err, errdefs.MalformedDescriptor) || !strings.Contains(err.Error(), "dependsOn") {
		t.Errorf("expected dependsOn MalformedDescriptor, got %v", err)
	}
	if err := d.CheckPlatform("darwin", "386"); err == nil {
		t.Errorf("expected 386 to be rejected")
	}
	if err := (&Descriptor{}).CheckPlatform("plan9", "mips"); err != nil {
		t.Errorf("no constraint should accept any platform: %v", err)
	}
}

func TestAudit(t *testing.T) {
	d, err := Load(filepath.Join("testdata", "iacls-time-tracker.yml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	codes := map[string]bool{}
	for _, f := range Audit(d) {
		codes[f.Code] = true
	}
	for _, want := range []string{FindingMutableSource, FindingSkipVerification, FindingTrustDowngrade} {
		if !codes[want] {
			t.Errorf("expected finding %s, got %v", want, codes)
		}
	}
	if codes[FindingElevatedAction] || codes[FindingInsecureTransport] {
		t.Errorf("unexpected findings %v", codes)
	}

	pinned, err := Parse([]byte(baseYAML()), "pinned.yml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if findings := Audit(pinned); len(findings) != 0 {
		t.Errorf("expected no findings for a pinned descriptor, got %v", findings)
	}
}

func TestIsMutableURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://github.com/o/r/raw/main/TimeTracker.tar.gz", true},
		{"https://github.com/o/r/blob/master/x.zip", true},
		{"https://raw.githubusercontent.com/o/r/main/x.tar.gz", true},
		{"https://example.com/git/refs/heads/dev/x.tar.gz", true},
		{"https://github.com/o/r/releases/latest/download/x.tar.gz", true},
		{"https://github.com/o/r/raw/3f2c1a9/TimeTracker.tar.gz", false},
		{"https://raw.githubusercontent.com/o/r/3f2c1a9/x.tar.gz", false},
		{"https://github.com/o/r/releases/download/v1.3.6/x.tar.gz", false},
	}
	for _, tt := range tests {
		if got := IsMutableURL(tt.url); got != tt.want {
			t.Errorf("IsMutableURL(%s) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestIsQuarantineRemoval(t *testing.T) {
	tests := []struct {
		action Action
		want   bool
	}{
		{Action{Command: "xattr", Args: []string{"-cr", "/Applications/X.app"}}, true},
		{Action{Command: "/usr/bin/xattr", Args: []string{"-d", "com.apple.quarantine", "/Applications/X.app"}}, true},
		{Action{Command: "xattr", Args: []string{"-p", "com.apple.quarantine", "/Applications/X.app"}}, false},
		{Action{Command: "spctl", Args: []string{"--add", "/Applications/X.app"}}, true},
		{Action{Command: "open", Args: []string{"-a", "X"}}, false},
	}
	for _, tt := range tests {
		if got := IsQuarantineRemoval(tt.action); got != tt.want {
			t.Errorf("IsQuarantineRemoval(%v) = %v, want %v", tt.action, got, tt.want)
		}
	}
}

func TestLoadWritesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.yml")
	if err := os.WriteFile(path, []byte(baseYAML()), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected Load to leave the directory untouched, found %d entries", len(entries))
	}
}
