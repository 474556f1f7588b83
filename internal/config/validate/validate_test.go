package validate

import (
	"strings"
	"testing"
)

func TestValidateDescriptorJSON(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name: "minimal valid",
			data: `{"identifier": "iacls-time-tracker", "version": "1.3.6",
				"sourceUrl": "https://github.com/x/y/raw/main/TimeTracker_CPP_Latest.app.tar.gz",
				"integrityDigest": "no_check", "bundlePath": "Time Tracker.app",
				"installTargetPath": "IACLS Time Tracker.app"}`,
		},
		{
			name:    "missing bundlePath",
			data:    `{"identifier": "a", "version": "1.0.0", "sourceUrl": "https://x/a.tgz", "integrityDigest": "no_check"}`,
			wantErr: "bundlePath",
		},
		{
			name:    "bad identifier",
			data:    `{"identifier": "Bad Name", "version": "1.0.0", "sourceUrl": "https://x/a.tgz", "integrityDigest": "no_check", "bundlePath": "a"}`,
			wantErr: "identifier",
		},
		{
			name:    "unsupported scheme",
			data:    `{"identifier": "a", "version": "1.0.0", "sourceUrl": "ftp://x/a.tgz", "integrityDigest": "no_check", "bundlePath": "a"}`,
			wantErr: "sourceUrl",
		},
		{
			name:    "unknown field",
			data:    `{"identifier": "a", "version": "1.0.0", "sourceUrl": "https://x/a.tgz", "integrityDigest": "no_check", "bundlePath": "a", "sha256": "x"}`,
			wantErr: "sha256",
		},
		{
			name:    "action args wrong type",
			data:    `{"identifier": "a", "version": "1.0.0", "sourceUrl": "https://x/a.tgz", "integrityDigest": "no_check", "bundlePath": "a", "postInstallActions": [{"command": "xattr", "args": "-dr"}]}`,
			wantErr: "args",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDescriptorJSON([]byte(tt.data))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid descriptor, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error to mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateConfigJSON(t *testing.T) {
	if err := ValidateConfigJSON([]byte(`{"workers": 8, "logging": {"level": "debug"}}`)); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
	if err := ValidateConfigJSON([]byte(`{"workers": 0}`)); err == nil {
		t.Fatal("expected error for zero workers")
	}
	if err := ValidateConfigJSON([]byte(`{"logging": {"level": "trace"}}`)); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}
