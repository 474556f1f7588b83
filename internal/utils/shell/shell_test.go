package shell

import (
	"errors"
	"os/exec"
	"strings"
	"testing"
)

func checkCommandAvailable(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available in test environment", name)
	}
}

func TestGetFullCmdArgs(t *testing.T) {
	for _, key := range []string{"HTTP_PROXY", "http_proxy", "https_proxy", "NO_PROXY", "no_proxy"} {
		t.Setenv(key, "")
	}
	t.Setenv("HTTPS_PROXY", "http://proxy.example:3128")

	tests := []struct {
		name     string
		cmd      string
		args     []string
		sudo     bool
		envVal   []string
		expected []string
		wantErr  bool
	}{
		{
			name:     "plain",
			cmd:      "xattr",
			args:     []string{"-cr", "/Applications/IACLS Time Tracker.app"},
			expected: []string{"xattr", "-cr", "/Applications/IACLS Time Tracker.app"},
		},
		{
			name:     "sudo passes env as arguments",
			cmd:      "xattr",
			args:     []string{"-cr", "/Applications/X.app"},
			sudo:     true,
			envVal:   []string{"LANG=C"},
			expected: []string{"sudo", "LANG=C", "HTTPS_PROXY=http://proxy.example:3128", "xattr", "-cr", "/Applications/X.app"},
		},
		{
			name:    "empty command",
			cmd:     " ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetFullCmdArgs(tt.cmd, tt.args, tt.sudo, tt.envVal)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("GetFullCmdArgs failed: %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tt.expected, "|") {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestCmdString(t *testing.T) {
	got := CmdString([]string{"xattr", "-cr", "/Applications/IACLS Time Tracker.app", ""})
	want := `xattr -cr "/Applications/IACLS Time Tracker.app" ""`
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestExecCmdDoesNotInterpolate(t *testing.T) {
	checkCommandAvailable(t, "echo")

	out, err := (&DefaultExecutor{}).ExecCmd("echo", []string{"$(id)", ";", "rm -rf /"}, false, nil)
	if err != nil {
		t.Fatalf("ExecCmd failed: %v", err)
	}
	if strings.TrimSpace(out) != "$(id) ; rm -rf /" {
		t.Errorf("arguments were not passed literally: %q", out)
	}
}

func TestExecCmdWithEnv(t *testing.T) {
	checkCommandAvailable(t, "env")

	out, err := (&DefaultExecutor{}).ExecCmd("env", nil, false, []string{"BUNDLE_TEST_VALUE=42"})
	if err != nil {
		t.Fatalf("ExecCmd failed: %v", err)
	}
	if !strings.Contains(out, "BUNDLE_TEST_VALUE=42") {
		t.Errorf("expected env var in output, got: %s", out)
	}
}

func TestExecCmdFailure(t *testing.T) {
	checkCommandAvailable(t, "false")

	if _, err := (&DefaultExecutor{}).ExecCmd("false", nil, false, nil); err == nil {
		t.Fatalf("expected error from false")
	}
	if _, err := (&DefaultExecutor{}).ExecCmd("bundle-installer-no-such-binary", nil, false, nil); err == nil {
		t.Fatalf("expected error for missing binary")
	}
}

func TestMockExecutor(t *testing.T) {
	originalExecutor := Default
	defer func() { Default = originalExecutor }()

	mock := NewMockExecutor([]MockCommand{
		{Pattern: `^xattr -cr`, Output: "", Error: nil},
		{Pattern: `^sudo .*spctl`, Output: "", Error: errors.New("not permitted")},
	})
	Default = mock

	if _, err := ExecCmd("xattr", []string{"-cr", "/tmp/X.app"}, false, nil); err != nil {
		t.Errorf("expected xattr to succeed: %v", err)
	}
	if _, err := ExecCmd("spctl", []string{"--add", "/tmp/X.app"}, true, nil); err == nil {
		t.Errorf("expected mocked sudo spctl to fail")
	}
	if _, err := ExecCmd("unknown", nil, false, nil); err == nil {
		t.Errorf("expected error for unmocked command")
	}

	executed := mock.Executed()
	if len(executed) != 3 {
		t.Fatalf("expected 3 recorded commands, got %d: %v", len(executed), executed)
	}
	if executed[0] != "xattr -cr /tmp/X.app" {
		t.Errorf("unexpected first command: %s", executed[0])
	}
}

func TestIsCommandExist(t *testing.T) {
	if IsCommandExist("bundle-installer-no-such-binary") {
		t.Errorf("expected missing command to be reported absent")
	}

	originalExecutor := Default
	defer func() { Default = originalExecutor }()

	mock := NewMockExecutor(nil)
	mock.SetMissing("xattr")
	Default = mock

	if IsCommandExist("xattr") {
		t.Errorf("expected xattr to be reported missing by the mock")
	}
	if !IsCommandExist("codesign") {
		t.Errorf("expected unmarked commands to be reported present")
	}
}
