// Package system reports facts about the host the installer runs on.
package system

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
	"github.com/open-edge-platform/bundle-installer/internal/utils/shell"
)

var OsReleaseFile = "/etc/os-release"

// HostInfo describes the running host. Name and Version are best effort.
type HostInfo struct {
	OS      string
	Arch    string
	Name    string
	Version string
}

func (h HostInfo) String() string {
	if h.Name == "" {
		return h.OS + "/" + h.Arch
	}
	return fmt.Sprintf("%s %s (%s/%s)", h.Name, h.Version, h.OS, h.Arch)
}

// GetHostInfo detects the host. OS and Arch are always set, even when the
// returned error reports that the product name could not be found.
func GetHostInfo() (HostInfo, error) {
	return getHostInfo(runtime.GOOS, runtime.GOARCH)
}

func getHostInfo(goos, goarch string) (HostInfo, error) {
	log := logger.Logger()
	info := HostInfo{OS: goos, Arch: goarch}

	switch goos {
	case "darwin":
		name, err := shell.ExecCmd("sw_vers", []string{"-productName"}, false, nil)
		if err != nil {
			return info, fmt.Errorf("failed to get macOS product name: %w", err)
		}
		version, err := shell.ExecCmd("sw_vers", []string{"-productVersion"}, false, nil)
		if err != nil {
			return info, fmt.Errorf("failed to get macOS version: %w", err)
		}
		info.Name = strings.TrimSpace(name)
		info.Version = strings.TrimSpace(version)

	case "linux":
		if name, version, err := readOsRelease(OsReleaseFile); err == nil && name != "" {
			info.Name, info.Version = name, version
			break
		}
		name, err := shell.ExecCmd("lsb_release", []string{"-si"}, false, nil)
		if err != nil {
			return info, fmt.Errorf("failed to get host OS name: %w", err)
		}
		version, err := shell.ExecCmd("lsb_release", []string{"-sr"}, false, nil)
		if err != nil {
			return info, fmt.Errorf("failed to get host OS version: %w", err)
		}
		info.Name = strings.TrimSpace(name)
		info.Version = strings.TrimSpace(version)
	}

	log.Debugf("detected host: %s", info)
	return info, nil
}

// readOsRelease returns NAME and VERSION_ID from an os-release file.
func readOsRelease(path string) (string, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer file.Close()

	var name, version string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch key {
		case "NAME":
			name = value
		case "VERSION_ID":
			version = value
		}
	}
	return name, version, scanner.Err()
}
