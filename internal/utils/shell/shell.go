package shell

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
)

// Executor runs a single external program. Commands are always an argv
// list and never pass through a shell.
type Executor interface {
	ExecCmd(name string, args []string, sudo bool, envVal []string) (string, error)
	LookPath(name string) (string, error)
}

// DefaultExecutor runs commands on the host through os/exec.
type DefaultExecutor struct{}

// Default is the executor used by the package-level helpers. Tests swap it
// for a MockExecutor.
var Default Executor = &DefaultExecutor{}

// GetOSEnvirons returns the system environment variables
func GetOSEnvirons() map[string]string {
	environ := make(map[string]string)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			environ[parts[0]] = parts[1]
		}
	}
	return environ
}

// GetOSProxyEnvirons retrieves the non-empty proxy environment variables
func GetOSProxyEnvirons() map[string]string {
	proxyEnv := make(map[string]string)
	for key, value := range GetOSEnvirons() {
		lower := strings.ToLower(key)
		if value == "" {
			continue
		}
		if lower == "http_proxy" || lower == "https_proxy" || lower == "no_proxy" {
			proxyEnv[key] = value
		}
	}
	return proxyEnv
}

// IsCommandExist checks if a command can be found in PATH
func IsCommandExist(cmd string) bool {
	_, err := Default.LookPath(cmd)
	return err == nil
}

// GetFullCmdArgs builds the argv actually executed. With sudo the extra
// environment and the caller's proxy settings are passed to sudo as
// KEY=VALUE arguments, since sudo resets the environment.
func GetFullCmdArgs(name string, args []string, sudo bool, envVal []string) ([]string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("empty command")
	}
	if !sudo {
		return append([]string{name}, args...), nil
	}

	full := []string{"sudo"}
	full = append(full, envVal...)

	proxyEnv := GetOSProxyEnvirons()
	keys := make([]string, 0, len(proxyEnv))
	for key := range proxyEnv {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		full = append(full, key+"="+proxyEnv[key])
	}

	full = append(full, name)
	return append(full, args...), nil
}

// CmdString renders argv for logs and mock matching. Arguments containing
// whitespace or quotes are quoted.
func CmdString(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\n\"'") {
			parts[i] = strconv.Quote(a)
		} else {
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}

func newCmd(name string, args []string, sudo bool, envVal []string) (*exec.Cmd, string, error) {
	argv, err := GetFullCmdArgs(name, args, sudo, envVal)
	if err != nil {
		return nil, "", err
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	if !sudo && len(envVal) > 0 {
		cmd.Env = append(os.Environ(), envVal...)
	}
	return cmd, CmdString(argv), nil
}

// ExecCmd executes a command and returns its combined output
func (d *DefaultExecutor) ExecCmd(name string, args []string, sudo bool, envVal []string) (string, error) {
	log := logger.Logger()
	cmd, cmdStr, err := newCmd(name, args, sudo, envVal)
	if err != nil {
		return "", fmt.Errorf("failed to build command: %w", err)
	}
	log.Debugf("Exec: [%s]", cmdStr)

	output, err := cmd.CombinedOutput()
	outputStr := string(output)
	if err != nil {
		if outputStr != "" {
			log.Infof("%s", outputStr)
		}
		return outputStr, fmt.Errorf("failed to exec %s: %w", cmdStr, err)
	}
	if outputStr != "" {
		log.Debugf("%s", outputStr)
	}
	return outputStr, nil
}

// LookPath resolves name against PATH
func (d *DefaultExecutor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// ExecCmd runs a command through the Default executor
func ExecCmd(name string, args []string, sudo bool, envVal []string) (string, error) {
	return Default.ExecCmd(name, args, sudo, envVal)
}
