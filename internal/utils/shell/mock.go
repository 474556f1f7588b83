package shell

import (
	"fmt"
	"regexp"
	"sync"
)

// MockCommand maps a command pattern to a canned result. Pattern is a
// regular expression matched against the rendered argv, including any
// sudo prefix.
type MockCommand struct {
	Pattern string
	Output  string
	Error   error
}

// MockExecutor replays MockCommands and records every command it was asked
// to run.
type MockExecutor struct {
	mu       sync.Mutex
	commands []MockCommand
	executed []string
	missing  map[string]bool
}

// NewMockExecutor creates an executor answering with the given commands.
// The first matching pattern wins.
func NewMockExecutor(commands []MockCommand) *MockExecutor {
	return &MockExecutor{commands: commands}
}

// Executed returns the rendered command lines in execution order.
func (m *MockExecutor) Executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.executed...)
}

func (m *MockExecutor) run(name string, args []string, sudo bool, envVal []string) (string, error) {
	argv, err := GetFullCmdArgs(name, args, sudo, envVal)
	if err != nil {
		return "", err
	}
	cmdStr := CmdString(argv)

	m.mu.Lock()
	m.executed = append(m.executed, cmdStr)
	m.mu.Unlock()

	for _, c := range m.commands {
		matched, err := regexp.MatchString(c.Pattern, cmdStr)
		if err != nil {
			return "", fmt.Errorf("invalid mock pattern %q: %w", c.Pattern, err)
		}
		if matched {
			return c.Output, c.Error
		}
	}
	return "", fmt.Errorf("no mock defined for command: %s", cmdStr)
}

func (m *MockExecutor) ExecCmd(name string, args []string, sudo bool, envVal []string) (string, error) {
	return m.run(name, args, sudo, envVal)
}

// LookPath reports every command as present unless it was marked missing
// with SetMissing.
func (m *MockExecutor) LookPath(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing[name] {
		return "", fmt.Errorf("%s: executable file not found in $PATH", name)
	}
	return "/usr/bin/" + name, nil
}

// SetMissing makes LookPath fail for names.
func (m *MockExecutor) SetMissing(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing == nil {
		m.missing = make(map[string]bool)
	}
	for _, n := range names {
		m.missing[n] = true
	}
}
