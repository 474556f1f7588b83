package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigHelpers provides convenient access to global configuration
type ConfigHelpers struct {
	config *GlobalConfig
}

// NewConfigHelpers creates a new config helpers instance
func NewConfigHelpers(config *GlobalConfig) *ConfigHelpers {
	return &ConfigHelpers{config: config}
}

// Workers returns the number of concurrent installs
func (c *ConfigHelpers) Workers() int {
	return c.config.Workers
}

// InstallRoot returns the absolute path of the install root
func (c *ConfigHelpers) InstallRoot() (string, error) {
	return filepath.Abs(c.config.InstallRoot)
}

// CacheDir returns the absolute path to the download cache
func (c *ConfigHelpers) CacheDir() (string, error) {
	return filepath.Abs(c.config.CacheDir)
}

// StateDir returns the absolute path to the receipts and locks directory
func (c *ConfigHelpers) StateDir() (string, error) {
	return filepath.Abs(c.config.StateDir)
}

// ReceiptsDir returns the directory holding install receipts
func (c *ConfigHelpers) ReceiptsDir() (string, error) {
	stateDir, err := c.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(stateDir, "receipts"), nil
}

// LocksDir returns the directory holding target lock files
func (c *ConfigHelpers) LocksDir() (string, error) {
	stateDir, err := c.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(stateDir, "locks"), nil
}

// ReportsDir returns the directory for fetch reports
func (c *ConfigHelpers) ReportsDir() (string, error) {
	stateDir, err := c.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(stateDir, "reports"), nil
}

// WorkDir returns the absolute path to the download work directory
func (c *ConfigHelpers) WorkDir() (string, error) {
	if c.config.WorkDir == "" {
		return filepath.Abs(c.TempDir())
	}
	return filepath.Abs(c.config.WorkDir)
}

// TempDir returns the temporary directory path
func (c *ConfigHelpers) TempDir() string {
	if c.config.TempDir == "" {
		return os.TempDir()
	}
	return c.config.TempDir
}

// LogLevel returns the configured log level
func (c *ConfigHelpers) LogLevel() string {
	return c.config.Logging.Level
}

// IsDebugMode returns true if debug logging is enabled
func (c *ConfigHelpers) IsDebugMode() bool {
	return c.config.Logging.Level == "debug"
}

// CreateCacheDir ensures the cache directory exists
func (c *ConfigHelpers) CreateCacheDir() error {
	cacheDir, err := c.CacheDir()
	if err != nil {
		return fmt.Errorf("resolving cache directory: %w", err)
	}
	return createDirIfNotExists(cacheDir)
}

// CreateStateDir ensures the state directory and its receipts and locks
// subdirectories exist
func (c *ConfigHelpers) CreateStateDir() error {
	for _, get := range []func() (string, error){c.StateDir, c.ReceiptsDir, c.LocksDir} {
		dir, err := get()
		if err != nil {
			return fmt.Errorf("resolving state directory: %w", err)
		}
		if err := createDirIfNotExists(dir); err != nil {
			return err
		}
	}
	return nil
}

// CreateWorkDir ensures the work directory exists
func (c *ConfigHelpers) CreateWorkDir() error {
	workDir, err := c.WorkDir()
	if err != nil {
		return fmt.Errorf("resolving work directory: %w", err)
	}
	return createDirIfNotExists(workDir)
}

// Helper function to create directories
func createDirIfNotExists(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
