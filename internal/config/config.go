package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/open-edge-platform/bundle-installer/internal/config/validate"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

const (
	AppName        = "bundle-installer"
	ConfigFileName = "bundle-installer.yml"
	EnvPrefix      = "BUNDLE_INSTALLER_"

	DefaultWorkers      = 4
	DefaultFetchTimeout = 10 * time.Minute
)

// GlobalConfig holds the tool-wide settings loaded from the config file and
// the environment.
type GlobalConfig struct {
	InstallRoot string            `yaml:"installRoot,omitempty" json:"installRoot,omitempty"`
	Workers     int               `yaml:"workers,omitempty" json:"workers,omitempty"`
	CacheDir    string            `yaml:"cacheDir,omitempty" json:"cacheDir,omitempty"`
	StateDir    string            `yaml:"stateDir,omitempty" json:"stateDir,omitempty"`
	WorkDir     string            `yaml:"workDir,omitempty" json:"workDir,omitempty"`
	TempDir     string            `yaml:"tempDir,omitempty" json:"tempDir,omitempty"`
	Logging     LoggingConfig     `yaml:"logging,omitempty" json:"logging,omitempty"`
	Fetch       FetchConfig       `yaml:"fetch,omitempty" json:"fetch,omitempty"`
	Catalog     CatalogConfig     `yaml:"catalog,omitempty" json:"catalog,omitempty"`
	PostInstall PostInstallConfig `yaml:"postInstall,omitempty" json:"postInstall,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level,omitempty" json:"level,omitempty"`
}

type FetchConfig struct {
	// Timeout is a Go duration string, e.g. "90s" or "10m".
	Timeout  string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Progress *bool  `yaml:"progress,omitempty" json:"progress,omitempty"`
	Cache    *bool  `yaml:"cache,omitempty" json:"cache,omitempty"`
}

type CatalogConfig struct {
	Dirs []string `yaml:"dirs,omitempty" json:"dirs,omitempty"`
	URL  string   `yaml:"url,omitempty" json:"url,omitempty"`
}

type PostInstallConfig struct {
	AllowQuarantineRemoval *bool `yaml:"allowQuarantineRemoval,omitempty" json:"allowQuarantineRemoval,omitempty"`
	AllowElevation         *bool `yaml:"allowElevation,omitempty" json:"allowElevation,omitempty"`
}

// envOverrides lists the settings that may be supplied through
// BUNDLE_INSTALLER_* variables. Unset variables leave the file value alone.
type envOverrides struct {
	InstallRoot  string        `env:"INSTALL_ROOT"`
	Workers      int           `env:"WORKERS"`
	CacheDir     string        `env:"CACHE_DIR"`
	StateDir     string        `env:"STATE_DIR"`
	WorkDir      string        `env:"WORK_DIR"`
	LogLevel     string        `env:"LOG_LEVEL"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT"`
	CatalogURL   string        `env:"CATALOG_URL"`
}

var global = DefaultConfig()

// Global returns the process-wide configuration.
func Global() *GlobalConfig { return global }

// SetGlobal replaces the process-wide configuration.
func SetGlobal(cfg *GlobalConfig) { global = cfg }

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *GlobalConfig {
	return &GlobalConfig{
		InstallRoot: DefaultInstallRoot(),
		Workers:     DefaultWorkers,
		CacheDir:    filepath.Join(xdg.CacheHome, AppName),
		StateDir:    filepath.Join(xdg.StateHome, AppName),
		Logging:     LoggingConfig{Level: "info"},
		Fetch:       FetchConfig{Timeout: DefaultFetchTimeout.String()},
	}
}

// DefaultInstallRoot is /Applications on macOS and ~/Applications elsewhere.
func DefaultInstallRoot() string {
	if runtime.GOOS == "darwin" {
		return "/Applications"
	}
	return filepath.Join(xdg.Home, "Applications")
}

// FindConfigFile returns the first existing config file in search order,
// or "" when none exists.
func FindConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	candidates := []string{
		ConfigFileName,
		filepath.Join(xdg.ConfigHome, AppName, "config.yml"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Load reads path (may be empty), validates it, then applies environment
// overrides on top of the defaults.
func Load(ctx context.Context, path string) (*GlobalConfig, error) {
	return load(ctx, path, envconfig.OsLookuper())
}

func load(ctx context.Context, path string, lookuper envconfig.Lookuper) (*GlobalConfig, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		fileCfg, err := parseConfig(data)
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		cfg.merge(fileCfg)
	}

	var env envOverrides
	if err := envconfig.ProcessWith(ctx, &env, envconfig.PrefixLookuper(EnvPrefix, lookuper)); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}
	cfg.applyEnv(&env)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseConfig(data []byte) (*GlobalConfig, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if raw == nil {
		return &GlobalConfig{}, nil
	}
	jsonData, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return nil, fmt.Errorf("converting config to JSON: %w", err)
	}
	if err := validate.ValidateConfigJSON(jsonData); err != nil {
		return nil, err
	}

	var cfg GlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// normalizeYAML turns map[interface{}]interface{} nodes (from non-string
// keys) into map[string]interface{} so the tree can be encoded as JSON.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return m
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}

func (c *GlobalConfig) merge(o *GlobalConfig) {
	if o.InstallRoot != "" {
		c.InstallRoot = o.InstallRoot
	}
	if o.Workers != 0 {
		c.Workers = o.Workers
	}
	if o.CacheDir != "" {
		c.CacheDir = o.CacheDir
	}
	if o.StateDir != "" {
		c.StateDir = o.StateDir
	}
	if o.WorkDir != "" {
		c.WorkDir = o.WorkDir
	}
	if o.TempDir != "" {
		c.TempDir = o.TempDir
	}
	if o.Logging.Level != "" {
		c.Logging.Level = o.Logging.Level
	}
	if o.Fetch.Timeout != "" {
		c.Fetch.Timeout = o.Fetch.Timeout
	}
	if o.Fetch.Progress != nil {
		c.Fetch.Progress = o.Fetch.Progress
	}
	if o.Fetch.Cache != nil {
		c.Fetch.Cache = o.Fetch.Cache
	}
	if len(o.Catalog.Dirs) > 0 {
		c.Catalog.Dirs = o.Catalog.Dirs
	}
	if o.Catalog.URL != "" {
		c.Catalog.URL = o.Catalog.URL
	}
	if o.PostInstall.AllowQuarantineRemoval != nil {
		c.PostInstall.AllowQuarantineRemoval = o.PostInstall.AllowQuarantineRemoval
	}
	if o.PostInstall.AllowElevation != nil {
		c.PostInstall.AllowElevation = o.PostInstall.AllowElevation
	}
}

func (c *GlobalConfig) applyEnv(env *envOverrides) {
	if env.InstallRoot != "" {
		c.InstallRoot = env.InstallRoot
	}
	if env.Workers != 0 {
		c.Workers = env.Workers
	}
	if env.CacheDir != "" {
		c.CacheDir = env.CacheDir
	}
	if env.StateDir != "" {
		c.StateDir = env.StateDir
	}
	if env.WorkDir != "" {
		c.WorkDir = env.WorkDir
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.FetchTimeout != 0 {
		c.Fetch.Timeout = env.FetchTimeout.String()
	}
	if env.CatalogURL != "" {
		c.Catalog.URL = env.CatalogURL
	}
}

// Validate checks values that the schema cannot express.
func (c *GlobalConfig) Validate() error {
	if strings.TrimSpace(c.InstallRoot) == "" {
		return fmt.Errorf("installRoot must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if _, err := c.FetchTimeout(); err != nil {
		return err
	}
	return nil
}

// FetchTimeout parses Fetch.Timeout. Zero means no deadline.
func (c *GlobalConfig) FetchTimeout() (time.Duration, error) {
	if c.Fetch.Timeout == "" {
		return DefaultFetchTimeout, nil
	}
	d, err := time.ParseDuration(c.Fetch.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid fetch timeout %q: %w", c.Fetch.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("fetch timeout must not be negative, got %s", d)
	}
	return d, nil
}

// ProgressEnabled reports whether fetches draw a progress bar.
func (c *GlobalConfig) ProgressEnabled() bool {
	return c.Fetch.Progress == nil || *c.Fetch.Progress
}

// CacheEnabled reports whether verified archives are kept in CacheDir.
func (c *GlobalConfig) CacheEnabled() bool {
	return c.Fetch.Cache == nil || *c.Fetch.Cache
}

// QuarantineRemovalAllowed reports whether post-install actions may clear
// the quarantine attribute.
func (c *GlobalConfig) QuarantineRemovalAllowed() bool {
	return c.PostInstall.AllowQuarantineRemoval == nil || *c.PostInstall.AllowQuarantineRemoval
}

// ElevationAllowed reports whether post-install actions may run through sudo.
func (c *GlobalConfig) ElevationAllowed() bool {
	return c.PostInstall.AllowElevation == nil || *c.PostInstall.AllowElevation
}
