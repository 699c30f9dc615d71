package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the vbox-mcp server.
type Config struct {
	Backend    string           `yaml:"backend"` // "virtualbox" (default) or "hyperv"
	VirtualBox VirtualBoxConfig `yaml:"virtualbox"`
	HyperV     HyperVConfig     `yaml:"hyperv"`
	Exec       ExecConfig       `yaml:"exec"`
	Ops        OpsConfig        `yaml:"ops"`
	Logging    LoggingConfig    `yaml:"logging"`
	Audit      AuditConfig      `yaml:"audit"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// VirtualBoxConfig holds VirtualBox backend settings.
type VirtualBoxConfig struct {
	// VBoxManagePath overrides the PATH lookup for the VBoxManage binary.
	VBoxManagePath string `yaml:"vboxmanage_path"`

	// ResolverTTL bounds how long a name->UUID resolution is reused
	// before a fresh listing is taken.
	ResolverTTL time.Duration `yaml:"resolver_ttl"`
}

// HyperVConfig holds Hyper-V backend settings.
type HyperVConfig struct {
	PowerShellPath string `yaml:"powershell_path"`
}

// ExecConfig controls the command executor.
type ExecConfig struct {
	// DefaultTimeout applies to every external call unless a tool
	// overrides it per invocation.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// KillGrace is how long a signalled subprocess gets before it is
	// forcibly killed.
	KillGrace time.Duration `yaml:"kill_grace"`
}

// OpsConfig controls the operation coordinator.
type OpsConfig struct {
	// WorkerPoolSize bounds concurrently running long operations.
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// MetricInterval is the default metric polling interval.
	MetricInterval time.Duration `yaml:"metric_interval"`

	// MetricRingSize is the per-VM sample retention.
	MetricRingSize int `yaml:"metric_ring_size"`
}

// LoggingConfig holds logging settings. Logs always go to stderr; stdout
// is the RPC channel.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// AuditConfig controls the optional local invocation audit trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TelemetryConfig holds telemetry settings.
type TelemetryConfig struct {
	EnableAnonymousUsage bool `yaml:"enable_anonymous_usage"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Backend: "virtualbox",
		VirtualBox: VirtualBoxConfig{
			ResolverTTL: 5 * time.Second,
		},
		Exec: ExecConfig{
			DefaultTimeout: 120 * time.Second,
			KillGrace:      2 * time.Second,
		},
		Ops: OpsConfig{
			WorkerPoolSize: defaultWorkerPoolSize(),
			MetricInterval: 5 * time.Second,
			MetricRingSize: 300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Audit: AuditConfig{
			Enabled: false,
			Path:    filepath.Join(home, ".vbox-mcp", "audit.db"),
		},
	}
}

func defaultWorkerPoolSize() int {
	n := runtime.NumCPU()
	if n < 4 {
		return 4
	}
	return n
}

// Load reads the YAML config at path, layered over defaults. A missing
// file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithEnvOverride loads the config file and applies environment
// variable overrides on top.
func LoadWithEnvOverride(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("VBOXMANAGE_PATH"); v != "" {
		cfg.VirtualBox.VBoxManagePath = v
	}
	if v := os.Getenv("VBOX_MCP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VBOX_MCP_DEFAULT_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Exec.DefaultTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("VBOX_MCP_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ops.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("VBOX_MCP_METRIC_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ops.MetricInterval = time.Duration(n) * time.Second
		}
	}
}

// Validate checks ranges the server cannot start with.
func (c *Config) Validate() error {
	switch c.Backend {
	case "virtualbox", "hyperv":
	default:
		return fmt.Errorf("unknown backend %q (expected virtualbox or hyperv)", c.Backend)
	}
	if c.Exec.DefaultTimeout < time.Second {
		return fmt.Errorf("exec.default_timeout must be at least 1s, got %s", c.Exec.DefaultTimeout)
	}
	if c.Ops.WorkerPoolSize < 1 {
		return fmt.Errorf("ops.worker_pool_size must be at least 1, got %d", c.Ops.WorkerPoolSize)
	}
	if c.Ops.MetricInterval < time.Second || c.Ops.MetricInterval > 300*time.Second {
		return fmt.Errorf("ops.metric_interval must be within [1s, 300s], got %s", c.Ops.MetricInterval)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vbox-mcp", "config.yaml")
}
