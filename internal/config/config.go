// Package config provides configuration loading and management for the
// sandbox orchestrator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the environment variable prefix used for viper bindings
const EnvPrefix = "SANDBOXD"

const (
	// StoreTypeMemory keeps lifecycle status in process memory
	StoreTypeMemory = "memory"

	// StoreTypeRedis keeps lifecycle status in a shared Redis instance
	StoreTypeRedis = "redis"
)

const (
	// ProjectsTypeMemory serves project records registered programmatically
	ProjectsTypeMemory = "memory"

	// ProjectsTypeFile serves project records from a YAML file
	ProjectsTypeFile = "file"
)

const (
	defaultAddress          = ":8080"
	defaultOperationTimeout = "5m"
	defaultCPUCount         = 1
	defaultMemLimit         = "1g"
	defaultMemswapLimit     = "1.5g"
	defaultPidsLimit        = 8
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Address is the listen address for the HTTP API
	Address string `yaml:"address,omitempty"`

	// MetricsAddress is the listen address for the Prometheus metrics
	// endpoint; empty disables the metrics listener
	MetricsAddress string `yaml:"metricsAddress,omitempty"`

	// BuildContextDir is the directory used as the image build context
	BuildContextDir string `yaml:"buildContextDir,omitempty"`

	// OperationTimeout bounds one background build/run sequence (e.g. "5m")
	OperationTimeout string `yaml:"operationTimeout,omitempty"`

	// Limits holds the default resource limits applied to sandbox containers
	Limits LimitsConfig `yaml:"limits,omitempty"`

	// StatusStore selects where transient lifecycle status is kept
	StatusStore StatusStoreConfig `yaml:"statusStore,omitempty"`

	// Projects selects where project records come from
	Projects ProjectsConfig `yaml:"projects,omitempty"`
}

// LimitsConfig defines the per-container resource limits.
// Memory values use Docker's human-readable syntax ("1g", "512m").
type LimitsConfig struct {
	CPUCount     int64  `yaml:"cpuCount,omitempty"`
	MemLimit     string `yaml:"memLimit,omitempty"`
	MemswapLimit string `yaml:"memswapLimit,omitempty"`
	PidsLimit    int64  `yaml:"pidsLimit,omitempty"`
}

// StatusStoreConfig selects the status store backend
type StatusStoreConfig struct {
	// Type is one of "memory" or "redis"
	Type string `yaml:"type,omitempty"`

	// Redis holds connection settings when Type is "redis"
	Redis *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig defines Redis connection settings for the status store
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`

	// KeyPrefix namespaces status keys; defaults to "sandboxd:status:"
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
}

// ProjectsConfig selects the project record provider
type ProjectsConfig struct {
	// Type is one of "file" or "memory"
	Type string `yaml:"type,omitempty"`

	// File holds file provider settings when Type is "file"
	File *FileProjectsConfig `yaml:"file,omitempty"`
}

// FileProjectsConfig defines the file-backed project provider settings
type FileProjectsConfig struct {
	// Path is the path to the projects YAML file
	Path string `yaml:"path"`
}

// LoadConfig loads configuration from the configured source and validates it
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = defaultAddress
	}
	if c.BuildContextDir == "" {
		c.BuildContextDir = "."
	}
	if c.OperationTimeout == "" {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.Limits.CPUCount == 0 {
		c.Limits.CPUCount = defaultCPUCount
	}
	if c.Limits.MemLimit == "" {
		c.Limits.MemLimit = defaultMemLimit
	}
	if c.Limits.MemswapLimit == "" {
		c.Limits.MemswapLimit = defaultMemswapLimit
	}
	if c.Limits.PidsLimit == 0 {
		c.Limits.PidsLimit = defaultPidsLimit
	}
	if c.StatusStore.Type == "" {
		c.StatusStore.Type = StoreTypeMemory
	}
	if c.Projects.Type == "" {
		c.Projects.Type = ProjectsTypeMemory
	}
}

// GetOperationTimeout parses the configured operation timeout
func (c *Config) GetOperationTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.OperationTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid operationTimeout %q: %w", c.OperationTimeout, err)
	}
	return d, nil
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if _, err := c.GetOperationTimeout(); err != nil {
		return err
	}

	if c.Limits.CPUCount < 1 {
		return fmt.Errorf("limits: cpuCount must be at least 1")
	}
	if c.Limits.PidsLimit < 1 {
		return fmt.Errorf("limits: pidsLimit must be at least 1")
	}
	memLimit, err := units.RAMInBytes(c.Limits.MemLimit)
	if err != nil {
		return fmt.Errorf("limits: invalid memLimit %q: %w", c.Limits.MemLimit, err)
	}
	memswapLimit, err := units.RAMInBytes(c.Limits.MemswapLimit)
	if err != nil {
		return fmt.Errorf("limits: invalid memswapLimit %q: %w", c.Limits.MemswapLimit, err)
	}
	if memswapLimit < memLimit {
		return fmt.Errorf("limits: memswapLimit %q must not be smaller than memLimit %q",
			c.Limits.MemswapLimit, c.Limits.MemLimit)
	}

	switch c.StatusStore.Type {
	case StoreTypeMemory:
	case StoreTypeRedis:
		if c.StatusStore.Redis == nil || c.StatusStore.Redis.Addr == "" {
			return fmt.Errorf("statusStore: redis.addr is required for type %q", StoreTypeRedis)
		}
	default:
		return fmt.Errorf("statusStore: unsupported type %q", c.StatusStore.Type)
	}

	switch c.Projects.Type {
	case ProjectsTypeMemory:
	case ProjectsTypeFile:
		if c.Projects.File == nil || c.Projects.File.Path == "" {
			return fmt.Errorf("projects: file.path is required for type %q", ProjectsTypeFile)
		}
	default:
		return fmt.Errorf("projects: unsupported type %q", c.Projects.Type)
	}

	return nil
}
