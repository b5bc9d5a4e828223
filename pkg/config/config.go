package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by STORE_BACKEND.
const (
	BackendRedis = "redis"
	BackendBolt  = "bolt"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config holds the full broker configuration. Values come from three
// layers: built-in defaults, an optional YAML file, and environment
// variables, each overriding the one below.
type Config struct {
	// APIKey authenticates every API request. The server refuses to
	// start without one.
	APIKey string `yaml:"api_key"`

	// ListenAddr is the address the HTTP API binds to.
	ListenAddr string `yaml:"listen_addr"`

	// ChallengeDir is the root directory holding challenge subdirectories.
	ChallengeDir string `yaml:"challenge_dir"`

	// StoreBackend selects the persistence backend: redis or bolt.
	StoreBackend string `yaml:"store_backend"`

	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis"`

	// BoltPath is the database file for the bolt backend.
	BoltPath string `yaml:"bolt_path"`

	// InfraContainers names containers the reset command must never
	// touch, cadvisor and the like.
	InfraContainers []string `yaml:"infra_containers"`

	// CleanupInterval is how often the surplus-instance pass runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// PrestartInterval is how often the prewarm queue is drained.
	PrestartInterval time.Duration `yaml:"prestart_interval"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogJSON switches between JSON and console log output.
	LogJSON bool `yaml:"log_json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:   ":4000",
		ChallengeDir: "./challenges",
		StoreBackend: BackendRedis,
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		BoltPath:         "./burrow.db",
		InfraContainers:  []string{"cadvisor"},
		CleanupInterval:  30 * time.Second,
		PrestartInterval: 5 * time.Second,
		LogLevel:         "info",
		LogJSON:          true,
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// if path is non-empty, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("CHALLENGE_DIR"); v != "" {
		c.ChallengeDir = v
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		c.StoreBackend = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_PORT %q: %w", v, err)
		}
		c.Redis.Port = port
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		c.Redis.DB = db
	}
	if v := os.Getenv("BOLT_PATH"); v != "" {
		c.BoltPath = v
	}
	if v := os.Getenv("INFRA_CONTAINERS"); v != "" {
		parts := strings.Split(v, ",")
		names := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				names = append(names, p)
			}
		}
		c.InfraContainers = names
	}
	if v := os.Getenv("CLEANUP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CLEANUP_INTERVAL %q: %w", v, err)
		}
		c.CleanupInterval = d
	}
	if v := os.Getenv("PRESTART_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PRESTART_INTERVAL %q: %w", v, err)
		}
		c.PrestartInterval = d
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_JSON %q: %w", v, err)
		}
		c.LogJSON = b
	}
	return nil
}

// Validate checks everything the process cannot run without. The API
// key is checked by the serve command alone; the local CLI commands
// work without one.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendRedis, BackendBolt:
	default:
		return fmt.Errorf("unknown store backend %q (want %s or %s)", c.StoreBackend, BackendRedis, BackendBolt)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive, got %s", c.CleanupInterval)
	}
	if c.PrestartInterval <= 0 {
		return fmt.Errorf("prestart interval must be positive, got %s", c.PrestartInterval)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	return nil
}

// IsInfra reports whether a container name is on the protected list.
// Docker reports names with a leading slash; both forms match.
func (c *Config) IsInfra(name string) bool {
	trimmed := strings.TrimPrefix(name, "/")
	for _, infra := range c.InfraContainers {
		if trimmed == infra {
			return true
		}
	}
	return false
}
