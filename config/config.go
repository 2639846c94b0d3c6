// Package config loads and validates process configuration for the mock
// dispatch engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Mocks      MocksConfig      `yaml:"mocks"`
	Repository RepositoryConfig `yaml:"repository"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ContextPath  string        `yaml:"context_path"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MocksConfig holds the mock-serving toggles.
type MocksConfig struct {
	EnableInvocationStats bool       `yaml:"enable-invocation-stats"`
	REST                  RESTConfig `yaml:"rest"`
}

// RESTConfig configures the `/rest/{service}/{version}/**` surface.
type RESTConfig struct {
	EnableCORSPolicy bool       `yaml:"enable-cors-policy"`
	CORS             CORSConfig `yaml:"cors"`
}

// CORSConfig configures the CORS pre-flight handler.
type CORSConfig struct {
	AllowedOrigins   string `yaml:"allowedOrigins"`
	AllowCredentials bool   `yaml:"allowCredentials"`
}

// RepositoryConfig selects and configures the Service/Response repository backend.
type RepositoryConfig struct {
	// Driver is "memory" (fixture-backed) or "sqlite".
	Driver string `yaml:"driver"`

	// FixturePath is a YAML document loaded into the in-memory repository at
	// startup. Watched with fsnotify for hot-reload when Driver == "memory".
	FixturePath string `yaml:"fixture_path"`

	// SQLitePath is the database file used when Driver == "sqlite".
	SQLitePath string `yaml:"sqlite_path"`

	// RefreshInterval is the period of the catalog's ticker-based reload,
	// which runs for every backend (default 30s).
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a YAML config file, expands environment variables, applies
// MOCKENGINE_* overrides, fills defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falling back to env-only
// configuration (useful for container deployments with no mounted file).
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	var cfg Config
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies MOCKENGINE_* environment variables to the config.
// Environment variables always override file-based configuration.
//
//	MOCKENGINE_SERVER_HOST                  - listen host (default: 0.0.0.0)
//	MOCKENGINE_SERVER_PORT                  - listen port (default: 8080)
//	MOCKENGINE_MOCKS_ENABLE_INVOCATION_STATS - bool (default: false)
//	MOCKENGINE_MOCKS_REST_ENABLE_CORS        - bool (default: false)
//	MOCKENGINE_MOCKS_REST_CORS_ORIGINS       - string (default: *)
//	MOCKENGINE_MOCKS_REST_CORS_CREDENTIALS   - bool (default: false)
//	MOCKENGINE_REPOSITORY_DRIVER             - "memory" or "sqlite"
//	MOCKENGINE_REPOSITORY_FIXTURE_PATH       - path to YAML fixture
//	MOCKENGINE_REPOSITORY_SQLITE_PATH        - sqlite database file
//	MOCKENGINE_LOG_LEVEL                     - debug, info, warn, error
//	MOCKENGINE_LOG_FORMAT                    - json or console
//	MOCKENGINE_METRICS_ENABLED               - bool (default: false)
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MOCKENGINE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("MOCKENGINE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MOCKENGINE_MOCKS_ENABLE_INVOCATION_STATS"); v != "" {
		cfg.Mocks.EnableInvocationStats = parseBool(v)
	}
	if v := os.Getenv("MOCKENGINE_MOCKS_REST_ENABLE_CORS"); v != "" {
		cfg.Mocks.REST.EnableCORSPolicy = parseBool(v)
	}
	if v := os.Getenv("MOCKENGINE_MOCKS_REST_CORS_ORIGINS"); v != "" {
		cfg.Mocks.REST.CORS.AllowedOrigins = v
	}
	if v := os.Getenv("MOCKENGINE_MOCKS_REST_CORS_CREDENTIALS"); v != "" {
		cfg.Mocks.REST.CORS.AllowCredentials = parseBool(v)
	}
	if v := os.Getenv("MOCKENGINE_REPOSITORY_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("MOCKENGINE_REPOSITORY_FIXTURE_PATH"); v != "" {
		cfg.Repository.FixturePath = v
	}
	if v := os.Getenv("MOCKENGINE_REPOSITORY_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("MOCKENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MOCKENGINE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("MOCKENGINE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

// setDefaults fills unset fields with production-sane defaults.
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}

	if cfg.Mocks.REST.CORS.AllowedOrigins == "" {
		cfg.Mocks.REST.CORS.AllowedOrigins = "*"
	}

	if cfg.Repository.Driver == "" {
		cfg.Repository.Driver = "memory"
	}
	if cfg.Repository.RefreshInterval == 0 {
		cfg.Repository.RefreshInterval = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// validate rejects configurations that cannot be run.
func validate(cfg *Config) error {
	if cfg.Repository.Driver != "memory" && cfg.Repository.Driver != "sqlite" {
		return fmt.Errorf("repository.driver must be 'memory' or 'sqlite', got %q", cfg.Repository.Driver)
	}
	if cfg.Repository.Driver == "sqlite" && cfg.Repository.SQLitePath == "" {
		return fmt.Errorf("repository.sqlite_path is required when repository.driver is 'sqlite'")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}
	return nil
}
