// Package config provides configuration management for the leadguard service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Management ManagementConfig `yaml:"management"`
	Guard      GuardConfig      `yaml:"guard"`
	Token      TokenConfig      `yaml:"token"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains the public lead API settings
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// ManagementConfig contains metrics and health endpoint settings
type ManagementConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	MetricsPath string `yaml:"metrics_path"`
	HealthPath  string `yaml:"health_path"`
	ReadyPath   string `yaml:"ready_path"`
	LivePath    string `yaml:"live_path"`
}

// GuardConfig contains replay-window settings
type GuardConfig struct {
	// DefaultTTL applies to token types without an entry in TTLs
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// TTLs maps a token type to its validity window
	TTLs map[string]time.Duration `yaml:"ttls"`

	// PurgeInterval is how often expired keys are swept
	PurgeInterval time.Duration `yaml:"purge_interval"`

	// FailOpen admits requests when the key store is unavailable
	FailOpen bool `yaml:"fail_open"`
}

// TokenConfig contains landing-page token verification settings
type TokenConfig struct {
	Secret string        `yaml:"secret"` //#nosec G117 -- HMAC key is intentional config
	Leeway time.Duration `yaml:"leeway"`
}

// StorageConfig contains key store settings
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory", "redis" or "postgres"
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"` //#nosec G117 -- Password field is intentional for Redis auth config
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string      `yaml:"level"`
	Format string      `yaml:"format"` // "json" or "text"
	Audit  AuditConfig `yaml:"audit"`
}

// AuditConfig contains audit logging settings
type AuditConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Level           string `yaml:"level"` // minimal, standard or verbose
	Output          string `yaml:"output"`
	Format          string `yaml:"format"`
	IncludeClientIP bool   `yaml:"include_client_ip"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Management: ManagementConfig{
			Enabled:     true,
			Addr:        ":9090",
			MetricsPath: "/metrics",
			HealthPath:  "/health",
			ReadyPath:   "/ready",
			LivePath:    "/live",
		},
		Guard: GuardConfig{
			DefaultTTL: 10 * time.Minute,
			TTLs: map[string]time.Duration{
				"lead": 15 * time.Minute,
			},
			PurgeInterval: time.Minute,
		},
		Token: TokenConfig{
			Leeway: 5 * time.Second,
		},
		Storage: StorageConfig{
			Type: "memory",
			Redis: RedisConfig{
				Address: "localhost:6379",
				DB:      0,
				Prefix:  "leadguard:replay:",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Audit: AuditConfig{
				Enabled: true,
				Level:   "standard",
				Output:  "stdout",
				Format:  "json",
			},
		},
	}
}

// Load loads the configuration from a YAML file and the environment.
// An empty path falls back to CONFIG_PATH and then config.yaml; a missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// .env only fills variables that are not already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}

	// Relative paths must stay inside the working directory
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		path, err = sanitizeConfigPath(path, wd)
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path) //#nosec G304 -- config path is sanitized above
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with LEADGUARD_* variables
func applyEnv(cfg *Config) error {
	if v := os.Getenv("LEADGUARD_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("LEADGUARD_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("LEADGUARD_REDIS_ADDRESS"); v != "" {
		cfg.Storage.Redis.Address = v
	}
	if v := os.Getenv("LEADGUARD_REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v := os.Getenv("LEADGUARD_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LEADGUARD_REDIS_DB %q: %w", v, err)
		}
		cfg.Storage.Redis.DB = db
	}
	if v := os.Getenv("LEADGUARD_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("LEADGUARD_TOKEN_SECRET"); v != "" {
		cfg.Token.Secret = v
	}
	if v := os.Getenv("LEADGUARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LEADGUARD_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	return nil
}

// Validate reports the first configuration problem found
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("storage.type %q is not one of memory, redis, postgres", c.Storage.Type)
	}
	if c.Storage.Type == "postgres" && c.Storage.Postgres.DSN == "" {
		return errors.New("storage.postgres.dsn is required for the postgres backend")
	}
	if c.Guard.DefaultTTL <= 0 {
		return errors.New("guard.default_ttl must be positive")
	}
	for kind, ttl := range c.Guard.TTLs {
		if ttl <= 0 {
			return fmt.Errorf("guard.ttls.%s must be positive", kind)
		}
	}
	if c.Guard.PurgeInterval <= 0 {
		return errors.New("guard.purge_interval must be positive")
	}
	if c.Token.Secret == "" {
		return errors.New("token.secret is required")
	}
	if c.Token.Leeway < 0 {
		return errors.New("token.leeway must not be negative")
	}
	return nil
}

// sanitizeConfigPath resolves path against baseDir and rejects anything
// that would escape it.
func sanitizeConfigPath(path, baseDir string) (string, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if path == "" {
		return absBase, nil
	}

	var candidate string
	if filepath.IsAbs(path) {
		candidate = filepath.Clean(path)
	} else {
		candidate = filepath.Join(absBase, path)
	}

	rel, err := filepath.Rel(absBase, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %q escapes %q", path, absBase)
	}
	return candidate, nil
}
