// Package config loads the benchmark service configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spherical/ocr-bench/internal/domain"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Database      DatabaseConfig       `yaml:"database"`
	Cache         CacheConfig          `yaml:"cache"`
	Pipeline      PipelineConfig       `yaml:"pipeline"`
	Observability ObservabilityConfig  `yaml:"observability"`
	Providers     domain.Configuration `yaml:"providers"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig selects and configures the SQL backend.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig selects the cache and lock backend.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	StatsTTL   time.Duration `yaml:"stats_ttl"`
	LockTTL    time.Duration `yaml:"lock_ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// PipelineConfig tunes page processing.
type PipelineConfig struct {
	PagePause       time.Duration      `yaml:"page_pause"`
	ProviderTimeout time.Duration      `yaml:"provider_timeout"`
	ContentMode     domain.ContentMode `yaml:"content_mode"` // image or text
	RenderQuality   int                `yaml:"render_quality"`
	RenderDPI       float64            `yaml:"render_dpi"`
	MaxRetries      int                `yaml:"max_retries"`
}

type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPath string `yaml:"metrics_path"`
}

// Load reads configuration from path (optional), then applies env overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}

		if cfg.Database.Driver == "sqlite" {
			cfg.Database.SQLite.Path = ResolveRelativePath(path, cfg.Database.SQLite.Path)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "ocr-bench.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			StatsTTL:   time.Hour,
			LockTTL:    30 * time.Second,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "ocrbench:",
			},
		},
		Pipeline: PipelineConfig{
			PagePause:       100 * time.Millisecond,
			ProviderTimeout: 120 * time.Second,
			ContentMode:     domain.ContentImage,
			RenderQuality:   85,
			RenderDPI:       150,
			MaxRetries:      3,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "console",
			MetricsPath: "/metrics",
		},
		Providers: domain.Configuration{},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres driver requires a dsn")
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Pipeline.ContentMode != domain.ContentImage && c.Pipeline.ContentMode != domain.ContentText {
		return fmt.Errorf("invalid content mode: %s", c.Pipeline.ContentMode)
	}

	if c.Pipeline.PagePause < 0 {
		return fmt.Errorf("page_pause must not be negative")
	}

	if c.Pipeline.RenderQuality < 1 || c.Pipeline.RenderQuality > 100 {
		return fmt.Errorf("render_quality must be between 1 and 100")
	}

	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	if v := os.Getenv("OCRBENCH_PAGE_PAUSE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.PagePause = d
		}
	}

	if v := os.Getenv("OCRBENCH_CONTENT_MODE"); v != "" {
		cfg.Pipeline.ContentMode = domain.ContentMode(v)
	}

	overrideProvider(cfg, "azure", func(pc *domain.ProviderConfig) bool {
		changed := setFromEnv(&pc.APIKey, "AZURE_OPENAI_API_KEY")
		changed = setFromEnv(&pc.Endpoint, "AZURE_OPENAI_ENDPOINT") || changed
		changed = setFromEnv(&pc.DeploymentName, "AZURE_OPENAI_DEPLOYMENT") || changed
		return changed
	})

	overrideProvider(cfg, "gcp", func(pc *domain.ProviderConfig) bool {
		changed := setFromEnv(&pc.ProjectID, "GCP_PROJECT_ID")
		changed = setFromEnv(&pc.EndpointID, "GCP_ENDPOINT_ID") || changed
		changed = setFromEnv(&pc.ServiceAccountPath, "GOOGLE_APPLICATION_CREDENTIALS") || changed
		return changed
	})

	overrideProvider(cfg, "openrouter", func(pc *domain.ProviderConfig) bool {
		changed := setFromEnv(&pc.APIKey, "OPENROUTER_API_KEY")
		changed = setFromEnv(&pc.Model, "LLM_MODEL") || changed
		return changed
	})
}

// overrideProvider applies env values to one provider block. A block that
// only exists because of the environment starts out enabled.
func overrideProvider(cfg *Config, name string, apply func(*domain.ProviderConfig) bool) {
	if cfg.Providers == nil {
		cfg.Providers = domain.Configuration{}
	}
	pc, existed := cfg.Providers[name]
	if !apply(&pc) {
		return
	}
	if !existed {
		pc.Enabled = true
	}
	cfg.Providers[name] = pc
}

func setFromEnv(dst *string, key string) bool {
	if v := os.Getenv(key); v != "" {
		*dst = v
		return true
	}
	return false
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if targetPath == "" || targetPath == ":memory:" || filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
