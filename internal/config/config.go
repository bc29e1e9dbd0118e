// Package config provides configuration loading for docscan.
// Supports YAML files, a .env file, and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for docscan.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Storage       StorageConfig       `yaml:"storage"`
	Thumbnail     ThumbnailConfig     `yaml:"thumbnail"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds document cache settings.
type CacheConfig struct {
	Driver        string        `yaml:"driver"` // memory or redis
	TTL           time.Duration `yaml:"ttl"`
	MaxEntries    int           `yaml:"max_entries"`
	StatusChannel string        `yaml:"status_channel"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// StorageConfig holds file storage settings.
type StorageConfig struct {
	UploadRoot        string   `yaml:"upload_root"`
	MaxUploadBytes    int64    `yaml:"max_upload_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// ThumbnailConfig holds thumbnail generation settings.
type ThumbnailConfig struct {
	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	JPEGQuality int     `yaml:"jpeg_quality"`
	PDFZoom     float64 `yaml:"pdf_zoom"`
}

// ExtractionConfig holds text extraction settings.
type ExtractionConfig struct {
	Mode       string        `yaml:"mode"` // sync or async
	PDFDPI     int           `yaml:"pdf_dpi"`
	Languages  []string      `yaml:"languages"`
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Minute,
			IdleTimeout:      120 * time.Second,
			RequestTimeout:   10 * time.Minute,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "data/docscan.db",
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
			Driver:        "memory",
			TTL:           5 * time.Minute,
			MaxEntries:    10000,
			StatusChannel: "document.status",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "docscan:",
			},
		},
		Storage: StorageConfig{
			UploadRoot:        "uploads",
			MaxUploadBytes:    50 << 20,
			AllowedExtensions: []string{"pdf", "png", "jpg", "jpeg", "gif", "tiff", "bmp"},
		},
		Thumbnail: ThumbnailConfig{
			Width:       300,
			Height:      300,
			JPEGQuality: 85,
			PDFZoom:     0.5,
		},
		Extraction: ExtractionConfig{
			Mode:       "sync",
			PDFDPI:     300,
			Languages:  []string{"rus", "eng"},
			Workers:    2,
			QueueSize:  64,
			JobTimeout: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "docscan",
		},
	}
}

// Validate checks the configuration for errors.
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

	if c.Storage.UploadRoot == "" {
		return fmt.Errorf("storage upload_root is required")
	}
	if len(c.Storage.AllowedExtensions) == 0 {
		return fmt.Errorf("storage allowed_extensions must not be empty")
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("storage max_upload_bytes must be positive")
	}

	if c.Thumbnail.Width < 1 || c.Thumbnail.Height < 1 {
		return fmt.Errorf("thumbnail size must be positive, got %dx%d", c.Thumbnail.Width, c.Thumbnail.Height)
	}
	if c.Thumbnail.JPEGQuality < 1 || c.Thumbnail.JPEGQuality > 100 {
		return fmt.Errorf("thumbnail jpeg_quality must be between 1 and 100, got %d", c.Thumbnail.JPEGQuality)
	}

	if c.Extraction.Mode != "sync" && c.Extraction.Mode != "async" {
		return fmt.Errorf("invalid extraction mode: %s", c.Extraction.Mode)
	}
	if c.Extraction.PDFDPI < 36 || c.Extraction.PDFDPI > 1200 {
		return fmt.Errorf("extraction pdf_dpi must be between 36 and 1200, got %d", c.Extraction.PDFDPI)
	}
	if c.Extraction.Mode == "async" && c.Extraction.Workers < 1 {
		return fmt.Errorf("async extraction needs at least one worker")
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
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

	if v := os.Getenv("UPLOAD_ROOT"); v != "" {
		cfg.Storage.UploadRoot = v
	}

	if v := os.Getenv("EXTRACTION_MODE"); v != "" {
		cfg.Extraction.Mode = v
	}

	if v := os.Getenv("EXTRACTION_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Extraction.Workers = n
		}
	}

	if v := os.Getenv("PDF_DPI"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Extraction.PDFDPI = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
