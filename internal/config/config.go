// Package config provides configuration for the datashed daemon.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon configuration.
type Config struct {
	// Workspace is the workspace directory the daemon serves.
	Workspace string `json:"workspace" yaml:"workspace"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// Archive configuration
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// Backup configuration
	Backup BackupConfig `json:"backup" yaml:"backup"`
}

// HTTPConfig holds the browse API server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether the HTTP surface is served
	Enabled bool `json:"enabled" yaml:"enabled"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// GRPCConfig holds the dataset service configuration.
type GRPCConfig struct {
	// Addr is the gRPC listen address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether the gRPC surface is served
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// ServerConfig tunes the write path. Zero values select the built-in
// defaults.
type ServerConfig struct {
	// MaxChunkBytes is the chunk file rotation threshold
	MaxChunkBytes int64 `json:"max_chunk_bytes" yaml:"max_chunk_bytes"`

	// FlushBytes caps the in-memory row buffer per open dataset
	FlushBytes int64 `json:"flush_bytes" yaml:"flush_bytes"`

	// CommandBuffer is the control command queue depth
	CommandBuffer int `json:"command_buffer" yaml:"command_buffer"`

	// StatsWindow is how long idle writer statistics survive
	StatsWindow time.Duration `json:"stats_window" yaml:"stats_window"`
}

// ArchiveConfig holds the dataset archive backend configuration.
type ArchiveConfig struct {
	// Type is the archive backend: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local archive directory (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is the object key prefix datasets are archived under
	Prefix string `json:"prefix" yaml:"prefix"`

	// Concurrency is the number of parallel object transfers
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 archive configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle forces path-style addressing (MinIO and friends)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// BackupConfig holds catalog backup configuration.
type BackupConfig struct {
	// Keep is how many compressed catalog backups to retain
	Keep int `json:"keep" yaml:"keep"`

	// Interval between automatic backups; 0 disables the backup loop
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Workspace: "./datashed",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			Enabled:      true,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Server: ServerConfig{},
		Archive: ArchiveConfig{
			Type:        "none",
			Prefix:      "datasets",
			Concurrency: 4,
		},
		Backup: BackupConfig{
			Keep:     5,
			Interval: 0,
		},
	}
}

// Resolve fills in paths derived from the workspace directory.
func (c *Config) Resolve() {
	if c.Workspace == "" {
		c.Workspace = "./datashed"
	}
	if c.Archive.Type == "local" && c.Archive.Path == "" {
		c.Archive.Path = filepath.Join(c.Workspace, "archive")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}

	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required when http is enabled")
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return fmt.Errorf("grpc.addr is required when grpc is enabled")
	}

	switch c.Archive.Type {
	case "none", "local", "s3":
	default:
		return fmt.Errorf("invalid archive type: %s (must be none, local, or s3)", c.Archive.Type)
	}
	if c.Archive.Type == "s3" && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("archive.s3.bucket is required when archive type is s3")
	}
	if c.Archive.Concurrency < 0 {
		return fmt.Errorf("archive.concurrency must not be negative, got %d", c.Archive.Concurrency)
	}

	if c.Server.MaxChunkBytes < 0 {
		return fmt.Errorf("server.max_chunk_bytes must not be negative, got %d", c.Server.MaxChunkBytes)
	}
	if c.Server.FlushBytes < 0 {
		return fmt.Errorf("server.flush_bytes must not be negative, got %d", c.Server.FlushBytes)
	}

	if c.Backup.Keep < 1 {
		return fmt.Errorf("backup.keep must be at least 1, got %d", c.Backup.Keep)
	}

	return nil
}

// ArchiveEnabled reports whether an archive backend is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.Archive.Type != "" && c.Archive.Type != "none"
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the DATASHED_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("DATASHED_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}

	// HTTP configuration
	if v := os.Getenv("DATASHED_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("DATASHED_HTTP_ENABLED"); v != "" {
		cfg.HTTP.Enabled = v == "true" || v == "1"
	}

	// gRPC configuration
	if v := os.Getenv("DATASHED_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("DATASHED_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}

	// Server configuration
	if v := os.Getenv("DATASHED_SERVER_MAX_CHUNK_BYTES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Server.MaxChunkBytes)
	}
	if v := os.Getenv("DATASHED_SERVER_FLUSH_BYTES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Server.FlushBytes)
	}
	if v := os.Getenv("DATASHED_SERVER_STATS_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.StatsWindow = d
		}
	}

	// Archive configuration
	if v := os.Getenv("DATASHED_ARCHIVE_TYPE"); v != "" {
		cfg.Archive.Type = v
	}
	if v := os.Getenv("DATASHED_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}
	if v := os.Getenv("DATASHED_ARCHIVE_PREFIX"); v != "" {
		cfg.Archive.Prefix = v
	}
	if v := os.Getenv("DATASHED_ARCHIVE_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Archive.Concurrency)
	}
	if v := os.Getenv("DATASHED_S3_BUCKET"); v != "" {
		cfg.Archive.S3.Bucket = v
	}
	if v := os.Getenv("DATASHED_S3_REGION"); v != "" {
		cfg.Archive.S3.Region = v
	}
	if v := os.Getenv("DATASHED_S3_ENDPOINT"); v != "" {
		cfg.Archive.S3.Endpoint = v
	}
	if v := os.Getenv("DATASHED_S3_USE_PATH_STYLE"); v != "" {
		cfg.Archive.S3.UsePathStyle = v == "true" || v == "1"
	}

	// Backup configuration
	if v := os.Getenv("DATASHED_BACKUP_KEEP"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Backup.Keep)
	}
	if v := os.Getenv("DATASHED_BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backup.Interval = d
		}
	}
}

// EnsureDirectories creates the workspace directory if it is missing. The
// workspace lays out its own subdirectories, and local archive storage
// creates its base path on first use. The archive path must not be
// pre-created: a fresh workspace directory has to stay empty until it is
// initialized.
func (c *Config) EnsureDirectories() error {
	if c.Workspace == "" {
		return nil
	}
	if err := os.MkdirAll(c.Workspace, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.Workspace, err)
	}
	return nil
}
