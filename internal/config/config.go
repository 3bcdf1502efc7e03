// Package config loads the icgate server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// MemoryDatabase selects the in-process store instead of Postgres.
const MemoryDatabase = "memory"

type Config struct {
	DatabaseURL string // ICGATE_DATABASE_URL (required; "memory" = in-process store)
	GRPCAddr    string // ICGATE_GRPC_ADDR (default ":9090")
	HTTPAddr    string // ICGATE_HTTP_ADDR (default ":8080")
	NATSURL     string // ICGATE_NATS_URL (optional, empty = no NATS events)
	AuthToken   string // ICGATE_AUTH_TOKEN (optional, empty = auth disabled)
	CatalogFile string // ICGATE_CATALOG_FILE (optional .toml/.yaml, empty = builtin)
	LogLevel    string // ICGATE_LOG_LEVEL (default "info")

	AuditPageSize int // ICGATE_AUDIT_PAGE_SIZE (default 200)

	// Archive settings
	ArchiveInterval   time.Duration // ICGATE_ARCHIVE_INTERVAL (default 10m; 0 = disabled)
	ArchiveS3Bucket   string        // ICGATE_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string        // ICGATE_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // ICGATE_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Key      string        // ICGATE_ARCHIVE_S3_KEY (default "icgate/audit.jsonl")
	ArchiveS3History  bool          // ICGATE_ARCHIVE_S3_HISTORY (keep timestamped copies)
	ArchiveGitRepo    string        // ICGATE_ARCHIVE_GIT_REPO (enables git when set; path to clone)
	ArchiveGitFile    string        // ICGATE_ARCHIVE_GIT_FILE (default "audit.jsonl")
	ArchiveGitBranch  string        // ICGATE_ARCHIVE_GIT_BRANCH (default "main")
}

// UsesMemory reports whether the in-process store is selected.
func (c *Config) UsesMemory() bool { return c.DatabaseURL == MemoryDatabase }

// Level returns LogLevel as a slog level.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("ICGATE_DATABASE_URL"),
		GRPCAddr:          envOrDefault("ICGATE_GRPC_ADDR", ":9090"),
		HTTPAddr:          envOrDefault("ICGATE_HTTP_ADDR", ":8080"),
		NATSURL:           os.Getenv("ICGATE_NATS_URL"),
		AuthToken:         os.Getenv("ICGATE_AUTH_TOKEN"),
		CatalogFile:       os.Getenv("ICGATE_CATALOG_FILE"),
		LogLevel:          envOrDefault("ICGATE_LOG_LEVEL", "info"),
		ArchiveS3Bucket:   os.Getenv("ICGATE_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("ICGATE_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("ICGATE_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Key:      envOrDefault("ICGATE_ARCHIVE_S3_KEY", "icgate/audit.jsonl"),
		ArchiveGitRepo:    os.Getenv("ICGATE_ARCHIVE_GIT_REPO"),
		ArchiveGitFile:    envOrDefault("ICGATE_ARCHIVE_GIT_FILE", "audit.jsonl"),
		ArchiveGitBranch:  envOrDefault("ICGATE_ARCHIVE_GIT_BRANCH", "main"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("ICGATE_DATABASE_URL is required (use %q for the in-process store)", MemoryDatabase)
	}

	d, err := time.ParseDuration(envOrDefault("ICGATE_ARCHIVE_INTERVAL", "10m"))
	if err != nil {
		return nil, fmt.Errorf("ICGATE_ARCHIVE_INTERVAL: %w", err)
	}
	if d < 0 {
		return nil, fmt.Errorf("ICGATE_ARCHIVE_INTERVAL: must not be negative")
	}
	c.ArchiveInterval = d

	if v := os.Getenv("ICGATE_ARCHIVE_S3_HISTORY"); v != "" {
		if c.ArchiveS3History, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("ICGATE_ARCHIVE_S3_HISTORY: %w", err)
		}
	}

	n, err := strconv.Atoi(envOrDefault("ICGATE_AUDIT_PAGE_SIZE", "200"))
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("ICGATE_AUDIT_PAGE_SIZE: must be a positive integer")
	}
	c.AuditPageSize = n

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("ICGATE_LOG_LEVEL: unknown level %q", c.LogLevel)
	}

	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
