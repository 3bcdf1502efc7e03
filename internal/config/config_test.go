package config

import (
	"log/slog"
	"testing"
	"time"
)

var allEnvVars = []string{
	"ICGATE_DATABASE_URL", "ICGATE_GRPC_ADDR", "ICGATE_HTTP_ADDR", "ICGATE_NATS_URL",
	"ICGATE_AUTH_TOKEN", "ICGATE_CATALOG_FILE", "ICGATE_LOG_LEVEL", "ICGATE_AUDIT_PAGE_SIZE",
	"ICGATE_ARCHIVE_INTERVAL", "ICGATE_ARCHIVE_S3_BUCKET", "ICGATE_ARCHIVE_S3_ENDPOINT",
	"ICGATE_ARCHIVE_S3_REGION", "ICGATE_ARCHIVE_S3_KEY", "ICGATE_ARCHIVE_S3_HISTORY", "ICGATE_ARCHIVE_GIT_REPO",
	"ICGATE_ARCHIVE_GIT_FILE", "ICGATE_ARCHIVE_GIT_BRANCH",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantGRPCAddr string
		wantHTTPAddr string
		wantNATSURL  string
		wantMemory   bool
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:         "DefaultAddresses",
			env:          map[string]string{"ICGATE_DATABASE_URL": "postgres://localhost/icgate"},
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
		},
		{
			name:         "MemoryStore",
			env:          map[string]string{"ICGATE_DATABASE_URL": "memory"},
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
			wantMemory:   true,
		},
		{
			name: "CustomAddresses",
			env: map[string]string{
				"ICGATE_DATABASE_URL": "postgres://db:5432/icgate",
				"ICGATE_GRPC_ADDR":    ":5050",
				"ICGATE_HTTP_ADDR":    ":3000",
				"ICGATE_NATS_URL":     "nats://localhost:4222",
			},
			wantGRPCAddr: ":5050",
			wantHTTPAddr: ":3000",
			wantNATSURL:  "nats://localhost:4222",
		},
		{
			name:    "BadPageSize",
			env:     map[string]string{"ICGATE_DATABASE_URL": "memory", "ICGATE_AUDIT_PAGE_SIZE": "0"},
			wantErr: true,
		},
		{
			name:    "BadS3History",
			env:     map[string]string{"ICGATE_DATABASE_URL": "memory", "ICGATE_ARCHIVE_S3_HISTORY": "sometimes"},
			wantErr: true,
		},
		{
			name:    "BadLogLevel",
			env:     map[string]string{"ICGATE_DATABASE_URL": "memory", "ICGATE_LOG_LEVEL": "loud"},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.DatabaseURL != tc.env["ICGATE_DATABASE_URL"] {
				t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, tc.env["ICGATE_DATABASE_URL"])
			}
			if cfg.GRPCAddr != tc.wantGRPCAddr {
				t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, tc.wantGRPCAddr)
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
			if cfg.UsesMemory() != tc.wantMemory {
				t.Errorf("UsesMemory = %v, want %v", cfg.UsesMemory(), tc.wantMemory)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ICGATE_DATABASE_URL", "postgres://localhost/icgate")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ArchiveInterval != 10*time.Minute {
		t.Errorf("ArchiveInterval = %v, want 10m", cfg.ArchiveInterval)
	}
	if cfg.ArchiveS3Region != "us-east-1" {
		t.Errorf("ArchiveS3Region = %q", cfg.ArchiveS3Region)
	}
	if cfg.ArchiveS3Key != "icgate/audit.jsonl" {
		t.Errorf("ArchiveS3Key = %q", cfg.ArchiveS3Key)
	}
	if cfg.ArchiveGitFile != "audit.jsonl" || cfg.ArchiveGitBranch != "main" {
		t.Errorf("git = %q on %q", cfg.ArchiveGitFile, cfg.ArchiveGitBranch)
	}
	if cfg.AuditPageSize != 200 || cfg.LogLevel != "info" {
		t.Errorf("AuditPageSize = %d, LogLevel = %q", cfg.AuditPageSize, cfg.LogLevel)
	}
}

func TestLoadArchiveCustom(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ICGATE_DATABASE_URL", "postgres://localhost/icgate")
	t.Setenv("ICGATE_ARCHIVE_INTERVAL", "1h")
	t.Setenv("ICGATE_ARCHIVE_S3_BUCKET", "ic-audit")
	t.Setenv("ICGATE_ARCHIVE_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("ICGATE_ARCHIVE_S3_REGION", "eu-west-1")
	t.Setenv("ICGATE_ARCHIVE_S3_KEY", "custom/key.jsonl")
	t.Setenv("ICGATE_ARCHIVE_S3_HISTORY", "true")
	t.Setenv("ICGATE_ARCHIVE_GIT_REPO", "/tmp/repo")
	t.Setenv("ICGATE_ARCHIVE_GIT_FILE", "custom.jsonl")
	t.Setenv("ICGATE_ARCHIVE_GIT_BRANCH", "backup")
	t.Setenv("ICGATE_CATALOG_FILE", "/etc/icgate/catalog.toml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ArchiveInterval != time.Hour {
		t.Errorf("ArchiveInterval = %v, want 1h", cfg.ArchiveInterval)
	}
	if cfg.ArchiveS3Bucket != "ic-audit" || cfg.ArchiveS3Endpoint != "http://minio:9000" {
		t.Errorf("S3 = %q at %q", cfg.ArchiveS3Bucket, cfg.ArchiveS3Endpoint)
	}
	if cfg.ArchiveS3Region != "eu-west-1" || cfg.ArchiveS3Key != "custom/key.jsonl" {
		t.Errorf("S3 region/key = %q/%q", cfg.ArchiveS3Region, cfg.ArchiveS3Key)
	}
	if !cfg.ArchiveS3History {
		t.Error("ArchiveS3History should be true")
	}
	if cfg.ArchiveGitRepo != "/tmp/repo" || cfg.ArchiveGitFile != "custom.jsonl" || cfg.ArchiveGitBranch != "backup" {
		t.Errorf("git = %q %q %q", cfg.ArchiveGitRepo, cfg.ArchiveGitFile, cfg.ArchiveGitBranch)
	}
	if cfg.CatalogFile != "/etc/icgate/catalog.toml" {
		t.Errorf("CatalogFile = %q", cfg.CatalogFile)
	}
}

func TestLoadArchiveInterval(t *testing.T) {
	for _, tc := range []struct {
		value   string
		want    time.Duration
		wantErr bool
	}{
		{"0s", 0, false},
		{"90s", 90 * time.Second, false},
		{"not-a-duration", 0, true},
		{"-1m", 0, true},
	} {
		t.Run(tc.value, func(t *testing.T) {
			clearAllEnv(t)
			t.Setenv("ICGATE_DATABASE_URL", "memory")
			t.Setenv("ICGATE_ARCHIVE_INTERVAL", tc.value)
			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if cfg.ArchiveInterval != tc.want {
				t.Errorf("ArchiveInterval = %v, want %v", cfg.ArchiveInterval, tc.want)
			}
		})
	}
}

func TestEnvOrDefault(t *testing.T) {
	for _, tc := range []struct {
		name     string
		key      string
		envVal   string
		fallback string
		want     string
	}{
		{"EmptyUsesDefault", "TEST_ENVDEFAULT_EMPTY", "", "default-val", "default-val"},
		{"SetUsesEnv", "TEST_ENVDEFAULT_SET", "custom", "default-val", "custom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envVal)
			got := envOrDefault(tc.key, tc.fallback)
			if got != tc.want {
				t.Errorf("envOrDefault(%q, %q) = %q, want %q", tc.key, tc.fallback, got, tc.want)
			}
		})
	}
}

func TestLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"":      slog.LevelInfo,
	} {
		c := &Config{LogLevel: in}
		if got := c.Level(); got != want {
			t.Errorf("Level(%q) = %v, want %v", in, got, want)
		}
	}
}
