package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"ATTEST_HTTP_PORT",
	"ATTEST_DATABASE_URL",
	"ATTEST_DEFAULT_RADIUS_METERS",
	"ATTEST_PUBLIC_TOKEN_TTL",
	"ATTEST_MAX_SYNC_BATCH",
	"ATTEST_WEBHOOK_URL",
	"ATTEST_WEBHOOK_TIMEOUT",
	"ATTEST_SHUTDOWN_TIMEOUT",
	"ATTEST_LOG_LEVEL",
	"ATTEST_CORS_ORIGINS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}
}

func TestLoader_ParseEnvironment(t *testing.T) {

	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 8080 {
			t.Fatalf("expected default HTTP port 8080, got %d", cfg.HTTPPort)
		}
		if cfg.DatabaseURL != "file:attest.db" || cfg.Backend() != BackendSQLite {
			t.Fatalf("unexpected default database: %q", cfg.DatabaseURL)
		}
		if cfg.DefaultRadiusMeters != 100 || cfg.MaxSyncBatch != 500 {
			t.Fatalf("unexpected defaults %+v", cfg)
		}
		if cfg.PublicTokenTTL != 720*time.Hour || cfg.WebhookTimeout != 5*time.Second {
			t.Fatalf("unexpected duration defaults %+v", cfg)
		}
		if cfg.WebhookURL != "" || len(cfg.CORSOrigins) != 0 || cfg.LogLevel != "info" {
			t.Fatalf("unexpected optional defaults %+v", cfg)
		}
	})

	t.Run("parses every key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ATTEST_HTTP_PORT", "9090")
		t.Setenv("ATTEST_DATABASE_URL", "postgres://attest@localhost/attest")
		t.Setenv("ATTEST_DEFAULT_RADIUS_METERS", "150.5")
		t.Setenv("ATTEST_PUBLIC_TOKEN_TTL", "168h")
		t.Setenv("ATTEST_MAX_SYNC_BATCH", "50")
		t.Setenv("ATTEST_WEBHOOK_URL", "https://hooks.example.com/attest")
		t.Setenv("ATTEST_WEBHOOK_TIMEOUT", "2s")
		t.Setenv("ATTEST_LOG_LEVEL", "DEBUG")
		t.Setenv("ATTEST_CORS_ORIGINS", "https://a.example.com, ,https://b.example.com")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 9090 || cfg.Backend() != BackendPostgres {
			t.Fatalf("unexpected port/backend %+v", cfg)
		}
		if cfg.DefaultRadiusMeters != 150.5 || cfg.MaxSyncBatch != 50 {
			t.Fatalf("unexpected numeric values %+v", cfg)
		}
		if cfg.PublicTokenTTL != 168*time.Hour || cfg.WebhookTimeout != 2*time.Second {
			t.Fatalf("unexpected durations %+v", cfg)
		}
		if cfg.LogLevel != "debug" || cfg.WebhookURL != "https://hooks.example.com/attest" {
			t.Fatalf("unexpected strings %+v", cfg)
		}
		if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.com" {
			t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
		}
	})

	t.Run("reports every invalid key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ATTEST_HTTP_PORT", "http")
		t.Setenv("ATTEST_DEFAULT_RADIUS_METERS", "-1")
		t.Setenv("ATTEST_PUBLIC_TOKEN_TTL", "0s")
		t.Setenv("ATTEST_WEBHOOK_URL", "ftp://example.com")
		t.Setenv("ATTEST_LOG_LEVEL", "loud")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		for _, key := range []string{"ATTEST_HTTP_PORT", "ATTEST_DEFAULT_RADIUS_METERS", "ATTEST_PUBLIC_TOKEN_TTL", "ATTEST_WEBHOOK_URL", "ATTEST_LOG_LEVEL"} {
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("expected %s in %q", key, err.Error())
			}
		}
	})

	t.Run("selects the memory backend", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ATTEST_DATABASE_URL", "memory:")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.Backend() != BackendMemory {
			t.Fatalf("expected memory backend, got %s", cfg.Backend())
		}
	})
}
