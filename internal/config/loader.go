package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/attendance-attest/internal/logging"
)

// Backend names the storage implementation selected by DatabaseURL.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendMemory   Backend = "memory"
)

// Config captures environment driven configuration values for the attendance service.
type Config struct {
	HTTPPort            int
	DatabaseURL         string
	DefaultRadiusMeters float64
	PublicTokenTTL      time.Duration
	MaxSyncBatch        int
	WebhookURL          string
	WebhookTimeout      time.Duration
	LogLevel            string
	CORSOrigins         []string
	ShutdownTimeout     time.Duration
}

// Backend reports which store DatabaseURL selects.
func (c Config) Backend() Backend {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return BackendPostgres
	case c.DatabaseURL == "memory:":
		return BackendMemory
	default:
		return BackendSQLite
	}
}

// Load parses configuration values from the current process environment.
//
// Every key is optional. Invalid values are collected and reported together so an
// operator can fix them in one pass.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:            8080,
		DatabaseURL:         "file:attest.db",
		DefaultRadiusMeters: 100,
		PublicTokenTTL:      30 * 24 * time.Hour,
		MaxSyncBatch:        500,
		WebhookTimeout:      5 * time.Second,
		LogLevel:            "info",
		ShutdownTimeout:     10 * time.Second,
	}

	invalid := make([]string, 0, 2)

	if portValue := env("ATTEST_HTTP_PORT"); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, "ATTEST_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dsn := env("ATTEST_DATABASE_URL"); dsn != "" {
		cfg.DatabaseURL = dsn
	}

	if radiusValue := env("ATTEST_DEFAULT_RADIUS_METERS"); radiusValue != "" {
		radius, err := strconv.ParseFloat(radiusValue, 64)
		if err != nil || !(radius > 0) {
			invalid = append(invalid, "ATTEST_DEFAULT_RADIUS_METERS")
		} else {
			cfg.DefaultRadiusMeters = radius
		}
	}

	if ttl, ok, err := duration("ATTEST_PUBLIC_TOKEN_TTL"); err != nil {
		invalid = append(invalid, "ATTEST_PUBLIC_TOKEN_TTL")
	} else if ok {
		cfg.PublicTokenTTL = ttl
	}

	if batchValue := env("ATTEST_MAX_SYNC_BATCH"); batchValue != "" {
		batch, err := strconv.Atoi(batchValue)
		if err != nil || batch <= 0 {
			invalid = append(invalid, "ATTEST_MAX_SYNC_BATCH")
		} else {
			cfg.MaxSyncBatch = batch
		}
	}

	if webhook := env("ATTEST_WEBHOOK_URL"); webhook != "" {
		if !strings.HasPrefix(webhook, "http://") && !strings.HasPrefix(webhook, "https://") {
			invalid = append(invalid, "ATTEST_WEBHOOK_URL")
		} else {
			cfg.WebhookURL = webhook
		}
	}

	if timeout, ok, err := duration("ATTEST_WEBHOOK_TIMEOUT"); err != nil {
		invalid = append(invalid, "ATTEST_WEBHOOK_TIMEOUT")
	} else if ok {
		cfg.WebhookTimeout = timeout
	}

	if timeout, ok, err := duration("ATTEST_SHUTDOWN_TIMEOUT"); err != nil {
		invalid = append(invalid, "ATTEST_SHUTDOWN_TIMEOUT")
	} else if ok {
		cfg.ShutdownTimeout = timeout
	}

	if level := env("ATTEST_LOG_LEVEL"); level != "" {
		if _, err := logging.ParseLevel(level); err != nil {
			invalid = append(invalid, "ATTEST_LOG_LEVEL")
		} else {
			cfg.LogLevel = strings.ToLower(level)
		}
	}

	if origins := env("ATTEST_CORS_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
			}
		}
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("config: invalid environment values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func duration(key string) (time.Duration, bool, error) {
	value := env(key)
	if value == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, err
	}
	if d <= 0 {
		return 0, false, fmt.Errorf("%s must be positive", key)
	}
	return d, true, nil
}
