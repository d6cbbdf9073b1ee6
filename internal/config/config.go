// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads the process configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/olegiv/ocms-statistics/internal/store"
)

// knownWeakSecrets contains default/example secrets that must be rejected in production.
var knownWeakSecrets = []string{
	"change-me-to-32-byte-secret-key!",
	"REPLACE_WITH_YOUR_OWN_SECRET_KEY!",
}

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DBDriver      string `env:"STATS_DB_DRIVER" envDefault:"sqlite"`
	DBDSN         string `env:"STATS_DB_DSN" envDefault:"./data/statistics.db"`
	SessionSecret string `env:"STATS_SESSION_SECRET,required"`
	ServerHost    string `env:"STATS_SERVER_HOST" envDefault:"localhost"`
	ServerPort    int    `env:"STATS_SERVER_PORT" envDefault:"8080"`
	Env           string `env:"STATS_ENV" envDefault:"development"`
	LogLevel      string `env:"STATS_LOG_LEVEL" envDefault:"info"`

	// Module configuration files
	ConfigDir  string `env:"STATS_CONFIG_DIR" envDefault:"./configs"`  // Local overrides (<module>.local.ini)
	ModulesDir string `env:"STATS_MODULES_DIR" envDefault:"./modules"` // Shipped defaults (<module>/configs/module.ini)

	// GeoIP configuration
	GeoIPDBPath string `env:"STATS_GEOIP_DB_PATH"` // Path to GeoLite2-City.mmdb file

	// Optional Redis URL for cross-instance job locks
	RedisURL string `env:"STATS_REDIS_URL"`

	// Report delivery
	SMTPHost     string `env:"STATS_SMTP_HOST"`
	SMTPPort     int    `env:"STATS_SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"STATS_SMTP_USER"`
	SMTPPassword string `env:"STATS_SMTP_PASSWORD"`
	SMTPFrom     string `env:"STATS_SMTP_FROM" envDefault:"statistics@localhost"`

	MetricsEnabled bool `env:"STATS_METRICS_ENABLED" envDefault:"false"`

	// Seeding configuration
	DoSeed bool `env:"STATS_DO_SEED" envDefault:"false"` // Create the default admin user
}

// IsDevelopment returns true if the application is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ServerAddr returns the full server address in host:port format.
func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// Dialect returns the parsed database dialect. Load has already validated it.
func (c Config) Dialect() store.Dialect {
	d, err := store.ParseDialect(c.DBDriver)
	if err != nil {
		return store.SQLite
	}
	return d
}

// UseRedis returns true if a Redis server is configured.
func (c Config) UseRedis() bool {
	return c.RedisURL != ""
}

// GeoIPEnabled returns true if a GeoIP database is configured.
func (c Config) GeoIPEnabled() bool {
	return c.GeoIPDBPath != ""
}

// MailEnabled returns true if an SMTP relay is configured.
func (c Config) MailEnabled() bool {
	return c.SMTPHost != ""
}

// MinSessionSecretLength is the minimum required length for the session secret.
// AES-256 requires 32 bytes minimum for secure encryption.
const MinSessionSecretLength = 32

// Load parses environment variables and returns a Config struct.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if _, err := store.ParseDialect(cfg.DBDriver); err != nil {
		return nil, fmt.Errorf("STATS_DB_DRIVER: %w", err)
	}

	if len(cfg.SessionSecret) < MinSessionSecretLength {
		return nil, fmt.Errorf("STATS_SESSION_SECRET must be at least %d bytes long, got %d bytes; "+
			"generate a secure secret with: openssl rand -base64 32",
			MinSessionSecretLength, len(cfg.SessionSecret))
	}

	for _, weak := range knownWeakSecrets {
		if cfg.SessionSecret == weak {
			return nil, fmt.Errorf("STATS_SESSION_SECRET is a known default value and must not be used; " +
				"generate a secure secret with: openssl rand -base64 32")
		}
	}

	if !hasMinimumEntropy(cfg.SessionSecret) {
		slog.Warn("STATS_SESSION_SECRET has low character diversity; " +
			"consider generating a random secret with: openssl rand -base64 32")
	}

	return cfg, nil
}

// hasMinimumEntropy checks that a secret contains at least 3 character classes
// (lowercase, uppercase, digits, special characters).
func hasMinimumEntropy(s string) bool {
	charTypes := 0
	if strings.ContainsAny(s, "abcdefghijklmnopqrstuvwxyz") {
		charTypes++
	}
	if strings.ContainsAny(s, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		charTypes++
	}
	if strings.ContainsAny(s, "0123456789") {
		charTypes++
	}
	if strings.ContainsAny(s, "!@#$%^&*()-_=+[]{}|;:,.<>?/~`'\"\\") {
		charTypes++
	}
	return charTypes >= 3
}
