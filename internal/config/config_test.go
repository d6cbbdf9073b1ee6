// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"os"
	"testing"

	"github.com/olegiv/ocms-statistics/internal/store"
)

const testSecret = "test-secret-key-32-bytes-long!!!"

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set %s: %v", key, err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	setEnv(t, "STATS_SESSION_SECRET", testSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.DBDriver != "sqlite" {
		t.Errorf("DBDriver = %q, want %q", cfg.DBDriver, "sqlite")
	}
	if cfg.DBDSN != "./data/statistics.db" {
		t.Errorf("DBDSN = %q, want %q", cfg.DBDSN, "./data/statistics.db")
	}
	if cfg.ServerHost != "localhost" {
		t.Errorf("ServerHost = %q, want %q", cfg.ServerHost, "localhost")
	}
	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, 8080)
	}
	if cfg.ConfigDir != "./configs" {
		t.Errorf("ConfigDir = %q, want %q", cfg.ConfigDir, "./configs")
	}
	if cfg.ModulesDir != "./modules" {
		t.Errorf("ModulesDir = %q, want %q", cfg.ModulesDir, "./modules")
	}
	if cfg.SMTPPort != 587 {
		t.Errorf("SMTPPort = %d, want %d", cfg.SMTPPort, 587)
	}
	if cfg.MetricsEnabled {
		t.Error("MetricsEnabled should default to false")
	}
	if cfg.UseRedis() || cfg.MailEnabled() || cfg.GeoIPEnabled() {
		t.Error("optional integrations should be disabled by default")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Clearenv()
	setEnv(t, "STATS_SESSION_SECRET", testSecret)
	setEnv(t, "STATS_DB_DRIVER", "mysql")
	setEnv(t, "STATS_DB_DSN", "user:pass@tcp(db:3306)/stats")
	setEnv(t, "STATS_SERVER_PORT", "3000")
	setEnv(t, "STATS_ENV", "production")
	setEnv(t, "STATS_CONFIG_DIR", "/etc/midas")
	setEnv(t, "STATS_REDIS_URL", "redis://localhost:6379/0")
	setEnv(t, "STATS_SMTP_HOST", "smtp.example.com")
	setEnv(t, "STATS_GEOIP_DB_PATH", "/var/lib/GeoLite2-City.mmdb")
	setEnv(t, "STATS_METRICS_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Dialect() != store.MySQL {
		t.Errorf("Dialect() = %q, want %q", cfg.Dialect(), store.MySQL)
	}
	if cfg.ServerPort != 3000 {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, 3000)
	}
	if cfg.IsDevelopment() {
		t.Error("IsDevelopment() = true, want false")
	}
	if cfg.ConfigDir != "/etc/midas" {
		t.Errorf("ConfigDir = %q, want %q", cfg.ConfigDir, "/etc/midas")
	}
	if !cfg.UseRedis() || !cfg.MailEnabled() || !cfg.GeoIPEnabled() || !cfg.MetricsEnabled {
		t.Error("configured integrations should be enabled")
	}
}

func TestLoad_UnsupportedDriver(t *testing.T) {
	os.Clearenv()
	setEnv(t, "STATS_SESSION_SECRET", testSecret)
	setEnv(t, "STATS_DB_DRIVER", "oracle")

	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail for an unsupported driver")
	}
}

func TestLoad_RequiredSessionSecret(t *testing.T) {
	os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail when STATS_SESSION_SECRET is not set")
	}
}

func TestLoad_SessionSecretTooShort(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{"empty", ""},
		{"short", "short"},
		{"31_bytes", "1234567890123456789012345678901"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			setEnv(t, "STATS_SESSION_SECRET", tt.secret)

			if _, err := Load(); err == nil {
				t.Fatalf("Load() should fail with %d-byte secret", len(tt.secret))
			}
		})
	}
}

func TestLoad_RejectsKnownWeakSecret(t *testing.T) {
	os.Clearenv()
	setEnv(t, "STATS_SESSION_SECRET", knownWeakSecrets[0])

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject a known default secret")
	}
}

func TestConfig_ServerAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"localhost", 8080, "localhost:8080"},
		{"0.0.0.0", 3000, "0.0.0.0:3000"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			cfg := Config{ServerHost: tt.host, ServerPort: tt.port}
			if got := cfg.ServerAddr(); got != tt.want {
				t.Errorf("ServerAddr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasMinimumEntropy(t *testing.T) {
	tests := []struct {
		secret string
		want   bool
	}{
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false},
		{"abcABC123", true},
		{"abc-def-123", true},
		{"ABCDEF", false},
	}

	for _, tt := range tests {
		if got := hasMinimumEntropy(tt.secret); got != tt.want {
			t.Errorf("hasMinimumEntropy(%q) = %v, want %v", tt.secret, got, tt.want)
		}
	}
}
