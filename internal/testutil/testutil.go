// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package testutil provides shared test helpers for the statistics service.
package testutil

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/olegiv/ocms-statistics/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

// TestLogger creates a silent test logger that only outputs warnings and errors.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

// TestLoggerSilent creates a completely silent test logger (error level only).
func TestLoggerSilent() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// TestDB creates a temporary SQLite database with all migrations applied.
// The database is closed when the test finishes.
func TestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "statistics-test.db")

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	// One connection keeps concurrent test writers from hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := store.Migrate(db, store.SQLite); err != nil {
		_ = db.Close()
		t.Fatalf("Migrate: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}

// ProductionSQLite opens a temporary database through store.Open, the path
// the service takes in production (modernc.org/sqlite with its DSN
// normalisation and pragmas), and applies all migrations.
func ProductionSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := store.Open(store.SQLite, filepath.Join(t.TempDir(), "statistics.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := store.Migrate(db, store.SQLite); err != nil {
		_ = db.Close()
		t.Fatalf("Migrate: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestModulesDir creates a modules directory holding a shipped module.ini
// for the named module and returns the directory path.
func TestModulesDir(t *testing.T, module, ini string) string {
	t.Helper()

	dir := t.TempDir()
	configs := filepath.Join(dir, module, "configs")
	if err := os.MkdirAll(configs, 0o755); err != nil {
		t.Fatalf("creating module configs dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configs, "module.ini"), []byte(ini), 0o644); err != nil {
		t.Fatalf("writing module.ini: %v", err)
	}
	return dir
}
