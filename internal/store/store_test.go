// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/olegiv/ocms-statistics/internal/store"
	"github.com/olegiv/ocms-statistics/internal/testutil"
)

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    store.Dialect
		wantErr bool
	}{
		{"", store.SQLite, false},
		{"sqlite", store.SQLite, false},
		{"SQLite3", store.SQLite, false},
		{"mysql", store.MySQL, false},
		{"mariadb", store.MySQL, false},
		{"postgres", store.Postgres, false},
		{"pgx", store.Postgres, false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := store.ParseDialect(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDialect(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDialect(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseDialect(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRebind(t *testing.T) {
	query := "SELECT * FROM t WHERE a = ? AND b = '?' AND c IN (?, ?)"

	if got := store.SQLite.Rebind(query); got != query {
		t.Errorf("SQLite.Rebind changed query: %q", got)
	}
	if got := store.MySQL.Rebind(query); got != query {
		t.Errorf("MySQL.Rebind changed query: %q", got)
	}

	want := "SELECT * FROM t WHERE a = $1 AND b = '?' AND c IN ($2, $3)"
	if got := store.Postgres.Rebind(query); got != want {
		t.Errorf("Postgres.Rebind = %q, want %q", got, want)
	}
}

func TestInsertIgnore(t *testing.T) {
	tests := []struct {
		dialect store.Dialect
		want    string
	}{
		{store.SQLite, "INSERT OR IGNORE INTO t (a, b) VALUES (?, ?)"},
		{store.MySQL, "INSERT IGNORE INTO t (a, b) VALUES (?, ?)"},
		{store.Postgres, "INSERT INTO t (a, b) VALUES (?, ?) ON CONFLICT DO NOTHING"},
	}

	for _, tt := range tests {
		if got := tt.dialect.InsertIgnore("t", "a", "b"); got != tt.want {
			t.Errorf("%s.InsertIgnore = %q, want %q", tt.dialect, got, tt.want)
		}
	}
}

func TestDriverAndGooseNames(t *testing.T) {
	if store.SQLite.DriverName() != "sqlite" || store.SQLite.GooseDialect() != "sqlite3" {
		t.Error("unexpected sqlite driver names")
	}
	if store.MySQL.DriverName() != "mysql" || store.MySQL.GooseDialect() != "mysql" {
		t.Error("unexpected mysql driver names")
	}
	if store.Postgres.DriverName() != "pgx" || store.Postgres.GooseDialect() != "postgres" {
		t.Error("unexpected postgres driver names")
	}
	if !store.Postgres.SupportsReturning() || store.MySQL.SupportsReturning() {
		t.Error("only postgres should report RETURNING support")
	}
}

func TestMigrateCreatesTables(t *testing.T) {
	db := testutil.TestDB(t)

	for _, table := range []string{
		"users", "event_log", "sessions",
		"statistics_ip_location", "statistics_download", "scheduler_job",
	} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testutil.TestDB(t)

	if err := store.Migrate(db, store.SQLite); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestTruncateToDaySQLite(t *testing.T) {
	db := testutil.TestDB(t)
	ctx := context.Background()

	date := time.Date(2024, 3, 9, 23, 59, 59, 0, time.UTC)
	if _, err := db.ExecContext(ctx,
		"INSERT INTO statistics_download (item_id, ip, date) VALUES (?, ?, ?)", 1, "10.0.0.1", date); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var day string
	q := "SELECT " + store.SQLite.TruncateToDay("date") + " FROM statistics_download"
	if err := db.QueryRowContext(ctx, q).Scan(&day); err != nil {
		t.Fatalf("select: %v", err)
	}
	if day != "2024-03-09" {
		t.Errorf("day = %q, want %q", day, "2024-03-09")
	}
}

func TestConditionalInsertHelpers(t *testing.T) {
	if got := store.MySQL.FromDual(); got != " FROM DUAL" {
		t.Errorf("MySQL.FromDual() = %q", got)
	}
	if got := store.SQLite.FromDual(); got != "" {
		t.Errorf("SQLite.FromDual() = %q", got)
	}
	if got := store.Postgres.Cast("?", "integer"); got != "?::integer" {
		t.Errorf("Postgres.Cast = %q", got)
	}
	if got := store.MySQL.Cast("?", "integer"); got != "?" {
		t.Errorf("MySQL.Cast = %q", got)
	}
	if got := store.Postgres.Rebind("SELECT ?::text, ?::integer"); got != "SELECT $1::text, $2::integer" {
		t.Errorf("Rebind with casts = %q", got)
	}
}
