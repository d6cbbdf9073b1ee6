// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect identifies the SQL backend and renders the few statements that
// differ between backends. Queries are written with '?' placeholders and
// passed through Rebind before execution.
type Dialect string

// Supported dialects.
const (
	SQLite   Dialect = "sqlite"
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
)

// ParseDialect converts a driver name from configuration into a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", name)
	}
}

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case MySQL:
		return "mysql"
	case Postgres:
		return "pgx"
	default:
		return "sqlite"
	}
}

// GooseDialect returns the dialect name understood by goose.
func (d Dialect) GooseDialect() string {
	switch d {
	case MySQL:
		return "mysql"
	case Postgres:
		return "postgres"
	default:
		return "sqlite3"
	}
}

// Rebind rewrites '?' placeholders into the dialect's bind syntax.
// Question marks inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			sb.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// TruncateToDay returns an expression yielding the calendar day (UTC) of a
// timestamp column as 'YYYY-MM-DD' text, identical across backends.
func (d Dialect) TruncateToDay(column string) string {
	switch d {
	case MySQL:
		return "DATE_FORMAT(" + column + ", '%Y-%m-%d')"
	case Postgres:
		return "to_char(" + column + " AT TIME ZONE 'UTC', 'YYYY-MM-DD')"
	default:
		return "strftime('%Y-%m-%d', " + column + ")"
	}
}

// InsertIgnore renders an INSERT that silently does nothing when a unique
// constraint would be violated.
func (d Dialect) InsertIgnore(table string, columns ...string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	cols := strings.Join(columns, ", ")

	switch d {
	case MySQL:
		return "INSERT IGNORE INTO " + table + " (" + cols + ") VALUES (" + placeholders + ")"
	case Postgres:
		return "INSERT INTO " + table + " (" + cols + ") VALUES (" + placeholders + ") ON CONFLICT DO NOTHING"
	default:
		return "INSERT OR IGNORE INTO " + table + " (" + cols + ") VALUES (" + placeholders + ")"
	}
}

// FromDual returns the FROM clause needed by a table-less SELECT that has a
// WHERE clause. Only MySQL requires one.
func (d Dialect) FromDual() string {
	if d == MySQL {
		return " FROM DUAL"
	}
	return ""
}

// Cast annotates a placeholder with a type where the backend cannot infer
// it, as in the select list of INSERT ... SELECT on PostgreSQL.
func (d Dialect) Cast(placeholder, pgType string) string {
	if d == Postgres {
		return placeholder + "::" + pgType
	}
	return placeholder
}

// SupportsReturning reports whether INSERT ... RETURNING can be used to read
// generated ids. MySQL relies on LastInsertId instead.
func (d Dialect) SupportsReturning() bool {
	return d == Postgres
}
