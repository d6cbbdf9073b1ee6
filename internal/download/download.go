// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package download persists item download events and answers the range,
// location and per-day queries used by reporting.
package download

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olegiv/ocms-statistics/internal/store"
)

// DefaultLimit caps query results when the caller does not give a limit.
const DefaultLimit = 99999

// ErrInvalidEvent is returned by Record for events missing required fields.
var ErrInvalidEvent = errors.New("invalid download event")

// Event is a single recorded download of an item.
type Event struct {
	ID           int64
	ItemID       int64
	Date         time.Time
	IP           string
	UserID       sql.NullInt64
	IPLocationID sql.NullInt64

	// Set only by located queries.
	Latitude  sql.NullFloat64
	Longitude sql.NullFloat64
}

// Query selects download events. Zero Start or End leaves that side of
// the range open.
type Query struct {
	ItemIDs     []int64
	Start       time.Time
	End         time.Time
	Limit       int
	OnlyLocated bool
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// Store reads and writes the statistics_download table.
type Store struct {
	db      *sql.DB
	dialect store.Dialect
}

// NewStore creates a download store.
func NewStore(db *sql.DB, dialect store.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Record appends a download event and returns its id.
func (s *Store) Record(ctx context.Context, e Event) (int64, error) {
	if e.ItemID <= 0 || e.IP == "" || e.Date.IsZero() {
		return 0, ErrInvalidEvent
	}

	date := e.Date.UTC().Truncate(time.Second)
	query := "INSERT INTO statistics_download (item_id, date, ip, user_id, ip_location_id) VALUES (?, ?, ?, ?, ?)"
	args := []any{e.ItemID, date, e.IP, e.UserID, e.IPLocationID}

	if s.dialect.SupportsReturning() {
		var id int64
		err := s.db.QueryRowContext(ctx, s.dialect.Rebind(query+" RETURNING download_id"), args...).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("recording download: %w", err)
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("recording download: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading download id: %w", err)
	}
	return id, nil
}

// Query returns matching events, newest first.
func (s *Store) Query(ctx context.Context, q Query) ([]Event, error) {
	if len(q.ItemIDs) == 0 {
		return []Event{}, nil
	}

	cols := "d.download_id, d.item_id, d.date, d.ip, d.user_id, d.ip_location_id"
	if q.OnlyLocated {
		cols += ", ipl.latitude, ipl.longitude"
	}
	from, where, args := s.filter(q, q.OnlyLocated)
	query := "SELECT " + cols + " FROM " + from + " WHERE " + where +
		" ORDER BY d.date DESC, d.download_id DESC LIMIT ?"
	args = append(args, q.limit())

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying downloads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []Event{}
	for rows.Next() {
		var e Event
		dest := []any{&e.ID, &e.ItemID, &e.Date, &e.IP, &e.UserID, &e.IPLocationID}
		if q.OnlyLocated {
			dest = append(dest, &e.Latitude, &e.Longitude)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning download: %w", err)
		}
		e.Date = e.Date.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating downloads: %w", err)
	}
	return events, nil
}

// Count returns the number of located events matching q, capped by its limit.
// The location join is applied regardless of q.OnlyLocated.
func (s *Store) Count(ctx context.Context, q Query) (int64, error) {
	if len(q.ItemIDs) == 0 {
		return 0, nil
	}

	from, where, args := s.filter(q, true)
	query := "SELECT COUNT(*) FROM (SELECT d.download_id FROM " + from + " WHERE " + where + " LIMIT ?) matched"
	args = append(args, q.limit())

	var n int64
	if err := s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting downloads: %w", err)
	}
	return n, nil
}

// DailyCounts groups events per UTC calendar day ('YYYY-MM-DD'). Bounds are
// inclusive when given. Days without events are absent from the result.
func (s *Store) DailyCounts(ctx context.Context, itemIDs []int64, start, end *time.Time) (map[string]int64, error) {
	counts := make(map[string]int64)
	if len(itemIDs) == 0 {
		return counts, nil
	}

	q := Query{ItemIDs: itemIDs}
	if start != nil {
		q.Start = *start
	}
	if end != nil {
		q.End = *end
	}
	from, where, args := s.filter(q, false)

	day := s.dialect.TruncateToDay("d.date")
	query := "SELECT " + day + " AS day, COUNT(*) FROM " + from + " WHERE " + where +
		" GROUP BY " + day + " ORDER BY day"

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying daily counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			d string
			n int64
		)
		if err := rows.Scan(&d, &n); err != nil {
			return nil, fmt.Errorf("scanning daily count: %w", err)
		}
		counts[d] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating daily counts: %w", err)
	}
	return counts, nil
}

// CountSince returns per-item download totals for events at or after since.
func (s *Store) CountSince(ctx context.Context, since time.Time) (map[int64]int64, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		"SELECT item_id, COUNT(*) FROM statistics_download WHERE date >= ? GROUP BY item_id"),
		since.UTC())
	if err != nil {
		return nil, fmt.Errorf("counting downloads per item: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[int64]int64)
	for rows.Next() {
		var item, n int64
		if err := rows.Scan(&item, &n); err != nil {
			return nil, fmt.Errorf("scanning item count: %w", err)
		}
		counts[item] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating item counts: %w", err)
	}
	return counts, nil
}

// UnlinkUser clears the user reference on every event of the user.
// Calling it again, or for a user without events, is a no-op.
func (s *Store) UnlinkUser(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		"UPDATE statistics_download SET user_id = NULL WHERE user_id = ?"), userID)
	if err != nil {
		return 0, fmt.Errorf("unlinking user %d: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("unlinking user %d: %w", userID, err)
	}
	return n, nil
}

// filter renders the FROM and WHERE parts shared by all range queries.
func (s *Store) filter(q Query, located bool) (from, where string, args []any) {
	from = "statistics_download d"
	if located {
		from += " INNER JOIN statistics_ip_location ipl ON ipl.ip_location_id = d.ip_location_id"
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(q.ItemIDs)), ", ")
	conds := []string{"d.item_id IN (" + placeholders + ")"}
	for _, id := range q.ItemIDs {
		args = append(args, id)
	}

	if !q.Start.IsZero() {
		conds = append(conds, "d.date >= ?")
		args = append(args, q.Start.UTC())
	}
	if !q.End.IsZero() {
		conds = append(conds, "d.date <= ?")
		args = append(args, q.End.UTC())
	}
	if located {
		conds = append(conds, "ipl.latitude IS NOT NULL", "ipl.latitude <> 0")
	}

	return from, strings.Join(conds, " AND "), args
}
