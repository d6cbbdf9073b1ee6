// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package iplocation stores the coordinates resolved for client IP addresses.
//
// A location is created unresolved (NULL coordinates) when an address is
// first seen and is resolved once by the geolocation task. Zero is a valid
// resolved coordinate and is kept distinct from the unresolved state.
package iplocation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/olegiv/ocms-statistics/internal/store"
)

// ErrNotFound is returned when no location matches the lookup.
var ErrNotFound = errors.New("ip location not found")

// Location is the stored position of one IP address.
type Location struct {
	ID        int64
	IP        string
	Latitude  sql.NullFloat64
	Longitude sql.NullFloat64
}

// Resolved reports whether coordinates have been written for the address.
func (l Location) Resolved() bool {
	return l.Latitude.Valid
}

// FormatCoordinate renders a coordinate the way reports and the admin API
// expose it: "" when unresolved, otherwise the shortest decimal form ("0"
// for zero).
func FormatCoordinate(c sql.NullFloat64) string {
	if !c.Valid {
		return ""
	}
	return strconv.FormatFloat(c.Float64, 'f', -1, 64)
}

// Store reads and writes the statistics_ip_location table.
type Store struct {
	db      *sql.DB
	dialect store.Dialect
}

// NewStore creates an IP location store.
func NewStore(db *sql.DB, dialect store.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// GetAllUnresolved returns every location whose latitude has not been set.
func (s *Store) GetAllUnresolved(ctx context.Context) ([]Location, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT ip_location_id, ip, latitude, longitude FROM statistics_ip_location "+
			"WHERE latitude IS NULL ORDER BY ip_location_id")
	if err != nil {
		return nil, fmt.Errorf("querying unresolved locations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	locations := []Location{}
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.IP, &l.Latitude, &l.Longitude); err != nil {
			return nil, fmt.Errorf("scanning location: %w", err)
		}
		locations = append(locations, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating locations: %w", err)
	}
	return locations, nil
}

// CountUnresolved returns the size of the geolocation backlog.
func (s *Store) CountUnresolved(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM statistics_ip_location WHERE latitude IS NULL").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unresolved locations: %w", err)
	}
	return n, nil
}

// GetByIP returns the location stored for ip.
func (s *Store) GetByIP(ctx context.Context, ip string) (Location, error) {
	var l Location
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		"SELECT ip_location_id, ip, latitude, longitude FROM statistics_ip_location WHERE ip = ?"), ip).
		Scan(&l.ID, &l.IP, &l.Latitude, &l.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return Location{}, ErrNotFound
	}
	if err != nil {
		return Location{}, fmt.Errorf("getting location for %s: %w", ip, err)
	}
	return l, nil
}

// Resolve writes coordinates for a location. A second call overwrites the
// first.
func (s *Store) Resolve(ctx context.Context, id int64, latitude, longitude float64) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		"UPDATE statistics_ip_location SET latitude = ?, longitude = ? WHERE ip_location_id = ?"),
		latitude, longitude, id)
	if err != nil {
		return fmt.Errorf("resolving location %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolving location %d: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	// Some drivers count only changed rows; rewriting the same coordinates
	// must still succeed.
	var exists int
	err = s.db.QueryRowContext(ctx, s.dialect.Rebind(
		"SELECT 1 FROM statistics_ip_location WHERE ip_location_id = ?"), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("resolving location %d: %w", id, err)
	}
	return nil
}

// GetOrCreate returns the location for ip, creating an unresolved one on
// first sight. Concurrent callers for the same address rely on the unique
// ip column and all observe the same record.
func (s *Store) GetOrCreate(ctx context.Context, ip string) (Location, error) {
	if ip == "" {
		return Location{}, errors.New("empty ip address")
	}

	if _, err := s.db.ExecContext(ctx,
		s.dialect.Rebind(s.dialect.InsertIgnore("statistics_ip_location", "ip")), ip); err != nil {
		return Location{}, fmt.Errorf("creating location for %s: %w", ip, err)
	}
	return s.GetByIP(ctx, ip)
}
