// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package geoip

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"
)

// MaxMind resolves coordinates from a GeoLite2-City database.
type MaxMind struct {
	db        *maxminddb.Reader
	dbPath    string
	dbModTime time.Time
	enabled   bool
	mu        sync.RWMutex
}

// cityRecord matches the location part of the GeoLite2-City structure.
type cityRecord struct {
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// NewMaxMind creates a MaxMind resolver. It is disabled until Init loads a database.
func NewMaxMind() *MaxMind {
	return &MaxMind{}
}

// Init loads the database from dbPath. An empty path leaves the resolver
// disabled without error.
func (m *MaxMind) Init(dbPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dbPath = dbPath
	if dbPath == "" {
		m.enabled = false
		return nil
	}
	return m.loadDatabase()
}

// loadDatabase loads or reloads the database. Caller must hold m.mu.
func (m *MaxMind) loadDatabase() error {
	info, err := os.Stat(m.dbPath)
	if err != nil {
		m.enabled = false
		if os.IsNotExist(err) {
			return fmt.Errorf("GeoIP database not found: %s", m.dbPath)
		}
		return fmt.Errorf("GeoIP database stat error: %w", err)
	}

	if m.db != nil && info.ModTime().Equal(m.dbModTime) {
		return nil
	}

	if m.db != nil {
		_ = m.db.Close()
		m.db = nil
	}

	db, err := maxminddb.Open(m.dbPath)
	if err != nil {
		m.enabled = false
		return fmt.Errorf("failed to open GeoIP database: %w", err)
	}

	m.db = db
	m.dbModTime = info.ModTime()
	m.enabled = true
	return nil
}

// Reload reopens the database if the file changed since it was loaded.
func (m *MaxMind) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dbPath == "" {
		return nil
	}
	return m.loadDatabase()
}

// IsEnabled returns whether a database is loaded.
func (m *MaxMind) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Resolve implements Resolver.
func (m *MaxMind) Resolve(_ context.Context, ip string) (Coordinates, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.enabled || m.db == nil {
		return Coordinates{}, ErrNoLocation
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Coordinates{}, ErrNoLocation
	}

	var record cityRecord
	_, ok, err := m.db.LookupNetwork(parsed, &record)
	if err != nil {
		return Coordinates{}, fmt.Errorf("maxmind lookup %s: %w", ip, err)
	}
	if !ok {
		return Coordinates{}, ErrNoLocation
	}

	return Coordinates{
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
	}, nil
}

// Close closes the database.
func (m *MaxMind) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		err := m.db.Close()
		m.db = nil
		m.enabled = false
		return err
	}
	return nil
}
