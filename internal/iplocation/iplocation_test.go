// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package iplocation_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/olegiv/ocms-statistics/internal/iplocation"
	"github.com/olegiv/ocms-statistics/internal/store"
	"github.com/olegiv/ocms-statistics/internal/testutil"
)

func newStore(t *testing.T) *iplocation.Store {
	t.Helper()
	return iplocation.NewStore(testutil.TestDB(t), store.SQLite)
}

func TestGetOrCreate_CreatesUnresolved(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	loc, err := s.GetOrCreate(ctx, "192.0.2.10")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if loc.ID == 0 {
		t.Error("location ID should not be 0")
	}
	if loc.Resolved() {
		t.Error("new location should be unresolved")
	}
	if got := iplocation.FormatCoordinate(loc.Latitude); got != "" {
		t.Errorf("latitude = %q, want empty", got)
	}

	again, err := s.GetOrCreate(ctx, "192.0.2.10")
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if again.ID != loc.ID {
		t.Errorf("second GetOrCreate returned id %d, want %d", again.ID, loc.ID)
	}
}

func TestGetOrCreate_Concurrent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	const workers = 8
	ids := make([]int64, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			loc, err := s.GetOrCreate(ctx, "198.51.100.1")
			ids[i], errs[i] = loc.ID, err
		}(i)
	}
	wg.Wait()

	for i := range workers {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("worker %d got id %d, want %d", i, ids[i], ids[0])
		}
	}

	unresolved, err := s.GetAllUnresolved(ctx)
	if err != nil {
		t.Fatalf("GetAllUnresolved: %v", err)
	}
	if len(unresolved) != 1 {
		t.Errorf("got %d locations, want 1", len(unresolved))
	}
}

func TestGetOrCreate_EmptyIP(t *testing.T) {
	s := newStore(t)
	if _, err := s.GetOrCreate(context.Background(), ""); err == nil {
		t.Error("GetOrCreate(\"\") should fail")
	}
}

func TestGetByIP_NotFound(t *testing.T) {
	s := newStore(t)

	_, err := s.GetByIP(context.Background(), "203.0.113.99")
	if !errors.Is(err, iplocation.ErrNotFound) {
		t.Errorf("GetByIP error = %v, want ErrNotFound", err)
	}
}

func TestResolve_ZeroIsResolved(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	loc, err := s.GetOrCreate(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	other, err := s.GetOrCreate(ctx, "5.6.7.8")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if err := s.Resolve(ctx, loc.ID, 0, 0); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	unresolved, err := s.GetAllUnresolved(ctx)
	if err != nil {
		t.Fatalf("GetAllUnresolved: %v", err)
	}
	if len(unresolved) != 1 || unresolved[0].ID != other.ID {
		t.Fatalf("unresolved = %+v, want only %s", unresolved, other.IP)
	}

	got, err := s.GetByIP(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("GetByIP: %v", err)
	}
	if lat := iplocation.FormatCoordinate(got.Latitude); lat != "0" {
		t.Errorf("latitude = %q, want %q", lat, "0")
	}
	if lon := iplocation.FormatCoordinate(got.Longitude); lon != "0" {
		t.Errorf("longitude = %q, want %q", lon, "0")
	}

	n, err := s.CountUnresolved(ctx)
	if err != nil {
		t.Fatalf("CountUnresolved: %v", err)
	}
	if n != 1 {
		t.Errorf("CountUnresolved = %d, want 1", n)
	}
}

func TestResolve_Overwrites(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	loc, err := s.GetOrCreate(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := s.Resolve(ctx, loc.ID, 1.5, 2.5); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := s.Resolve(ctx, loc.ID, -33.8688, 151.2093); err != nil {
		t.Fatalf("Resolve again: %v", err)
	}

	got, err := s.GetByIP(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("GetByIP: %v", err)
	}
	if got.Latitude.Float64 != -33.8688 || got.Longitude.Float64 != 151.2093 {
		t.Errorf("coordinates = %v,%v", got.Latitude.Float64, got.Longitude.Float64)
	}
}

func TestResolve_SameCoordinatesTwice(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	loc, err := s.GetOrCreate(ctx, "5.6.7.8")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Resolve(ctx, loc.ID, 10, 20); err != nil {
			t.Fatalf("Resolve #%d: %v", i+1, err)
		}
	}
}

func TestResolve_UnknownID(t *testing.T) {
	s := newStore(t)

	err := s.Resolve(context.Background(), 12345, 1, 1)
	if !errors.Is(err, iplocation.ErrNotFound) {
		t.Errorf("Resolve error = %v, want ErrNotFound", err)
	}
}

func TestFormatCoordinate(t *testing.T) {
	tests := []struct {
		in   sql.NullFloat64
		want string
	}{
		{sql.NullFloat64{}, ""},
		{sql.NullFloat64{Valid: true}, "0"},
		{sql.NullFloat64{Float64: 52.52, Valid: true}, "52.52"},
		{sql.NullFloat64{Float64: -0.1278, Valid: true}, "-0.1278"},
		{sql.NullFloat64{Float64: 13, Valid: true}, "13"},
	}

	for _, tt := range tests {
		if got := iplocation.FormatCoordinate(tt.in); got != tt.want {
			t.Errorf("FormatCoordinate(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
