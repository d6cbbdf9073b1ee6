// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package geoip

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"golang.org/x/time/rate"
)

func TestIsLocal(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.1.2.3", true},
		{"172.20.0.1", true},
		{"192.168.1.1", true},
		{"169.254.10.10", true},
		{"fd00::1", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		if got := IsLocal(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("IsLocal(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestLocal_Resolve(t *testing.T) {
	ctx := context.Background()

	coords, err := Local{}.Resolve(ctx, "127.0.0.1")
	if err != nil {
		t.Fatalf("Resolve(loopback): %v", err)
	}
	if coords != (Coordinates{}) {
		t.Errorf("loopback coords = %+v, want zero", coords)
	}

	if _, err := (Local{}).Resolve(ctx, "8.8.8.8"); !errors.Is(err, ErrNoLocation) {
		t.Errorf("Resolve(public) error = %v, want ErrNoLocation", err)
	}
	if _, err := (Local{}).Resolve(ctx, "not-an-ip"); !errors.Is(err, ErrNoLocation) {
		t.Errorf("Resolve(invalid) error = %v, want ErrNoLocation", err)
	}
}

func fixed(c Coordinates, err error) Resolver {
	return ResolverFunc(func(context.Context, string) (Coordinates, error) { return c, err })
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	paris := Coordinates{Latitude: 48.8566, Longitude: 2.3522}
	boom := errors.New("boom")

	tests := []struct {
		name    string
		chain   Chain
		want    Coordinates
		wantErr error
	}{
		{"first wins", Chain{fixed(paris, nil), fixed(Coordinates{}, boom)}, paris, nil},
		{"skips no location", Chain{fixed(Coordinates{}, ErrNoLocation), fixed(paris, nil)}, paris, nil},
		{"skips errors", Chain{fixed(Coordinates{}, boom), fixed(paris, nil)}, paris, nil},
		{"skips nil", Chain{nil, fixed(paris, nil)}, paris, nil},
		{"reports real error", Chain{fixed(Coordinates{}, boom), fixed(Coordinates{}, ErrNoLocation)}, Coordinates{}, boom},
		{"nothing found", Chain{fixed(Coordinates{}, ErrNoLocation)}, Coordinates{}, ErrNoLocation},
		{"empty", Chain{}, Coordinates{}, ErrNoLocation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.chain.Resolve(ctx, "203.0.113.5")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("coords = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMaxMind_Disabled(t *testing.T) {
	m := NewMaxMind()
	if err := m.Init(""); err != nil {
		t.Fatalf("Init(\"\"): %v", err)
	}
	if m.IsEnabled() {
		t.Error("IsEnabled() = true without database")
	}
	if _, err := m.Resolve(context.Background(), "8.8.8.8"); !errors.Is(err, ErrNoLocation) {
		t.Errorf("Resolve error = %v, want ErrNoLocation", err)
	}
	if err := m.Reload(); err != nil {
		t.Errorf("Reload without path: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestMaxMind_MissingDatabase(t *testing.T) {
	m := NewMaxMind()
	if err := m.Init(filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")); err == nil {
		t.Fatal("Init should fail for a missing database")
	}
	if m.IsEnabled() {
		t.Error("IsEnabled() = true after failed Init")
	}
}

func newIPInfoDBServer(t *testing.T, body string, status int, calls *atomic.Int32) *IPInfoDB {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("key") != "1234" || r.URL.Query().Get("format") != "json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewIPInfoDB(WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()), WithRateLimit(rate.Inf, 1))
}

func TestIPInfoDB_Lookup(t *testing.T) {
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		var calls atomic.Int32
		c := newIPInfoDBServer(t, `{"statusCode":"OK","statusMessage":"","ipAddress":"74.125.45.100",
			"countryCode":"US","latitude":"37.406","longitude":"-122.079"}`, http.StatusOK, &calls)

		got, err := c.WithKey("1234").Resolve(ctx, "74.125.45.100")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got.Latitude != 37.406 || got.Longitude != -122.079 {
			t.Errorf("coords = %+v", got)
		}
		if calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", calls.Load())
		}
	})

	t.Run("unknown address", func(t *testing.T) {
		var calls atomic.Int32
		c := newIPInfoDBServer(t, `{"statusCode":"OK","countryCode":"-","latitude":"0","longitude":"0"}`,
			http.StatusOK, &calls)
		if _, err := c.Lookup(ctx, "1234", "203.0.113.1"); !errors.Is(err, ErrNoLocation) {
			t.Errorf("error = %v, want ErrNoLocation", err)
		}
	})

	t.Run("service error", func(t *testing.T) {
		var calls atomic.Int32
		c := newIPInfoDBServer(t, `{"statusCode":"ERROR","statusMessage":"Invalid API key."}`,
			http.StatusOK, &calls)
		_, err := c.Lookup(ctx, "1234", "203.0.113.1")
		if err == nil || errors.Is(err, ErrNoLocation) {
			t.Errorf("error = %v, want service error", err)
		}
	})

	t.Run("http error", func(t *testing.T) {
		var calls atomic.Int32
		c := newIPInfoDBServer(t, `oops`, http.StatusBadGateway, &calls)
		if _, err := c.Lookup(ctx, "1234", "203.0.113.1"); err == nil {
			t.Error("expected error for HTTP 502")
		}
	})

	t.Run("missing key", func(t *testing.T) {
		var calls atomic.Int32
		c := newIPInfoDBServer(t, `{}`, http.StatusOK, &calls)
		if _, err := c.Lookup(ctx, "", "203.0.113.1"); !errors.Is(err, ErrMissingAPIKey) {
			t.Errorf("error = %v, want ErrMissingAPIKey", err)
		}
		if calls.Load() != 0 {
			t.Error("no request should be made without a key")
		}
	})
}

func TestIPInfoDB_RespectsContext(t *testing.T) {
	c := NewIPInfoDB(WithRateLimit(rate.Limit(0.001), 1))
	// Drain the single token.
	c.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Lookup(ctx, "1234", "8.8.8.8"); err == nil {
		t.Error("Lookup should fail with a cancelled context")
	}
}
