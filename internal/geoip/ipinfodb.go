// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package geoip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIPInfoDBURL is the IPInfoDB city lookup endpoint.
const DefaultIPInfoDBURL = "https://api.ipinfodb.com/v3/ip-city/"

// ErrMissingAPIKey is returned when IPInfoDB is queried without a key.
var ErrMissingAPIKey = errors.New("ipinfodb api key is not configured")

// IPInfoDB queries the IPInfoDB web service. Requests from all keys share
// one rate limiter.
type IPInfoDB struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// IPInfoDBOption configures an IPInfoDB client.
type IPInfoDBOption func(*IPInfoDB)

// WithBaseURL overrides the service endpoint.
func WithBaseURL(u string) IPInfoDBOption {
	return func(c *IPInfoDB) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) IPInfoDBOption {
	return func(c *IPInfoDB) { c.client = hc }
}

// WithRateLimit overrides the request rate.
func WithRateLimit(l rate.Limit, burst int) IPInfoDBOption {
	return func(c *IPInfoDB) { c.limiter = rate.NewLimiter(l, burst) }
}

// NewIPInfoDB creates a client allowing two requests per second.
func NewIPInfoDB(opts ...IPInfoDBOption) *IPInfoDB {
	c := &IPInfoDB{
		baseURL: DefaultIPInfoDBURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ipInfoDBResponse struct {
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
	CountryCode   string `json:"countryCode"`
	Latitude      string `json:"latitude"`
	Longitude     string `json:"longitude"`
}

// WithKey returns a Resolver that queries the service using apiKey.
func (c *IPInfoDB) WithKey(apiKey string) Resolver {
	return ResolverFunc(func(ctx context.Context, ip string) (Coordinates, error) {
		return c.Lookup(ctx, apiKey, ip)
	})
}

// Lookup resolves ip with the given API key.
func (c *IPInfoDB) Lookup(ctx context.Context, apiKey, ip string) (Coordinates, error) {
	if apiKey == "" {
		return Coordinates{}, ErrMissingAPIKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Coordinates{}, err
	}

	q := url.Values{}
	q.Set("key", apiKey)
	q.Set("ip", ip)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Coordinates{}, fmt.Errorf("building ipinfodb request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Coordinates{}, fmt.Errorf("ipinfodb request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Coordinates{}, fmt.Errorf("ipinfodb returned HTTP %d", resp.StatusCode)
	}

	var body ipInfoDBResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err != nil {
		return Coordinates{}, fmt.Errorf("decoding ipinfodb response: %w", err)
	}
	if body.StatusCode != "OK" {
		return Coordinates{}, fmt.Errorf("ipinfodb error: %s %s", body.StatusCode, body.StatusMessage)
	}
	if body.CountryCode == "" || body.CountryCode == "-" {
		return Coordinates{}, ErrNoLocation
	}

	lat, err := strconv.ParseFloat(body.Latitude, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("ipinfodb latitude %q: %w", body.Latitude, err)
	}
	lon, err := strconv.ParseFloat(body.Longitude, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("ipinfodb longitude %q: %w", body.Longitude, err)
	}
	return Coordinates{Latitude: lat, Longitude: lon}, nil
}
