// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package geoip resolves IP addresses to coordinates using a local MaxMind
// GeoLite2-City database and the IPInfoDB web service.
package geoip

import (
	"context"
	"errors"
	"net"
)

// ErrNoLocation is returned when a resolver has no position for an address.
var ErrNoLocation = errors.New("no location for address")

// Coordinates is a resolved position in decimal degrees.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Resolver maps an IP address to coordinates.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (Coordinates, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, ip string) (Coordinates, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, ip string) (Coordinates, error) {
	return f(ctx, ip)
}

// privateCIDRs contains parsed CIDR blocks for private IP ranges.
// Initialized once at package load time for efficiency.
var privateCIDRs []*net.IPNet

func init() {
	privateBlocks := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"100.64.0.0/10", // shared address space
		"fc00::/7",      // IPv6 unique local
		"fe80::/10",     // IPv6 link-local
	}

	for _, block := range privateBlocks {
		_, cidr, err := net.ParseCIDR(block)
		if err == nil {
			privateCIDRs = append(privateCIDRs, cidr)
		}
	}
}

// IsLocal reports whether ip is a loopback, unspecified or private address.
func IsLocal(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
		return true
	}
	for _, cidr := range privateCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// Local resolves private and loopback addresses to (0, 0). Any other
// address yields ErrNoLocation.
type Local struct{}

// Resolve implements Resolver.
func (Local) Resolve(_ context.Context, ip string) (Coordinates, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Coordinates{}, ErrNoLocation
	}
	if IsLocal(parsed) {
		return Coordinates{}, nil
	}
	return Coordinates{}, ErrNoLocation
}

// Chain tries each resolver in order and returns the first position found.
type Chain []Resolver

// Resolve implements Resolver. When every resolver fails, the last error
// other than ErrNoLocation is returned, or ErrNoLocation if there was none.
func (c Chain) Resolve(ctx context.Context, ip string) (Coordinates, error) {
	var lastErr error
	for _, r := range c {
		if r == nil {
			continue
		}
		coords, err := r.Resolve(ctx, ip)
		if err == nil {
			return coords, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Coordinates{}, ctxErr
		}
		if !errors.Is(err, ErrNoLocation) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return Coordinates{}, lastErr
	}
	return Coordinates{}, ErrNoLocation
}
