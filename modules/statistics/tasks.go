// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package statistics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/olegiv/ocms-statistics/internal/geoip"
	"github.com/olegiv/ocms-statistics/internal/mailer"
	"github.com/olegiv/ocms-statistics/internal/scheduler"
)

// GeolocationResult summarises one run of the geolocation task.
type GeolocationResult struct {
	Resolved   int
	Unresolved int
}

// defaultResolver tries private ranges first, then the local MaxMind
// database, then IPInfoDB.
func (m *Module) defaultResolver(apiKey string) geoip.Resolver {
	return geoip.Chain{geoip.Local{}, m.maxmind, m.ipinfodb.WithKey(apiKey)}
}

// geolocationAPIKey prefers the configured key over the one stored with the job.
func (m *Module) geolocationAPIKey(job scheduler.Job) string {
	cfg, err := m.ctx.Settings.Load(m.Name())
	if err != nil {
		m.ctx.Logger.Warn("loading statistics configuration for geolocation failed", "error", err)
	} else if cfg.IPInfoDBAPIKey != "" {
		return cfg.IPInfoDBAPIKey
	}
	return job.Param("apikey")
}

// PerformGeolocation resolves every IP location without coordinates.
// Addresses no resolver can place stay unresolved for the next run.
func (m *Module) PerformGeolocation(ctx context.Context, apiKey string) (GeolocationResult, error) {
	var res GeolocationResult

	pending, err := m.locations.GetAllUnresolved(ctx)
	if err != nil {
		return res, err
	}
	if len(pending) == 0 {
		return res, nil
	}

	resolver := m.newResolver(apiKey)
	for _, loc := range pending {
		coords, err := resolver.Resolve(ctx, loc.IP)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.Unresolved++
			if errors.Is(err, geoip.ErrNoLocation) || errors.Is(err, geoip.ErrMissingAPIKey) {
				m.metrics.geolocation.WithLabelValues("not_found").Inc()
				m.ctx.Logger.Debug("no location for address", "ip", loc.IP, "error", err)
				continue
			}
			m.metrics.geolocation.WithLabelValues("error").Inc()
			m.ctx.Logger.Warn("geolocation lookup failed", "ip", loc.IP, "error", err)
			continue
		}

		if err := m.locations.Resolve(ctx, loc.ID, coords.Latitude, coords.Longitude); err != nil {
			return res, err
		}
		m.metrics.geolocation.WithLabelValues("resolved").Inc()
		res.Resolved++
	}

	m.ctx.Logger.Info("geolocation finished", "resolved", res.Resolved, "unresolved", res.Unresolved)
	return res, nil
}

// GeolocateNow runs geolocation with the configured API key outside the
// schedule. It waits for any scheduled run to finish first so the two never
// resolve the same records concurrently.
func (m *Module) GeolocateNow(ctx context.Context) (GeolocationResult, error) {
	apiKey := ""
	if cfg, err := m.ctx.Settings.Load(m.Name()); err == nil {
		apiKey = cfg.IPInfoDBAPIKey
	}

	if m.ctx.Runner == nil {
		return m.PerformGeolocation(ctx, apiKey)
	}
	var res GeolocationResult
	err := m.ctx.Runner.Exclusive(ctx, func(ctx context.Context) error {
		var err error
		res, err = m.PerformGeolocation(ctx, apiKey)
		return err
	})
	return res, err
}

func (m *Module) runGeolocationTask(ctx context.Context, job scheduler.Job) error {
	if m.maxmind.IsEnabled() {
		if err := m.maxmind.Reload(); err != nil {
			m.ctx.Logger.Debug("GeoIP reload check", "error", err)
		}
	}
	_, err := m.PerformGeolocation(ctx, m.geolocationAPIKey(job))
	return err
}

func (m *Module) runReportTask(ctx context.Context, _ scheduler.Job) error {
	if m.ctx.Mailer == nil {
		m.ctx.Logger.Info("statistics report skipped, no mailer configured")
		return nil
	}
	return m.SendReport(ctx, m.now())
}

// SendReport mails the report for the 24 hours before now to every administrator.
func (m *Module) SendReport(ctx context.Context, now time.Time) error {
	report, err := m.BuildReport(ctx, now)
	if err != nil {
		return err
	}

	admins, err := m.users.ListAdmins(ctx)
	if err != nil {
		return err
	}
	to := make([]string, 0, len(admins))
	for _, a := range admins {
		to = append(to, a.Email)
	}
	if len(to) == 0 {
		m.ctx.Logger.Warn("statistics report has no recipients")
		return nil
	}

	if err := m.ctx.Mailer.Send(ctx, mailer.Message{
		To:      to,
		Subject: report.Subject(),
		Text:    report.Text(),
	}); err != nil {
		return fmt.Errorf("sending statistics report: %w", err)
	}

	m.ctx.Logger.Info("statistics report sent", "recipients", len(to), "downloads", report.Total)
	return nil
}
