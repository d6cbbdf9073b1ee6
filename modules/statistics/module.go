// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package statistics records item downloads, geolocates the downloading
// addresses and mails a daily report. Administrators configure Piwik,
// IPInfoDB and the report switch through /statistics/config.
package statistics

import (
	"context"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/ocms-statistics/internal/download"
	"github.com/olegiv/ocms-statistics/internal/geoip"
	"github.com/olegiv/ocms-statistics/internal/iplocation"
	"github.com/olegiv/ocms-statistics/internal/middleware"
	"github.com/olegiv/ocms-statistics/internal/module"
	"github.com/olegiv/ocms-statistics/internal/users"
)

// ModuleName names the module and its INI file.
const ModuleName = "statistics"

// Module implements the statistics module.
type Module struct {
	module.BaseModule
	ctx *module.Context

	downloads *download.Store
	locations *iplocation.Store
	users     *users.Store
	workflow  *ConfigWorkflow
	metrics   *metrics

	maxmind     *geoip.MaxMind
	ipinfodb    *geoip.IPInfoDB
	newResolver func(apiKey string) geoip.Resolver
	now         func() time.Time
}

// Option customises a Module.
type Option func(*Module)

// WithResolver replaces the geolocation resolver chain.
func WithResolver(fn func(apiKey string) geoip.Resolver) Option {
	return func(m *Module) { m.newResolver = fn }
}

// WithIPInfoDB replaces the IPInfoDB client.
func WithIPInfoDB(c *geoip.IPInfoDB) Option {
	return func(m *Module) { m.ipinfodb = c }
}

// New creates the statistics module.
func New(opts ...Option) *Module {
	m := &Module{
		BaseModule: module.NewBaseModule(ModuleName, "1.0.0", "Download statistics"),
		maxmind:    geoip.NewMaxMind(),
		ipinfodb:   geoip.NewIPInfoDB(),
		now:        time.Now,
	}
	m.newResolver = m.defaultResolver
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init wires the stores, the user-delete hook and the task handlers.
func (m *Module) Init(ctx *module.Context) error {
	if ctx.Settings == nil || ctx.Jobs == nil {
		return fmt.Errorf("statistics module needs settings and a job registry")
	}
	m.ctx = ctx

	m.downloads = download.NewStore(ctx.DB, ctx.Dialect)
	m.locations = iplocation.NewStore(ctx.DB, ctx.Dialect)
	m.users = users.NewStore(ctx.DB, ctx.Dialect, ctx.Hooks)
	m.metrics = newMetrics(ctx.Metrics)
	m.workflow = NewConfigWorkflow(m.Name(), ctx.Settings, ctx.Jobs, ctx.Logger)
	m.workflow.metrics = m.metrics

	if _, err := ctx.Settings.Load(m.Name()); err != nil {
		ctx.Logger.Warn("statistics configuration is not readable", "error", err)
	}

	if ctx.Config != nil && ctx.Config.GeoIPEnabled() {
		if err := m.maxmind.Init(ctx.Config.GeoIPDBPath); err != nil {
			ctx.Logger.Warn("GeoIP database not available, falling back to IPInfoDB",
				"error", err,
				"path", ctx.Config.GeoIPDBPath,
			)
		} else {
			ctx.Logger.Info("GeoIP database loaded", "path", ctx.Config.GeoIPDBPath)
		}
	}

	if ctx.Hooks != nil {
		ctx.Hooks.RegisterFunc(module.HookUserBeforeDelete, "unlink_downloads", m.Name(), m.onUserDelete)
	}

	if ctx.Runner != nil {
		ctx.Runner.Handle(TaskPerformGeolocation, m.runGeolocationTask)
		ctx.Runner.Handle(TaskSendReport, m.runReportTask)
	}

	ctx.Logger.Info("Statistics module initialized", "geoip_enabled", m.maxmind.IsEnabled())
	return nil
}

// Shutdown releases the GeoIP database and the hook registrations.
func (m *Module) Shutdown() error {
	if m.ctx != nil && m.ctx.Hooks != nil {
		m.ctx.Hooks.UnregisterAll(m.Name())
	}
	if m.maxmind != nil {
		return m.maxmind.Close()
	}
	return nil
}

// Workflow returns the configuration workflow.
func (m *Module) Workflow() *ConfigWorkflow {
	return m.workflow
}

// RegisterRoutes registers the download beacon and the configuration page.
// The configuration routes check permissions themselves so that denials use
// the JSON error contract.
func (m *Module) RegisterRoutes(r chi.Router) {
	r.Post("/statistics/download", m.handleRecordDownload)
	m.registerConfigRoutes(r)
}

// RegisterAdminRoutes registers admin-only routes. The configuration page is
// also reachable here under /admin for admin navigation.
func (m *Module) RegisterAdminRoutes(r chi.Router) {
	m.registerConfigRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin)
		r.Get("/statistics/item/{id}", m.handleItemStats)
		r.Post("/statistics/geolocate", m.handleGeolocate)
	})
}

func (m *Module) registerConfigRoutes(r chi.Router) {
	r.Get("/statistics/config", m.handleConfigView)
	r.Post("/statistics/config", m.handleConfigSubmit)
}

// AdminURL returns the configuration page.
func (m *Module) AdminURL() string {
	return "/statistics/config"
}

// onUserDelete keeps the user's download events and clears their user reference.
func (m *Module) onUserDelete(ctx context.Context, data any) (any, error) {
	userID, ok := data.(int64)
	if !ok {
		return data, fmt.Errorf("user delete hook: unexpected payload %T", data)
	}
	n, err := m.downloads.UnlinkUser(ctx, userID)
	if err != nil {
		return data, err
	}
	if n > 0 {
		m.ctx.Logger.Info("download events unlinked from deleted user", "user_id", userID, "events", n)
	}
	return data, nil
}
