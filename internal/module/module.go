// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package module provides the contract feature modules implement to plug
// their routes, scheduled tasks and hooks into the service.
package module

import (
	"database/sql"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/olegiv/ocms-statistics/internal/config"
	"github.com/olegiv/ocms-statistics/internal/mailer"
	"github.com/olegiv/ocms-statistics/internal/scheduler"
	"github.com/olegiv/ocms-statistics/internal/settings"
	"github.com/olegiv/ocms-statistics/internal/store"
)

// Context provides access to application services for modules.
type Context struct {
	DB       *sql.DB
	Dialect  store.Dialect
	Logger   *slog.Logger
	Config   *config.Config
	Hooks    *HookRegistry
	Jobs     *scheduler.Registry
	Runner   *scheduler.Runner
	Settings *settings.Gateway
	Metrics  prometheus.Registerer
	// Mailer is nil when SMTP is not configured.
	Mailer mailer.Mailer
}

// Module defines the interface that all modules must implement.
type Module interface {
	// Name returns the module name. It also names the module's INI file.
	Name() string
	// Version returns the module version.
	Version() string
	// Description returns the module description.
	Description() string
	// Dependencies returns the names of modules that must be registered first.
	Dependencies() []string

	// Init initializes the module with the given context.
	Init(ctx *Context) error
	// Shutdown performs cleanup when the module is shutting down.
	Shutdown() error

	// RegisterRoutes registers public routes for the module.
	RegisterRoutes(r chi.Router)
	// RegisterAdminRoutes registers routes mounted under /admin.
	RegisterAdminRoutes(r chi.Router)

	// AdminURL returns the module's admin page, or "" if it has none.
	AdminURL() string
}

// BaseModule provides no-op implementations modules can embed.
type BaseModule struct {
	name        string
	version     string
	description string
	ctx         *Context
}

// NewBaseModule creates a new BaseModule with the given metadata.
func NewBaseModule(name, version, description string) BaseModule {
	return BaseModule{
		name:        name,
		version:     version,
		description: description,
	}
}

// Name returns the module name.
func (m *BaseModule) Name() string { return m.name }

// Version returns the module version.
func (m *BaseModule) Version() string { return m.version }

// Description returns the module description.
func (m *BaseModule) Description() string { return m.description }

// Dependencies returns no dependencies.
func (m *BaseModule) Dependencies() []string { return nil }

// Init stores the context.
func (m *BaseModule) Init(ctx *Context) error {
	m.ctx = ctx
	return nil
}

// Shutdown does nothing.
func (m *BaseModule) Shutdown() error { return nil }

// RegisterRoutes registers nothing.
func (m *BaseModule) RegisterRoutes(_ chi.Router) {}

// RegisterAdminRoutes registers nothing.
func (m *BaseModule) RegisterAdminRoutes(_ chi.Router) {}

// AdminURL returns "".
func (m *BaseModule) AdminURL() string { return "" }

// Context returns the module context.
func (m *BaseModule) Context() *Context { return m.ctx }
