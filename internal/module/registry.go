// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package module

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Registry manages module registration and lifecycle.
type Registry struct {
	modules map[string]Module
	order   []string // initialization order
	logger  *slog.Logger
	mu      sync.RWMutex
}

// NewRegistry creates a new module registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		modules: make(map[string]Module),
		logger:  logger,
	}
}

// Register adds a module. Modules initialize in registration order.
func (r *Registry) Register(m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := m.Name()
	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("module %q already registered", name)
	}

	r.modules[name] = m
	r.order = append(r.order, name)
	r.logger.Info("module registered", "name", name, "version", m.Version())
	return nil
}

// Get returns a module by name.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[name]
	return m, ok
}

// List returns all registered modules in registration order.
func (r *Registry) List() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modules := make([]Module, 0, len(r.order))
	for _, name := range r.order {
		modules = append(modules, r.modules[name])
	}
	return modules
}

// InitAll checks dependencies, then initializes every module in order.
func (r *Registry) InitAll(ctx *Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.order))
	for _, name := range r.order {
		for _, dep := range r.modules[name].Dependencies() {
			if !seen[dep] {
				return fmt.Errorf("module %q depends on %q which is not registered before it", name, dep)
			}
		}
		seen[name] = true
	}

	for _, name := range r.order {
		if err := r.modules[name].Init(ctx); err != nil {
			return fmt.Errorf("initializing module %q: %w", name, err)
		}
		r.logger.Info("module initialized", "name", name)
	}
	return nil
}

// RouteAll mounts every module's public and admin routes.
func (r *Registry) RouteAll(public, admin chi.Router) {
	for _, m := range r.List() {
		m.RegisterRoutes(public)
		m.RegisterAdminRoutes(admin)
	}
}

// ShutdownAll shuts modules down in reverse order and joins their errors.
func (r *Registry) ShutdownAll() error {
	modules := r.List()

	var errs []error
	for i := len(modules) - 1; i >= 0; i-- {
		if err := modules[i].Shutdown(); err != nil {
			r.logger.Error("module shutdown failed", "name", modules[i].Name(), "error", err)
			errs = append(errs, fmt.Errorf("module %q: %w", modules[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}
