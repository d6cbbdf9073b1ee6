// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package module

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Hook names fired by the core.
const (
	// HookUserBeforeDelete receives the id (int64) of a user about to be deleted.
	HookUserBeforeDelete = "user.before_delete"
)

// HookFunc handles a hook. It may return modified data for the next handler.
// A returned error stops the chain.
type HookFunc func(ctx context.Context, data any) (any, error)

// HookHandler wraps a HookFunc with metadata.
type HookHandler struct {
	Name     string // for logs
	Module   string
	Priority int // lower runs first
	Fn       HookFunc
}

// HookRegistry manages hook registration and execution.
type HookRegistry struct {
	hooks  map[string][]HookHandler
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewHookRegistry creates a new hook registry.
func NewHookRegistry(logger *slog.Logger) *HookRegistry {
	return &HookRegistry{
		hooks:  make(map[string][]HookHandler),
		logger: logger,
	}
}

// Register adds a handler for the hook.
func (h *HookRegistry) Register(hookName string, handler HookHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	handlers := append(h.hooks[hookName], handler)
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].Priority < handlers[j].Priority
	})
	h.hooks[hookName] = handlers

	h.logger.Debug("hook registered",
		"hook", hookName,
		"handler", handler.Name,
		"module", handler.Module,
		"priority", handler.Priority,
	)
}

// RegisterFunc registers fn with the default priority.
func (h *HookRegistry) RegisterFunc(hookName, handlerName, moduleName string, fn HookFunc) {
	h.Register(hookName, HookHandler{
		Name:   handlerName,
		Module: moduleName,
		Fn:     fn,
	})
}

// Call runs the handlers for hookName in priority order, threading data
// through them, and stops at the first error.
func (h *HookRegistry) Call(ctx context.Context, hookName string, data any) (any, error) {
	h.mu.RLock()
	handlers := h.hooks[hookName]
	h.mu.RUnlock()

	current := data
	for _, handler := range handlers {
		result, err := handler.Fn(ctx, current)
		if err != nil {
			h.logger.Error("hook handler error",
				"hook", hookName,
				"handler", handler.Name,
				"module", handler.Module,
				"error", err,
			)
			return nil, fmt.Errorf("hook %s handler %s: %w", hookName, handler.Name, err)
		}
		current = result
	}
	return current, nil
}

// CallNoResult runs the handlers and discards the result.
func (h *HookRegistry) CallNoResult(ctx context.Context, hookName string, data any) error {
	_, err := h.Call(ctx, hookName, data)
	return err
}

// HandlerCount returns the number of handlers registered for a hook.
func (h *HookRegistry) HandlerCount(hookName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.hooks[hookName])
}

// UnregisterAll removes all handlers registered by a module.
func (h *HookRegistry) UnregisterAll(moduleName string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, handlers := range h.hooks {
		kept := handlers[:0:0]
		for _, handler := range handlers {
			if handler.Module != moduleName {
				kept = append(kept, handler)
			}
		}
		h.hooks[name] = kept
	}
	h.logger.Debug("all hooks unregistered for module", "module", moduleName)
}
