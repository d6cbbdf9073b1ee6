// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package middleware provides HTTP middleware for authentication,
// authorization, and request context handling.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alexedwards/scs/v2"

	"github.com/olegiv/ocms-statistics/internal/session"
	"github.com/olegiv/ocms-statistics/internal/users"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

// ContextKeyUser holds the *users.User of the logged-in principal.
const ContextKeyUser ContextKey = "user"

// UserLoader is the part of the user store the middleware needs.
type UserLoader interface {
	Get(ctx context.Context, id int64) (users.User, error)
}

// LoadUser loads the session's user into the request context. Requests
// without a session pass through anonymously; a session pointing at a
// deleted user is destroyed.
func LoadUser(sm *scs.SessionManager, loader UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := sm.GetInt64(r.Context(), session.KeyUserID)
			if userID == 0 {
				next.ServeHTTP(w, r)
				return
			}

			user, err := loader.Get(r.Context(), userID)
			if err != nil {
				if !errors.Is(err, users.ErrNotFound) {
					slog.Error("loading session user failed", "user_id", userID, "error", err)
				}
				_ = sm.Destroy(r.Context())
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUser, &user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser retrieves the current user from the request context.
// Returns nil if no user is in context.
func GetUser(r *http.Request) *users.User {
	user, _ := r.Context().Value(ContextKeyUser).(*users.User)
	return user
}

// GetUserID returns the current user's ID from context, or 0 if not found.
func GetUserID(r *http.Request) int64 {
	if user := GetUser(r); user != nil {
		return user.ID
	}
	return 0
}

// RequireAdmin rejects requests that do not come from an administrator.
// Anonymous browser requests are redirected to the login page; everything
// else gets a JSON 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r)
		if user == nil && wantsHTML(r) && r.Method == http.MethodGet {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		if user == nil || !user.IsAdmin() {
			slog.Warn("access denied",
				"category", "auth",
				"method", r.Method,
				"path", r.URL.Path,
				"user_id", GetUserID(r),
				"remote_addr", r.RemoteAddr,
			)
			WriteJSONError(w, http.StatusForbidden, "Permission denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WriteJSONError writes {"success":false,"error":msg} with the given status.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   msg,
	})
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
