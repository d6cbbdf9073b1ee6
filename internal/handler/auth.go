// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"

	"github.com/olegiv/ocms-statistics/internal/auth"
	"github.com/olegiv/ocms-statistics/internal/middleware"
	"github.com/olegiv/ocms-statistics/internal/session"
	"github.com/olegiv/ocms-statistics/internal/users"
)

const (
	redirectLogin = "/login"
	redirectAdmin = "/statistics/config"
)

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="post" action="/login">
  <label>Email <input type="email" name="email" value="{{.Email}}" required></label>
  <label>Password <input type="password" name="password" required></label>
  <button type="submit">Sign in</button>
</form>
</body>
</html>
`))

type loginData struct {
	Email string
	Error string
}

// Authenticator is the part of the user store the login flow needs.
type Authenticator interface {
	Get(ctx context.Context, id int64) (users.User, error)
	Authenticate(ctx context.Context, email, password string) (users.User, error)
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
}

// AuthHandler handles authentication routes.
type AuthHandler struct {
	users           Authenticator
	sessionManager  *scs.SessionManager
	loginProtection *middleware.LoginProtection
	logger          *slog.Logger
}

// NewAuthHandler creates a new AuthHandler. lp may be nil.
func NewAuthHandler(u Authenticator, sm *scs.SessionManager, lp *middleware.LoginProtection, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		users:           u,
		sessionManager:  sm,
		loginProtection: lp,
		logger:          logger,
	}
}

// LoginForm renders the login page. Logged-in users go straight to the
// statistics admin page.
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	if userID := h.sessionManager.GetInt64(r.Context(), session.KeyUserID); userID > 0 {
		if _, err := h.users.Get(r.Context(), userID); err == nil {
			http.Redirect(w, r, redirectAdmin, http.StatusSeeOther)
			return
		}
	}
	h.renderLogin(w, http.StatusOK, loginData{})
}

// Login handles the login form submission.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.loginError(w, r, http.StatusBadRequest, "", "Invalid form data")
		return
	}

	email := r.FormValue("email")
	password := r.FormValue("password")
	if email == "" || password == "" {
		h.loginError(w, r, http.StatusBadRequest, email, "Email and password are required")
		return
	}

	if h.loginProtection != nil {
		if locked, remaining := h.loginProtection.IsAccountLocked(email); locked {
			h.logger.Warn("login attempt on locked account", "category", "auth", "email", email, "ip", middleware.ClientIP(r))
			h.loginError(w, r, http.StatusTooManyRequests, email,
				"Account temporarily locked. Try again in "+formatDuration(remaining))
			return
		}
	}

	user, err := h.users.Authenticate(r.Context(), email, password)
	if err != nil {
		if !errors.Is(err, users.ErrInvalidCredentials) {
			h.logger.Error("login failed", "error", err)
			h.loginError(w, r, http.StatusInternalServerError, email, "Internal Server Error")
			return
		}
		h.logger.Warn("login failed: invalid credentials", "category", "auth", "email", email, "ip", middleware.ClientIP(r))
		if h.loginProtection != nil {
			if locked, d := h.loginProtection.RecordFailedAttempt(email); locked {
				h.loginError(w, r, http.StatusTooManyRequests, email,
					"Too many failed attempts. Try again in "+formatDuration(d))
				return
			}
		}
		h.loginError(w, r, http.StatusUnauthorized, email, "Invalid email or password")
		return
	}

	if h.loginProtection != nil {
		h.loginProtection.RecordSuccessfulLogin(email)
	}

	if auth.NeedsRehash(user.PasswordHash) {
		if hash, err := auth.HashPassword(password); err == nil {
			if err := h.users.UpdatePasswordHash(r.Context(), user.ID, hash); err != nil {
				h.logger.Error("failed to re-hash password", "error", err, "user_id", user.ID)
			}
		}
	}

	// New token on privilege change.
	if err := h.sessionManager.RenewToken(r.Context()); err != nil {
		h.logger.Error("session renewal error", "error", err)
		h.loginError(w, r, http.StatusInternalServerError, email, "Internal Server Error")
		return
	}
	h.sessionManager.Put(r.Context(), session.KeyUserID, user.ID)

	h.logger.Info("user logged in", "user_id", user.ID, "email", user.Email)

	if wantsJSON(r) {
		writeJSONSuccess(w, map[string]any{"user_id": user.ID, "admin": user.IsAdmin()})
		return
	}
	http.Redirect(w, r, redirectAdmin, http.StatusSeeOther)
}

// Logout destroys the session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := h.sessionManager.GetInt64(r.Context(), session.KeyUserID)
	if err := h.sessionManager.Destroy(r.Context()); err != nil {
		h.logger.Error("session destroy error", "error", err)
	}
	h.logger.Info("user logged out", "user_id", userID)

	if wantsJSON(r) {
		writeJSONSuccess(w, nil)
		return
	}
	http.Redirect(w, r, redirectLogin, http.StatusSeeOther)
}

func (h *AuthHandler) loginError(w http.ResponseWriter, r *http.Request, status int, email, msg string) {
	if wantsJSON(r) {
		writeJSONError(w, status, msg)
		return
	}
	h.renderLogin(w, status, loginData{Email: email, Error: msg})
}

func (h *AuthHandler) renderLogin(w http.ResponseWriter, status int, data loginData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginTemplate.Execute(w, data); err != nil {
		h.logger.Error("render error", "error", err)
	}
}

// formatDuration formats a duration into a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", mins)
	}
	hours := int(d.Hours())
	if hours == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}
