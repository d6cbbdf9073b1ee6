// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package users stores the accounts that may sign in to the admin pages.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/olegiv/ocms-statistics/internal/auth"
	"github.com/olegiv/ocms-statistics/internal/module"
	"github.com/olegiv/ocms-statistics/internal/store"
)

// Roles.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
)

// Default admin credentials created by Seed.
const (
	DefaultAdminEmail    = "admin@example.com"
	DefaultAdminPassword = "changeme"
	DefaultAdminName     = "Administrator"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned by Authenticate for a bad email or password.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// User is an account.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// IsAdmin reports whether the user has the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Store reads and writes the users table.
type Store struct {
	db      *sql.DB
	dialect store.Dialect
	hooks   *module.HookRegistry
}

// NewStore creates a user store. hooks may be nil.
func NewStore(db *sql.DB, dialect store.Dialect, hooks *module.HookRegistry) *Store {
	return &Store{db: db, dialect: dialect, hooks: hooks}
}

const userColumns = "id, email, name, password_hash, role, created_at"

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, err
}

// Get returns the user with the given id.
func (s *Store) Get(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		s.dialect.Rebind("SELECT "+userColumns+" FROM users WHERE id = ?"), id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return User{}, fmt.Errorf("getting user %d: %w", id, err)
	}
	return u, err
}

// GetByEmail returns the user with the given email, compared case-insensitively.
func (s *Store) GetByEmail(ctx context.Context, email string) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		s.dialect.Rebind("SELECT "+userColumns+" FROM users WHERE email = ?"), normalizeEmail(email)))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return User{}, fmt.Errorf("getting user by email: %w", err)
	}
	return u, err
}

// Create inserts a user with an already hashed password.
func (s *Store) Create(ctx context.Context, u User) (User, error) {
	u.Email = normalizeEmail(u.Email)
	if u.Email == "" || u.PasswordHash == "" {
		return User{}, errors.New("email and password hash are required")
	}
	if u.Role == "" {
		u.Role = RoleEditor
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.CreatedAt = u.CreatedAt.UTC().Truncate(time.Second)

	query := "INSERT INTO users (email, name, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)"
	args := []any{u.Email, u.Name, u.PasswordHash, u.Role, u.CreatedAt}

	if s.dialect.SupportsReturning() {
		if err := s.db.QueryRowContext(ctx, s.dialect.Rebind(query+" RETURNING id"), args...).Scan(&u.ID); err != nil {
			return User{}, fmt.Errorf("creating user: %w", err)
		}
		return u, nil
	}

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return User{}, fmt.Errorf("creating user: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return User{}, fmt.Errorf("reading user id: %w", err)
	}
	return u, nil
}

// ListAdmins returns every admin user ordered by id.
func (s *Store) ListAdmins(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.Rebind("SELECT "+userColumns+" FROM users WHERE role = ? ORDER BY id"), RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("listing admins: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var admins []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		admins = append(admins, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return admins, nil
}

// Delete removes a user after giving modules the chance to release their
// references through module.HookUserBeforeDelete. A hook error aborts the
// deletion.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	if s.hooks != nil {
		if err := s.hooks.CallNoResult(ctx, module.HookUserBeforeDelete, id); err != nil {
			return err
		}
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind("DELETE FROM users WHERE id = ?"), id); err != nil {
		return fmt.Errorf("deleting user %d: %w", id, err)
	}
	return nil
}

// Authenticate returns the user when email and password match.
func (s *Store) Authenticate(ctx context.Context, email, password string) (User, error) {
	u, err := s.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}

	ok, err := auth.VerifyPassword(password, u.PasswordHash)
	if err != nil {
		return User{}, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// UpdatePasswordHash replaces the stored hash of user id.
func (s *Store) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind("UPDATE users SET password_hash = ? WHERE id = ?"), hash, id)
	if err != nil {
		return fmt.Errorf("updating password of user %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Seed creates the default admin user unless it already exists.
func (s *Store) Seed(ctx context.Context, logger *slog.Logger) error {
	_, err := s.GetByEmail(ctx, DefaultAdminEmail)
	if err == nil {
		logger.Info("admin user already exists, skipping seed")
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("checking for admin user: %w", err)
	}

	hash, err := auth.HashPassword(DefaultAdminPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	u, err := s.Create(ctx, User{
		Email:        DefaultAdminEmail,
		Name:         DefaultAdminName,
		PasswordHash: hash,
		Role:         RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("creating admin user: %w", err)
	}

	logger.Info("created default admin user",
		"id", u.ID,
		"email", u.Email,
		"password", DefaultAdminPassword,
	)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
