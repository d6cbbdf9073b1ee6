// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package users

import (
	"context"
	"errors"
	"testing"

	"github.com/olegiv/ocms-statistics/internal/auth"
	"github.com/olegiv/ocms-statistics/internal/module"
	"github.com/olegiv/ocms-statistics/internal/store"
	"github.com/olegiv/ocms-statistics/internal/testutil"
)

func newTestStore(t *testing.T) (*Store, *module.HookRegistry) {
	t.Helper()
	hooks := module.NewHookRegistry(testutil.TestLogger())
	return NewStore(testutil.TestDB(t), store.SQLite, hooks), hooks
}

func createUser(t *testing.T, s *Store, email, role string) User {
	t.Helper()
	hash, err := auth.HashPassword("secret-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u, err := s.Create(context.Background(), User{Email: email, Name: "Test", PasswordHash: hash, Role: role})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return u
}

func TestCreateAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	u := createUser(t, s, "  Editor@Example.com ", "")
	if u.ID == 0 {
		t.Fatal("user ID should not be 0")
	}
	if u.Role != RoleEditor {
		t.Errorf("Role = %q, want %q", u.Role, RoleEditor)
	}

	got, err := s.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Email != "editor@example.com" {
		t.Errorf("Email = %q, want normalized address", got.Email)
	}

	byEmail, err := s.GetByEmail(ctx, "EDITOR@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if byEmail.ID != u.ID {
		t.Errorf("GetByEmail ID = %d, want %d", byEmail.ID, u.ID)
	}

	if _, err := s.Get(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCreate_DuplicateEmail(t *testing.T) {
	s, _ := newTestStore(t)
	createUser(t, s, "dup@example.com", RoleAdmin)

	hash, _ := auth.HashPassword("x")
	if _, err := s.Create(context.Background(), User{Email: "DUP@example.com", PasswordHash: hash}); err == nil {
		t.Error("Create with duplicate email should fail")
	}
}

func TestListAdmins(t *testing.T) {
	s, _ := newTestStore(t)
	a1 := createUser(t, s, "a1@example.com", RoleAdmin)
	createUser(t, s, "e1@example.com", RoleEditor)
	a2 := createUser(t, s, "a2@example.com", RoleAdmin)

	admins, err := s.ListAdmins(context.Background())
	if err != nil {
		t.Fatalf("ListAdmins: %v", err)
	}
	if len(admins) != 2 || admins[0].ID != a1.ID || admins[1].ID != a2.ID {
		t.Errorf("ListAdmins = %+v, want a1 and a2", admins)
	}
	if !admins[0].IsAdmin() {
		t.Error("IsAdmin() = false for admin")
	}
}

func TestDelete_FiresHook(t *testing.T) {
	s, hooks := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "gone@example.com", RoleEditor)

	var got int64
	hooks.RegisterFunc(module.HookUserBeforeDelete, "record", "test", func(_ context.Context, data any) (any, error) {
		got = data.(int64)
		return data, nil
	})

	if err := s.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got != u.ID {
		t.Errorf("hook received %d, want %d", got, u.ID)
	}
	if _, err := s.Get(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("user still present after Delete: %v", err)
	}
	if err := s.Delete(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestDelete_HookErrorAborts(t *testing.T) {
	s, hooks := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "kept@example.com", RoleEditor)

	hooks.RegisterFunc(module.HookUserBeforeDelete, "veto", "test", func(context.Context, any) (any, error) {
		return nil, errors.New("veto")
	})

	if err := s.Delete(ctx, u.ID); err == nil {
		t.Fatal("Delete should fail when a hook fails")
	}
	if _, err := s.Get(ctx, u.ID); err != nil {
		t.Errorf("user should remain after aborted delete: %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "login@example.com", RoleAdmin)

	got, err := s.Authenticate(ctx, "login@example.com", "secret-password")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("Authenticate ID = %d, want %d", got.ID, u.ID)
	}

	if _, err := s.Authenticate(ctx, "login@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := s.Authenticate(ctx, "nobody@example.com", "secret-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email error = %v, want ErrInvalidCredentials", err)
	}
}

func TestSeed(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	logger := testutil.TestLogger()

	if err := s.Seed(ctx, logger); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := s.Seed(ctx, logger); err != nil {
		t.Fatalf("second Seed: %v", err)
	}

	admins, err := s.ListAdmins(ctx)
	if err != nil {
		t.Fatalf("ListAdmins: %v", err)
	}
	if len(admins) != 1 || admins[0].Email != DefaultAdminEmail {
		t.Fatalf("admins = %+v, want only the default admin", admins)
	}
	if _, err := s.Authenticate(ctx, DefaultAdminEmail, DefaultAdminPassword); err != nil {
		t.Errorf("default admin cannot sign in: %v", err)
	}
}

func TestUpdatePasswordHash(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "rehash@example.com", RoleAdmin)

	hash, err := auth.HashPassword("new-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := s.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}
	if _, err := s.Authenticate(ctx, "rehash@example.com", "new-password"); err != nil {
		t.Errorf("Authenticate with new password: %v", err)
	}
	if err := s.UpdatePasswordHash(ctx, 9999, hash); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown user: err = %v, want ErrNotFound", err)
	}
}
