// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alexedwards/scs/v2"

	"github.com/olegiv/ocms-statistics/internal/session"
	"github.com/olegiv/ocms-statistics/internal/store"
	"github.com/olegiv/ocms-statistics/internal/users"
)

type fakeLoader map[int64]users.User

func (f fakeLoader) Get(_ context.Context, id int64) (users.User, error) {
	u, ok := f[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

// loginCookie logs userID in through a throwaway handler and returns the
// session cookie.
func loginCookie(t *testing.T, sm *scs.SessionManager, userID int64) *http.Cookie {
	t.Helper()
	h := sm.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sm.Put(r.Context(), session.KeyUserID, userID)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	for _, c := range rec.Result().Cookies() {
		if c.Name == sm.Cookie.Name {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func newSessionManager() *scs.SessionManager {
	return session.New(nil, store.MySQL, true)
}

func TestLoadUser(t *testing.T) {
	sm := newSessionManager()
	loader := fakeLoader{7: {ID: 7, Email: "admin@example.com", Role: users.RoleAdmin}}

	var got *users.User
	h := sm.LoadAndSave(LoadUser(sm, loader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetUser(r)
	})))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(loginCookie(t, sm, 7))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.ID != 7 {
		t.Fatalf("GetUser = %+v, want user 7", got)
	}
}

func TestLoadUser_Anonymous(t *testing.T) {
	sm := newSessionManager()

	called := false
	h := sm.LoadAndSave(LoadUser(sm, fakeLoader{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if GetUser(r) != nil {
			t.Error("expected no user")
		}
		if GetUserID(r) != 0 {
			t.Error("expected user id 0")
		}
	})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !called {
		t.Fatal("next handler not called")
	}
}

func TestLoadUser_DeletedUser(t *testing.T) {
	sm := newSessionManager()

	var got *users.User
	h := sm.LoadAndSave(LoadUser(sm, fakeLoader{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetUser(r)
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(loginCookie(t, sm, 99))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != nil {
		t.Errorf("expected anonymous request for deleted user, got %+v", got)
	}
}

func withUser(r *http.Request, u *users.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ContextKeyUser, u))
}

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RequireAdmin(ok)

	tests := []struct {
		name   string
		user   *users.User
		accept string
		want   int
	}{
		{"admin", &users.User{ID: 1, Role: users.RoleAdmin}, "", http.StatusOK},
		{"editor", &users.User{ID: 2, Role: users.RoleEditor}, "", http.StatusForbidden},
		{"anonymous json", nil, "application/json", http.StatusForbidden},
		{"anonymous browser", nil, "text/html", http.StatusSeeOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/statistics/config", nil)
			req.Header.Set("Accept", tt.accept)
			if tt.user != nil {
				req = withUser(req, tt.user)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestWriteJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "bad input")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := strings.TrimSpace(rec.Body.String())
	if body != `{"error":"bad input","success":false}` {
		t.Errorf("body = %s", body)
	}
}
