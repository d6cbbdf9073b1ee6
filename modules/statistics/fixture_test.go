// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package statistics

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/ocms-statistics/internal/auth"
	"github.com/olegiv/ocms-statistics/internal/mailer"
	"github.com/olegiv/ocms-statistics/internal/module"
	"github.com/olegiv/ocms-statistics/internal/scheduler"
	"github.com/olegiv/ocms-statistics/internal/settings"
	"github.com/olegiv/ocms-statistics/internal/store"
	"github.com/olegiv/ocms-statistics/internal/testutil"
	"github.com/olegiv/ocms-statistics/internal/users"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) messages() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Message(nil), m.sent...)
}

type fixture struct {
	db        *sql.DB
	mod       *Module
	ctx       *module.Context
	jobs      *scheduler.JobStore
	runner    *scheduler.Runner
	gateway   *settings.Gateway
	configDir string
	users     *users.Store
	mail      *recordingMailer
	metrics   *prometheus.Registry
	admin     users.User
	editor    users.User
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	shipped, err := os.ReadFile(filepath.Join("configs", "module.ini"))
	require.NoError(t, err)

	db := testutil.TestDB(t)
	logger := testutil.TestLoggerSilent()
	configDir := t.TempDir()
	gateway := settings.NewGateway(configDir, testutil.TestModulesDir(t, ModuleName, string(shipped)))
	hooks := module.NewHookRegistry(logger)
	jobs := scheduler.NewJobStore(db, store.SQLite)
	locker := scheduler.NewLocalLocker()
	runner := scheduler.NewRunner(jobs, locker, logger)
	reg := prometheus.NewRegistry()
	mail := &recordingMailer{}

	ctx := &module.Context{
		DB:       db,
		Dialect:  store.SQLite,
		Logger:   logger,
		Hooks:    hooks,
		Jobs:     scheduler.NewRegistry(jobs, locker, logger),
		Runner:   runner,
		Settings: gateway,
		Metrics:  reg,
		Mailer:   mail,
	}

	m := New(opts...)
	require.NoError(t, m.Init(ctx))
	t.Cleanup(func() { _ = m.Shutdown() })

	f := &fixture{
		db:        db,
		mod:       m,
		ctx:       ctx,
		jobs:      jobs,
		runner:    runner,
		gateway:   gateway,
		configDir: configDir,
		users:     users.NewStore(db, store.SQLite, hooks),
		mail:      mail,
		metrics:   reg,
	}
	f.admin = f.createUser(t, "admin@example.com", users.RoleAdmin)
	f.editor = f.createUser(t, "editor@example.com", users.RoleEditor)
	return f
}

func (f *fixture) createUser(t *testing.T, email, role string) users.User {
	t.Helper()
	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	u, err := f.users.Create(context.Background(), users.User{Email: email, Name: email, PasswordHash: hash, Role: role})
	require.NoError(t, err)
	return u
}

func (f *fixture) adminPrincipal() Principal {
	return Principal{UserID: f.admin.ID, LoggedIn: true, Admin: true}
}

func (f *fixture) jobsFor(t *testing.T, task string) []scheduler.Job {
	t.Helper()
	jobs, err := f.jobs.GetJobsByTask(context.Background(), task)
	require.NoError(t, err)
	return jobs
}
