// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package statistics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/ocms-statistics/internal/download"
	"github.com/olegiv/ocms-statistics/internal/module"
	"github.com/olegiv/ocms-statistics/internal/testutil"
)

func TestModuleMetadata(t *testing.T) {
	m := New()
	assert.Equal(t, ModuleName, m.Name())
	assert.Equal(t, "1.0.0", m.Version())
	assert.Equal(t, "/statistics/config", m.AdminURL())
}

func TestModuleInit_RequiresSettingsAndJobs(t *testing.T) {
	ctx := &module.Context{
		DB:     testutil.TestDB(t),
		Logger: testutil.TestLoggerSilent(),
	}
	assert.Error(t, New().Init(ctx))
}

func TestModuleHooks(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, 1, f.ctx.Hooks.HandlerCount(module.HookUserBeforeDelete))

	require.NoError(t, f.mod.Shutdown())
	assert.Equal(t, 0, f.ctx.Hooks.HandlerCount(module.HookUserBeforeDelete))
}

func TestUserDelete_UnlinksDownloads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.recordDownload(t, 3, "198.51.100.9", time.Now(), f.editor.ID)
	require.NoError(t, f.users.Delete(ctx, f.editor.ID))

	var userID *int64
	require.NoError(t, f.db.QueryRow(
		"SELECT user_id FROM statistics_download WHERE download_id = ?", id).Scan(&userID))
	assert.Nil(t, userID)

	events, err := f.mod.downloads.Query(ctx, download.Query{ItemIDs: []int64{3}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].UserID.Valid)
}

func TestOnUserDelete_BadPayload(t *testing.T) {
	f := newFixture(t)
	_, err := f.mod.onUserDelete(context.Background(), "7")
	assert.Error(t, err)
}
