package app

import (
	"context"
	"testing"
	"time"

	"github.com/gmsas95/pillpal/internal/config"
	"github.com/gmsas95/pillpal/internal/session"
	"github.com/gmsas95/pillpal/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		version string
	}{
		{name: "create app with version", version: "1.0.0"},
		{name: "create app with dev version", version: "dev"},
		{name: "create app with empty version", version: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := New(nil, nil, nil, tt.version)
			if app == nil {
				t.Fatal("expected app to be created, got nil")
			}
			if app.Version != tt.version {
				t.Errorf("expected version %q, got %q", tt.version, app.Version)
			}
		})
	}
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Reminders.Timezone = "UTC"
	cfg.Channels.WebSocket.Enabled = true
	return cfg
}

func TestBuild_WiresServices(t *testing.T) {
	s := testutil.NewTestStore(t)
	app := New(testConfig(), s, zap.NewNop(), "test")

	require.NoError(t, app.Build())
	assert.NotNil(t, app.Scheduler)
	assert.NotNil(t, app.Intake)
	assert.NotNil(t, app.Checker)
	assert.NotNil(t, app.Hub)
	assert.Nil(t, app.TelegramBot)
	assert.Equal(t, time.UTC, app.Location)

	// idempotent
	scheduler := app.Scheduler
	require.NoError(t, app.Build())
	assert.Same(t, scheduler, app.Scheduler)
}

func TestBuild_ResyncThroughWebSocketChannel(t *testing.T) {
	s := testutil.NewTestStore(t)
	app := New(testConfig(), s, zap.NewNop(), "test")
	require.NoError(t, app.Build())

	start := testutil.Date(2125, time.January, 1)
	testutil.SeedSchedule(t, s, "p1", start, 1, 5, "08:00")

	res, err := app.Scheduler.Resync(context.Background(), session.Patient{ID: "p1", Location: time.UTC})
	require.NoError(t, err)
	assert.False(t, res.Disabled)
	assert.Equal(t, 1, res.Scheduled)

	n, err := app.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBuild_NoChannelsDisablesReminders(t *testing.T) {
	s := testutil.NewTestStore(t)
	cfg := testConfig()
	cfg.Channels.WebSocket.Enabled = false
	app := New(cfg, s, zap.NewNop(), "test")
	require.NoError(t, app.Build())

	testutil.SeedSchedule(t, s, "p1", testutil.Date(2125, time.January, 1), 1, 5, "08:00")
	res, err := app.Scheduler.Resync(context.Background(), session.Patient{ID: "p1", Location: time.UTC})
	require.NoError(t, err)
	assert.True(t, res.Disabled)
}

func TestBuild_InvalidTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.Reminders.Timezone = "Mars/Olympus"
	app := New(cfg, testutil.NewTestStore(t), zap.NewNop(), "test")
	assert.Error(t, app.Build())
}
