package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithSecret(t *testing.T) {
	t.Setenv("PILLPAL_SECURITY_JWT_SECRET", "test-secret")
	dataDir := t.TempDir()

	cfg, err := Load("", dataDir)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Reminders.HorizonDays)
	assert.Equal(t, "@every 1m", cfg.Reminders.ReconcileSpec)
	assert.Equal(t, filepath.Join(dataDir, "pillpal.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, "test-secret", cfg.Security.JWTSecret)
	assert.True(t, cfg.Channels.WebSocket.Enabled)
}

func TestLoad_ConfigFile(t *testing.T) {
	dataDir := t.TempDir()
	path := filepath.Join(dataDir, "custom.yaml")
	content := `server:
  port: 9090
reminders:
  timezone: Europe/Berlin
  horizon_days: 14
security:
  jwt_secret: from-file
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path, dataDir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 14, cfg.Reminders.HorizonDays)
	assert.Equal(t, "from-file", cfg.Security.JWTSecret)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoad_MissingSecret(t *testing.T) {
	os.Unsetenv("PILLPAL_SECURITY_JWT_SECRET")
	os.Unsetenv("PILLPAL_JWT_SECRET")

	_, err := Load("", t.TempDir())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad timezone", func(c *Config) { c.Reminders.Timezone = "Mars/Olympus" }, true},
		{"negative horizon", func(c *Config) { c.Reminders.HorizonDays = -1 }, true},
		{"telegram without token", func(c *Config) { c.Channels.Telegram.Enabled = true }, true},
		{"discord without token", func(c *Config) { c.Channels.Discord.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Reminders: RemindersConfig{Timezone: "UTC", HorizonDays: 30},
				Security:  SecurityConfig{JWTSecret: "s"},
			}
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultProvider(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{
		DefaultProvider: "openai",
		Providers: map[string]Provider{
			"openai":     {BaseURL: "https://api.openai.com/v1"},
			"openrouter": {APIKey: "k", BaseURL: "https://openrouter.ai/api/v1"},
		},
	}}

	_, err := cfg.DefaultProvider()
	assert.Error(t, err, "provider without key is not configured")

	configured := cfg.ConfiguredProviders()
	assert.Len(t, configured, 1)
	assert.Contains(t, configured, "openrouter")
}
