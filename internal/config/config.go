package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration for pillpal
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Channels     ChannelsConfig     `mapstructure:"channels"`
	Reminders    RemindersConfig    `mapstructure:"reminders"`
	Interactions InteractionsConfig `mapstructure:"interactions"`
	Security     SecurityConfig     `mapstructure:"security"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// LLMConfig holds language model settings
type LLMConfig struct {
	DefaultProvider string              `mapstructure:"default_provider"`
	Providers       map[string]Provider `mapstructure:"providers"`
}

// Provider holds individual LLM provider configuration
type Provider struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	Timeout   int    `mapstructure:"timeout"`
	MaxTokens int    `mapstructure:"max_tokens"`
	Priority  int    `mapstructure:"priority"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
}

// ChannelsConfig holds reminder delivery settings
type ChannelsConfig struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Discord   DiscordConfig   `mapstructure:"discord"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
}

// DiscordConfig holds Discord bot settings
type DiscordConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

// WebSocketConfig controls the device stream at /ws
type WebSocketConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RemindersConfig holds reminder scheduling settings
type RemindersConfig struct {
	Timezone             string `mapstructure:"timezone"`
	// HorizonDays caps triggers at this many days ahead instead of running
	// through the end of each schedule's window, so long and ongoing
	// schedules stay within platform trigger limits. The nightly resync
	// moves the horizon forward again. 0 disables the cap.
	HorizonDays          int    `mapstructure:"horizon_days"`
	DispatchInterval     int    `mapstructure:"dispatch_interval"` // seconds
	DefaultSnoozeMinutes int    `mapstructure:"default_snooze_minutes"`
	ReconcileSpec        string `mapstructure:"reconcile_spec"`
	ResyncSpec           string `mapstructure:"resync_spec"`
}

// InteractionsConfig holds AI interaction lookup settings
type InteractionsConfig struct {
	RequestsPerMinute  int `mapstructure:"requests_per_minute"`
	BreakerMaxFailures int `mapstructure:"breaker_max_failures"`
	BreakerOpenSeconds int `mapstructure:"breaker_open_seconds"`
	MaxFoodItemLength  int `mapstructure:"max_food_item_length"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	JWTSecret    string   `mapstructure:"jwt_secret"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}
	dataDir = expandPath(dataDir)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "pillpal.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "pillpal.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (PILLPAL_SERVER_PORT, PILLPAL_REMINDERS_TIMEZONE, etc.)
	v.SetEnvPrefix("PILLPAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Viper doesn't handle nested maps well with env vars
	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Watch re-reads configPath whenever it changes and hands the new config to
// onChange. Invalid edits are logged and ignored.
func Watch(configPath string, logger *zap.Logger, onChange func(*Config)) error {
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file not watchable: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("Ignoring invalid config change",
				zap.String("file", e.Name),
				zap.Error(err),
			)
			return
		}
		logger.Info("Config reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("llm.default_provider", "openai")
	v.SetDefault("llm.providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.providers.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.providers.openai.timeout", 60)
	v.SetDefault("llm.providers.openai.max_tokens", 1024)

	v.SetDefault("channels.websocket.enabled", true)

	v.SetDefault("reminders.timezone", "Local")
	v.SetDefault("reminders.horizon_days", 60)
	v.SetDefault("reminders.dispatch_interval", 15)
	v.SetDefault("reminders.default_snooze_minutes", 10)
	v.SetDefault("reminders.reconcile_spec", "@every 1m")
	v.SetDefault("reminders.resync_spec", "0 3 * * *")

	v.SetDefault("interactions.requests_per_minute", 30)
	v.SetDefault("interactions.breaker_max_failures", 5)
	v.SetDefault("interactions.breaker_open_seconds", 60)
	v.SetDefault("interactions.max_food_item_length", 200)

	v.SetDefault("security.allow_origins", []string{"*"})
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "pillpal")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "pillpal")
}

// loadEnvOverrides loads specific env vars that Viper doesn't handle well with nested maps
func loadEnvOverrides(cfg *Config) {
	cfg.LLM.DefaultProvider = GetEnvDefault("PILLPAL_LLM_DEFAULT_PROVIDER", cfg.LLM.DefaultProvider)

	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = make(map[string]Provider)
	}

	for _, name := range []string{"openai", "openrouter", "deepseek"} {
		prefix := "PILLPAL_LLM_PROVIDERS_" + strings.ToUpper(name) + "_"
		apiKey := ResolveEnvWithAliases(prefix + "API_KEY")
		if apiKey == "" {
			continue
		}
		p := cfg.LLM.Providers[name]
		p.APIKey = apiKey
		p.BaseURL = GetEnvDefault(prefix+"BASE_URL", p.BaseURL)
		p.Model = GetEnvDefault(prefix+"MODEL", p.Model)
		cfg.LLM.Providers[name] = p
	}

	cfg.Server.Address = GetEnvDefault("PILLPAL_SERVER_ADDRESS", cfg.Server.Address)
	if port := os.Getenv("PILLPAL_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if token := ResolveEnvWithAliases("PILLPAL_CHANNELS_TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Channels.Telegram.BotToken = token
	}
	if token := ResolveEnvWithAliases("PILLPAL_CHANNELS_DISCORD_TOKEN"); token != "" {
		cfg.Channels.Discord.Token = token
	}

	if secret := ResolveEnvWithAliases("PILLPAL_SECURITY_JWT_SECRET"); secret != "" {
		cfg.Security.JWTSecret = secret
	}
}

func validate(cfg *Config) error {
	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("reminders.timezone: %w", err)
	}

	if cfg.Reminders.HorizonDays < 0 {
		return fmt.Errorf("reminders.horizon_days must be >= 0")
	}
	if cfg.Reminders.DispatchInterval <= 0 {
		cfg.Reminders.DispatchInterval = 15
	}
	if cfg.Reminders.DefaultSnoozeMinutes <= 0 {
		cfg.Reminders.DefaultSnoozeMinutes = 10
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("channels.telegram.bot_token is required when telegram is enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		return fmt.Errorf("channels.discord.token is required when discord is enabled")
	}

	if cfg.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required")
	}

	return nil
}

// Location resolves the default patient timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Reminders.Timezone == "" || c.Reminders.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Reminders.Timezone)
}

// DefaultProvider returns the default provider configuration
func (c *Config) DefaultProvider() (Provider, error) {
	p, ok := c.LLM.Providers[c.LLM.DefaultProvider]
	if !ok || p.APIKey == "" {
		return Provider{}, fmt.Errorf("default provider %s not configured", c.LLM.DefaultProvider)
	}
	return p, nil
}

// ConfiguredProviders returns every provider with an API key
func (c *Config) ConfiguredProviders() map[string]Provider {
	out := make(map[string]Provider)
	for name, p := range c.LLM.Providers {
		if p.APIKey != "" {
			out[name] = p
		}
	}
	return out
}
