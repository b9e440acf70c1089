// Package config handles configuration loading from environment variables and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Crypto        CryptoConfig
	Scheduler     SchedulerConfig
	Notifications NotificationsConfig
	Events        EventsConfig
	Providers     map[string]ProviderConfig
	Logging       LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string
}

// CryptoConfig holds vault key settings. Secret, when set, takes precedence
// over the key file and is derived via HKDF; otherwise a key is generated at
// KeyPath on first start and reloaded afterwards.
type CryptoConfig struct {
	KeyPath string
	Secret  string
}

// SchedulerConfig holds refresh scheduler settings.
type SchedulerConfig struct {
	TickInterval     time.Duration
	RefreshThreshold time.Duration
	ExchangeTimeout  time.Duration
	MaxAttempts      int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	MaxParallel      int
}

// NotificationsConfig holds notification queue housekeeping settings.
type NotificationsConfig struct {
	Retention     time.Duration
	PurgeInterval time.Duration
}

// EventsConfig holds event log settings.
type EventsConfig struct {
	Capacity int
}

// ProviderConfig holds one OAuth provider's token endpoint settings.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variable overrides, then validates it.
func Load() (*Config, error) {
	cfg := Defaults()

	path := os.Getenv("TOKENWARD_CONFIG_FILE")
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides scalar settings from the environment.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "TOKENWARD_SERVER_HOST")
	setInt(&cfg.Server.Port, "TOKENWARD_SERVER_PORT")
	setString(&cfg.Database.Path, "TOKENWARD_DATABASE_PATH")
	setString(&cfg.Crypto.KeyPath, "TOKENWARD_KEY_PATH")
	setString(&cfg.Crypto.Secret, "TOKENWARD_VAULT_SECRET")
	setDuration(&cfg.Scheduler.TickInterval, "TOKENWARD_TICK_INTERVAL")
	setDuration(&cfg.Scheduler.RefreshThreshold, "TOKENWARD_REFRESH_THRESHOLD")
	setDuration(&cfg.Scheduler.ExchangeTimeout, "TOKENWARD_EXCHANGE_TIMEOUT")
	setInt(&cfg.Scheduler.MaxAttempts, "TOKENWARD_MAX_ATTEMPTS")
	setDuration(&cfg.Scheduler.BackoffBase, "TOKENWARD_BACKOFF_BASE")
	setDuration(&cfg.Scheduler.BackoffCap, "TOKENWARD_BACKOFF_CAP")
	setInt(&cfg.Scheduler.MaxParallel, "TOKENWARD_MAX_PARALLEL")
	setDuration(&cfg.Notifications.Retention, "TOKENWARD_NOTIFICATION_RETENTION")
	setDuration(&cfg.Notifications.PurgeInterval, "TOKENWARD_PURGE_INTERVAL")
	setInt(&cfg.Events.Capacity, "TOKENWARD_EVENTS_CAPACITY")
	setString(&cfg.Logging.Level, "TOKENWARD_LOG_LEVEL")
	setString(&cfg.Logging.Format, "TOKENWARD_LOG_FORMAT")

	if v := os.Getenv("TOKENWARD_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitAndTrim(v)
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Crypto.KeyPath == "" && c.Crypto.Secret == "" {
		return fmt.Errorf("either crypto key_path or vault secret is required")
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler tick_interval must be positive")
	}
	if c.Scheduler.RefreshThreshold <= 0 {
		return fmt.Errorf("scheduler refresh_threshold must be positive")
	}
	if c.Scheduler.ExchangeTimeout <= 0 {
		return fmt.Errorf("scheduler exchange_timeout must be positive")
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler max_attempts must be at least 1")
	}
	if c.Scheduler.MaxParallel < 1 {
		return fmt.Errorf("scheduler max_parallel must be at least 1")
	}
	if c.Scheduler.BackoffBase <= 0 || c.Scheduler.BackoffCap < c.Scheduler.BackoffBase {
		return fmt.Errorf("invalid scheduler backoff settings")
	}
	if c.Notifications.Retention <= 0 {
		return fmt.Errorf("notification retention must be positive")
	}
	if c.Events.Capacity < 1 {
		return fmt.Errorf("event log capacity must be at least 1")
	}
	for name, p := range c.Providers {
		if p.ClientID == "" || p.TokenURL == "" {
			return fmt.Errorf("provider %q requires client_id and token_url", name)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
