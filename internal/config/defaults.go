// Package config provides default values for configuration.
package config

import "time"

const (
	DefaultConfigFile = "config.yaml"

	DefaultHost         = "0.0.0.0"
	DefaultPort         = 8080
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second

	DefaultDatabasePath = "data/tokenward.db"
	DefaultKeyPath      = "data/vault.key"

	DefaultTickInterval     = 5 * time.Minute
	DefaultRefreshThreshold = 10 * time.Minute
	DefaultExchangeTimeout  = 10 * time.Second
	DefaultMaxAttempts      = 4
	DefaultBackoffBase      = 2 * time.Second
	DefaultBackoffCap       = 60 * time.Second
	DefaultMaxParallel      = 8

	DefaultNotificationRetention = 7 * 24 * time.Hour
	DefaultPurgeInterval         = 1 * time.Hour

	DefaultEventCapacity = 500

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
		},
		Database: DatabaseConfig{
			Path: DefaultDatabasePath,
		},
		Crypto: CryptoConfig{
			KeyPath: DefaultKeyPath,
		},
		Scheduler: SchedulerConfig{
			TickInterval:     DefaultTickInterval,
			RefreshThreshold: DefaultRefreshThreshold,
			ExchangeTimeout:  DefaultExchangeTimeout,
			MaxAttempts:      DefaultMaxAttempts,
			BackoffBase:      DefaultBackoffBase,
			BackoffCap:       DefaultBackoffCap,
			MaxParallel:      DefaultMaxParallel,
		},
		Notifications: NotificationsConfig{
			Retention:     DefaultNotificationRetention,
			PurgeInterval: DefaultPurgeInterval,
		},
		Events: EventsConfig{
			Capacity: DefaultEventCapacity,
		},
		Providers: make(map[string]ProviderConfig),
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
