package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileDuration time.Duration

func (d *fileDuration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!int" {
			var seconds int64
			if err := value.Decode(&seconds); err != nil {
				return err
			}
			*d = fileDuration(time.Duration(seconds) * time.Second)
			return nil
		}
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = fileDuration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration type")
	}
}

type configFile struct {
	Server        *serverFile                 `yaml:"server"`
	Database      *databaseFile               `yaml:"database"`
	Crypto        *cryptoFile                 `yaml:"crypto"`
	Scheduler     *schedulerFile              `yaml:"scheduler"`
	Notifications *notificationsFile          `yaml:"notifications"`
	Events        *eventsFile                 `yaml:"events"`
	Providers     map[string]providerFile     `yaml:"providers"`
	Logging       *loggingFile                `yaml:"logging"`
}

type serverFile struct {
	Host           *string       `yaml:"host"`
	Port           *int          `yaml:"port"`
	ReadTimeout    *fileDuration `yaml:"read_timeout"`
	WriteTimeout   *fileDuration `yaml:"write_timeout"`
	AllowedOrigins *[]string     `yaml:"allowed_origins"`
}

type databaseFile struct {
	Path *string `yaml:"path"`
}

type cryptoFile struct {
	KeyPath *string `yaml:"key_path"`
	Secret  *string `yaml:"secret"`
}

type schedulerFile struct {
	TickInterval     *fileDuration `yaml:"tick_interval"`
	RefreshThreshold *fileDuration `yaml:"refresh_threshold"`
	ExchangeTimeout  *fileDuration `yaml:"exchange_timeout"`
	MaxAttempts      *int          `yaml:"max_attempts"`
	BackoffBase      *fileDuration `yaml:"backoff_base"`
	BackoffCap       *fileDuration `yaml:"backoff_cap"`
	MaxParallel      *int          `yaml:"max_parallel"`
}

type notificationsFile struct {
	Retention     *fileDuration `yaml:"retention"`
	PurgeInterval *fileDuration `yaml:"purge_interval"`
}

type eventsFile struct {
	Capacity *int `yaml:"capacity"`
}

type providerFile struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

type loggingFile struct {
	Level  *string `yaml:"level"`
	Format *string `yaml:"format"`
}

// applyFile overlays the YAML file at path onto cfg. Absent keys leave the
// existing values untouched.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if f.Server != nil {
		applyString(f.Server.Host, &cfg.Server.Host)
		applyInt(f.Server.Port, &cfg.Server.Port)
		applyDuration(f.Server.ReadTimeout, &cfg.Server.ReadTimeout)
		applyDuration(f.Server.WriteTimeout, &cfg.Server.WriteTimeout)
		if f.Server.AllowedOrigins != nil {
			cfg.Server.AllowedOrigins = *f.Server.AllowedOrigins
		}
	}
	if f.Database != nil {
		applyString(f.Database.Path, &cfg.Database.Path)
	}
	if f.Crypto != nil {
		applyString(f.Crypto.KeyPath, &cfg.Crypto.KeyPath)
		applyString(f.Crypto.Secret, &cfg.Crypto.Secret)
	}
	if f.Scheduler != nil {
		applyDuration(f.Scheduler.TickInterval, &cfg.Scheduler.TickInterval)
		applyDuration(f.Scheduler.RefreshThreshold, &cfg.Scheduler.RefreshThreshold)
		applyDuration(f.Scheduler.ExchangeTimeout, &cfg.Scheduler.ExchangeTimeout)
		applyInt(f.Scheduler.MaxAttempts, &cfg.Scheduler.MaxAttempts)
		applyDuration(f.Scheduler.BackoffBase, &cfg.Scheduler.BackoffBase)
		applyDuration(f.Scheduler.BackoffCap, &cfg.Scheduler.BackoffCap)
		applyInt(f.Scheduler.MaxParallel, &cfg.Scheduler.MaxParallel)
	}
	if f.Notifications != nil {
		applyDuration(f.Notifications.Retention, &cfg.Notifications.Retention)
		applyDuration(f.Notifications.PurgeInterval, &cfg.Notifications.PurgeInterval)
	}
	if f.Events != nil {
		applyInt(f.Events.Capacity, &cfg.Events.Capacity)
	}
	for name, p := range f.Providers {
		cfg.Providers[name] = ProviderConfig{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			AuthURL:      p.AuthURL,
			TokenURL:     p.TokenURL,
			Scopes:       p.Scopes,
		}
	}
	if f.Logging != nil {
		applyString(f.Logging.Level, &cfg.Logging.Level)
		applyString(f.Logging.Format, &cfg.Logging.Format)
	}

	return nil
}

func applyString(src *string, dst *string) {
	if src != nil {
		*dst = *src
	}
}

func applyInt(src *int, dst *int) {
	if src != nil {
		*dst = *src
	}
}

func applyDuration(src *fileDuration, dst *time.Duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}
