package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TOKENWARD_CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Scheduler.TickInterval != 5*time.Minute {
		t.Fatalf("expected default tick interval 5m, got %v", cfg.Scheduler.TickInterval)
	}
	if cfg.Scheduler.RefreshThreshold != 10*time.Minute {
		t.Fatalf("expected default refresh threshold 10m, got %v", cfg.Scheduler.RefreshThreshold)
	}
	if cfg.Notifications.Retention != 7*24*time.Hour {
		t.Fatalf("expected default retention 7d, got %v", cfg.Notifications.Retention)
	}
	if cfg.Events.Capacity != 500 {
		t.Fatalf("expected default event capacity 500, got %d", cfg.Events.Capacity)
	}
}

func TestLoadConfigFileWithEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(`
server:
  port: 9090
scheduler:
  tick_interval: "1m"
  refresh_threshold: "3m"
providers:
  jira:
    client_id: "cid"
    client_secret: "csecret"
    token_url: "https://auth.example.com/oauth/token"
logging:
  level: "debug"
`), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("TOKENWARD_CONFIG_FILE", cfgPath)
	t.Setenv("TOKENWARD_SERVER_PORT", "8081")
	t.Setenv("TOKENWARD_REFRESH_THRESHOLD", "7m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8081 {
		t.Fatalf("expected env override port 8081, got %d", cfg.Server.Port)
	}
	if cfg.Scheduler.TickInterval != time.Minute {
		t.Fatalf("expected file tick interval 1m, got %v", cfg.Scheduler.TickInterval)
	}
	if cfg.Scheduler.RefreshThreshold != 7*time.Minute {
		t.Fatalf("expected env refresh threshold 7m, got %v", cfg.Scheduler.RefreshThreshold)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging level debug, got %s", cfg.Logging.Level)
	}
	p, ok := cfg.Providers["jira"]
	if !ok {
		t.Fatal("expected jira provider from file")
	}
	if p.TokenURL != "https://auth.example.com/oauth/token" {
		t.Fatalf("unexpected token url: %s", p.TokenURL)
	}
}

func TestLoadEnvCoversSchedulerAndHousekeeping(t *testing.T) {
	t.Setenv("TOKENWARD_CONFIG_FILE", "")
	t.Setenv("TOKENWARD_BACKOFF_BASE", "3s")
	t.Setenv("TOKENWARD_BACKOFF_CAP", "90s")
	t.Setenv("TOKENWARD_MAX_PARALLEL", "16")
	t.Setenv("TOKENWARD_PURGE_INTERVAL", "30m")
	t.Setenv("TOKENWARD_EVENTS_CAPACITY", "1000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Scheduler.BackoffBase != 3*time.Second {
		t.Fatalf("expected backoff base 3s, got %v", cfg.Scheduler.BackoffBase)
	}
	if cfg.Scheduler.BackoffCap != 90*time.Second {
		t.Fatalf("expected backoff cap 90s, got %v", cfg.Scheduler.BackoffCap)
	}
	if cfg.Scheduler.MaxParallel != 16 {
		t.Fatalf("expected max parallel 16, got %d", cfg.Scheduler.MaxParallel)
	}
	if cfg.Notifications.PurgeInterval != 30*time.Minute {
		t.Fatalf("expected purge interval 30m, got %v", cfg.Notifications.PurgeInterval)
	}
	if cfg.Events.Capacity != 1000 {
		t.Fatalf("expected event capacity 1000, got %d", cfg.Events.Capacity)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(`
scheduler:
  tick_interval: "not-a-duration"
`), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("TOKENWARD_CONFIG_FILE", cfgPath)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestValidateRejectsProviderWithoutTokenURL(t *testing.T) {
	cfg := Defaults()
	cfg.Providers["jira"] = ProviderConfig{ClientID: "cid"}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for provider without token_url")
	}
}
