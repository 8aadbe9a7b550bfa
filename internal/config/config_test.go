package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
app:
  environment: test
venues:
  bybit:
    api_key: k
    api_secret: s
    hedged_mode: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Coordinator.MaxSubmitAttempts != 3 {
		t.Errorf("expected default max_submit_attempts 3, got %d", cfg.Coordinator.MaxSubmitAttempts)
	}
	if cfg.Coordinator.SubmitBackoffMin != 100*time.Millisecond {
		t.Errorf("expected default submit_backoff_min 100ms, got %v", cfg.Coordinator.SubmitBackoffMin)
	}
	if cfg.Coordinator.CleanupTimeout != 30*time.Second {
		t.Errorf("expected default cleanup_timeout 30s, got %v", cfg.Coordinator.CleanupTimeout)
	}
	if cfg.Journal.Path != "data/arber.db" {
		t.Errorf("expected default journal path, got %s", cfg.Journal.Path)
	}
	if cfg.Alert.Currency != "USDT" {
		t.Errorf("expected default alert currency USDT, got %s", cfg.Alert.Currency)
	}

	v := cfg.Venue("bybit")
	if v.APIKey != "k" || !v.HedgedMode {
		t.Errorf("unexpected venue config: %+v", v)
	}
	if missing := cfg.Venue("bitget"); missing.APIKey != "" {
		t.Errorf("expected zero value for unconfigured venue, got %+v", missing)
	}
}

func TestLoad_DurationStrings(t *testing.T) {
	path := writeConfig(t, `
app:
  environment: test
coordinator:
  poll_interval: 250ms
  cleanup_timeout: 1m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Coordinator.PollInterval != 250*time.Millisecond {
		t.Errorf("expected poll_interval 250ms, got %v", cfg.Coordinator.PollInterval)
	}
	if cfg.Coordinator.CleanupTimeout != time.Minute {
		t.Errorf("expected cleanup_timeout 1m, got %v", cfg.Coordinator.CleanupTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure on zero config")
	}

	msg := err.Error()
	for _, want := range []string{"app.environment", "coordinator.max_submit_attempts", "journal.path", "logging.level"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected validation error to mention %s, got: %s", want, msg)
		}
	}
}
