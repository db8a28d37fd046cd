package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("DESKWATCH_WEBSOCKET_URL", "wss://desk.example/ws")
	t.Setenv("DESKWATCH_RECONNECT_DELAY", "5s")
	t.Setenv("DESKWATCH_TOKEN_QUERY_PARAM", "token")
	t.Setenv("DESKWATCH_METRICS_ENABLED", "true")
	t.Setenv("DESKWATCH_METRICS_PORT", "9100")
	t.Setenv("DESKWATCH_INFLUX_URL", "http://influx:8086")
	t.Setenv("DESKWATCH_INFLUX_INTERVAL", "30s")
	t.Setenv("DESKWATCH_APPRISE_URL", "https://apprise.example/send")
	t.Setenv("DESKWATCH_EMAIL_TO", "a@b.c, d@e.f ,")
	t.Setenv("DESKWATCH_NATS_FORWARD_TYPES", "alert,new_message")
	t.Setenv("DESKWATCH_INBOX_SIZE", "10")
	t.Setenv("DESKWATCH_DRY_RUN", "true")

	cfg := DefaultConfig()
	if err := ApplyEnvOverrides(cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides failed: %v", err)
	}
	if cfg.WebSocketURL != "wss://desk.example/ws" {
		t.Fatalf("unexpected websocket url: %s", cfg.WebSocketURL)
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Fatalf("expected reconnect delay 5s, got %v", cfg.ReconnectDelay)
	}
	if cfg.TokenQueryParam != "token" {
		t.Fatalf("unexpected token query param: %q", cfg.TokenQueryParam)
	}
	if !cfg.MetricsEnabled || cfg.MetricsPort != 9100 {
		t.Fatalf("unexpected metrics config: %v %d", cfg.MetricsEnabled, cfg.MetricsPort)
	}
	if cfg.InfluxURL != "http://influx:8086" || cfg.InfluxInterval != 30*time.Second {
		t.Fatalf("unexpected influx config: %s %v", cfg.InfluxURL, cfg.InfluxInterval)
	}
	if cfg.AppriseURL != "https://apprise.example/send" {
		t.Fatalf("unexpected apprise url: %v", cfg.AppriseURL)
	}
	if len(cfg.EmailTo) != 2 || cfg.EmailTo[1] != "d@e.f" {
		t.Fatalf("unexpected email recipients: %v", cfg.EmailTo)
	}
	if len(cfg.NATSForwardTypes) != 2 || cfg.NATSForwardTypes[0] != "alert" {
		t.Fatalf("unexpected nats forward types: %v", cfg.NATSForwardTypes)
	}
	if cfg.InboxSize != 10 || !cfg.DryRun {
		t.Fatalf("unexpected state config: %d %v", cfg.InboxSize, cfg.DryRun)
	}
}

func TestApplyEnvOverridesInvalid(t *testing.T) {
	cases := map[string]string{
		"DESKWATCH_RECONNECT_DELAY": "soon",
		"DESKWATCH_METRICS_PORT":    "ninety",
		"DESKWATCH_LOG_PRETTY":      "maybe",
	}
	for env, val := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			if err := ApplyEnvOverrides(DefaultConfig()); err == nil {
				t.Fatalf("expected error for %s=%s", env, val)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("DESKWATCH_USERNAME=agent7\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("DESKWATCH_USERNAME", "")
	os.Unsetenv("DESKWATCH_USERNAME")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envFile); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	cfg := DefaultConfig()
	if err := ApplyEnvOverrides(cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides failed: %v", err)
	}
	if cfg.Username != "agent7" {
		t.Fatalf("expected username from .env, got %q", cfg.Username)
	}
}
