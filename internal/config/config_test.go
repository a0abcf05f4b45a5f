package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
broker:
  host: "gateway.internal"
  port: 4001
  client_id: 7
  api_key: "test-key"
  api_secret: "test-secret"
cache:
  ttl_seconds: 30
timeouts:
  connect_seconds: 15
  disconnect_seconds: 5
  order_echo_millis: 250
journal:
  sqlite_path: "/tmp/khazad/journal.db"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Broker.Host != "gateway.internal" {
		t.Errorf("Broker.Host = %q, want gateway.internal", cfg.Broker.Host)
	}
	if cfg.Broker.Port != 4001 {
		t.Errorf("Broker.Port = %d, want 4001", cfg.Broker.Port)
	}
	if cfg.Broker.ClientID != 7 {
		t.Errorf("Broker.ClientID = %d, want 7", cfg.Broker.ClientID)
	}
	if cfg.Cache.TTLSeconds != 30 {
		t.Errorf("Cache.TTLSeconds = %d, want 30", cfg.Cache.TTLSeconds)
	}
	if cfg.Timeouts.OrderEchoMillis != 250 {
		t.Errorf("Timeouts.OrderEchoMillis = %d, want 250", cfg.Timeouts.OrderEchoMillis)
	}
	if cfg.Journal.SQLitePath != "/tmp/khazad/journal.db" {
		t.Errorf("Journal.SQLitePath = %q", cfg.Journal.SQLitePath)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
broker:
  api_key: "k"
  api_secret: "s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Broker.Host != "127.0.0.1" {
		t.Errorf("Broker.Host = %q, want 127.0.0.1", cfg.Broker.Host)
	}
	if cfg.Broker.Port != 4002 {
		t.Errorf("Broker.Port = %d, want paper default 4002", cfg.Broker.Port)
	}
	if cfg.Broker.ClientID != 1 {
		t.Errorf("Broker.ClientID = %d, want 1", cfg.Broker.ClientID)
	}
	if cfg.Cache.TTLSeconds != 60 {
		t.Errorf("Cache.TTLSeconds = %d, want 60", cfg.Cache.TTLSeconds)
	}
	if cfg.Timeouts.ConnectSeconds != 30 || cfg.Timeouts.DisconnectSeconds != 10 {
		t.Errorf("Timeouts = %+v, want 30/10", cfg.Timeouts)
	}
	if cfg.Timeouts.OrderEchoMillis != 1000 {
		t.Errorf("Timeouts.OrderEchoMillis = %d, want 1000", cfg.Timeouts.OrderEchoMillis)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
broker:
  host: "file-host"
  port: 4002
  client_id: 1
  api_key: "file-key"
  api_secret: "file-secret"
`)

	t.Setenv("BROKER_HOST", "env-host")
	t.Setenv("BROKER_PORT", "4001")
	t.Setenv("BROKER_CLIENT_ID", "9")
	t.Setenv("CACHE_TTL_SECONDS", "120")
	t.Setenv("LOG_LEVEL", "warn")

	// Canonical Alpaca variables win over both file and BROKER_ keys.
	t.Setenv("BROKER_API_KEY", "broker-env-key")
	t.Setenv("APCA_API_KEY_ID", "apca-key")
	t.Setenv("APCA_API_SECRET_KEY", "apca-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Broker.Host != "env-host" {
		t.Errorf("Broker.Host = %q, want env-host", cfg.Broker.Host)
	}
	if cfg.Broker.Port != 4001 {
		t.Errorf("Broker.Port = %d, want 4001", cfg.Broker.Port)
	}
	if cfg.Broker.ClientID != 9 {
		t.Errorf("Broker.ClientID = %d, want 9", cfg.Broker.ClientID)
	}
	if cfg.Cache.TTLSeconds != 120 {
		t.Errorf("Cache.TTLSeconds = %d, want 120", cfg.Cache.TTLSeconds)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Broker.APIKey != "apca-key" {
		t.Errorf("Broker.APIKey = %q, want apca-key", cfg.Broker.APIKey)
	}
	if cfg.Broker.APISecret != "apca-secret" {
		t.Errorf("Broker.APISecret = %q, want apca-secret", cfg.Broker.APISecret)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Broker.Port = 70000 }},
		{"zero client id", func(c *Config) { c.Broker.ClientID = 0 }},
		{"missing api key", func(c *Config) { c.Broker.APIKey = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.Broker.Host = "127.0.0.1"
			cfg.Broker.Port = 4002
			cfg.Broker.ClientID = 1
			cfg.Broker.APIKey = "k"
			tc.mut(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDryRunSkipsCredentialCheck(t *testing.T) {
	cfg := &Config{}
	cfg.Broker.Host = "127.0.0.1"
	cfg.Broker.Port = 4002
	cfg.Broker.ClientID = 1
	cfg.Broker.DryRun = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil for dry run without key", err)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
