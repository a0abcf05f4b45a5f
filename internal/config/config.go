package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the gateway subsystem.
type Config struct {
	Broker   Broker   `yaml:"broker"`
	Cache    Cache    `yaml:"cache"`
	Timeouts Timeouts `yaml:"timeouts"`
	Journal  Journal  `yaml:"journal"`
	Logging  Logging  `yaml:"logging"`
}

// Broker identifies the venue session endpoint and credentials.
type Broker struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"` // 4001 = live, anything else = paper
	ClientID  int    `yaml:"client_id"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DryRun    bool   `yaml:"dry_run"` // route to the simulated venue
}

// Cache controls the connection manager's snapshot cache.
type Cache struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// Timeouts bounds the blocking gateway operations.
type Timeouts struct {
	ConnectSeconds    int `yaml:"connect_seconds"`
	DisconnectSeconds int `yaml:"disconnect_seconds"`
	OrderEchoMillis   int `yaml:"order_echo_millis"` // wait for first status echo
}

// Journal holds the order audit journal settings.
type Journal struct {
	SQLitePath string `yaml:"sqlite_path"` // empty disables the journal
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into
// a Config struct, applies environment variable overrides, and fills in
// defaults for anything left unset. An empty path skips the file and uses
// environment variables and defaults only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the gateway cannot operate with.
func (c *Config) Validate() error {
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port %d out of range", c.Broker.Port)
	}
	if c.Broker.ClientID <= 0 {
		return fmt.Errorf("broker.client_id must be positive, got %d", c.Broker.ClientID)
	}
	if !c.Broker.DryRun && c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required unless dry_run is set")
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v, ok := intEnv("BROKER_PORT"); ok {
		cfg.Broker.Port = v
	}
	if v, ok := intEnv("BROKER_CLIENT_ID"); ok {
		cfg.Broker.ClientID = v
	}
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("BROKER_API_SECRET"); v != "" {
		cfg.Broker.APISecret = v
	}
	if v := os.Getenv("BROKER_DRY_RUN"); v == "true" || v == "1" {
		cfg.Broker.DryRun = true
	}

	if v, ok := intEnv("CACHE_TTL_SECONDS"); ok {
		cfg.Cache.TTLSeconds = v
	}

	if v := os.Getenv("JOURNAL_SQLITE_PATH"); v != "" {
		cfg.Journal.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Canonical Alpaca env vars take highest priority; the SDK reads the
	// same names.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Broker.APISecret = v
	}
}

// applyDefaults fills unset fields with the gateway defaults.
func applyDefaults(cfg *Config) {
	if cfg.Broker.Host == "" {
		cfg.Broker.Host = "127.0.0.1"
	}
	if cfg.Broker.Port == 0 {
		cfg.Broker.Port = 4002 // paper
	}
	if cfg.Broker.ClientID == 0 {
		cfg.Broker.ClientID = 1
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 60
	}
	if cfg.Timeouts.ConnectSeconds == 0 {
		cfg.Timeouts.ConnectSeconds = 30
	}
	if cfg.Timeouts.DisconnectSeconds == 0 {
		cfg.Timeouts.DisconnectSeconds = 10
	}
	if cfg.Timeouts.OrderEchoMillis == 0 {
		cfg.Timeouts.OrderEchoMillis = 1000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func intEnv(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
