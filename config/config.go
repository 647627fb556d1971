package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Registry   RegistryConfig   `yaml:"registry"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Audit      AuditConfig      `yaml:"audit"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port                  int     `yaml:"port"`
	RateLimitPerSec       float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst        int     `yaml:"rate_limit_burst"`
	IdempotencyTTLSeconds int     `yaml:"idempotency_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// AuthConfig holds token signing and bootstrap credentials.
type AuthConfig struct {
	TokenSecret     string        `yaml:"token_secret"`
	TokenTTLMinutes int           `yaml:"token_ttl_minutes"`
	TokenTTL        time.Duration `yaml:"-"` // Derived from TokenTTLMinutes
	AdminName       string        `yaml:"admin_name"`
	AdminPassword   string        `yaml:"admin_password"`
}

// DeviceEntry is one catalog entry: the seed of truth for a device's
// descriptive fields and pricing.
type DeviceEntry struct {
	ID         int64   `yaml:"id"`
	Name       string  `yaml:"name"`
	Category   string  `yaml:"category"`
	HourlyRate float64 `yaml:"hourly_rate"`
}

// RegistryConfig holds the device catalog and the optional resync schedule.
type RegistryConfig struct {
	Devices    []DeviceEntry `yaml:"devices"`
	ResyncCron string        `yaml:"resync_cron"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// AuditConfig holds the transaction audit log destination.
type AuditConfig struct {
	LogPath string `yaml:"log_path"`
}

// DefaultCatalog is the device catalog used when the config file does not
// override it.
func DefaultCatalog() []DeviceEntry {
	return []DeviceEntry{
		{ID: 1, Name: "Washing Machine 1", Category: "washer", HourlyRate: 1.20},
		{ID: 2, Name: "Washing Machine 2", Category: "washer", HourlyRate: 1.20},
		{ID: 3, Name: "Washing Machine 3", Category: "washer", HourlyRate: 1.20},
		{ID: 4, Name: "Dryer 1", Category: "dryer", HourlyRate: 1.50},
		{ID: 5, Name: "Dryer 2", Category: "dryer", HourlyRate: 1.50},
	}
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.IdempotencyTTLSeconds <= 0 {
		cfg.Server.IdempotencyTTLSeconds = 24 * 3600
	}

	if cfg.Auth.TokenSecret == "" {
		return nil, fmt.Errorf("auth.token_secret must be configured")
	}
	if cfg.Auth.TokenTTLMinutes <= 0 {
		cfg.Auth.TokenTTLMinutes = 30
	}
	cfg.Auth.TokenTTL = time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
	if cfg.Auth.AdminName == "" {
		cfg.Auth.AdminName = "admin"
	}

	if len(cfg.Registry.Devices) == 0 {
		cfg.Registry.Devices = DefaultCatalog()
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if cfg.Audit.LogPath == "" {
		cfg.Audit.LogPath = "transactions.log"
	}

	return &cfg, nil
}
