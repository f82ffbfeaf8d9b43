// Package config handles loading and validating the engine's catalog
// attachment configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CatalogTarget describes one SQL Server database the host engine can
// attach as a catalog: how to reach it, how to authenticate, and how its
// dedicated pool should be sized (spec §4.6, SPEC_FULL §6.4).
type CatalogTarget struct {
	Context  string `yaml:"context"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	AppName  string `yaml:"app_name"`

	User     string `yaml:"user"`
	Password string `yaml:"password"`

	Encrypt         string `yaml:"encrypt"` // "off" | "on" | "required"
	TrustServerCert bool   `yaml:"trust_server_cert"`
	PacketSize      uint32 `yaml:"packet_size"`

	MaxConnections     int           `yaml:"max_connections"`
	MinWarmConnections int           `yaml:"min_warm_connections"`
	ConnectionTimeout  time.Duration `yaml:"connection_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	AcquireTimeout     time.Duration `yaml:"acquire_timeout"`

	BatchSize    int  `yaml:"batch_size"`
	BCPFlushRows int  `yaml:"bcp_flush_rows"`
	BCPTABLock   bool `yaml:"bcp_tablock"`
}

// DistributedConfig configures the optional cross-process capacity
// coordinator (spec §4.6 addition, SPEC_FULL §6's [ADD] options).
type DistributedConfig struct {
	RedisAddr         string        `yaml:"redis_addr"`
	RedisPassword     string        `yaml:"redis_password"`
	RedisDB           int           `yaml:"redis_db"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTTL      time.Duration `yaml:"heartbeat_ttl"`
	LocalLimitDivisor int           `yaml:"local_limit_divisor"`
}

// Config is the root configuration structure: every catalog this process
// attaches, plus the shared ambient surface (distributed coordination,
// metrics/health endpoints).
type Config struct {
	InstanceID  string            `yaml:"instance_id"`
	MetricsAddr string            `yaml:"metrics_addr"`
	HealthAddr  string            `yaml:"health_addr"`
	Distributed DistributedConfig `yaml:"distributed"`
	Catalogs    []CatalogTarget   `yaml:"catalogs"`
}

// Load reads and parses the catalog configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// validate checks mandatory fields, before any pool is created.
func (c *Config) validate() error {
	if len(c.Catalogs) == 0 {
		return fmt.Errorf("at least one catalog must be configured")
	}
	seen := make(map[string]bool, len(c.Catalogs))
	for i, t := range c.Catalogs {
		if t.Context == "" {
			return fmt.Errorf("catalogs[%d].context is required", i)
		}
		if seen[t.Context] {
			return fmt.Errorf("catalogs[%d].context %q is duplicated", i, t.Context)
		}
		seen[t.Context] = true
		if t.Host == "" {
			return fmt.Errorf("catalogs[%d].host is required", i)
		}
		if t.Port == 0 {
			return fmt.Errorf("catalogs[%d].port is required", i)
		}
		if t.MaxConnections == 0 {
			return fmt.Errorf("catalogs[%d].max_connections is required", i)
		}
	}
	return nil
}

// applyDefaults fills in reasonable defaults for unset optional fields.
func (c *Config) applyDefaults() {
	if c.InstanceID == "" {
		hostname, _ := os.Hostname()
		c.InstanceID = hostname
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.HealthAddr == "" {
		c.HealthAddr = ":8080"
	}

	if c.Distributed.RedisAddr != "" {
		if c.Distributed.HeartbeatInterval == 0 {
			c.Distributed.HeartbeatInterval = 10 * time.Second
		}
		if c.Distributed.HeartbeatTTL == 0 {
			c.Distributed.HeartbeatTTL = 30 * time.Second
		}
		if c.Distributed.LocalLimitDivisor == 0 {
			c.Distributed.LocalLimitDivisor = 3
		}
	}

	for i := range c.Catalogs {
		t := &c.Catalogs[i]
		if t.MinWarmConnections == 0 {
			t.MinWarmConnections = 2
		}
		if t.ConnectionTimeout == 0 {
			t.ConnectionTimeout = 30 * time.Second
		}
		if t.IdleTimeout == 0 {
			t.IdleTimeout = 5 * time.Minute
		}
		if t.AcquireTimeout == 0 {
			t.AcquireTimeout = 30 * time.Second
		}
		if t.BatchSize == 0 {
			t.BatchSize = 1000
		}
		if t.BCPFlushRows == 0 {
			t.BCPFlushRows = 10000
		}
		if t.PacketSize == 0 {
			t.PacketSize = 4096
		}
	}
}

// CatalogByContext returns the catalog target registered under context.
func (c *Config) CatalogByContext(context string) (*CatalogTarget, bool) {
	for i := range c.Catalogs {
		if c.Catalogs[i].Context == context {
			return &c.Catalogs[i], true
		}
	}
	return nil, false
}
