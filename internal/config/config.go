// Package config handles loading and validating daemon and pool
// configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joao-brasil/adaptive-pool/internal/pool"
	"github.com/joao-brasil/adaptive-pool/pkg/target"
	"gopkg.in/yaml.v3"
)

// DaemonConfig holds process-level settings for poold.
type DaemonConfig struct {
	InstanceID    string        `yaml:"instance_id"`
	StatsPort     int           `yaml:"stats_port"`
	MetricsPort   int           `yaml:"metrics_port"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// RedisConfig holds the coordinator's Redis connection settings. A missing
// addr disables the coordinator entirely.
type RedisConfig struct {
	Addr              string        `yaml:"addr"`
	Password          string        `yaml:"password"`
	DB                int           `yaml:"db"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTTL      time.Duration `yaml:"heartbeat_ttl"`
}

// PoolSpec pairs one pool's tunables with the target it connects to.
type PoolSpec struct {
	Target target.Target `yaml:"target"`
	Pool   pool.Config   `yaml:",inline"`
}

// Config is the root configuration structure.
type Config struct {
	Daemon DaemonConfig `yaml:"daemon"`
	Redis  RedisConfig  `yaml:"redis"`
	Pools  []PoolSpec
}

// daemonFileConfig mirrors the YAML structure of the daemon config file.
type daemonFileConfig struct {
	Daemon DaemonConfig `yaml:"daemon"`
	Redis  RedisConfig  `yaml:"redis"`
}

// poolsFileConfig mirrors the YAML structure of the pools config file.
type poolsFileConfig struct {
	Pools []PoolSpec `yaml:"pools"`
}

// Load reads and parses both the daemon and the pools configuration files.
func Load(daemonPath, poolsPath string) (*Config, error) {
	daemonData, err := os.ReadFile(daemonPath)
	if err != nil {
		return nil, fmt.Errorf("reading daemon config %s: %w", daemonPath, err)
	}

	var daemonFile daemonFileConfig
	if err := yaml.Unmarshal(daemonData, &daemonFile); err != nil {
		return nil, fmt.Errorf("parsing daemon config %s: %w", daemonPath, err)
	}

	poolsData, err := os.ReadFile(poolsPath)
	if err != nil {
		return nil, fmt.Errorf("reading pools config %s: %w", poolsPath, err)
	}

	var poolsFile poolsFileConfig
	if err := yaml.Unmarshal(poolsData, &poolsFile); err != nil {
		return nil, fmt.Errorf("parsing pools config %s: %w", poolsPath, err)
	}

	cfg := &Config{
		Daemon: daemonFile.Daemon,
		Redis:  daemonFile.Redis,
		Pools:  poolsFile.Pools,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	cfg.applyDefaults()

	return cfg, nil
}

// validate checks mandatory fields.
func (c *Config) validate() error {
	if len(c.Pools) == 0 {
		return fmt.Errorf("at least one pool must be configured")
	}
	seen := make(map[string]bool, len(c.Pools))
	for i, p := range c.Pools {
		if p.Pool.Name == "" {
			return fmt.Errorf("pools[%d].name is required", i)
		}
		if seen[p.Pool.Name] {
			return fmt.Errorf("pools[%d].name %q is duplicated", i, p.Pool.Name)
		}
		seen[p.Pool.Name] = true
		if p.Target.Host == "" {
			return fmt.Errorf("pools[%d].target.host is required", i)
		}
		if p.Target.Port == 0 {
			return fmt.Errorf("pools[%d].target.port is required", i)
		}
		if p.Pool.MaxSize == 0 {
			return fmt.Errorf("pools[%d].max_size is required", i)
		}
	}
	return nil
}

// applyDefaults fills in reasonable defaults for unset optional fields.
// Pool-level defaults are applied by the pool itself at construction.
func (c *Config) applyDefaults() {
	if c.Daemon.StatsPort == 0 {
		c.Daemon.StatsPort = 8080
	}
	if c.Daemon.MetricsPort == 0 {
		c.Daemon.MetricsPort = 9090
	}
	if c.Daemon.ShutdownGrace == 0 {
		c.Daemon.ShutdownGrace = 15 * time.Second
	}
	if c.Daemon.InstanceID == "" {
		hostname, _ := os.Hostname()
		c.Daemon.InstanceID = hostname
	}
	if c.Redis.Addr != "" {
		if c.Redis.DialTimeout == 0 {
			c.Redis.DialTimeout = 5 * time.Second
		}
		if c.Redis.ReadTimeout == 0 {
			c.Redis.ReadTimeout = 3 * time.Second
		}
		if c.Redis.WriteTimeout == 0 {
			c.Redis.WriteTimeout = 3 * time.Second
		}
		if c.Redis.HeartbeatInterval == 0 {
			c.Redis.HeartbeatInterval = 10 * time.Second
		}
		if c.Redis.HeartbeatTTL == 0 {
			c.Redis.HeartbeatTTL = 30 * time.Second
		}
	}
	for i := range c.Pools {
		if c.Pools[i].Target.ConnectTimeout == 0 {
			c.Pools[i].Target.ConnectTimeout = 30 * time.Second
		}
	}
}

// PoolByName returns the pool spec with the given name.
func (c *Config) PoolByName(name string) (*PoolSpec, bool) {
	for i := range c.Pools {
		if c.Pools[i].Pool.Name == name {
			return &c.Pools[i], true
		}
	}
	return nil, false
}
