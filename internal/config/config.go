// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package config loads and hot-reloads the orchestrator's nested
// server/redis/pools/instances/worker/retention/breaker configuration tree
// (plus the idempotency TTL and task directory) via viper, and watches the backing file for changes via fsnotify so
// scanner pool membership can be reloaded without a process restart.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nessorch/orchestrator/internal/registry"
)

// InstanceConfig is the on-disk shape of one scanner backend instance.
// Enabled is a *bool (rather than a plain bool) so viper/mapstructure can
// distinguish "key absent" (defaults to enabled) from "explicitly set to
// false" — a plain bool's zero value would otherwise silently disable every
// instance whose config omits the key.
type InstanceConfig struct {
	ID            string `mapstructure:"id"`
	Pool          string `mapstructure:"pool"`
	BaseURL       string `mapstructure:"base_url"`
	Enabled       *bool  `mapstructure:"enabled"`
	VerifyTLS     bool   `mapstructure:"verify_tls"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

// enabled normalizes InstanceConfig.Enabled, defaulting to true when the
// config key was omitted entirely.
func (ic InstanceConfig) enabled() bool {
	return ic.Enabled == nil || *ic.Enabled
}

// PoolConfig is a named group of instances behind least-utilization selection.
type PoolConfig struct {
	Name      string           `mapstructure:"name"`
	Instances []InstanceConfig `mapstructure:"instances"`
}

// BreakerConfig tunes the per-instance circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
	HalfOpenMaxRequests uint32        `mapstructure:"half_open_max_requests"`
}

// WorkerConfig tunes dispatch concurrency and scan lifecycle timeouts.
type WorkerConfig struct {
	MaxConcurrentScans int           `mapstructure:"max_concurrent_scans"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	ScanTimeout        time.Duration `mapstructure:"scan_timeout"`
	StatusPollInterval time.Duration `mapstructure:"status_poll_interval"`
	MaxBackoffRetries  uint64        `mapstructure:"max_backoff_retries"`
}

// RetentionConfig tunes the housekeeper's per-status retention windows.
type RetentionConfig struct {
	Completed time.Duration `mapstructure:"completed"`
	Failed    time.Duration `mapstructure:"failed"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Interval  time.Duration `mapstructure:"sweep_interval"`
}

// ServerConfig is the admin/metrics HTTP surface's listen configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// RedisConfig points at the queue/idempotency backing store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Config is the orchestrator's complete configuration tree.
type Config struct {
	Server       ServerConfig    `mapstructure:"server"`
	Redis        RedisConfig     `mapstructure:"redis"`
	Pools        []PoolConfig    `mapstructure:"pools"`
	Worker       WorkerConfig    `mapstructure:"worker"`
	Retention    RetentionConfig `mapstructure:"retention"`
	Breaker      BreakerConfig   `mapstructure:"breaker"`
	IdempotentTTL time.Duration  `mapstructure:"idempotency_ttl"`
	TaskDir      string          `mapstructure:"task_dir"`
}

// RegistryPools projects the config's pool tree into registry.PoolConfig,
// the shape the scanner registry actually consumes.
func (c *Config) RegistryPools() []registry.PoolConfig {
	breaker := registry.BreakerSettings{
		ConsecutiveFailures: c.Breaker.ConsecutiveFailures,
		OpenTimeout:         c.Breaker.OpenTimeout,
		HalfOpenMaxRequests: c.Breaker.HalfOpenMaxRequests,
	}
	pools := make([]registry.PoolConfig, 0, len(c.Pools))
	for _, p := range c.Pools {
		instances := make([]registry.InstanceConfig, 0, len(p.Instances))
		var poolCap int64
		for _, ic := range p.Instances {
			instances = append(instances, registry.InstanceConfig{
				ID:            ic.ID,
				Pool:          p.Name,
				BaseURL:       ic.BaseURL,
				Enabled:       ic.enabled(),
				VerifyTLS:     ic.VerifyTLS,
				AccessKey:     ic.AccessKey,
				SecretKey:     ic.SecretKey,
				Username:      ic.Username,
				Password:      ic.Password,
				MaxConcurrent: int64(ic.MaxConcurrent),
				Breaker:       breaker,
			})
			poolCap += int64(ic.MaxConcurrent)
		}
		pools = append(pools, registry.PoolConfig{Name: p.Name, MaxConcurrent: poolCap, Instances: instances})
	}
	return pools
}

// BindFlags registers the root command's flags and binds them to viper, with
// NESSORCH_-prefixed environment variable overrides — grounded on the
// teacher's cobra/viper wiring, generalized from flat trivy flags to the
// pool-based scanner tree plus a --config flag for the file viper watches.
func BindFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "./configs/orchestrator.yaml", "Path to the orchestrator config file")
	cmd.Flags().String("host", "0.0.0.0", "Admin HTTP server host")
	cmd.Flags().IntP("port", "p", 8080, "Admin HTTP server port")
	cmd.Flags().String("redis-addr", "localhost:6379", "Redis address backing the queue and idempotency store")
	cmd.Flags().String("task-dir", "./data/tasks", "Directory for persisted task records and result artifacts")
	cmd.Flags().Int("max-concurrent-scans", 4, "Maximum concurrently running scans across all pools")
	cmd.Flags().Duration("scan-timeout", 2*time.Hour, "Maximum duration a single scan may run before being marked timed out")
	cmd.Flags().Duration("idempotency-ttl", 48*time.Hour, "How long an idempotency key is remembered")
	cmd.Flags().Duration("retention", 7*24*time.Hour, "Default retention window for terminal tasks")

	bindViper(cmd)
}

// bindViper wires already-registered cobra flags and environment variables
// into viper. Split out from BindFlags so a config reload can re-bind
// without re-registering (and panicking on) already-defined cobra flags.
func bindViper(cmd *cobra.Command) {
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("redis.addr", cmd.Flags().Lookup("redis-addr"))
	viper.BindPFlag("task_dir", cmd.Flags().Lookup("task-dir"))
	viper.BindPFlag("worker.max_concurrent_scans", cmd.Flags().Lookup("max-concurrent-scans"))
	viper.BindPFlag("worker.scan_timeout", cmd.Flags().Lookup("scan-timeout"))
	viper.BindPFlag("idempotency_ttl", cmd.Flags().Lookup("idempotency-ttl"))
	viper.BindPFlag("retention.completed", cmd.Flags().Lookup("retention"))
	viper.BindPFlag("retention.failed", cmd.Flags().Lookup("retention"))
	viper.BindPFlag("retention.timeout", cmd.Flags().Lookup("retention"))

	viper.SetEnvPrefix("NESSORCH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
}

func applyDefaults() {
	viper.SetDefault("worker.poll_interval", time.Second)
	viper.SetDefault("worker.status_poll_interval", 5*time.Second)
	viper.SetDefault("worker.max_backoff_retries", uint64(5))
	viper.SetDefault("retention.sweep_interval", time.Hour)
	viper.SetDefault("breaker.consecutive_failures", uint32(5))
	viper.SetDefault("breaker.open_timeout", 30*time.Second)
	viper.SetDefault("breaker.half_open_max_requests", uint32(1))
}

// Load reads the config file named by the "config" flag (if it exists),
// applies defaults for anything unset, and unmarshals into a Config. Missing
// config files are not an error — flags and environment alone may suffice
// for a single-pool deployment.
func Load(cmd *cobra.Command) (*Config, error) {
	applyDefaults()

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}
