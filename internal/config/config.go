// Package config loads and validates the fleet controller configuration
// from YAML with environment variable overrides (FLEETD_ prefix).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/africapayments/fleetd/internal/api"
	"github.com/africapayments/fleetd/internal/autonomous"
	"github.com/africapayments/fleetd/internal/logging"
	"github.com/africapayments/fleetd/internal/provider"
)

// Config is the full controller configuration.
type Config struct {
	Autonomous autonomous.Config `mapstructure:"autonomous"`
	API        api.Config        `mapstructure:"api"`
	Logging    logging.Config    `mapstructure:"logging"`
	Store      StoreConfig       `mapstructure:"store"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`

	// Providers and their failover ordering.
	Providers []provider.Config   `mapstructure:"providers"`
	Backups   map[string][]string `mapstructure:"backups"`
}

// StoreConfig controls the audit trail database.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MetricsConfig controls the Prometheus sink.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads the configuration file. A missing file is not an error;
// defaults and environment variables then carry the whole config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FLEETD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{Autonomous: autonomous.DefaultConfig()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range cfg.Providers {
		cfg.Providers[i] = cfg.Providers[i].ApplyDefaults()
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("autonomous.version", "dev")
	v.SetDefault("autonomous.self_healing_enabled", true)
	v.SetDefault("autonomous.predictive_enabled", true)
	v.SetDefault("autonomous.optimization_enabled", true)
	v.SetDefault("autonomous.scaling_enabled", true)
	v.SetDefault("autonomous.scale_executor", "custom")

	v.SetDefault("autonomous.health.check_interval", "30s")
	v.SetDefault("autonomous.health.check_timeout", "10s")
	v.SetDefault("autonomous.health.unhealthy_threshold", 3)

	v.SetDefault("autonomous.healing.failure_threshold", 3)
	v.SetDefault("autonomous.healing.max_healing_attempts", 5)
	v.SetDefault("autonomous.healing.healing_cooldown", "1m")
	v.SetDefault("autonomous.healing.auto_restart_enabled", true)
	v.SetDefault("autonomous.healing.failover_enabled", true)

	v.SetDefault("autonomous.predictive.analysis_interval", "5m")
	v.SetDefault("autonomous.predictive.collection_interval", "1m")
	v.SetDefault("autonomous.predictive.sensitivity", "medium")
	v.SetDefault("autonomous.predictive.auto_schedule_maintenance", true)

	v.SetDefault("autonomous.optimizer.analysis_interval", "1m")
	v.SetDefault("autonomous.optimizer.optimization_cooldown", "5m")
	v.SetDefault("autonomous.optimizer.evaluation_delay", "5m")

	v.SetDefault("autonomous.scaling.min_instances", 2)
	v.SetDefault("autonomous.scaling.max_instances", 10)
	v.SetDefault("autonomous.scaling.target_per_instance", 100.0)
	v.SetDefault("autonomous.scaling.check_interval", "30s")
	v.SetDefault("autonomous.scaling.cost_optimization", true)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", ":8090")
	v.SetDefault("api.enable_tls", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", "./data/fleetd.db")

	v.SetDefault("metrics.enabled", true)
}

func validate(cfg *Config) error {
	if cfg.API.EnableTLS && (cfg.API.CertFile == "" || cfg.API.KeyFile == "") {
		return fmt.Errorf("api.cert_file and api.key_file are required when TLS is enabled")
	}

	sc := cfg.Autonomous.Scaling
	if sc.MinInstances < 1 {
		return fmt.Errorf("scaling.min_instances must be at least 1")
	}
	if sc.MaxInstances < sc.MinInstances {
		return fmt.Errorf("scaling.max_instances must be >= min_instances")
	}

	if cfg.Store.Enabled && cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required when the audit store is enabled")
	}

	seen := make(map[string]bool, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		if err := pc.Validate(); err != nil {
			return err
		}
		if seen[pc.Name] {
			return fmt.Errorf("duplicate provider: %s", pc.Name)
		}
		seen[pc.Name] = true
	}

	for primary, backups := range cfg.Backups {
		if !seen[primary] {
			return fmt.Errorf("backups reference unknown provider: %s", primary)
		}
		for _, b := range backups {
			if !seen[b] {
				return fmt.Errorf("backup for %s references unknown provider: %s", primary, b)
			}
			if b == primary {
				return fmt.Errorf("provider %s cannot be its own backup", primary)
			}
		}
	}

	return nil
}
