// Package provider defines the capability surface the fleet controller
// expects from a payment provider integration. Adapters for the individual
// providers (M-Pesa, MTN, Paystack, ...) live outside this module; the
// controller only ever re-invokes Initialize and probes health.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Provider is an external payment integration managed as a fleet member.
// A "restart" is exactly a re-invocation of Initialize, never OS-process
// management.
type Provider interface {
	Name() string
	Initialize(ctx context.Context, config Config) error
}

// HealthChecker is the optional health-probe capability. Providers without
// it are classified from Initialize-level failures alone.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config is the static per-provider configuration supplied at registration.
// Runtime tuning (timeouts, retries, rate limits) lives with the optimizer;
// this is the seed.
type Config struct {
	Name               string        `mapstructure:"name"`
	APIKey             string        `mapstructure:"api_key"`
	BaseURL            string        `mapstructure:"base_url"`
	Region             string        `mapstructure:"region"`
	Environment        string        `mapstructure:"environment"` // sandbox or production
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RateLimitPerSecond float64       `mapstructure:"rate_limit_per_second"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
	Disabled           bool          `mapstructure:"disabled"`
}

// Validate checks the configuration the same way the gateway SDK does.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("provider %s: timeout must be positive", c.Name)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("provider %s: max retries must be non-negative", c.Name)
	}
	if c.RateLimitPerSecond < 0 {
		return fmt.Errorf("provider %s: rate limit must be non-negative", c.Name)
	}
	return nil
}

// ApplyDefaults fills unset fields with SDK defaults.
func (c Config) ApplyDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimitPerSecond == 0 {
		c.RateLimitPerSecond = 10
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.Environment == "" {
		c.Environment = "sandbox"
	}
	return c
}
