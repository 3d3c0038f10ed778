package provider

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Registry tracks registered providers, their static config and their
// request limiters. The limiter burst follows the per-second rate so a
// retuned provider picks up the new rate on its next request.
type Registry struct {
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	provider Provider
	config   Config
	limiter  *rate.Limiter
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Register validates and stores a provider. Registering an existing name
// replaces its config but keeps the limiter.
func (r *Registry) Register(p Provider, config Config) error {
	config = config.ApplyDefaults()
	if config.Name == "" {
		config.Name = p.Name()
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid provider config: %w", err)
	}
	if config.Name != p.Name() {
		return fmt.Errorf("config name %q does not match provider %q", config.Name, p.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[p.Name()]; ok {
		existing.provider = p
		existing.config = config
		return nil
	}

	burst := int(config.RateLimitPerSecond)
	if burst < 1 {
		burst = 1
	}
	r.entries[p.Name()] = &entry{
		provider: p,
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimitPerSecond), burst),
	}

	r.logger.Info("Registered provider",
		zap.String("provider", p.Name()),
		zap.String("region", config.Region),
		zap.String("environment", config.Environment),
	)

	return nil
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// Config returns a copy of a provider's static config.
func (r *Registry) Config(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Config{}, false
	}
	return e.config, true
}

// Limiter returns the request limiter for a provider.
func (r *Registry) Limiter(name string) (*rate.Limiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.limiter, true
}

// SetRateLimit retunes a provider's limiter in place.
func (r *Registry) SetRateLimit(name string, perSecond float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}

	e.config.RateLimitPerSecond = perSecond
	e.limiter.SetLimit(rate.Limit(perSecond))
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	e.limiter.SetBurst(burst)

	r.logger.Debug("Retuned provider rate limit",
		zap.String("provider", name),
		zap.Float64("per_second", perSecond),
	)
	return nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Count returns the number of registered providers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
