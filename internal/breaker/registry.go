package breaker

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/africapayments/fleetd/internal/events"
)

// Registry owns breaker instances keyed by provider name. Get creates on
// first use with the registry's default thresholds.
type Registry struct {
	logger   *zap.Logger
	bus      *events.Bus
	defaults Config

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(defaults Config, logger *zap.Logger, bus *events.Bus) *Registry {
	return &Registry{
		logger:   logger,
		bus:      bus,
		defaults: defaults,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for a provider, creating it if needed.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb = New(name, r.defaults, r.logger, r.bus)
	r.breakers[name] = cb
	return cb
}

// GetWithConfig creates the breaker for a provider with explicit thresholds,
// replacing any previous instance.
func (r *Registry) GetWithConfig(name string, config Config) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb := New(name, config, r.logger, r.bus)
	r.breakers[name] = cb
	return cb
}

// GetStatus returns the status of a named breaker.
func (r *Registry) GetStatus(name string) (Status, error) {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return Status{}, fmt.Errorf("unknown breaker: %s", name)
	}
	return cb.Status(), nil
}

// AllStatuses returns status snapshots for every breaker, sorted by name.
func (r *Registry) AllStatuses() []Status {
	r.mu.RLock()
	statuses := make([]Status, 0, len(r.breakers))
	for _, cb := range r.breakers {
		statuses = append(statuses, cb.Status())
	}
	r.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// Trip manually opens a named breaker.
func (r *Registry) Trip(name string) error {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown breaker: %s", name)
	}
	cb.Trip()
	return nil
}

// Reset manually closes a named breaker.
func (r *Registry) Reset(name string) error {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown breaker: %s", name)
	}
	cb.Reset()
	return nil
}

// Names returns the registered breaker names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
