package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"
	"go.uber.org/zap"
)

// DefaultTTL is used when a provider cache is created without an
// explicit TTL.
const DefaultTTL = 5 * time.Minute

// counters tracks hits and misses for one provider cache.
type counters struct {
	hits   atomic.Uint64
	misses atomic.Uint64
}

type entry struct {
	cache *bigcache.BigCache
	ttl   time.Duration
	stats *counters
}

// Manager keeps one response cache per provider. TTL changes from the
// optimizer recreate the underlying cache, since entry lifetime is
// fixed per instance.
type Manager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewManager creates an empty cache manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

func newCache(ttl time.Duration) (*bigcache.BigCache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.CleanWindow = time.Minute
	cfg.Verbose = false
	return bigcache.New(context.Background(), cfg)
}

// Register creates a provider cache with the given TTL. Zero TTL uses
// the default.
func (m *Manager) Register(provider string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[provider]; ok {
		return nil
	}

	c, err := newCache(ttl)
	if err != nil {
		return fmt.Errorf("create cache for %s: %w", provider, err)
	}
	m.entries[provider] = &entry{cache: c, ttl: ttl, stats: &counters{}}
	return nil
}

// Unregister drops a provider cache.
func (m *Manager) Unregister(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[provider]; ok {
		e.cache.Close()
		delete(m.entries, provider)
	}
}

// Get returns a cached response, counting the hit or miss.
func (m *Manager) Get(provider, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[provider]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	data, err := e.cache.Get(key)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			e.stats.misses.Add(1)
		}
		return nil, false
	}
	e.stats.hits.Add(1)
	return data, true
}

// Set stores a response for a provider.
func (m *Manager) Set(provider, key string, data []byte) error {
	m.mu.RLock()
	e, ok := m.entries[provider]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no cache for provider: %s", provider)
	}
	return e.cache.Set(key, data)
}

// SetTTL changes a provider's entry lifetime by swapping in a fresh
// cache. Existing entries are dropped; hit counters carry over.
func (m *Manager) SetTTL(provider string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[provider]
	if !ok {
		return fmt.Errorf("no cache for provider: %s", provider)
	}
	if e.ttl == ttl {
		return nil
	}

	c, err := newCache(ttl)
	if err != nil {
		return fmt.Errorf("recreate cache for %s: %w", provider, err)
	}
	e.cache.Close()
	e.cache = c
	e.ttl = ttl

	m.logger.Info("Cache TTL changed",
		zap.String("provider", provider),
		zap.Duration("ttl", ttl),
	)
	return nil
}

// TTL returns a provider's configured entry lifetime.
func (m *Manager) TTL(provider string) (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[provider]
	if !ok {
		return 0, false
	}
	return e.ttl, true
}

// HitRate returns hits/(hits+misses) for a provider, zero before any
// lookups.
func (m *Manager) HitRate(provider string) float64 {
	m.mu.RLock()
	e, ok := m.entries[provider]
	m.mu.RUnlock()
	if !ok {
		return 0
	}

	hits := e.stats.hits.Load()
	total := hits + e.stats.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Stats returns per-provider cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	providers := make(map[string]interface{}, len(m.entries))
	for name, e := range m.entries {
		hits := e.stats.hits.Load()
		misses := e.stats.misses.Load()
		var rate float64
		if hits+misses > 0 {
			rate = float64(hits) / float64(hits+misses)
		}
		providers[name] = map[string]interface{}{
			"ttl_seconds": e.ttl.Seconds(),
			"entries":     e.cache.Len(),
			"hits":        hits,
			"misses":      misses,
			"hit_rate":    rate,
		}
	}
	return map[string]interface{}{
		"providers": providers,
	}
}
