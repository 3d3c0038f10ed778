package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/africapayments/fleetd/internal/events"
	"github.com/africapayments/fleetd/internal/provider"
)

type perfFunc func() map[string]PerfSample

func (f perfFunc) Collect() map[string]PerfSample { return f() }

type fakeTTL struct {
	set map[string]time.Duration
}

func (f *fakeTTL) SetTTL(name string, ttl time.Duration) error {
	if f.set == nil {
		f.set = make(map[string]time.Duration)
	}
	f.set[name] = ttl
	return nil
}

func newTestOptimizer(t *testing.T, cfg Config) *Optimizer {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger)
	return New(cfg, nil, nil, nil, logger, bus)
}

// seedSamples loads n copies of a sample into a provider's history.
func seedSamples(o *Optimizer, name string, n int, s PerfSample) {
	o.mu.Lock()
	defer o.mu.Unlock()
	hist := make([]PerfSample, 0, n)
	for i := 0; i < n; i++ {
		c := s
		c.Timestamp = time.Now()
		hist = append(hist, c)
	}
	o.history[name] = hist
}

func goodSample() PerfSample {
	return PerfSample{
		SuccessRate:     0.99,
		ErrorRate:       0.02, // in the no-op band for retry rules
		TimeoutRate:     0.05,
		AvgResponseTime: 600 * time.Millisecond,
		CacheHitRate:    0.7,
	}
}

func TestHighTimeoutRateQueuesThenApplies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamplesForOptimization = 50
	o := newTestOptimizer(t, cfg)
	o.RegisterProvider("mpesa")

	s := goodSample()
	s.TimeoutRate = 0.15
	seedSamples(o, "mpesa", 60, s)

	before, _ := o.GetConfig("mpesa")

	o.RunCycle()

	var pending *Optimization
	o.mu.Lock()
	for _, opt := range o.optimizations {
		if opt.Category == CategoryTimeout {
			pending = opt
		}
	}
	o.mu.Unlock()
	require.NotNil(t, pending)
	assert.Equal(t, StatusPending, pending.Status)
	assert.Greater(t, pending.NewValue, pending.OldValue)

	// second cycle applies the queued proposal
	o.RunCycle()
	assert.Equal(t, StatusApplied, pending.Status)

	after, _ := o.GetConfig("mpesa")
	assert.Greater(t, after.Timeout, before.Timeout)
}

func TestLowTimeoutRateShrinksTimeout(t *testing.T) {
	cfg := DefaultConfig()
	o := newTestOptimizer(t, cfg)
	o.RegisterProvider("paystack")

	s := goodSample()
	s.TimeoutRate = 0.001
	s.AvgResponseTime = 100 * time.Millisecond
	seedSamples(o, "paystack", 60, s)

	o.analyzeProvider("paystack", true)

	opts := o.Optimizations(0)
	var timeout *Optimization
	for i := range opts {
		if opts[i].Category == CategoryTimeout {
			timeout = &opts[i]
		}
	}
	require.NotNil(t, timeout)
	assert.Less(t, timeout.NewValue, timeout.OldValue)
	// floored at the configured minimum
	assert.GreaterOrEqual(t, timeout.NewValue, float64(cfg.MinTimeout.Milliseconds()))
}

func TestConservativeSkipsShrinkRules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Conservative = true
	o := newTestOptimizer(t, cfg)
	o.RegisterProvider("mpesa")

	s := goodSample()
	s.TimeoutRate = 0.001
	s.ErrorRate = 0.001
	s.AvgResponseTime = 100 * time.Millisecond
	s.CacheHitRate = 0 // keeps the cache rule quiet
	seedSamples(o, "mpesa", 60, s)

	o.analyzeProvider("mpesa", true)

	for _, opt := range o.Optimizations(0) {
		assert.NotEqual(t, CategoryTimeout, opt.Category)
		assert.NotEqual(t, CategoryRetry, opt.Category)
	}
}

func TestHighErrorRateAddsRetry(t *testing.T) {
	o := newTestOptimizer(t, DefaultConfig())
	o.RegisterProvider("mtn")

	s := goodSample()
	s.ErrorRate = 0.08
	s.SuccessRate = 0.90
	seedSamples(o, "mtn", 60, s)

	o.analyzeProvider("mtn", true)

	var retry *Optimization
	opts := o.Optimizations(0)
	for i := range opts {
		if opts[i].Category == CategoryRetry {
			retry = &opts[i]
		}
	}
	require.NotNil(t, retry)
	assert.Equal(t, retry.OldValue+1, retry.NewValue)
}

func TestOnePendingPerCategory(t *testing.T) {
	o := newTestOptimizer(t, DefaultConfig())
	o.RegisterProvider("mpesa")

	s := goodSample()
	s.TimeoutRate = 0.2
	seedSamples(o, "mpesa", 60, s)

	o.analyzeProvider("mpesa", true)
	o.analyzeProvider("mpesa", true)

	count := 0
	for _, opt := range o.Optimizations(0) {
		if opt.Category == CategoryTimeout && opt.Status == StatusPending {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCooldownGatesAnalysis(t *testing.T) {
	o := newTestOptimizer(t, DefaultConfig())
	o.RegisterProvider("mpesa")

	s := goodSample()
	s.ErrorRate = 0.08
	s.SuccessRate = 0.90
	seedSamples(o, "mpesa", 60, s)

	o.analyzeProvider("mpesa", false)
	n := len(o.Optimizations(0))
	require.Greater(t, n, 0)

	// still inside the cooldown: nothing new even after the pending clears
	o.applyPending()
	o.analyzeProvider("mpesa", false)
	assert.Len(t, o.Optimizations(0), n)
}

func TestRegressionReverted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EvaluationDelay = 0
	o := newTestOptimizer(t, cfg)
	o.RegisterProvider("mpesa")

	seedSamples(o, "mpesa", 60, PerfSample{
		SuccessRate:     0.99,
		AvgResponseTime: 100 * time.Millisecond,
	})

	opt := newOptimization("mpesa", CategoryTimeout, "timeout_ms", 45000, 60000, "test", 0)
	o.mu.Lock()
	o.optimizations = append(o.optimizations, &opt)
	o.mu.Unlock()
	o.applyPending()
	require.Equal(t, StatusApplied, opt.Status)

	// metrics collapse after the change
	seedSamples(o, "mpesa", 60, PerfSample{
		SuccessRate:     0.60,
		AvgResponseTime: 100 * time.Millisecond,
	})
	o.evaluateApplied(time.Now())

	assert.Equal(t, StatusReverted, opt.Status)
	require.NotNil(t, opt.Results)
	assert.Less(t, opt.Results.Improvement, -0.05)

	after, _ := o.GetConfig("mpesa")
	assert.Equal(t, 45*time.Second, after.Timeout)
}

func TestImprovementConfirmed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EvaluationDelay = 0
	o := newTestOptimizer(t, cfg)
	o.RegisterProvider("mpesa")

	seedSamples(o, "mpesa", 60, PerfSample{
		SuccessRate:     0.90,
		AvgResponseTime: 200 * time.Millisecond,
	})

	opt := newOptimization("mpesa", CategoryRetry, "max_retries", 3, 4, "test", 0)
	o.mu.Lock()
	o.optimizations = append(o.optimizations, &opt)
	o.mu.Unlock()
	o.applyPending()

	seedSamples(o, "mpesa", 60, PerfSample{
		SuccessRate:     0.98,
		AvgResponseTime: 150 * time.Millisecond,
	})
	o.evaluateApplied(time.Now())

	assert.Equal(t, StatusApplied, opt.Status)
	require.NotNil(t, opt.Results)
	assert.True(t, opt.Results.Confirmed)
	assert.Greater(t, opt.Results.Improvement, 0.0)
}

func TestMildRegressionKeptUnconfirmed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EvaluationDelay = 0
	o := newTestOptimizer(t, cfg)
	o.RegisterProvider("mpesa")

	seedSamples(o, "mpesa", 60, PerfSample{
		SuccessRate:     0.95,
		AvgResponseTime: 100 * time.Millisecond,
	})

	opt := newOptimization("mpesa", CategoryRetry, "max_retries", 3, 4, "test", 0)
	o.mu.Lock()
	o.optimizations = append(o.optimizations, &opt)
	o.mu.Unlock()
	o.applyPending()

	// 3% worse: inside the keep band, outside the confirm band
	seedSamples(o, "mpesa", 60, PerfSample{
		SuccessRate:     0.92,
		AvgResponseTime: 100 * time.Millisecond,
	})
	o.evaluateApplied(time.Now())

	assert.Equal(t, StatusApplied, opt.Status)
	require.NotNil(t, opt.Results)
	assert.False(t, opt.Results.Confirmed)
}

func TestMaxAppliesPerCycle(t *testing.T) {
	o := newTestOptimizer(t, DefaultConfig())
	for _, name := range []string{"a", "b", "c", "d"} {
		o.RegisterProvider(name)
		opt := newOptimization(name, CategoryRetry, "max_retries", 3, 4, "test", 0)
		o.mu.Lock()
		o.optimizations = append(o.optimizations, &opt)
		o.mu.Unlock()
	}

	o.applyPending()

	applied, pending := 0, 0
	for _, opt := range o.Optimizations(0) {
		switch opt.Status {
		case StatusApplied:
			applied++
		case StatusPending:
			pending++
		}
	}
	assert.Equal(t, 3, applied)
	assert.Equal(t, 1, pending)
}

func TestRateLimitChangePropagates(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger)
	registry := provider.NewRegistry(logger)
	require.NoError(t, registry.Register(&nopProvider{"mpesa"}, provider.Config{Name: "mpesa"}))

	o := New(DefaultConfig(), nil, registry, nil, logger, bus)
	o.RegisterProvider("mpesa")

	opt := newOptimization("mpesa", CategoryRateLimit, "rate_limit_per_second", 10, 12, "test", 0)
	o.mu.Lock()
	o.optimizations = append(o.optimizations, &opt)
	o.mu.Unlock()
	o.applyPending()

	require.Equal(t, StatusApplied, opt.Status)
	limiter, ok := registry.Limiter("mpesa")
	require.True(t, ok)
	assert.InDelta(t, 12, float64(limiter.Limit()), 1e-9)
}

func TestApplyFailureMarkedFailed(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger)
	registry := provider.NewRegistry(logger) // empty: SetRateLimit will fail

	o := New(DefaultConfig(), nil, registry, nil, logger, bus)
	o.RegisterProvider("ghost")

	opt := newOptimization("ghost", CategoryRateLimit, "rate_limit_per_second", 10, 12, "test", 0)
	o.mu.Lock()
	o.optimizations = append(o.optimizations, &opt)
	o.mu.Unlock()
	o.applyPending()

	assert.Equal(t, StatusFailed, opt.Status)
}

func TestCacheTTLChangePropagates(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger)
	ttl := &fakeTTL{}

	o := New(DefaultConfig(), nil, nil, ttl, logger, bus)
	o.RegisterProvider("mpesa")

	opt := newOptimization("mpesa", CategoryCache, "cache_ttl_seconds", 300, 360, "test", 0)
	o.mu.Lock()
	o.optimizations = append(o.optimizations, &opt)
	o.mu.Unlock()
	o.applyPending()

	require.Equal(t, StatusApplied, opt.Status)
	assert.Equal(t, 360*time.Second, ttl.set["mpesa"])
}

func TestForceConfigAndRevertToDefault(t *testing.T) {
	o := newTestOptimizer(t, DefaultConfig())
	o.RegisterProvider("mpesa")

	custom := genericDefaults()
	custom.Timeout = 99 * time.Second
	require.NoError(t, o.ForceConfig("mpesa", custom))

	got, ok := o.GetConfig("mpesa")
	require.True(t, ok)
	assert.Equal(t, 99*time.Second, got.Timeout)

	require.NoError(t, o.RevertToDefault("mpesa"))
	got, _ = o.GetConfig("mpesa")
	assert.Equal(t, providerDefaults["mpesa"].Timeout, got.Timeout)

	assert.Error(t, o.ForceConfig("unknown", custom))
	assert.Error(t, o.RevertToDefault("unknown"))
}

func TestProviderSpecificDefaults(t *testing.T) {
	o := newTestOptimizer(t, DefaultConfig())
	o.RegisterProvider("mpesa")
	o.RegisterProvider("custom-psp")

	mpesa, _ := o.GetConfig("mpesa")
	assert.Equal(t, 45*time.Second, mpesa.Timeout)

	generic, _ := o.GetConfig("custom-psp")
	assert.Equal(t, genericDefaults().Timeout, generic.Timeout)
}

type nopProvider struct{ name string }

func (p *nopProvider) Name() string { return p.name }
func (p *nopProvider) Initialize(_ context.Context, _ provider.Config) error {
	return nil
}
