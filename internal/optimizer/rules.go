package optimizer

import (
	"fmt"
	"time"
)

// aggregated is the mean of a provider's performance history.
type aggregated struct {
	SuccessRate     float64
	ErrorRate       float64
	TimeoutRate     float64
	AvgResponseTime time.Duration
	CacheHitRate    float64
}

func aggregate(hist []PerfSample) aggregated {
	var agg aggregated
	if len(hist) == 0 {
		return agg
	}
	var respTotal time.Duration
	for _, s := range hist {
		agg.SuccessRate += s.SuccessRate
		agg.ErrorRate += s.ErrorRate
		agg.TimeoutRate += s.TimeoutRate
		agg.CacheHitRate += s.CacheHitRate
		respTotal += s.AvgResponseTime
	}
	n := float64(len(hist))
	agg.SuccessRate /= n
	agg.ErrorRate /= n
	agg.TimeoutRate /= n
	agg.CacheHitRate /= n
	agg.AvgResponseTime = respTotal / time.Duration(len(hist))
	return agg
}

// evaluateRules runs the four independent tuning rules against the
// aggregated metrics and returns pending proposals. Optimization values
// are in milliseconds (timeout), counts (retry), requests/second
// (rate limit) and seconds (cache TTL).
func (o *Optimizer) evaluateRules(name string, cfg ProviderConfig, agg aggregated) []Optimization {
	var out []Optimization

	if p, ok := o.timeoutRule(name, cfg, agg); ok {
		out = append(out, p)
	}
	if p, ok := o.retryRule(name, cfg, agg); ok {
		out = append(out, p)
	}
	if p, ok := o.rateLimitRule(name, cfg, agg); ok {
		out = append(out, p)
	}
	if p, ok := o.cacheRule(name, cfg, agg); ok {
		out = append(out, p)
	}
	return out
}

func (o *Optimizer) timeoutRule(name string, cfg ProviderConfig, agg aggregated) (Optimization, bool) {
	cur := float64(cfg.Timeout.Milliseconds())

	if agg.TimeoutRate > 0.10 {
		next := cur * o.config.TimeoutAdjustmentFactor
		if max := float64(o.config.MaxTimeout.Milliseconds()); next > max {
			next = max
		}
		if next <= cur {
			return Optimization{}, false
		}
		return newOptimization(name, CategoryTimeout, "timeout_ms", cur, next,
			fmt.Sprintf("timeout rate %.2f exceeds 0.10", agg.TimeoutRate), 0.1), true
	}

	if agg.TimeoutRate < 0.01 && !o.config.Conservative {
		// shrink toward a latency-derived target
		target := 1.2 * (float64(agg.AvgResponseTime.Milliseconds()) * 1.5)
		if min := float64(o.config.MinTimeout.Milliseconds()); target < min {
			target = min
		}
		if target >= cur {
			return Optimization{}, false
		}
		return newOptimization(name, CategoryTimeout, "timeout_ms", cur, target,
			fmt.Sprintf("timeout rate %.3f allows a tighter timeout", agg.TimeoutRate), 0.05), true
	}

	return Optimization{}, false
}

func (o *Optimizer) retryRule(name string, cfg ProviderConfig, agg aggregated) (Optimization, bool) {
	cur := float64(cfg.MaxRetries)

	if agg.ErrorRate > 0.05 && agg.SuccessRate < 0.95 {
		if cfg.MaxRetries >= o.config.MaxRetries {
			return Optimization{}, false
		}
		return newOptimization(name, CategoryRetry, "max_retries", cur, cur+1,
			fmt.Sprintf("error rate %.2f with success rate %.2f", agg.ErrorRate, agg.SuccessRate), 0.05), true
	}

	if agg.ErrorRate < 0.01 && !o.config.Conservative {
		if cfg.MaxRetries <= o.config.MinRetries {
			return Optimization{}, false
		}
		return newOptimization(name, CategoryRetry, "max_retries", cur, cur-1,
			fmt.Sprintf("error rate %.3f allows fewer retries", agg.ErrorRate), 0.02), true
	}

	return Optimization{}, false
}

func (o *Optimizer) rateLimitRule(name string, cfg ProviderConfig, agg aggregated) (Optimization, bool) {
	if agg.AvgResponseTime >= 500*time.Millisecond {
		return Optimization{}, false
	}

	cur := cfg.RateLimitPerSecond
	next := cur * 1.2
	if next > o.config.MaxRateLimitPerSecond {
		next = o.config.MaxRateLimitPerSecond
	}
	if next <= cur {
		return Optimization{}, false
	}
	return newOptimization(name, CategoryRateLimit, "rate_limit_per_second", cur, next,
		fmt.Sprintf("average response time %s leaves headroom", agg.AvgResponseTime), 0.03), true
}

func (o *Optimizer) cacheRule(name string, cfg ProviderConfig, agg aggregated) (Optimization, bool) {
	cur := cfg.CacheTTL.Seconds()

	if agg.CacheHitRate > 0 && agg.CacheHitRate < 0.5 {
		next := cur * 0.8
		if min := o.config.MinCacheTTL.Seconds(); next < min {
			next = min
		}
		if next >= cur {
			return Optimization{}, false
		}
		return newOptimization(name, CategoryCache, "cache_ttl_seconds", cur, next,
			fmt.Sprintf("cache hit rate %.2f, entries going stale", agg.CacheHitRate), 0.02), true
	}

	if agg.CacheHitRate > 0.9 {
		next := cur * 1.2
		if max := o.config.MaxCacheTTL.Seconds(); next > max {
			next = max
		}
		if next <= cur {
			return Optimization{}, false
		}
		return newOptimization(name, CategoryCache, "cache_ttl_seconds", cur, next,
			fmt.Sprintf("cache hit rate %.2f, entries can live longer", agg.CacheHitRate), 0.02), true
	}

	return Optimization{}, false
}

// setConfigValue writes an optimization value back into the tuning
// record, converting from the category's numeric unit.
func setConfigValue(cfg *ProviderConfig, cat Category, value float64) {
	switch cat {
	case CategoryTimeout:
		cfg.Timeout = time.Duration(value) * time.Millisecond
	case CategoryRetry:
		cfg.MaxRetries = int(value)
	case CategoryRateLimit:
		cfg.RateLimitPerSecond = value
	case CategoryCache:
		cfg.CacheTTL = time.Duration(value) * time.Second
	}
}

// genericDefaults is the tuning record for providers without a
// specific profile.
func genericDefaults() ProviderConfig {
	return ProviderConfig{
		Timeout:            30 * time.Second,
		MaxRetries:         3,
		BaseRetryDelay:     time.Second,
		MaxRetryDelay:      30 * time.Second,
		RateLimitPerSecond: 10,
		CacheTTL:           5 * time.Minute,
		FailureThreshold:   5,
		SuccessThreshold:   2,
	}
}

// providerDefaults carries per-provider profiles for integrations with
// known latency characteristics.
var providerDefaults = map[string]ProviderConfig{
	"mpesa": {
		Timeout:            45 * time.Second,
		MaxRetries:         3,
		BaseRetryDelay:     2 * time.Second,
		MaxRetryDelay:      30 * time.Second,
		RateLimitPerSecond: 5,
		CacheTTL:           5 * time.Minute,
		FailureThreshold:   5,
		SuccessThreshold:   2,
	},
	"mtn": {
		Timeout:            30 * time.Second,
		MaxRetries:         4,
		BaseRetryDelay:     time.Second,
		MaxRetryDelay:      20 * time.Second,
		RateLimitPerSecond: 8,
		CacheTTL:           5 * time.Minute,
		FailureThreshold:   5,
		SuccessThreshold:   2,
	},
	"paystack": {
		Timeout:            20 * time.Second,
		MaxRetries:         3,
		BaseRetryDelay:     500 * time.Millisecond,
		MaxRetryDelay:      10 * time.Second,
		RateLimitPerSecond: 20,
		CacheTTL:           10 * time.Minute,
		FailureThreshold:   5,
		SuccessThreshold:   2,
	},
}

func defaultProviderConfig(name string) ProviderConfig {
	if cfg, ok := providerDefaults[name]; ok {
		return cfg
	}
	return genericDefaults()
}
