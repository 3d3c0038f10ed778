package autonomous

import (
	"github.com/africapayments/fleetd/internal/cache"
	"github.com/africapayments/fleetd/internal/health"
	"github.com/africapayments/fleetd/internal/optimizer"
)

// fleetPerfSource is the default optimizer feed. It derives performance
// samples from health probe outcomes and cache hit rates. Deployments
// with real transaction counters supply their own PerfSource instead.
type fleetPerfSource struct {
	monitor *health.Monitor
	cache   *cache.Manager
}

func (f *fleetPerfSource) Collect() map[string]optimizer.PerfSample {
	result := f.monitor.Result()
	samples := make(map[string]optimizer.PerfSample, len(result.Providers))
	for _, ph := range result.Providers {
		s := optimizer.PerfSample{
			Timestamp:       ph.LastChecked,
			AvgResponseTime: ph.ResponseTime,
			CacheHitRate:    f.cache.HitRate(ph.Provider),
		}
		switch ph.Status {
		case health.StatusHealthy:
			s.SuccessRate = 1
		case health.StatusDegraded:
			s.SuccessRate = 0.75
			s.ErrorRate = 0.25
		default:
			s.ErrorRate = 1
		}
		samples[ph.Provider] = s
	}
	return samples
}
