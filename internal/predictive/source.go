package predictive

import (
	"time"

	"github.com/africapayments/fleetd/internal/breaker"
	"github.com/africapayments/fleetd/internal/health"
)

// RequestCounter reports how many requests a provider served since the
// previous call. Optional; the gateway's request path supplies it.
type RequestCounter func(provider string) int64

// FleetSource derives samples from the health monitor and breaker
// registry. Error rate is approximated from the health classification
// until a request counter is wired in.
type FleetSource struct {
	health   *health.Monitor
	breakers *breaker.Registry
	counter  RequestCounter
}

// NewFleetSource builds the production metrics source. counter may be nil.
func NewFleetSource(monitor *health.Monitor, breakers *breaker.Registry, counter RequestCounter) *FleetSource {
	return &FleetSource{health: monitor, breakers: breakers, counter: counter}
}

func (f *FleetSource) Collect() map[string]Sample {
	result := f.health.Result()
	now := time.Now()

	out := make(map[string]Sample, len(result.Providers))
	for _, ph := range result.Providers {
		s := Sample{
			Timestamp:    now,
			ResponseTime: ph.ResponseTime,
			ErrorRate:    statusErrorRate(ph),
		}
		if st, err := f.breakers.GetStatus(ph.Provider); err == nil {
			s.BreakerState = st.State
		}
		if f.counter != nil {
			s.RequestCount = f.counter(ph.Provider)
		}
		out[ph.Provider] = s
	}
	return out
}

func statusErrorRate(ph health.ProviderHealth) float64 {
	switch ph.Status {
	case health.StatusHealthy:
		return 0
	case health.StatusDegraded:
		return 0.25
	case health.StatusUnhealthy:
		return 1
	default:
		return 0
	}
}
