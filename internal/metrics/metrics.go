package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/africapayments/fleetd/internal/events"
)

// Sink receives fleet observations. The wire format behind it is the
// sink's concern.
type Sink interface {
	ProviderStatus(provider, status string)
	BreakerTrip(breaker string)
	Healing(provider string)
	Failover(primary, backup string)
	Prediction(predType, severity string)
	Optimization(category, outcome string)
	Scaling(action string, instances int)
}

// NopSink discards all observations.
type NopSink struct{}

func (NopSink) ProviderStatus(string, string) {}
func (NopSink) BreakerTrip(string)            {}
func (NopSink) Healing(string)                {}
func (NopSink) Failover(string, string)       {}
func (NopSink) Prediction(string, string)     {}
func (NopSink) Optimization(string, string)   {}
func (NopSink) Scaling(string, int)           {}

// PrometheusSink exports fleet observations as Prometheus metrics.
type PrometheusSink struct {
	providerStatus *prometheus.GaugeVec
	breakerTrips   *prometheus.CounterVec
	healings       *prometheus.CounterVec
	failovers      *prometheus.CounterVec
	predictions    *prometheus.CounterVec
	optimizations  *prometheus.CounterVec
	scalings       *prometheus.CounterVec
	instances      prometheus.Gauge
}

// statusValue maps a health status to a gauge value.
func statusValue(status string) float64 {
	switch status {
	case "healthy":
		return 2
	case "degraded":
		return 1
	default:
		return 0
	}
}

// NewPrometheusSink registers the fleet metrics on reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(reg)
	return &PrometheusSink{
		providerStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetd_provider_status",
			Help: "Provider health: 2 healthy, 1 degraded, 0 unhealthy/unknown",
		}, []string{"provider"}),
		breakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_breaker_trips_total",
			Help: "Circuit breaker trips",
		}, []string{"breaker"}),
		healings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_healings_total",
			Help: "Healing attempts triggered",
		}, []string{"provider"}),
		failovers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_failovers_total",
			Help: "Failovers to a backup provider",
		}, []string{"primary", "backup"}),
		predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_predictions_total",
			Help: "Predictions created",
		}, []string{"type", "severity"}),
		optimizations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_optimizations_total",
			Help: "Optimization outcomes",
		}, []string{"category", "outcome"}),
		scalings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_scalings_total",
			Help: "Scaling actions executed",
		}, []string{"action"}),
		instances: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleetd_instances",
			Help: "Confirmed fleet instance count",
		}),
	}
}

func (s *PrometheusSink) ProviderStatus(provider, status string) {
	s.providerStatus.WithLabelValues(provider).Set(statusValue(status))
}

func (s *PrometheusSink) BreakerTrip(breaker string) {
	s.breakerTrips.WithLabelValues(breaker).Inc()
}

func (s *PrometheusSink) Healing(provider string) {
	s.healings.WithLabelValues(provider).Inc()
}

func (s *PrometheusSink) Failover(primary, backup string) {
	s.failovers.WithLabelValues(primary, backup).Inc()
}

func (s *PrometheusSink) Prediction(predType, severity string) {
	s.predictions.WithLabelValues(predType, severity).Inc()
}

func (s *PrometheusSink) Optimization(category, outcome string) {
	s.optimizations.WithLabelValues(category, outcome).Inc()
}

func (s *PrometheusSink) Scaling(action string, instances int) {
	s.scalings.WithLabelValues(action).Inc()
	s.instances.Set(float64(instances))
}

// Handler serves the Prometheus scrape endpoint for a registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Recorder bridges domain events into a sink so the loops stay free of
// metrics plumbing.
type Recorder struct {
	logger *zap.Logger
	bus    *events.Bus
	sink   Sink

	mu      sync.Mutex
	cancel  func()
	stopped chan struct{}
}

// NewRecorder creates a recorder over the given sink. A nil sink
// records nothing.
func NewRecorder(sink Sink, logger *zap.Logger, bus *events.Bus) *Recorder {
	if sink == nil {
		sink = NopSink{}
	}
	return &Recorder{logger: logger, bus: bus, sink: sink}
}

// Start subscribes to the event stream.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return fmt.Errorf("metrics recorder already running")
	}

	sub, cancel := r.bus.Subscribe(256)
	r.cancel = cancel
	r.stopped = make(chan struct{})

	go func() {
		defer close(r.stopped)
		for ev := range sub {
			r.record(ev)
		}
	}()
	return nil
}

// Stop unsubscribes and waits for the drain goroutine.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	stopped := r.stopped
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return fmt.Errorf("metrics recorder not running")
	}
	cancel()
	<-stopped
	return nil
}

func (r *Recorder) record(ev events.Event) {
	switch e := ev.(type) {
	case events.ProviderHealthy:
		r.sink.ProviderStatus(e.Provider, "healthy")
	case events.ProviderDegraded:
		r.sink.ProviderStatus(e.Provider, "degraded")
	case events.ProviderUnhealthy:
		r.sink.ProviderStatus(e.Provider, "unhealthy")
	case events.BreakerTripped:
		r.sink.BreakerTrip(e.Breaker)
	case events.HealingTriggered:
		r.sink.Healing(e.Provider)
	case events.FailoverTriggered:
		r.sink.Failover(e.Primary, e.Backup)
	case events.PredictionCreated:
		r.sink.Prediction(e.Type, e.Severity)
	case events.OptimizationApplied:
		r.sink.Optimization(e.Category, "applied")
	case events.OptimizationReverted:
		r.sink.Optimization(e.Category, "reverted")
	case events.ScalingExecuted:
		if e.Success {
			r.sink.Scaling(e.Action, e.To)
		}
	}
}
