package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/africapayments/fleetd/internal/events"
)

// Status classifies a provider's liveness.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// CheckFunc probes a single provider. A nil error means the provider
// responded; classification also weighs response time and failure streaks.
type CheckFunc func(ctx context.Context) error

// ProviderHealth is the monitor-owned health record for one provider.
type ProviderHealth struct {
	Provider            string        `json:"provider"`
	Status              Status        `json:"status"`
	ResponseTime        time.Duration `json:"response_time"`
	Error               string        `json:"error,omitempty"`
	LastChecked         time.Time     `json:"last_checked"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// Config contains health monitor settings.
type Config struct {
	CheckInterval      time.Duration `mapstructure:"check_interval"`
	CheckTimeout       time.Duration `mapstructure:"check_timeout"`
	UnhealthyThreshold int           `mapstructure:"unhealthy_threshold"`
	DegradedLatency    time.Duration `mapstructure:"degraded_latency"`
}

// DefaultConfig returns the default monitor settings.
func DefaultConfig() Config {
	return Config{
		CheckInterval:      30 * time.Second,
		CheckTimeout:       10 * time.Second,
		UnhealthyThreshold: 3,
		DegradedLatency:    2 * time.Second,
	}
}

// Monitor polls registered provider checks on a fixed interval, classifies
// the results and emits an event whenever a provider's status changes.
type Monitor struct {
	logger  *zap.Logger
	config  Config
	bus     *events.Bus
	version string

	mu     sync.RWMutex
	checks map[string]CheckFunc
	health map[string]*ProviderHealth

	startTime time.Time
	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewMonitor creates a health monitor.
func NewMonitor(config Config, version string, logger *zap.Logger, bus *events.Bus) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		logger:  logger,
		config:  config,
		bus:     bus,
		version: version,
		checks:  make(map[string]CheckFunc),
		health:  make(map[string]*ProviderHealth),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a provider health check. The provider starts as unknown
// until its first poll.
func (m *Monitor) Register(name string, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checks[name] = check
	if _, ok := m.health[name]; !ok {
		m.health[name] = &ProviderHealth{Provider: name, Status: StatusUnknown}
	}
}

// Unregister removes a provider from monitoring.
func (m *Monitor) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
	delete(m.health, name)
}

// Start begins periodic polling.
func (m *Monitor) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("health monitor already running")
	}

	m.startTime = time.Now()
	m.wg.Add(1)
	go m.pollLoop()

	m.logger.Info("Health monitor started",
		zap.Duration("check_interval", m.config.CheckInterval),
	)
	return nil
}

// Stop stops polling. In-flight checks complete.
func (m *Monitor) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return fmt.Errorf("health monitor not running")
	}

	m.cancel()
	m.wg.Wait()
	m.logger.Info("Health monitor stopped")
	return nil
}

func (m *Monitor) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	// Initial sweep before the first tick.
	m.checkAll()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkAll()
		}
	}
}

func (m *Monitor) checkAll() {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		m.CheckNow(name)
	}
}

// CheckNow runs a provider's check immediately, updates its record and
// emits a status-change event if the classification moved.
func (m *Monitor) CheckNow(name string) (ProviderHealth, error) {
	m.mu.RLock()
	check, ok := m.checks[name]
	m.mu.RUnlock()
	if !ok {
		return ProviderHealth{}, fmt.Errorf("unknown provider: %s", name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.CheckTimeout)
	start := time.Now()
	err := check(ctx)
	elapsed := time.Since(start)
	cancel()

	m.mu.Lock()
	ph, ok := m.health[name]
	if !ok {
		// Removed while the check was in flight.
		m.mu.Unlock()
		return ProviderHealth{}, fmt.Errorf("unknown provider: %s", name)
	}

	previous := ph.Status
	ph.ResponseTime = elapsed
	ph.LastChecked = time.Now()

	if err != nil {
		ph.ConsecutiveFailures++
		ph.Error = err.Error()
		if ph.ConsecutiveFailures >= m.config.UnhealthyThreshold {
			ph.Status = StatusUnhealthy
		} else {
			ph.Status = StatusDegraded
		}
	} else {
		ph.ConsecutiveFailures = 0
		ph.Error = ""
		if elapsed > m.config.DegradedLatency {
			ph.Status = StatusDegraded
		} else {
			ph.Status = StatusHealthy
		}
	}

	snapshot := *ph
	m.mu.Unlock()

	if snapshot.Status != previous {
		m.emitStatusChange(snapshot)
	}

	return snapshot, nil
}

func (m *Monitor) emitStatusChange(ph ProviderHealth) {
	m.logger.Info("Provider status change",
		zap.String("provider", ph.Provider),
		zap.String("status", string(ph.Status)),
		zap.Duration("response_time", ph.ResponseTime),
		zap.Int("consecutive_failures", ph.ConsecutiveFailures),
	)

	if m.bus == nil {
		return
	}

	switch ph.Status {
	case StatusHealthy:
		m.bus.Publish(events.ProviderHealthy{
			Base:         events.Now(),
			Provider:     ph.Provider,
			ResponseTime: ph.ResponseTime,
		})
	case StatusDegraded:
		m.bus.Publish(events.ProviderDegraded{
			Base:                events.Now(),
			Provider:            ph.Provider,
			ResponseTime:        ph.ResponseTime,
			ConsecutiveFailures: ph.ConsecutiveFailures,
			Reason:              ph.Error,
		})
	case StatusUnhealthy:
		m.bus.Publish(events.ProviderUnhealthy{
			Base:                events.Now(),
			Provider:            ph.Provider,
			ConsecutiveFailures: ph.ConsecutiveFailures,
			Reason:              ph.Error,
		})
	}
}

// GetProviderHealth returns the record for one provider.
func (m *Monitor) GetProviderHealth(name string) (ProviderHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ph, ok := m.health[name]
	if !ok {
		return ProviderHealth{}, false
	}
	return *ph, true
}

// Summary holds per-status provider counts.
type Summary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
	Unknown   int `json:"unknown"`
}

// Result is the point-in-time snapshot served to the external probe endpoint.
type Result struct {
	Status    Status           `json:"status"`
	Uptime    time.Duration    `json:"uptime"`
	Version   string           `json:"version"`
	Providers []ProviderHealth `json:"providers"`
	Summary   Summary          `json:"summary"`
}

// Result returns the aggregate snapshot. Overall status is the worst
// provider status; unknown providers do not drag the fleet down.
func (m *Monitor) Result() Result {
	m.mu.RLock()
	providers := make([]ProviderHealth, 0, len(m.health))
	for _, ph := range m.health {
		providers = append(providers, *ph)
	}
	m.mu.RUnlock()

	sort.Slice(providers, func(i, j int) bool { return providers[i].Provider < providers[j].Provider })

	result := Result{
		Status:    StatusHealthy,
		Uptime:    time.Since(m.startTime),
		Version:   m.version,
		Providers: providers,
	}

	for _, ph := range providers {
		result.Summary.Total++
		switch ph.Status {
		case StatusHealthy:
			result.Summary.Healthy++
		case StatusDegraded:
			result.Summary.Degraded++
		case StatusUnhealthy:
			result.Summary.Unhealthy++
		default:
			result.Summary.Unknown++
		}
	}

	switch {
	case result.Summary.Unhealthy > 0:
		result.Status = StatusUnhealthy
	case result.Summary.Degraded > 0:
		result.Status = StatusDegraded
	case result.Summary.Total == 0 || result.Summary.Unknown == result.Summary.Total:
		result.Status = StatusUnknown
	}

	return result
}

// HTTPStatusCode maps the aggregate status for an external /health endpoint:
// healthy and degraded fleets still serve traffic.
func (m *Monitor) HTTPStatusCode() int {
	switch m.Result().Status {
	case StatusHealthy, StatusDegraded:
		return http.StatusOK
	default:
		return http.StatusServiceUnavailable
	}
}
