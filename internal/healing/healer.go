package healing

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/africapayments/fleetd/internal/breaker"
	"github.com/africapayments/fleetd/internal/events"
	"github.com/africapayments/fleetd/internal/health"
	"github.com/africapayments/fleetd/internal/provider"
)

// Config contains self-healer settings.
type Config struct {
	FailureThreshold        int           `mapstructure:"failure_threshold"`
	MaxHealingAttempts      int           `mapstructure:"max_healing_attempts"`
	HealingCooldown         time.Duration `mapstructure:"healing_cooldown"`
	HealingWindow           time.Duration `mapstructure:"healing_window"`
	CircuitBreakerAutoReset time.Duration `mapstructure:"circuit_breaker_auto_reset"`
	InitializeTimeout       time.Duration `mapstructure:"initialize_timeout"`
	AnalysisInterval        time.Duration `mapstructure:"analysis_interval"`
	AutoRestartEnabled      bool          `mapstructure:"auto_restart_enabled"`
	FailoverEnabled         bool          `mapstructure:"failover_enabled"`
}

// DefaultConfig returns the default self-healer settings.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:        3,
		MaxHealingAttempts:      5,
		HealingCooldown:         time.Minute,
		HealingWindow:           30 * time.Minute,
		CircuitBreakerAutoReset: 30 * time.Second,
		InitializeTimeout:       30 * time.Second,
		AnalysisInterval:        time.Minute,
		AutoRestartEnabled:      true,
		FailoverEnabled:         true,
	}
}

// maxResetBackoff caps the exponential breaker-reset retry delay.
const maxResetBackoff = 5 * time.Minute

// recoveryState is the healer-owned recovery record for one provider.
type recoveryState struct {
	healingAttempts     int
	consecutiveFailures int
	circuitBreakerTrips int
	autoFailoverCount   int
	inRecovery          bool
	recoveryStart       time.Time
	lastHealingAttempt  time.Time
	exhaustedNotified   bool
}

// RecoveryStatus is a read-only snapshot of a provider's recovery state.
type RecoveryStatus struct {
	Provider            string    `json:"provider"`
	HealingAttempts     int       `json:"healing_attempts"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CircuitBreakerTrips int       `json:"circuit_breaker_trips"`
	AutoFailoverCount   int       `json:"auto_failover_count"`
	InRecovery          bool      `json:"in_recovery"`
	RecoveryStart       time.Time `json:"recovery_start,omitempty"`
	LastHealingAttempt  time.Time `json:"last_healing_attempt,omitempty"`
}

// SelfHealer consumes health and breaker events and drives restart, breaker
// reset and failover without operator intervention. It is event-driven with
// a periodic system-health analysis on top.
type SelfHealer struct {
	logger    *zap.Logger
	config    Config
	bus       *events.Bus
	providers *provider.Registry
	breakers  *breaker.Registry
	health    *health.Monitor

	mu            sync.Mutex
	states        map[string]*recoveryState
	backups       map[string][]string
	recoveryTimes []time.Duration // rolling window, last 100

	log        eventLog
	resetQueue *delayQueue

	healingsTriggered atomic.Uint64
	healingsSucceeded atomic.Uint64
	healingsFailed    atomic.Uint64

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSelfHealer creates a self-healer wired to the shared monitor and
// registries.
func NewSelfHealer(config Config, providers *provider.Registry, breakers *breaker.Registry, monitor *health.Monitor, logger *zap.Logger, bus *events.Bus) *SelfHealer {
	ctx, cancel := context.WithCancel(context.Background())
	return &SelfHealer{
		logger:     logger,
		config:     config,
		bus:        bus,
		providers:  providers,
		breakers:   breakers,
		health:     monitor,
		states:     make(map[string]*recoveryState),
		backups:    make(map[string][]string),
		resetQueue: newDelayQueue(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// RegisterProvider starts tracking recovery state for a provider.
func (sh *SelfHealer) RegisterProvider(name string) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.states[name]; !ok {
		sh.states[name] = &recoveryState{}
	}
}

// UnregisterProvider stops tracking a provider. Queued reset tasks for it
// are discarded when they come due.
func (sh *SelfHealer) UnregisterProvider(name string) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.states, name)
	delete(sh.backups, name)
}

// SetBackupProviders configures the ordered failover chain for a primary.
func (sh *SelfHealer) SetBackupProviders(primary string, backups []string) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.backups[primary] = append([]string(nil), backups...)
}

// Start subscribes to domain events and begins the periodic analysis loop.
func (sh *SelfHealer) Start() error {
	if !sh.running.CompareAndSwap(false, true) {
		return fmt.Errorf("self-healer already running")
	}

	sub, cancelSub := sh.bus.Subscribe(256,
		events.KindProviderHealthy,
		events.KindProviderDegraded,
		events.KindProviderUnhealthy,
		events.KindBreakerTripped,
	)

	sh.wg.Add(1)
	go sh.run(sub, cancelSub)

	sh.logger.Info("Self-healer started",
		zap.Int("failure_threshold", sh.config.FailureThreshold),
		zap.Int("max_healing_attempts", sh.config.MaxHealingAttempts),
		zap.Bool("auto_restart", sh.config.AutoRestartEnabled),
		zap.Bool("failover", sh.config.FailoverEnabled),
	)
	return nil
}

// Stop stops event handling. An in-flight restart completes.
func (sh *SelfHealer) Stop() error {
	if !sh.running.CompareAndSwap(true, false) {
		return fmt.Errorf("self-healer not running")
	}
	sh.cancel()
	sh.wg.Wait()
	sh.logger.Info("Self-healer stopped")
	return nil
}

func (sh *SelfHealer) run(sub <-chan events.Event, cancelSub func()) {
	defer sh.wg.Done()
	defer cancelSub()

	analysis := time.NewTicker(sh.config.AnalysisInterval)
	defer analysis.Stop()

	drain := time.NewTicker(time.Second)
	defer drain.Stop()

	for {
		select {
		case <-sh.ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			sh.handleEvent(ev)
		case <-analysis.C:
			sh.analyzeSystemHealth()
		case <-drain.C:
			sh.processDueResets(time.Now())
		}
	}
}

func (sh *SelfHealer) handleEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.ProviderUnhealthy:
		sh.onUnhealthy(e)
	case events.ProviderDegraded:
		sh.onDegraded(e)
	case events.ProviderHealthy:
		sh.onHealthy(e)
	case events.BreakerTripped:
		sh.onBreakerTripped(e)
	}
}

func (sh *SelfHealer) onUnhealthy(ev events.ProviderUnhealthy) {
	sh.mu.Lock()
	st, ok := sh.states[ev.Provider]
	if !ok {
		sh.mu.Unlock()
		return
	}

	st.consecutiveFailures++
	if ev.ConsecutiveFailures > st.consecutiveFailures {
		st.consecutiveFailures = ev.ConsecutiveFailures
	}
	failures := st.consecutiveFailures
	attempts := st.healingAttempts
	sh.mu.Unlock()

	if failures < sh.config.FailureThreshold {
		return
	}

	reason := fmt.Sprintf("unhealthy after %d consecutive failures", failures)
	if attempts >= sh.config.MaxHealingAttempts/2 && sh.config.FailoverEnabled {
		sh.triggerFailover(ev.Provider, reason)
	}
	sh.triggerHealing(ev.Provider, reason, false)
}

func (sh *SelfHealer) onDegraded(ev events.ProviderDegraded) {
	sh.mu.Lock()
	st, ok := sh.states[ev.Provider]
	if !ok {
		sh.mu.Unlock()
		return
	}
	failures := st.consecutiveFailures
	if ev.ConsecutiveFailures > failures {
		failures = ev.ConsecutiveFailures
		st.consecutiveFailures = failures
	}
	sh.mu.Unlock()

	// A degraded provider one step short of the restart threshold gets a
	// tuning request, not a restart.
	if failures >= sh.config.FailureThreshold-1 {
		sh.bus.Publish(events.OptimizationRequested{
			Base:     events.Now(),
			Provider: ev.Provider,
			Reason:   fmt.Sprintf("degraded with %d consecutive failures", failures),
		})
	}
}

func (sh *SelfHealer) onHealthy(ev events.ProviderHealthy) {
	sh.mu.Lock()
	st, ok := sh.states[ev.Provider]
	if !ok {
		sh.mu.Unlock()
		return
	}

	st.consecutiveFailures = 0
	wasInRecovery := st.inRecovery
	var recoveryTime time.Duration
	if wasInRecovery {
		recoveryTime = time.Since(st.recoveryStart)
		st.inRecovery = false
		st.exhaustedNotified = false
		sh.recoveryTimes = append(sh.recoveryTimes, recoveryTime)
		if len(sh.recoveryTimes) > 100 {
			sh.recoveryTimes = sh.recoveryTimes[len(sh.recoveryTimes)-100:]
		}
	}
	sh.mu.Unlock()

	if wasInRecovery {
		sh.healingsSucceeded.Add(1)
		sh.log.append(ev.Provider, EventDegradationRecovery, StatusCompleted,
			"provider recovered", map[string]string{
				"recovery_time_ms": strconv.FormatInt(recoveryTime.Milliseconds(), 10),
			}, nil)
		sh.bus.Publish(events.ProviderRecovered{
			Base:         events.Now(),
			Provider:     ev.Provider,
			RecoveryTime: recoveryTime,
		})
	}
}

func (sh *SelfHealer) onBreakerTripped(ev events.BreakerTripped) {
	sh.mu.Lock()
	st, ok := sh.states[ev.Breaker]
	if !ok {
		sh.mu.Unlock()
		return
	}
	st.circuitBreakerTrips++
	sh.mu.Unlock()

	sh.resetQueue.push(resetTask{
		dueAt:    time.Now().Add(sh.config.CircuitBreakerAutoReset),
		provider: ev.Breaker,
	})

	sh.triggerHealing(ev.Breaker, "circuit breaker tripped", false)
}

// processDueResets drains the delay queue and re-probes each provider
// before resetting its breaker. Providers removed since scheduling are
// dropped silently.
func (sh *SelfHealer) processDueResets(now time.Time) {
	for _, task := range sh.resetQueue.popDue(now) {
		sh.attemptBreakerReset(task)
	}
}

func (sh *SelfHealer) attemptBreakerReset(task resetTask) {
	sh.mu.Lock()
	st, ok := sh.states[task.provider]
	if !ok {
		sh.mu.Unlock()
		return
	}
	trips := st.circuitBreakerTrips
	sh.mu.Unlock()

	ph, err := sh.health.CheckNow(task.provider)
	if err == nil && ph.Status == health.StatusHealthy {
		if resetErr := sh.breakers.Reset(task.provider); resetErr == nil {
			sh.log.append(task.provider, EventCircuitReset, StatusCompleted,
				"provider healthy on re-probe", nil, nil)
			sh.logger.Info("Circuit breaker auto-reset",
				zap.String("provider", task.provider),
			)
		}
		return
	}

	// Still down: reschedule with exponential backoff.
	backoff := sh.config.CircuitBreakerAutoReset
	for i := 0; i < trips && backoff < maxResetBackoff; i++ {
		backoff *= 2
	}
	if backoff > maxResetBackoff {
		backoff = maxResetBackoff
	}

	sh.resetQueue.push(resetTask{
		dueAt:    time.Now().Add(backoff),
		provider: task.provider,
		attempt:  task.attempt + 1,
	})

	sh.logger.Debug("Breaker reset deferred",
		zap.String("provider", task.provider),
		zap.Duration("backoff", backoff),
		zap.Int("attempt", task.attempt+1),
	)
}

// triggerHealing runs one healing attempt for a provider, gated by the
// per-provider cooldown and the bounded attempt budget. force bypasses
// both gates.
func (sh *SelfHealer) triggerHealing(name, reason string, force bool) {
	now := time.Now()

	sh.mu.Lock()
	st, ok := sh.states[name]
	if !ok {
		sh.mu.Unlock()
		return
	}

	if !force && !st.lastHealingAttempt.IsZero() && now.Sub(st.lastHealingAttempt) < sh.config.HealingCooldown {
		sh.mu.Unlock()
		sh.logger.Debug("Healing suppressed by cooldown", zap.String("provider", name))
		return
	}

	// The attempt budget resets after an idle window.
	if st.healingAttempts > 0 && now.Sub(st.lastHealingAttempt) > sh.config.HealingWindow {
		st.healingAttempts = 0
		st.exhaustedNotified = false
	}

	if !force && st.healingAttempts >= sh.config.MaxHealingAttempts {
		notified := st.exhaustedNotified
		st.exhaustedNotified = true
		attempts := st.healingAttempts
		sh.mu.Unlock()

		if !notified {
			sh.logger.Warn("Max healing attempts reached",
				zap.String("provider", name),
				zap.Int("attempts", attempts),
			)
			sh.bus.Publish(events.MaxHealingAttemptsReached{
				Base:     events.Now(),
				Provider: name,
				Attempts: attempts,
			})
		}
		return
	}

	st.lastHealingAttempt = now
	st.healingAttempts++
	if !st.inRecovery {
		st.inRecovery = true
		st.recoveryStart = now
	}
	attempt := st.healingAttempts
	sh.mu.Unlock()

	sh.healingsTriggered.Add(1)
	sh.log.append(name, EventRestart, StatusStarted, reason,
		map[string]string{"attempt": strconv.Itoa(attempt)}, nil)
	sh.bus.Publish(events.HealingTriggered{
		Base:     events.Now(),
		Provider: name,
		Reason:   reason,
		Attempt:  attempt,
	})

	if !sh.config.AutoRestartEnabled {
		sh.log.append(name, EventRestart, StatusCompleted, reason,
			map[string]string{"auto_restart": "disabled"}, nil)
		return
	}

	if err := sh.restartProvider(name); err != nil {
		sh.healingsFailed.Add(1)
		sh.log.append(name, EventRestart, StatusFailed, reason, nil, err)
		sh.logger.Error("Provider restart failed",
			zap.String("provider", name),
			zap.Error(err),
		)
		if sh.config.FailoverEnabled {
			sh.triggerFailover(name, "restart failed: "+err.Error())
		}
		return
	}

	// Restart succeeded: clear the failure streak and close an open breaker.
	sh.mu.Lock()
	if st, ok := sh.states[name]; ok {
		st.consecutiveFailures = 0
	}
	sh.mu.Unlock()

	cb := sh.breakers.Get(name)
	if cb.State() == breaker.StateOpen {
		cb.Reset()
	}

	sh.log.append(name, EventRestart, StatusCompleted, reason, nil, nil)
	sh.logger.Info("Provider restart completed", zap.String("provider", name))
}

// restartProvider re-invokes the provider's own initialization entry point.
func (sh *SelfHealer) restartProvider(name string) error {
	p, ok := sh.providers.Get(name)
	if !ok {
		return fmt.Errorf("provider %s not registered", name)
	}
	cfg, _ := sh.providers.Config(name)

	ctx, cancel := context.WithTimeout(context.Background(), sh.config.InitializeTimeout)
	defer cancel()

	return p.Initialize(ctx, cfg)
}

// triggerFailover redirects traffic from a primary to the first currently
// healthy backup in configured order.
func (sh *SelfHealer) triggerFailover(primary, reason string) {
	sh.mu.Lock()
	backups := append([]string(nil), sh.backups[primary]...)
	st := sh.states[primary]
	sh.mu.Unlock()

	for _, backup := range backups {
		ph, ok := sh.health.GetProviderHealth(backup)
		if !ok || ph.Status != health.StatusHealthy {
			continue
		}

		sh.mu.Lock()
		if st != nil {
			st.autoFailoverCount++
		}
		sh.mu.Unlock()

		sh.log.append(primary, EventFailover, StatusCompleted, reason,
			map[string]string{"backup": backup}, nil)
		sh.logger.Info("Failover triggered",
			zap.String("primary", primary),
			zap.String("backup", backup),
		)
		sh.bus.Publish(events.FailoverTriggered{
			Base:    events.Now(),
			Primary: primary,
			Backup:  backup,
			Reason:  reason,
		})
		return
	}

	sh.log.append(primary, EventFailover, StatusFailed, reason,
		nil, fmt.Errorf("no healthy backup available"))
	sh.bus.Publish(events.FailoverFailed{
		Base:    events.Now(),
		Primary: primary,
		Reason:  reason,
	})
}

// analyzeSystemHealth inspects the whole fleet once per analysis interval.
// It raises a critical-state event when a majority of providers is down and
// expires stale healing budgets.
func (sh *SelfHealer) analyzeSystemHealth() {
	result := sh.health.Result()
	if result.Summary.Total > 0 && result.Summary.Unhealthy > result.Summary.Total/2 {
		sh.logger.Warn("Critical system state",
			zap.Int("unhealthy", result.Summary.Unhealthy),
			zap.Int("total", result.Summary.Total),
		)
		sh.bus.Publish(events.CriticalSystemState{
			Base:           events.Now(),
			UnhealthyCount: result.Summary.Unhealthy,
			TotalCount:     result.Summary.Total,
		})
	}

	now := time.Now()
	sh.mu.Lock()
	for _, st := range sh.states {
		if st.healingAttempts > 0 && now.Sub(st.lastHealingAttempt) > sh.config.HealingWindow {
			st.healingAttempts = 0
			st.exhaustedNotified = false
		}
	}
	sh.mu.Unlock()
}

// ForceHealing bypasses the cooldown and attempt gates for a provider.
// It is the operator escape hatch after max_healing_attempts_reached.
func (sh *SelfHealer) ForceHealing(name, reason string) error {
	sh.mu.Lock()
	_, ok := sh.states[name]
	sh.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}
	if reason == "" {
		reason = "forced by operator"
	}
	sh.triggerHealing(name, reason, true)
	return nil
}

// ResetHealingAttempts manually clears a provider's healing budget.
func (sh *SelfHealer) ResetHealingAttempts(name string) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.states[name]
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}
	st.healingAttempts = 0
	st.exhaustedNotified = false
	return nil
}

// RecoveryState returns a snapshot of one provider's recovery record.
func (sh *SelfHealer) RecoveryState(name string) (RecoveryStatus, bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.states[name]
	if !ok {
		return RecoveryStatus{}, false
	}
	return snapshotState(name, st), true
}

// Events returns up to limit recent healing events.
func (sh *SelfHealer) Events(limit int) []Event {
	return sh.log.recent(limit)
}

// Stats returns aggregate self-healer statistics.
func (sh *SelfHealer) Stats() map[string]interface{} {
	sh.mu.Lock()
	states := make(map[string]RecoveryStatus, len(sh.states))
	for name, st := range sh.states {
		states[name] = snapshotState(name, st)
	}
	var avgRecovery time.Duration
	if len(sh.recoveryTimes) > 0 {
		var total time.Duration
		for _, rt := range sh.recoveryTimes {
			total += rt
		}
		avgRecovery = total / time.Duration(len(sh.recoveryTimes))
	}
	sh.mu.Unlock()

	return map[string]interface{}{
		"running":              sh.running.Load(),
		"healings_triggered":   sh.healingsTriggered.Load(),
		"healings_succeeded":   sh.healingsSucceeded.Load(),
		"healings_failed":      sh.healingsFailed.Load(),
		"avg_recovery_time_ms": avgRecovery.Milliseconds(),
		"pending_resets":       sh.resetQueue.len(),
		"event_log_size":       sh.log.size(),
		"providers":            states,
	}
}

func snapshotState(name string, st *recoveryState) RecoveryStatus {
	return RecoveryStatus{
		Provider:            name,
		HealingAttempts:     st.healingAttempts,
		ConsecutiveFailures: st.consecutiveFailures,
		CircuitBreakerTrips: st.circuitBreakerTrips,
		AutoFailoverCount:   st.autoFailoverCount,
		InRecovery:          st.inRecovery,
		RecoveryStart:       st.recoveryStart,
		LastHealingAttempt:  st.lastHealingAttempt,
	}
}
