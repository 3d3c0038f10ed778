package healing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/africapayments/fleetd/internal/breaker"
	"github.com/africapayments/fleetd/internal/events"
	"github.com/africapayments/fleetd/internal/health"
	"github.com/africapayments/fleetd/internal/provider"
)

type fakeProvider struct {
	name string

	mu        sync.Mutex
	initCalls int
	initErr   error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Initialize(ctx context.Context, cfg provider.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}

type fixture struct {
	bus       *events.Bus
	providers *provider.Registry
	breakers  *breaker.Registry
	monitor   *health.Monitor
	healer    *SelfHealer
}

func newFixture(t *testing.T, cfg Config) *fixture {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger)
	providers := provider.NewRegistry(logger)
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), logger, bus)
	monitor := health.NewMonitor(health.DefaultConfig(), "test", logger, bus)
	healer := NewSelfHealer(cfg, providers, breakers, monitor, logger, bus)
	return &fixture{
		bus:       bus,
		providers: providers,
		breakers:  breakers,
		monitor:   monitor,
		healer:    healer,
	}
}

func (f *fixture) addProvider(t *testing.T, name string, initErr error) *fakeProvider {
	p := &fakeProvider{name: name, initErr: initErr}
	require.NoError(t, f.providers.Register(p, provider.Config{Name: name}))
	f.healer.RegisterProvider(name)
	return p
}

// markHealthy registers a passing check and probes it once so the monitor
// reports the provider healthy.
func (f *fixture) markHealthy(t *testing.T, name string) {
	f.monitor.Register(name, func(ctx context.Context) error { return nil })
	_, err := f.monitor.CheckNow(name)
	require.NoError(t, err)
}

func (f *fixture) markUnhealthy(t *testing.T, name string, times int) {
	f.monitor.Register(name, func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	for i := 0; i < times; i++ {
		_, err := f.monitor.CheckNow(name)
		require.NoError(t, err)
	}
}

func unhealthyEvent(name string, failures int) events.ProviderUnhealthy {
	return events.ProviderUnhealthy{
		Base:                events.Now(),
		Provider:            name,
		ConsecutiveFailures: failures,
		Reason:              "connection refused",
	}
}

func collect(ch <-chan events.Event, wait time.Duration) []events.Event {
	var out []events.Event
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-timer.C:
			return out
		}
	}
}

func TestHealingRestartsProviderAtThreshold(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.addProvider(t, "mpesa", nil)

	sub, cancel := f.bus.Subscribe(16, events.KindHealingTriggered)
	defer cancel()

	f.healer.handleEvent(unhealthyEvent("mpesa", 3))

	got := collect(sub, 50*time.Millisecond)
	require.Len(t, got, 1)
	ht := got[0].(events.HealingTriggered)
	assert.Equal(t, "mpesa", ht.Provider)
	assert.Equal(t, 1, ht.Attempt)
	assert.Equal(t, 1, p.calls())

	st, ok := f.healer.RecoveryState("mpesa")
	require.True(t, ok)
	assert.Equal(t, 1, st.HealingAttempts)
	assert.True(t, st.InRecovery)
	// restart success clears the failure streak
	assert.Equal(t, 0, st.ConsecutiveFailures)
}

func TestNoHealingBelowThreshold(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.addProvider(t, "mpesa", nil)

	f.healer.handleEvent(unhealthyEvent("mpesa", 2))

	assert.Equal(t, 0, p.calls())
	st, _ := f.healer.RecoveryState("mpesa")
	assert.Equal(t, 0, st.HealingAttempts)
}

func TestHealingCooldownSuppressesRetrigger(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.addProvider(t, "mpesa", nil)

	f.healer.handleEvent(unhealthyEvent("mpesa", 3))
	f.healer.handleEvent(unhealthyEvent("mpesa", 4))

	assert.Equal(t, 1, p.calls())
	st, _ := f.healer.RecoveryState("mpesa")
	assert.Equal(t, 1, st.HealingAttempts)
}

func TestMaxHealingAttemptsNotifiedOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHealingAttempts = 1
	cfg.HealingCooldown = 0
	f := newFixture(t, cfg)
	f.addProvider(t, "mtn", errors.New("init failed"))
	f.healer.SetBackupProviders("mtn", nil)

	sub, cancel := f.bus.Subscribe(16, events.KindMaxHealingAttemptsReached)
	defer cancel()

	f.healer.handleEvent(unhealthyEvent("mtn", 3))
	f.healer.handleEvent(unhealthyEvent("mtn", 4))
	f.healer.handleEvent(unhealthyEvent("mtn", 5))

	got := collect(sub, 50*time.Millisecond)
	require.Len(t, got, 1)
	ev := got[0].(events.MaxHealingAttemptsReached)
	assert.Equal(t, "mtn", ev.Provider)
	assert.Equal(t, 1, ev.Attempts)
}

func TestFailoverPicksFirstHealthyBackup(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.addProvider(t, "mpesa", errors.New("init failed"))
	f.addProvider(t, "mtn", nil)
	f.addProvider(t, "airtel", nil)
	f.healer.SetBackupProviders("mpesa", []string{"mtn", "airtel"})
	f.markHealthy(t, "mtn")

	sub, cancel := f.bus.Subscribe(16, events.KindFailoverTriggered)
	defer cancel()

	// restart fails, so healing falls through to failover
	f.healer.handleEvent(unhealthyEvent("mpesa", 3))

	got := collect(sub, 50*time.Millisecond)
	require.Len(t, got, 1)
	fo := got[0].(events.FailoverTriggered)
	assert.Equal(t, "mpesa", fo.Primary)
	assert.Equal(t, "mtn", fo.Backup)

	st, _ := f.healer.RecoveryState("mpesa")
	assert.Equal(t, 1, st.AutoFailoverCount)
}

func TestFailoverSkipsUnhealthyBackup(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.addProvider(t, "mpesa", errors.New("init failed"))
	f.addProvider(t, "mtn", nil)
	f.addProvider(t, "airtel", nil)
	f.healer.SetBackupProviders("mpesa", []string{"mtn", "airtel"})
	f.markUnhealthy(t, "mtn", 3)
	f.markHealthy(t, "airtel")

	sub, cancel := f.bus.Subscribe(16, events.KindFailoverTriggered)
	defer cancel()

	f.healer.handleEvent(unhealthyEvent("mpesa", 3))

	got := collect(sub, 50*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, "airtel", got[0].(events.FailoverTriggered).Backup)
}

func TestFailoverFailsWithoutHealthyBackup(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.addProvider(t, "mpesa", errors.New("init failed"))
	f.healer.SetBackupProviders("mpesa", []string{"mtn"})

	sub, cancel := f.bus.Subscribe(16, events.KindFailoverFailed)
	defer cancel()

	f.healer.handleEvent(unhealthyEvent("mpesa", 3))

	got := collect(sub, 50*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, "mpesa", got[0].(events.FailoverFailed).Primary)
}

func TestDegradedRequestsOptimization(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.addProvider(t, "paystack", nil)

	sub, cancel := f.bus.Subscribe(16, events.KindOptimizationRequested)
	defer cancel()

	f.healer.handleEvent(events.ProviderDegraded{
		Base:                events.Now(),
		Provider:            "paystack",
		ConsecutiveFailures: 2,
	})

	got := collect(sub, 50*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, "paystack", got[0].(events.OptimizationRequested).Provider)
}

func TestRecoveryEmitsProviderRecovered(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.addProvider(t, "mpesa", nil)

	sub, cancel := f.bus.Subscribe(16, events.KindProviderRecovered)
	defer cancel()

	f.healer.handleEvent(unhealthyEvent("mpesa", 3))
	f.healer.handleEvent(events.ProviderHealthy{Base: events.Now(), Provider: "mpesa"})

	got := collect(sub, 50*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, "mpesa", got[0].(events.ProviderRecovered).Provider)

	st, _ := f.healer.RecoveryState("mpesa")
	assert.False(t, st.InRecovery)

	stats := f.healer.Stats()
	assert.Equal(t, uint64(1), stats["healings_succeeded"])
}

func TestBreakerResetAfterReprobe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CircuitBreakerAutoReset = 10 * time.Millisecond
	cfg.AutoRestartEnabled = false
	f := newFixture(t, cfg)
	f.addProvider(t, "mpesa", nil)
	f.markHealthy(t, "mpesa")

	cb := f.breakers.Get("mpesa")
	cb.Trip()
	require.Equal(t, breaker.StateOpen, cb.State())

	f.healer.handleEvent(events.BreakerTripped{Base: events.Now(), Breaker: "mpesa"})

	// not due yet
	f.healer.processDueResets(time.Now())
	f.healer.processDueResets(time.Now().Add(time.Second))

	assert.Equal(t, breaker.StateClosed, cb.State())
}

func TestBreakerResetBacksOffWhileUnhealthy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CircuitBreakerAutoReset = 10 * time.Millisecond
	cfg.HealingCooldown = 0
	f := newFixture(t, cfg)
	f.addProvider(t, "mpesa", errors.New("init failed"))
	f.markUnhealthy(t, "mpesa", 1)

	cb := f.breakers.Get("mpesa")
	cb.Trip()

	f.healer.handleEvent(events.BreakerTripped{Base: events.Now(), Breaker: "mpesa"})
	f.healer.processDueResets(time.Now().Add(time.Second))

	// still open, and the task was requeued for a later attempt
	assert.Equal(t, breaker.StateOpen, cb.State())
	assert.Equal(t, 1, f.healer.resetQueue.len())
}

func TestForceHealingBypassesGates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHealingAttempts = 0
	f := newFixture(t, cfg)
	p := f.addProvider(t, "mpesa", nil)

	require.NoError(t, f.healer.ForceHealing("mpesa", "operator request"))
	assert.Equal(t, 1, p.calls())

	assert.Error(t, f.healer.ForceHealing("unknown", ""))
}

func TestResetHealingAttempts(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.addProvider(t, "mpesa", nil)

	f.healer.handleEvent(unhealthyEvent("mpesa", 3))
	st, _ := f.healer.RecoveryState("mpesa")
	require.Equal(t, 1, st.HealingAttempts)

	require.NoError(t, f.healer.ResetHealingAttempts("mpesa"))
	st, _ = f.healer.RecoveryState("mpesa")
	assert.Equal(t, 0, st.HealingAttempts)

	assert.Error(t, f.healer.ResetHealingAttempts("unknown"))
}

func TestCriticalSystemStateOnMajorityDown(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.markUnhealthy(t, "mpesa", 3)
	f.markUnhealthy(t, "mtn", 3)
	f.markHealthy(t, "airtel")

	sub, cancel := f.bus.Subscribe(16, events.KindCriticalSystemState)
	defer cancel()

	f.healer.analyzeSystemHealth()

	got := collect(sub, 50*time.Millisecond)
	require.Len(t, got, 1)
	cs := got[0].(events.CriticalSystemState)
	assert.Equal(t, 2, cs.UnhealthyCount)
	assert.Equal(t, 3, cs.TotalCount)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.addProvider(t, "mpesa", nil)

	require.NoError(t, f.healer.Start())
	assert.Error(t, f.healer.Start())

	// events published on the bus reach the dispatch loop
	f.bus.Publish(unhealthyEvent("mpesa", 3))
	time.Sleep(50 * time.Millisecond)

	st, _ := f.healer.RecoveryState("mpesa")
	assert.Equal(t, 1, st.HealingAttempts)

	require.NoError(t, f.healer.Stop())
	assert.Error(t, f.healer.Stop())
}

func TestDelayQueueOrdering(t *testing.T) {
	q := newDelayQueue()
	now := time.Now()
	q.push(resetTask{dueAt: now.Add(3 * time.Second), provider: "c"})
	q.push(resetTask{dueAt: now.Add(time.Second), provider: "a"})
	q.push(resetTask{dueAt: now.Add(2 * time.Second), provider: "b"})

	assert.Empty(t, q.popDue(now))

	due := q.popDue(now.Add(2 * time.Second))
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].provider)
	assert.Equal(t, "b", due[1].provider)
	assert.Equal(t, 1, q.len())
}

func TestEventLogCapped(t *testing.T) {
	var l eventLog
	for i := 0; i < maxEventHistory+50; i++ {
		l.append("mpesa", EventRestart, StatusStarted, "test", nil, nil)
	}
	assert.Equal(t, maxEventHistory, l.size())
	assert.Len(t, l.recent(10), 10)
}
