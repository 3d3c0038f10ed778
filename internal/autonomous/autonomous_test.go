package autonomous

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/africapayments/fleetd/internal/provider"
)

type stubProvider struct {
	name      string
	initCalls int
	checkErr  error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Initialize(ctx context.Context, config provider.Config) error {
	p.initCalls++
	return nil
}

func (p *stubProvider) HealthCheck(ctx context.Context) error { return p.checkErr }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Health.CheckInterval = time.Hour
	cfg.Healing.AnalysisInterval = time.Hour
	cfg.Predictive.AnalysisInterval = time.Hour
	cfg.Predictive.CollectionInterval = time.Hour
	cfg.Optimizer.AnalysisInterval = time.Hour
	cfg.Scaling.CheckInterval = time.Hour
	return cfg
}

func TestNewConstructsEnabledSubsystems(t *testing.T) {
	sys, err := New(testConfig(), Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.NotNil(t, sys.Healer())
	assert.NotNil(t, sys.Predictions())
	assert.NotNil(t, sys.Optimizer())
	assert.NotNil(t, sys.Scaler())
	assert.NotNil(t, sys.Monitor())
	assert.NotNil(t, sys.Breakers())
	assert.NotNil(t, sys.Bus())
	assert.NotNil(t, sys.Cache())
}

func TestDisabledSubsystemsAreNil(t *testing.T) {
	cfg := testConfig()
	cfg.SelfHealingEnabled = false
	cfg.PredictiveEnabled = false
	cfg.OptimizationEnabled = false
	cfg.ScalingEnabled = false

	sys, err := New(cfg, Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Nil(t, sys.Healer())
	assert.Nil(t, sys.Predictions())
	assert.Nil(t, sys.Optimizer())
	assert.Nil(t, sys.Scaler())

	assert.Error(t, sys.ForceHealing("mpesa", "test"))
	assert.Error(t, sys.ForceScale(3, "test"))
	_, perr := sys.ForcePredictionAnalysis()
	assert.Error(t, perr)
}

func TestStartStopLifecycle(t *testing.T) {
	sys, err := New(testConfig(), Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, sys.Start())
	assert.Error(t, sys.Start())

	require.NoError(t, sys.Stop())
	assert.Error(t, sys.Stop())
}

func TestRegisterProviderFansOut(t *testing.T) {
	sys, err := New(testConfig(), Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	p := &stubProvider{name: "mpesa"}
	cfg := provider.Config{Name: "mpesa", Timeout: 30 * time.Second}.ApplyDefaults()
	require.NoError(t, sys.RegisterProvider(p, cfg, []string{"mtn", "airtel"}))

	ph, cerr := sys.Monitor().CheckNow("mpesa")
	require.NoError(t, cerr)
	assert.Equal(t, "mpesa", ph.Provider)

	status, serr := sys.Breakers().GetStatus("mpesa")
	require.NoError(t, serr)
	assert.Equal(t, "closed", status.State)

	_, ok := sys.Cache().TTL("mpesa")
	assert.True(t, ok)
}

func TestUnregisterProviderRemovesEverywhere(t *testing.T) {
	sys, err := New(testConfig(), Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	p := &stubProvider{name: "paystack"}
	require.NoError(t, sys.RegisterProvider(p, provider.Config{Name: "paystack"}.ApplyDefaults(), nil))
	sys.UnregisterProvider("paystack")

	_, cerr := sys.Monitor().CheckNow("paystack")
	assert.Error(t, cerr)
	_, ok := sys.Cache().TTL("paystack")
	assert.False(t, ok)
}

func TestForceHealingReinitializesProvider(t *testing.T) {
	sys, err := New(testConfig(), Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	p := &stubProvider{name: "mtn"}
	require.NoError(t, sys.RegisterProvider(p, provider.Config{Name: "mtn"}.ApplyDefaults(), nil))

	require.NoError(t, sys.ForceHealing("mtn", "operator request"))
	assert.Equal(t, 1, p.initCalls)
}

func TestForceScaleThroughScaler(t *testing.T) {
	sys, err := New(testConfig(), Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, sys.ForceScale(4, "load test"))
	assert.Equal(t, 4, sys.Scaler().CurrentInstances())

	assert.Error(t, sys.ForceScale(100, "out of bounds"))
}

func TestForcePredictionAnalysisEmptyHistory(t *testing.T) {
	sys, err := New(testConfig(), Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	preds, perr := sys.ForcePredictionAnalysis()
	require.NoError(t, perr)
	assert.Empty(t, preds)
}

func TestStatusAndStats(t *testing.T) {
	cfg := testConfig()
	cfg.OptimizationEnabled = false
	sys, err := New(cfg, Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	p := &stubProvider{name: "vodafone"}
	require.NoError(t, sys.RegisterProvider(p, provider.Config{Name: "vodafone"}.ApplyDefaults(), nil))

	status := sys.Status()
	assert.Equal(t, 1, status["providers"])
	assert.Contains(t, status, "health")
	assert.Contains(t, status, "breakers")
	assert.Contains(t, status, "instances")

	stats := sys.Stats()
	assert.Equal(t, "disabled", stats["optimizer"])
	assert.Contains(t, stats, "healing")
	assert.Contains(t, stats, "scaling")
	assert.Contains(t, stats, "bus")
}

func TestBadScheduleFileRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Scaling.ScheduleFile = "/nonexistent/schedule.yaml"
	_, err := New(cfg, Options{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

type fakeExecutor struct {
	scaled []int
}

func (e *fakeExecutor) Type() string { return "fake" }

func (e *fakeExecutor) Scale(ctx context.Context, replicas int) error {
	e.scaled = append(e.scaled, replicas)
	return nil
}

func TestCustomExecutorOption(t *testing.T) {
	cfg := testConfig()
	exec := &fakeExecutor{}

	sys, err := New(cfg, Options{Executor: exec}, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, sys.ForceScale(5, "drill"))
	assert.Equal(t, []int{5}, exec.scaled)
}
