package autonomous

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/africapayments/fleetd/internal/breaker"
	"github.com/africapayments/fleetd/internal/cache"
	"github.com/africapayments/fleetd/internal/events"
	"github.com/africapayments/fleetd/internal/healing"
	"github.com/africapayments/fleetd/internal/health"
	"github.com/africapayments/fleetd/internal/metrics"
	"github.com/africapayments/fleetd/internal/optimizer"
	"github.com/africapayments/fleetd/internal/predictive"
	"github.com/africapayments/fleetd/internal/provider"
	"github.com/africapayments/fleetd/internal/scaling"
	"github.com/africapayments/fleetd/internal/store"
)

// Config selects which control loops run and carries their settings.
type Config struct {
	Version string `mapstructure:"version"`

	SelfHealingEnabled  bool `mapstructure:"self_healing_enabled"`
	PredictiveEnabled   bool `mapstructure:"predictive_enabled"`
	OptimizationEnabled bool `mapstructure:"optimization_enabled"`
	ScalingEnabled      bool `mapstructure:"scaling_enabled"`

	Health     health.Config     `mapstructure:"health"`
	Breakers   breaker.Config    `mapstructure:"breakers"`
	Healing    healing.Config    `mapstructure:"healing"`
	Predictive predictive.Config `mapstructure:"predictive"`
	Optimizer  optimizer.Config  `mapstructure:"optimizer"`
	Scaling    scaling.Config    `mapstructure:"scaling"`

	ScaleExecutor        string                  `mapstructure:"scale_executor"`
	ScaleExecutorOptions scaling.ExecutorOptions `mapstructure:"scale_executor_options"`
}

// DefaultConfig enables every loop with its package defaults.
func DefaultConfig() Config {
	return Config{
		Version:             "dev",
		SelfHealingEnabled:  true,
		PredictiveEnabled:   true,
		OptimizationEnabled: true,
		ScalingEnabled:      true,
		Health:              health.DefaultConfig(),
		Breakers:            breaker.DefaultConfig(),
		Healing:             healing.DefaultConfig(),
		Predictive:          predictive.DefaultConfig(),
		Optimizer:           optimizer.DefaultConfig(),
		Scaling:             scaling.DefaultConfig(),
		ScaleExecutor:       "custom",
	}
}

// Options carries optional collaborators. Nil fields fall back to
// defaults (or leave the concern unwired).
type Options struct {
	Sink       metrics.Sink
	Store      *store.Store
	Executor   scaling.ScaleExecutor
	LoadSource scaling.LoadSource
	PerfSource optimizer.PerfSource
}

// System is the composition root: it owns the shared primitives and the
// four control loops and fans provider registration out to all of them.
type System struct {
	logger *zap.Logger
	config Config

	bus       *events.Bus
	providers *provider.Registry
	breakers  *breaker.Registry
	monitor   *health.Monitor
	cache     *cache.Manager

	healer      *healing.SelfHealer
	predictions *predictive.Engine
	optimizer   *optimizer.Optimizer
	scaler      *scaling.AutoScaler

	recorder  *metrics.Recorder
	persister *store.Persister

	startedAt time.Time
	running   atomic.Bool
}

// New wires the autonomous system. Loops disabled in config are not
// constructed at all.
func New(config Config, opts Options, logger *zap.Logger) (*System, error) {
	bus := events.NewBus(logger)
	providers := provider.NewRegistry(logger)
	breakers := breaker.NewRegistry(config.Breakers, logger, bus)
	monitor := health.NewMonitor(config.Health, config.Version, logger, bus)
	cacheMgr := cache.NewManager(logger)

	s := &System{
		logger:    logger,
		config:    config,
		bus:       bus,
		providers: providers,
		breakers:  breakers,
		monitor:   monitor,
		cache:     cacheMgr,
	}

	if config.SelfHealingEnabled {
		s.healer = healing.NewSelfHealer(config.Healing, providers, breakers, monitor, logger, bus)
	}

	if config.PredictiveEnabled {
		source := predictive.MetricsSource(predictive.NewFleetSource(monitor, breakers, nil))
		s.predictions = predictive.NewEngine(config.Predictive, source, monitor, logger, bus)
	}

	if config.OptimizationEnabled {
		perf := opts.PerfSource
		if perf == nil {
			perf = &fleetPerfSource{monitor: monitor, cache: cacheMgr}
		}
		s.optimizer = optimizer.New(config.Optimizer, perf, providers, cacheMgr, logger, bus)
	}

	if config.ScalingEnabled {
		executor := opts.Executor
		if executor == nil {
			var err error
			executor, err = scaling.NewExecutor(config.ScaleExecutor, config.ScaleExecutorOptions, logger, bus)
			if err != nil {
				return nil, fmt.Errorf("build scale executor: %w", err)
			}
		}
		load := opts.LoadSource
		if load == nil {
			load = scaling.NewSystemSource(scaling.SourceFunc(func() (scaling.LoadMetrics, error) {
				return scaling.LoadMetrics{}, nil
			}))
		}
		s.scaler = scaling.New(config.Scaling, load, executor, logger, bus)

		if config.Scaling.ScheduleFile != "" {
			entries, err := scaling.LoadScheduleFile(config.Scaling.ScheduleFile)
			if err != nil {
				return nil, fmt.Errorf("load scaling schedule: %w", err)
			}
			s.scaler.SetSchedule(entries)
		}
	}

	if opts.Sink != nil {
		s.recorder = metrics.NewRecorder(opts.Sink, logger, bus)
	}
	if opts.Store != nil {
		s.persister = store.NewPersister(opts.Store, logger, bus)
	}

	return s, nil
}

// Bus exposes the domain event stream for external subscribers.
func (s *System) Bus() *events.Bus { return s.bus }

// Monitor exposes the shared health monitor.
func (s *System) Monitor() *health.Monitor { return s.monitor }

// Breakers exposes the shared circuit breaker registry.
func (s *System) Breakers() *breaker.Registry { return s.breakers }

// Cache exposes the shared response cache.
func (s *System) Cache() *cache.Manager { return s.cache }

// Healer exposes the self-healer, nil when disabled.
func (s *System) Healer() *healing.SelfHealer { return s.healer }

// Predictions exposes the predictive engine, nil when disabled.
func (s *System) Predictions() *predictive.Engine { return s.predictions }

// Optimizer exposes the auto-optimizer, nil when disabled.
func (s *System) Optimizer() *optimizer.Optimizer { return s.optimizer }

// Scaler exposes the auto-scaler, nil when disabled.
func (s *System) Scaler() *scaling.AutoScaler { return s.scaler }

// Start brings the system up: sinks first, then the health monitor,
// then each enabled loop.
func (s *System) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("autonomous system already running")
	}
	s.startedAt = time.Now()

	if s.recorder != nil {
		if err := s.recorder.Start(); err != nil {
			return err
		}
	}
	if s.persister != nil {
		if err := s.persister.Start(); err != nil {
			return err
		}
	}

	if err := s.monitor.Start(); err != nil {
		return fmt.Errorf("start health monitor: %w", err)
	}
	if s.healer != nil {
		if err := s.healer.Start(); err != nil {
			return fmt.Errorf("start self-healer: %w", err)
		}
	}
	if s.predictions != nil {
		if err := s.predictions.Start(); err != nil {
			return fmt.Errorf("start predictive maintenance: %w", err)
		}
	}
	if s.optimizer != nil {
		if err := s.optimizer.Start(); err != nil {
			return fmt.Errorf("start optimizer: %w", err)
		}
	}
	if s.scaler != nil {
		if err := s.scaler.Start(); err != nil {
			return fmt.Errorf("start auto-scaler: %w", err)
		}
	}

	s.logger.Info("Autonomous system started",
		zap.Bool("self_healing", s.healer != nil),
		zap.Bool("predictive", s.predictions != nil),
		zap.Bool("optimization", s.optimizer != nil),
		zap.Bool("scaling", s.scaler != nil),
	)
	return nil
}

// Stop shuts the loops down in reverse order. Errors are logged, not
// returned; shutdown always completes.
func (s *System) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return fmt.Errorf("autonomous system not running")
	}

	stop := func(name string, fn func() error) {
		if err := fn(); err != nil {
			s.logger.Warn("Subsystem stop failed", zap.String("subsystem", name), zap.Error(err))
		}
	}

	if s.scaler != nil {
		stop("auto-scaler", s.scaler.Stop)
	}
	if s.optimizer != nil {
		stop("optimizer", s.optimizer.Stop)
	}
	if s.predictions != nil {
		stop("predictive", s.predictions.Stop)
	}
	if s.healer != nil {
		stop("self-healer", s.healer.Stop)
	}
	stop("health monitor", s.monitor.Stop)

	if s.persister != nil {
		stop("persister", s.persister.Stop)
	}
	if s.recorder != nil {
		stop("metrics recorder", s.recorder.Stop)
	}

	s.logger.Info("Autonomous system stopped")
	return nil
}

// RegisterProvider fans a provider out to every subsystem: registry,
// health monitor, breaker, self-healer, optimizer and cache.
func (s *System) RegisterProvider(p provider.Provider, cfg provider.Config, backups []string) error {
	if err := s.providers.Register(p, cfg); err != nil {
		return err
	}
	name := p.Name()

	check := providerCheck(p)
	s.monitor.Register(name, check)
	s.breakers.Get(name)

	if s.healer != nil {
		s.healer.RegisterProvider(name)
		if len(backups) > 0 {
			s.healer.SetBackupProviders(name, backups)
		}
	}
	if s.optimizer != nil {
		s.optimizer.RegisterProvider(name)
	}
	if err := s.cache.Register(name, cfg.CacheTTL); err != nil {
		return err
	}

	s.logger.Info("Provider registered",
		zap.String("provider", name),
		zap.Strings("backups", backups),
	)
	return nil
}

// UnregisterProvider removes a provider from every subsystem.
func (s *System) UnregisterProvider(name string) {
	s.monitor.Unregister(name)
	if s.healer != nil {
		s.healer.UnregisterProvider(name)
	}
	if s.optimizer != nil {
		s.optimizer.UnregisterProvider(name)
	}
	s.cache.Unregister(name)
}

// ForceHealing triggers healing for a provider, bypassing cooldowns.
func (s *System) ForceHealing(name, reason string) error {
	if s.healer == nil {
		return fmt.Errorf("self-healing disabled")
	}
	return s.healer.ForceHealing(name, reason)
}

// ForceScale sets the fleet instance count directly.
func (s *System) ForceScale(target int, reason string) error {
	if s.scaler == nil {
		return fmt.Errorf("auto-scaling disabled")
	}
	return s.scaler.ForceScale(target, reason)
}

// ForcePredictionAnalysis runs a prediction cycle immediately.
func (s *System) ForcePredictionAnalysis() ([]predictive.Prediction, error) {
	if s.predictions == nil {
		return nil, fmt.Errorf("predictive maintenance disabled")
	}
	created := s.predictions.Analyze()
	out := make([]predictive.Prediction, 0, len(created))
	for _, p := range created {
		out = append(out, *p)
	}
	return out, nil
}

// Status is a tolerant aggregate snapshot for operators.
func (s *System) Status() map[string]interface{} {
	result := s.monitor.Result()

	status := map[string]interface{}{
		"running":   s.running.Load(),
		"version":   s.config.Version,
		"uptime":    time.Since(s.startedAt).String(),
		"health":    result,
		"breakers":  s.breakers.AllStatuses(),
		"providers": s.providers.Count(),
	}
	if s.scaler != nil {
		status["instances"] = s.scaler.CurrentInstances()
	}
	return status
}

// Stats aggregates per-subsystem statistics; disabled subsystems report
// as such rather than erroring.
func (s *System) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"running": s.running.Load(),
		"bus":     s.bus.Stats(),
		"cache":   s.cache.Stats(),
	}

	if s.healer != nil {
		stats["healing"] = s.healer.Stats()
	} else {
		stats["healing"] = "disabled"
	}
	if s.predictions != nil {
		stats["predictive"] = s.predictions.Stats()
	} else {
		stats["predictive"] = "disabled"
	}
	if s.optimizer != nil {
		stats["optimizer"] = s.optimizer.Stats()
	} else {
		stats["optimizer"] = "disabled"
	}
	if s.scaler != nil {
		stats["scaling"] = s.scaler.Stats()
	} else {
		stats["scaling"] = "disabled"
	}
	return stats
}

// providerCheck derives the monitor check from the provider's optional
// health-check capability. Providers without one count as reachable.
func providerCheck(p provider.Provider) health.CheckFunc {
	if hc, ok := p.(provider.HealthChecker); ok {
		return hc.HealthCheck
	}
	return func(ctx context.Context) error { return nil }
}
