package scaling

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/africapayments/fleetd/internal/events"
)

// LoadMetrics is one instantaneous load sample for the fleet.
type LoadMetrics struct {
	TransactionsPerMinute float64       `json:"transactions_per_minute"`
	AvgResponseTime       time.Duration `json:"avg_response_time"`
	ErrorRate             float64       `json:"error_rate"`
	ActiveConnections     int           `json:"active_connections"`
}

// LoadSource supplies load samples each check tick.
type LoadSource interface {
	Collect() (LoadMetrics, error)
}

// Action is the direction of a scaling decision.
type Action string

const (
	ActionScaleUp   Action = "scale_up"
	ActionScaleDown Action = "scale_down"
)

// ScalingEvent records one attempted scale action.
type ScalingEvent struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Action      Action    `json:"action"`
	From        int       `json:"from"`
	To          int       `json:"to"`
	Utilization float64   `json:"utilization"`
	Reason      string    `json:"reason"`
	Predicted   bool      `json:"predicted"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

// Config contains auto-scaler settings.
type Config struct {
	MinInstances       int           `mapstructure:"min_instances"`
	MaxInstances       int           `mapstructure:"max_instances"`
	TargetPerInstance  float64       `mapstructure:"target_per_instance"`
	ScaleUpThreshold   float64       `mapstructure:"scale_up_threshold"`
	ScaleDownThreshold float64       `mapstructure:"scale_down_threshold"`
	ScaleUpCooldown    time.Duration `mapstructure:"scale_up_cooldown"`
	ScaleDownCooldown  time.Duration `mapstructure:"scale_down_cooldown"`
	CheckInterval      time.Duration `mapstructure:"check_interval"`
	MaxScaleSteps      int           `mapstructure:"max_scale_steps"`
	PredictionWindow   time.Duration `mapstructure:"prediction_window"`
	CostOptimization   bool          `mapstructure:"cost_optimization"`
	ScheduleFile       string        `mapstructure:"schedule_file"`
}

// DefaultConfig returns the default auto-scaler settings.
func DefaultConfig() Config {
	return Config{
		MinInstances:       2,
		MaxInstances:       10,
		TargetPerInstance:  100,
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.3,
		ScaleUpCooldown:    3 * time.Minute,
		ScaleDownCooldown:  10 * time.Minute,
		CheckInterval:      30 * time.Second,
		MaxScaleSteps:      2,
		PredictionWindow:   30 * time.Minute,
		CostOptimization:   true,
	}
}

// Utilization amplifiers applied when the fleet shows stress beyond raw
// throughput.
const (
	slowResponseFactor = 1.2
	highErrorFactor    = 1.3
	// with cost optimization, scale down only below this utilization
	costOptimizationFloor = 0.2
	predictionConfidence  = 0.7
)

const maxScalingEvents = 100

// AutoScaler keeps fleet capacity matched to observed and predicted
// load through a pluggable scale executor.
type AutoScaler struct {
	logger   *zap.Logger
	config   Config
	bus      *events.Bus
	source   LoadSource
	executor ScaleExecutor

	mu               sync.Mutex
	currentInstances int
	lastScaleUp      time.Time
	lastScaleDown    time.Time
	lastAction       Action
	schedule         []ScheduleEntry
	history          []ScalingEvent
	costSavingsPct   float64

	scaleUps   atomic.Uint64
	scaleDowns atomic.Uint64
	failures   atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates an auto-scaler starting at MinInstances.
func New(config Config, source LoadSource, executor ScaleExecutor, logger *zap.Logger, bus *events.Bus) *AutoScaler {
	return &AutoScaler{
		logger:           logger,
		config:           config,
		bus:              bus,
		source:           source,
		executor:         executor,
		currentInstances: config.MinInstances,
	}
}

// SetSchedule replaces the static traffic schedule.
func (s *AutoScaler) SetSchedule(entries []ScheduleEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule = append([]ScheduleEntry(nil), entries...)
}

// Start begins the periodic check loop.
func (s *AutoScaler) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("auto-scaler already running")
	}
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.run()

	s.logger.Info("Auto-scaler started",
		zap.Int("min_instances", s.config.MinInstances),
		zap.Int("max_instances", s.config.MaxInstances),
		zap.String("executor", s.executor.Type()),
	)
	return nil
}

// Stop halts the check loop.
func (s *AutoScaler) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return fmt.Errorf("auto-scaler not running")
	}
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Auto-scaler stopped")
	return nil
}

func (s *AutoScaler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Check(time.Now())
		}
	}
}

// Check runs one scaling decision cycle.
func (s *AutoScaler) Check(now time.Time) {
	metrics, err := s.source.Collect()
	if err != nil {
		s.logger.Warn("Load collection failed", zap.Error(err))
		return
	}

	util := s.utilization(metrics)

	// a confident schedule match takes over the scale-up decision
	if factor, confidence, matched := s.predictLoad(now); matched && confidence > predictionConfidence {
		predicted := math.Min(util*factor, 1)
		s.logger.Debug("Predictive scaling evaluation",
			zap.Float64("load_factor", factor),
			zap.Float64("confidence", confidence),
			zap.Float64("predicted_utilization", predicted),
		)
		if predicted > s.config.ScaleUpThreshold {
			s.scaleUp(now, metrics, predicted, true,
				fmt.Sprintf("scheduled load factor %.1f, predicted utilization %.2f", factor, predicted))
		}
		return
	}

	switch {
	case util > s.config.ScaleUpThreshold:
		s.scaleUp(now, metrics, util, false,
			fmt.Sprintf("utilization %.2f above threshold %.2f", util, s.config.ScaleUpThreshold))
	case util < s.config.ScaleDownThreshold:
		s.scaleDown(now, metrics, util)
	}
}

// utilization is throughput pressure amplified by latency and error
// stress, capped at 1.
func (s *AutoScaler) utilization(m LoadMetrics) float64 {
	s.mu.Lock()
	current := s.currentInstances
	s.mu.Unlock()

	util := m.TransactionsPerMinute / (s.config.TargetPerInstance * float64(current))
	if m.AvgResponseTime > 500*time.Millisecond {
		util *= slowResponseFactor
	}
	if m.ErrorRate > 0.05 {
		util *= highErrorFactor
	}
	return math.Min(util, 1)
}

func (s *AutoScaler) scaleUp(now time.Time, m LoadMetrics, util float64, predicted bool, reason string) {
	s.mu.Lock()
	current := s.currentInstances
	cooldown := s.config.ScaleUpCooldown
	if s.lastAction == ActionScaleDown {
		cooldown /= 2
	}
	if !s.lastScaleUp.IsZero() && now.Sub(s.lastScaleUp) < cooldown {
		s.mu.Unlock()
		return
	}
	if current >= s.config.MaxInstances {
		s.mu.Unlock()
		return
	}

	target := int(math.Ceil(m.TransactionsPerMinute / s.config.TargetPerInstance))
	if target <= current {
		target = current + 1
	}
	if target > current+s.config.MaxScaleSteps {
		target = current + s.config.MaxScaleSteps
	}
	if target > s.config.MaxInstances {
		target = s.config.MaxInstances
	}
	s.mu.Unlock()

	s.execute(now, ActionScaleUp, current, target, util, predicted, reason)
}

func (s *AutoScaler) scaleDown(now time.Time, m LoadMetrics, util float64) {
	s.mu.Lock()
	current := s.currentInstances
	cooldown := s.config.ScaleDownCooldown
	if s.lastAction == ActionScaleUp {
		cooldown /= 2
	}
	if !s.lastScaleDown.IsZero() && now.Sub(s.lastScaleDown) < cooldown {
		s.mu.Unlock()
		return
	}
	if current <= s.config.MinInstances {
		s.mu.Unlock()
		return
	}
	if s.config.CostOptimization && util > costOptimizationFloor {
		s.mu.Unlock()
		return
	}

	target := int(math.Ceil(m.TransactionsPerMinute / s.config.TargetPerInstance))
	if target >= current {
		target = current - 1
	}
	if target < current-s.config.MaxScaleSteps {
		target = current - s.config.MaxScaleSteps
	}
	if target < s.config.MinInstances {
		target = s.config.MinInstances
	}
	s.mu.Unlock()

	s.execute(now, ActionScaleDown, current, target, util,
		false, fmt.Sprintf("utilization %.2f below threshold %.2f", util, s.config.ScaleDownThreshold))
}

// execute runs the executor and records the outcome. currentInstances
// moves only on confirmed success.
func (s *AutoScaler) execute(now time.Time, action Action, from, to int, util float64, predicted bool, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := s.executor.Scale(ctx, to)
	cancel()

	ev := ScalingEvent{
		ID:          uuid.New().String(),
		Timestamp:   now,
		Action:      action,
		From:        from,
		To:          to,
		Utilization: util,
		Reason:      reason,
		Predicted:   predicted,
		Success:     err == nil,
	}

	s.mu.Lock()
	if err == nil {
		s.currentInstances = to
		s.lastAction = action
		if action == ActionScaleUp {
			s.lastScaleUp = now
		} else {
			s.lastScaleDown = now
			// most recent scale-down only, not cumulative
			s.costSavingsPct = float64(from-to) / float64(from) * 100
		}
	} else {
		ev.Error = err.Error()
	}
	s.history = append(s.history, ev)
	if len(s.history) > maxScalingEvents {
		s.history = s.history[len(s.history)-maxScalingEvents:]
	}
	s.mu.Unlock()

	if err != nil {
		s.failures.Add(1)
		s.logger.Error("Scale execution failed",
			zap.String("action", string(action)),
			zap.Int("target", to),
			zap.Error(err),
		)
	} else {
		if action == ActionScaleUp {
			s.scaleUps.Add(1)
		} else {
			s.scaleDowns.Add(1)
		}
		s.logger.Info("Scaled fleet",
			zap.String("action", string(action)),
			zap.Int("from", from),
			zap.Int("to", to),
			zap.Float64("utilization", util),
			zap.Bool("predicted", predicted),
		)
	}

	s.bus.Publish(events.ScalingExecuted{
		Base:        events.Now(),
		ID:          ev.ID,
		Action:      string(action),
		From:        from,
		To:          to,
		Utilization: util,
		Predicted:   predicted,
		Success:     err == nil,
		Err:         ev.Error,
	})
}

// ForceScale sets the instance count directly, still bounded by the
// configured range.
func (s *AutoScaler) ForceScale(target int, reason string) error {
	if target < s.config.MinInstances || target > s.config.MaxInstances {
		return fmt.Errorf("target %d outside [%d,%d]",
			target, s.config.MinInstances, s.config.MaxInstances)
	}

	s.mu.Lock()
	current := s.currentInstances
	s.mu.Unlock()
	if target == current {
		return nil
	}

	action := ActionScaleUp
	if target < current {
		action = ActionScaleDown
	}
	if reason == "" {
		reason = "forced by operator"
	}
	s.execute(time.Now(), action, current, target, 0, false, reason)
	return nil
}

// CurrentInstances returns the confirmed instance count.
func (s *AutoScaler) CurrentInstances() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentInstances
}

// Events returns up to limit recent scaling events, newest last.
func (s *AutoScaler) Events(limit int) []ScalingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]ScalingEvent(nil), s.history[len(s.history)-n:]...)
}

// Stats returns aggregate auto-scaler statistics.
func (s *AutoScaler) Stats() map[string]interface{} {
	s.mu.Lock()
	current := s.currentInstances
	savings := s.costSavingsPct
	scheduleLen := len(s.schedule)
	s.mu.Unlock()

	return map[string]interface{}{
		"running":           s.running.Load(),
		"current_instances": current,
		"min_instances":     s.config.MinInstances,
		"max_instances":     s.config.MaxInstances,
		"scale_ups":         s.scaleUps.Load(),
		"scale_downs":       s.scaleDowns.Load(),
		"failures":          s.failures.Load(),
		"cost_savings_pct":  savings,
		"schedule_entries":  scheduleLen,
	}
}
