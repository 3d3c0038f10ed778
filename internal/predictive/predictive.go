package predictive

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/africapayments/fleetd/internal/events"
	"github.com/africapayments/fleetd/internal/health"
)

// PredictionType classifies what an analyzer expects to happen.
type PredictionType string

const (
	PredictionFailure        PredictionType = "failure"
	PredictionDegradation    PredictionType = "degradation"
	PredictionSpike          PredictionType = "spike"
	PredictionPatternAnomaly PredictionType = "pattern_anomaly"
)

// Severity ranks a prediction.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// PredictionStatus is the lifecycle state of a prediction.
type PredictionStatus string

const (
	PredictionActive        PredictionStatus = "active"
	PredictionConfirmed     PredictionStatus = "confirmed"
	PredictionResolved      PredictionStatus = "resolved"
	PredictionFalsePositive PredictionStatus = "false_positive"
)

// Sensitivity controls how aggressively analyzers flag candidates.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// thresholdMultiplier scales base thresholds per sensitivity. Low
// sensitivity raises thresholds, high lowers them.
func (s Sensitivity) thresholdMultiplier() float64 {
	switch s {
	case SensitivityLow:
		return 1.5
	case SensitivityHigh:
		return 0.7
	default:
		return 1.0
	}
}

// Timeframe bounds when a predicted incident is expected.
type Timeframe struct {
	Expected    time.Time `json:"expected"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// Prediction is one forecast produced by trend analysis.
type Prediction struct {
	ID                string           `json:"id"`
	Timestamp         time.Time        `json:"timestamp"`
	Provider          string           `json:"provider"`
	Type              PredictionType   `json:"type"`
	Severity          Severity         `json:"severity"`
	Confidence        float64          `json:"confidence"`
	Timeframe         Timeframe        `json:"timeframe"`
	Indicators        []string         `json:"indicators"`
	RecommendedAction string           `json:"recommended_action"`
	Status            PredictionStatus `json:"status"`
}

// Sample is one observation of a provider's behavior.
type Sample struct {
	Timestamp    time.Time
	ResponseTime time.Duration
	ErrorRate    float64
	BreakerState string
	RequestCount int64
}

// MetricsSource supplies the per-provider samples the engine analyzes.
// Production wiring composes the health monitor and breaker registry;
// tests inject synthetic feeds.
type MetricsSource interface {
	Collect() map[string]Sample
}

// Config contains predictive maintenance settings.
type Config struct {
	AnalysisInterval         time.Duration `mapstructure:"analysis_interval"`
	CollectionInterval       time.Duration `mapstructure:"collection_interval"`
	MinDataPoints            int           `mapstructure:"min_data_points"`
	MaxSamplesPerProvider    int           `mapstructure:"max_samples_per_provider"`
	HistoryRetention         time.Duration `mapstructure:"history_retention"`
	Sensitivity              Sensitivity   `mapstructure:"sensitivity"`
	ErrorRateThreshold       float64       `mapstructure:"error_rate_threshold"`
	DegradationThreshold     float64       `mapstructure:"degradation_threshold"`
	AutoScheduleMaintenance  bool          `mapstructure:"auto_schedule_maintenance"`
	MaintenanceScheduleAhead time.Duration `mapstructure:"maintenance_schedule_ahead"`
	MaintenanceDuration      time.Duration `mapstructure:"maintenance_duration"`
}

// DefaultConfig returns the default predictive maintenance settings.
func DefaultConfig() Config {
	return Config{
		AnalysisInterval:         5 * time.Minute,
		CollectionInterval:       time.Minute,
		MinDataPoints:            10,
		MaxSamplesPerProvider:    500,
		HistoryRetention:         24 * time.Hour,
		Sensitivity:              SensitivityMedium,
		ErrorRateThreshold:       0.05,
		DegradationThreshold:     0.5,
		AutoScheduleMaintenance:  true,
		MaintenanceScheduleAhead: 4 * time.Hour,
		MaintenanceDuration:      time.Hour,
	}
}

const maxPredictionHistory = 500

// Engine collects per-provider metric history and forecasts failures,
// degradation and anomalies from trends. High-confidence critical
// predictions can book maintenance windows automatically.
type Engine struct {
	logger *zap.Logger
	config Config
	bus    *events.Bus
	source MetricsSource
	health *health.Monitor

	mu          sync.Mutex
	history     map[string][]Sample
	predictions []*Prediction
	windows     *windowBook

	analysesRun    atomic.Uint64
	falsePositives atomic.Uint64
	confirmed      atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewEngine creates a predictive maintenance engine. source may be nil,
// in which case no samples accumulate until SetSource is called.
func NewEngine(config Config, source MetricsSource, monitor *health.Monitor, logger *zap.Logger, bus *events.Bus) *Engine {
	return &Engine{
		logger:  logger,
		config:  config,
		bus:     bus,
		source:  source,
		health:  monitor,
		history: make(map[string][]Sample),
		windows: newWindowBook(logger, bus),
	}
}

// SetSource replaces the metrics source.
func (e *Engine) SetSource(source MetricsSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.source = source
}

// Start begins collection, analysis and maintenance-window bookkeeping.
func (e *Engine) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("predictive engine already running")
	}
	e.stopCh = make(chan struct{})

	if err := e.windows.start(); err != nil {
		e.running.Store(false)
		return fmt.Errorf("start maintenance scheduler: %w", err)
	}

	e.wg.Add(1)
	go e.run()

	e.logger.Info("Predictive maintenance started",
		zap.Duration("analysis_interval", e.config.AnalysisInterval),
		zap.String("sensitivity", string(e.config.Sensitivity)),
		zap.Bool("auto_schedule", e.config.AutoScheduleMaintenance),
	)
	return nil
}

// Stop halts collection and analysis.
func (e *Engine) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return fmt.Errorf("predictive engine not running")
	}
	close(e.stopCh)
	e.wg.Wait()
	e.windows.stop()
	e.logger.Info("Predictive maintenance stopped")
	return nil
}

func (e *Engine) run() {
	defer e.wg.Done()

	collect := time.NewTicker(e.config.CollectionInterval)
	defer collect.Stop()
	analyze := time.NewTicker(e.config.AnalysisInterval)
	defer analyze.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-collect.C:
			e.collectSamples()
		case <-analyze.C:
			e.Analyze()
		}
	}
}

func (e *Engine) collectSamples() {
	e.mu.Lock()
	source := e.source
	e.mu.Unlock()
	if source == nil {
		return
	}

	samples := source.Collect()
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	for name, s := range samples {
		if s.Timestamp.IsZero() {
			s.Timestamp = now
		}
		hist := append(e.history[name], s)
		hist = pruneSamples(hist, now.Add(-e.config.HistoryRetention))
		if len(hist) > e.config.MaxSamplesPerProvider {
			hist = hist[len(hist)-e.config.MaxSamplesPerProvider:]
		}
		e.history[name] = hist
	}
}

func pruneSamples(hist []Sample, cutoff time.Time) []Sample {
	idx := 0
	for idx < len(hist) && hist[idx].Timestamp.Before(cutoff) {
		idx++
	}
	return hist[idx:]
}

// Analyze runs one full analysis cycle: trend analyzers per provider,
// then reclassification of active predictions. It is also the manual
// force-analysis entry point.
func (e *Engine) Analyze() []*Prediction {
	e.analysesRun.Add(1)

	e.mu.Lock()
	providers := make(map[string][]Sample, len(e.history))
	for name, hist := range e.history {
		if len(hist) >= e.config.MinDataPoints {
			providers[name] = append([]Sample(nil), hist...)
		}
	}
	e.mu.Unlock()

	var created []*Prediction
	for name, hist := range providers {
		for _, cand := range e.analyzeProvider(name, hist) {
			if p := e.admitCandidate(cand); p != nil {
				created = append(created, p)
			}
		}
	}

	e.reclassifyPredictions()
	return created
}

// admitCandidate either bumps an existing active prediction of the same
// (provider, type) or records a new one.
func (e *Engine) admitCandidate(cand candidate) *Prediction {
	e.mu.Lock()

	for _, p := range e.predictions {
		if p.Status == PredictionActive && p.Provider == cand.provider && p.Type == cand.predType {
			p.Confidence += 0.05
			if p.Confidence > 1 {
				p.Confidence = 1
			}
			e.mu.Unlock()
			return nil
		}
	}

	now := time.Now()
	pred := &Prediction{
		ID:                uuid.New().String(),
		Timestamp:         now,
		Provider:          cand.provider,
		Type:              cand.predType,
		Severity:          cand.severity(),
		Confidence:        cand.confidence(),
		Timeframe:         cand.timeframe(now),
		Indicators:        cand.indicators,
		RecommendedAction: cand.recommendedAction,
		Status:            PredictionActive,
	}

	e.predictions = append(e.predictions, pred)
	if len(e.predictions) > maxPredictionHistory {
		e.predictions = e.predictions[len(e.predictions)-maxPredictionHistory:]
	}
	e.mu.Unlock()

	e.logger.Info("Prediction created",
		zap.String("provider", pred.Provider),
		zap.String("type", string(pred.Type)),
		zap.String("severity", string(pred.Severity)),
		zap.Float64("confidence", pred.Confidence),
	)
	e.bus.Publish(events.PredictionCreated{
		Base:       events.Now(),
		ID:         pred.ID,
		Provider:   pred.Provider,
		Type:       string(pred.Type),
		Severity:   string(pred.Severity),
		Confidence: pred.Confidence,
	})

	if e.config.AutoScheduleMaintenance && pred.Confidence > 0.8 && pred.Severity == SeverityCritical {
		e.scheduleForPrediction(pred)
	}
	return pred
}

// reclassifyPredictions walks active predictions: confirmed if the
// provider was seen unhealthy within an hour of creation, false positive
// once the window closes without incident.
func (e *Engine) reclassifyPredictions() {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.predictions {
		if p.Status != PredictionActive {
			continue
		}

		if e.health != nil {
			if ph, ok := e.health.GetProviderHealth(p.Provider); ok &&
				ph.Status == health.StatusUnhealthy &&
				now.Before(p.Timestamp.Add(time.Hour)) {
				p.Status = PredictionConfirmed
				e.confirmed.Add(1)
				continue
			}
		}

		if now.After(p.Timeframe.WindowEnd) {
			p.Status = PredictionFalsePositive
			e.falsePositives.Add(1)
		}
	}
}

// Predictions returns a snapshot of all retained predictions.
func (e *Engine) Predictions() []Prediction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Prediction, 0, len(e.predictions))
	for _, p := range e.predictions {
		out = append(out, *p)
	}
	return out
}

// ActivePredictions returns only predictions still awaiting an outcome.
func (e *Engine) ActivePredictions() []Prediction {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Prediction
	for _, p := range e.predictions {
		if p.Status == PredictionActive {
			out = append(out, *p)
		}
	}
	return out
}

// ResolvePrediction manually marks a prediction resolved.
func (e *Engine) ResolvePrediction(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.predictions {
		if p.ID == id {
			p.Status = PredictionResolved
			return nil
		}
	}
	return fmt.Errorf("unknown prediction: %s", id)
}

// MaintenanceWindows returns a snapshot of scheduled windows.
func (e *Engine) MaintenanceWindows() []MaintenanceWindow {
	return e.windows.snapshot()
}

// ScheduleMaintenance books a manual maintenance window.
func (e *Engine) ScheduleMaintenance(providers []string, at time.Time, duration time.Duration, reason string) (MaintenanceWindow, error) {
	if len(providers) == 0 {
		return MaintenanceWindow{}, fmt.Errorf("no providers given")
	}
	if at.Before(time.Now()) {
		return MaintenanceWindow{}, fmt.Errorf("maintenance window in the past")
	}
	if duration <= 0 {
		duration = e.config.MaintenanceDuration
	}
	return e.windows.schedule(providers, at, duration, reason, nil), nil
}

// CancelMaintenance cancels a window that has not started yet.
func (e *Engine) CancelMaintenance(id string) error {
	return e.windows.cancel(id)
}

func (e *Engine) scheduleForPrediction(pred *Prediction) {
	at := e.windows.findSlot(time.Now(), e.config.MaintenanceScheduleAhead)
	w := e.windows.schedule(
		[]string{pred.Provider},
		at,
		e.config.MaintenanceDuration,
		fmt.Sprintf("predicted %s (confidence %.2f)", pred.Type, pred.Confidence),
		[]string{pred.ID},
	)
	e.logger.Info("Maintenance auto-scheduled",
		zap.String("window_id", w.ID),
		zap.String("provider", pred.Provider),
		zap.Time("scheduled_at", w.ScheduledAt),
	)
}

// SampleCount returns the retained history length for a provider.
func (e *Engine) SampleCount(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history[name])
}

// Stats returns aggregate engine statistics.
func (e *Engine) Stats() map[string]interface{} {
	e.mu.Lock()
	byStatus := make(map[string]int)
	for _, p := range e.predictions {
		byStatus[string(p.Status)]++
	}
	tracked := len(e.history)
	total := len(e.predictions)
	e.mu.Unlock()

	return map[string]interface{}{
		"running":               e.running.Load(),
		"tracked_providers":     tracked,
		"analyses_run":          e.analysesRun.Load(),
		"predictions_total":     total,
		"predictions_by_status": byStatus,
		"confirmed":             e.confirmed.Load(),
		"false_positives":       e.falsePositives.Load(),
		"maintenance_windows":   e.windows.size(),
	}
}
