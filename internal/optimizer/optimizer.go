package optimizer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/africapayments/fleetd/internal/events"
	"github.com/africapayments/fleetd/internal/provider"
)

// Category identifies which tuning knob an optimization adjusts.
type Category string

const (
	CategoryTimeout   Category = "timeout"
	CategoryRetry     Category = "retry"
	CategoryRateLimit Category = "rate_limit"
	CategoryCache     Category = "cache"
)

// Status is the lifecycle state of an optimization.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApplied  Status = "applied"
	StatusReverted Status = "reverted"
	StatusFailed   Status = "failed"
)

// Results records the post-apply evaluation outcome.
type Results struct {
	Improvement float64   `json:"improvement"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	Confirmed   bool      `json:"confirmed"`
}

// Optimization is one proposed or applied config change.
type Optimization struct {
	ID                  string    `json:"id"`
	Timestamp           time.Time `json:"timestamp"`
	Provider            string    `json:"provider"`
	Category            Category  `json:"category"`
	Parameter           string    `json:"parameter"`
	OldValue            float64   `json:"old_value"`
	NewValue            float64   `json:"new_value"`
	Reason              string    `json:"reason"`
	ExpectedImprovement float64   `json:"expected_improvement"`
	Status              Status    `json:"status"`
	Results             *Results  `json:"results,omitempty"`

	appliedAt       time.Time
	baselineSuccess float64
	baselineResp    float64
}

// ProviderConfig is the mutable per-provider tuning record. Other
// components read snapshots by value, never a live reference.
type ProviderConfig struct {
	Timeout            time.Duration `json:"timeout"`
	MaxRetries         int           `json:"max_retries"`
	BaseRetryDelay     time.Duration `json:"base_retry_delay"`
	MaxRetryDelay      time.Duration `json:"max_retry_delay"`
	RateLimitPerSecond float64       `json:"rate_limit_per_second"`
	CacheTTL           time.Duration `json:"cache_ttl"`
	FailureThreshold   int           `json:"failure_threshold"`
	SuccessThreshold   int           `json:"success_threshold"`
}

// PerfSample is one aggregated performance observation for a provider.
type PerfSample struct {
	Timestamp       time.Time
	SuccessRate     float64
	ErrorRate       float64
	TimeoutRate     float64
	AvgResponseTime time.Duration
	CacheHitRate    float64
}

// PerfSource supplies per-provider performance samples each cycle.
type PerfSource interface {
	Collect() map[string]PerfSample
}

// TTLSetter applies cache TTL changes. The response cache implements it.
type TTLSetter interface {
	SetTTL(provider string, ttl time.Duration) error
}

// Config contains auto-optimizer settings.
type Config struct {
	AnalysisInterval          time.Duration `mapstructure:"analysis_interval"`
	MinSamplesForOptimization int           `mapstructure:"min_samples_for_optimization"`
	OptimizationCooldown      time.Duration `mapstructure:"optimization_cooldown"`
	EvaluationDelay           time.Duration `mapstructure:"evaluation_delay"`
	MaxAppliesPerCycle        int           `mapstructure:"max_applies_per_cycle"`
	TimeoutAdjustmentFactor   float64       `mapstructure:"timeout_adjustment_factor"`
	MinTimeout                time.Duration `mapstructure:"min_timeout"`
	MaxTimeout                time.Duration `mapstructure:"max_timeout"`
	MaxRetries                int           `mapstructure:"max_retries"`
	MinRetries                int           `mapstructure:"min_retries"`
	MaxRateLimitPerSecond     float64       `mapstructure:"max_rate_limit_per_second"`
	MinCacheTTL               time.Duration `mapstructure:"min_cache_ttl"`
	MaxCacheTTL               time.Duration `mapstructure:"max_cache_ttl"`
	Conservative              bool          `mapstructure:"conservative"`
}

// DefaultConfig returns the default auto-optimizer settings.
func DefaultConfig() Config {
	return Config{
		AnalysisInterval:          time.Minute,
		MinSamplesForOptimization: 50,
		OptimizationCooldown:      5 * time.Minute,
		EvaluationDelay:           5 * time.Minute,
		MaxAppliesPerCycle:        3,
		TimeoutAdjustmentFactor:   1.5,
		MinTimeout:                5 * time.Second,
		MaxTimeout:                2 * time.Minute,
		MaxRetries:                5,
		MinRetries:                1,
		MaxRateLimitPerSecond:     100,
		MinCacheTTL:               time.Minute,
		MaxCacheTTL:               time.Hour,
		Conservative:              false,
	}
}

const maxSampleHistory = 100
const maxOptimizationHistory = 500

// Optimizer tunes per-provider runtime parameters from observed
// performance and rolls back changes that make things worse.
type Optimizer struct {
	logger    *zap.Logger
	config    Config
	bus       *events.Bus
	source    PerfSource
	providers *provider.Registry
	cache     TTLSetter

	mu            sync.Mutex
	configs       map[string]*ProviderConfig
	history       map[string][]PerfSample
	optimizations []*Optimization
	lastOptimized map[string]time.Time

	applied  atomic.Uint64
	reverted atomic.Uint64
	failed   atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates an auto-optimizer. providers and cache carry the side
// effects of rate-limit and cache-TTL changes; either may be nil.
func New(config Config, source PerfSource, providers *provider.Registry, cache TTLSetter, logger *zap.Logger, bus *events.Bus) *Optimizer {
	return &Optimizer{
		logger:        logger,
		config:        config,
		bus:           bus,
		source:        source,
		providers:     providers,
		cache:         cache,
		configs:       make(map[string]*ProviderConfig),
		history:       make(map[string][]PerfSample),
		lastOptimized: make(map[string]time.Time),
	}
}

// RegisterProvider seeds the tuning record from provider-specific
// defaults, falling back to generic ones.
func (o *Optimizer) RegisterProvider(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.configs[name]; !ok {
		cfg := defaultProviderConfig(name)
		o.configs[name] = &cfg
	}
}

// UnregisterProvider drops a provider's tuning record and history.
func (o *Optimizer) UnregisterProvider(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.configs, name)
	delete(o.history, name)
	delete(o.lastOptimized, name)
}

// SetSource replaces the performance source.
func (o *Optimizer) SetSource(source PerfSource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.source = source
}

// Start begins the periodic optimization cycle.
func (o *Optimizer) Start() error {
	if !o.running.CompareAndSwap(false, true) {
		return fmt.Errorf("optimizer already running")
	}
	o.stopCh = make(chan struct{})

	sub, cancelSub := o.bus.Subscribe(64, events.KindOptimizationRequested)

	o.wg.Add(1)
	go o.run(sub, cancelSub)

	o.logger.Info("Auto-optimizer started",
		zap.Duration("analysis_interval", o.config.AnalysisInterval),
		zap.Int("min_samples", o.config.MinSamplesForOptimization),
		zap.Bool("conservative", o.config.Conservative),
	)
	return nil
}

// Stop halts the optimization cycle.
func (o *Optimizer) Stop() error {
	if !o.running.CompareAndSwap(true, false) {
		return fmt.Errorf("optimizer not running")
	}
	close(o.stopCh)
	o.wg.Wait()
	o.logger.Info("Auto-optimizer stopped")
	return nil
}

func (o *Optimizer) run(sub <-chan events.Event, cancelSub func()) {
	defer o.wg.Done()
	defer cancelSub()

	ticker := time.NewTicker(o.config.AnalysisInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if req, isReq := ev.(events.OptimizationRequested); isReq {
				o.analyzeProvider(req.Provider, true)
				o.applyPending()
			}
		case <-ticker.C:
			o.RunCycle()
		}
	}
}

// RunCycle executes one full optimization pass. Proposals queued by a
// previous cycle are applied before new rule evaluation, so a proposal
// is observable as pending for at least one cycle.
func (o *Optimizer) RunCycle() {
	o.collectSamples()
	o.applyPending()
	o.evaluateApplied(time.Now())

	o.mu.Lock()
	names := make([]string, 0, len(o.configs))
	for name := range o.configs {
		names = append(names, name)
	}
	o.mu.Unlock()

	for _, name := range names {
		o.analyzeProvider(name, false)
	}
}

func (o *Optimizer) collectSamples() {
	o.mu.Lock()
	source := o.source
	o.mu.Unlock()
	if source == nil {
		return
	}

	samples := source.Collect()
	now := time.Now()

	o.mu.Lock()
	defer o.mu.Unlock()
	for name, s := range samples {
		if _, ok := o.configs[name]; !ok {
			continue
		}
		if s.Timestamp.IsZero() {
			s.Timestamp = now
		}
		hist := append(o.history[name], s)
		if len(hist) > maxSampleHistory {
			hist = hist[len(hist)-maxSampleHistory:]
		}
		o.history[name] = hist
	}
}

// analyzeProvider evaluates the tuning rules for one provider. requested
// bypasses the cooldown gate (a degraded-provider signal wants action now).
func (o *Optimizer) analyzeProvider(name string, requested bool) {
	o.mu.Lock()
	cfg, ok := o.configs[name]
	if !ok {
		o.mu.Unlock()
		return
	}
	hist := o.history[name]
	if len(hist) < o.config.MinSamplesForOptimization {
		o.mu.Unlock()
		return
	}
	if !requested {
		if last, seen := o.lastOptimized[name]; seen && time.Since(last) < o.config.OptimizationCooldown {
			o.mu.Unlock()
			return
		}
	}

	agg := aggregate(hist)
	proposals := o.evaluateRules(name, *cfg, agg)

	queued := 0
	for i := range proposals {
		p := proposals[i]
		if o.hasPendingLocked(name, p.Category) {
			continue
		}
		o.optimizations = append(o.optimizations, &p)
		queued++
	}
	if queued > 0 {
		o.lastOptimized[name] = time.Now()
		o.trimOptimizationsLocked()
	}
	o.mu.Unlock()

	if queued > 0 {
		o.logger.Info("Optimizations proposed",
			zap.String("provider", name),
			zap.Int("count", queued),
		)
	}
}

func (o *Optimizer) hasPendingLocked(name string, cat Category) bool {
	for _, opt := range o.optimizations {
		if opt.Provider == name && opt.Category == cat && opt.Status == StatusPending {
			return true
		}
	}
	return false
}

func (o *Optimizer) trimOptimizationsLocked() {
	if len(o.optimizations) > maxOptimizationHistory {
		o.optimizations = o.optimizations[len(o.optimizations)-maxOptimizationHistory:]
	}
}

// applyPending applies up to MaxAppliesPerCycle pending proposals,
// oldest first. A failure to apply marks that item failed and moves on.
func (o *Optimizer) applyPending() {
	o.mu.Lock()
	var batch []*Optimization
	for _, opt := range o.optimizations {
		if opt.Status == StatusPending {
			batch = append(batch, opt)
			if len(batch) == o.config.MaxAppliesPerCycle {
				break
			}
		}
	}
	o.mu.Unlock()

	for _, opt := range batch {
		o.applyOne(opt)
	}
}

func (o *Optimizer) applyOne(opt *Optimization) {
	o.mu.Lock()
	cfg, ok := o.configs[opt.Provider]
	if !ok {
		opt.Status = StatusFailed
		o.mu.Unlock()
		o.failed.Add(1)
		return
	}

	setConfigValue(cfg, opt.Category, opt.NewValue)

	var baseSuccess, baseResp float64
	if hist := o.history[opt.Provider]; len(hist) > 0 {
		agg := aggregate(hist)
		baseSuccess = agg.SuccessRate
		baseResp = float64(agg.AvgResponseTime.Milliseconds())
	}
	opt.Status = StatusApplied
	opt.appliedAt = time.Now()
	opt.baselineSuccess = baseSuccess
	opt.baselineResp = baseResp
	o.mu.Unlock()

	if err := o.propagate(opt.Provider, opt.Category, opt.NewValue); err != nil {
		o.mu.Lock()
		setConfigValue(cfg, opt.Category, opt.OldValue)
		opt.Status = StatusFailed
		o.mu.Unlock()
		o.failed.Add(1)
		o.logger.Error("Optimization apply failed",
			zap.String("provider", opt.Provider),
			zap.String("category", string(opt.Category)),
			zap.Error(err),
		)
		return
	}

	o.applied.Add(1)
	o.logger.Info("Optimization applied",
		zap.String("provider", opt.Provider),
		zap.String("category", string(opt.Category)),
		zap.String("parameter", opt.Parameter),
		zap.Float64("old", opt.OldValue),
		zap.Float64("new", opt.NewValue),
	)
	o.bus.Publish(events.OptimizationApplied{
		Base:      events.Now(),
		ID:        opt.ID,
		Provider:  opt.Provider,
		Category:  string(opt.Category),
		Parameter: opt.Parameter,
		OldValue:  opt.OldValue,
		NewValue:  opt.NewValue,
	})
}

// propagate carries a config change into the collaborators that enforce
// it. Timeout and retry values are read from config snapshots by the
// request path, so only rate limits and cache TTLs push outward.
func (o *Optimizer) propagate(name string, cat Category, value float64) error {
	switch cat {
	case CategoryRateLimit:
		if o.providers != nil {
			return o.providers.SetRateLimit(name, value)
		}
	case CategoryCache:
		if o.cache != nil {
			return o.cache.SetTTL(name, time.Duration(value)*time.Second)
		}
	}
	return nil
}

// evaluateApplied scores applied optimizations whose observation delay
// has elapsed against fresh metrics and reverts the harmful ones.
func (o *Optimizer) evaluateApplied(now time.Time) {
	o.mu.Lock()
	var due []*Optimization
	for _, opt := range o.optimizations {
		if opt.Status == StatusApplied && opt.Results == nil &&
			now.Sub(opt.appliedAt) >= o.config.EvaluationDelay {
			due = append(due, opt)
		}
	}
	o.mu.Unlock()

	for _, opt := range due {
		o.evaluateOne(opt)
	}
}

func (o *Optimizer) evaluateOne(opt *Optimization) {
	o.mu.Lock()
	cfg, ok := o.configs[opt.Provider]
	if !ok {
		// provider removed since apply; nothing to revert into
		opt.Results = &Results{EvaluatedAt: time.Now()}
		o.mu.Unlock()
		return
	}

	hist := o.history[opt.Provider]
	if len(hist) == 0 {
		opt.Results = &Results{EvaluatedAt: time.Now(), Confirmed: true}
		o.mu.Unlock()
		return
	}

	agg := aggregate(hist)
	improvement := agg.SuccessRate - opt.baselineSuccess
	if opt.baselineResp > 0 {
		curResp := float64(agg.AvgResponseTime.Milliseconds())
		improvement += 0.5 * (opt.baselineResp - curResp) / opt.baselineResp
	}

	opt.Results = &Results{
		Improvement: improvement,
		EvaluatedAt: time.Now(),
	}

	switch {
	case improvement >= 0 || -improvement < 0.02:
		opt.Results.Confirmed = true
		o.mu.Unlock()
		o.logger.Info("Optimization confirmed",
			zap.String("provider", opt.Provider),
			zap.String("category", string(opt.Category)),
			zap.Float64("improvement", improvement),
		)
	case improvement < -0.05:
		setConfigValue(cfg, opt.Category, opt.OldValue)
		opt.Status = StatusReverted
		o.mu.Unlock()

		o.reverted.Add(1)
		if err := o.propagate(opt.Provider, opt.Category, opt.OldValue); err != nil {
			o.logger.Error("Optimization revert propagation failed",
				zap.String("provider", opt.Provider),
				zap.Error(err),
			)
		}
		o.logger.Warn("Optimization reverted",
			zap.String("provider", opt.Provider),
			zap.String("category", string(opt.Category)),
			zap.Float64("improvement", improvement),
		)
		o.bus.Publish(events.OptimizationReverted{
			Base:        events.Now(),
			ID:          opt.ID,
			Provider:    opt.Provider,
			Category:    string(opt.Category),
			Parameter:   opt.Parameter,
			Improvement: improvement,
		})
	default:
		// mildly negative: kept, but not confirmed
		o.mu.Unlock()
	}
}

// GetConfig returns a provider's tuning record by value.
func (o *Optimizer) GetConfig(name string) (ProviderConfig, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cfg, ok := o.configs[name]
	if !ok {
		return ProviderConfig{}, false
	}
	return *cfg, true
}

// ForceConfig overwrites a provider's tuning record.
func (o *Optimizer) ForceConfig(name string, cfg ProviderConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.configs[name]; !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}
	c := cfg
	o.configs[name] = &c
	return nil
}

// RevertToDefault restores a provider's tuning record to its defaults.
func (o *Optimizer) RevertToDefault(name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.configs[name]; !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}
	cfg := defaultProviderConfig(name)
	o.configs[name] = &cfg
	return nil
}

// Optimizations returns up to limit most recent optimizations.
func (o *Optimizer) Optimizations(limit int) []Optimization {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.optimizations)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Optimization, 0, n)
	for _, opt := range o.optimizations[len(o.optimizations)-n:] {
		out = append(out, *opt)
	}
	return out
}

// SampleCount returns the retained history length for a provider.
func (o *Optimizer) SampleCount(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.history[name])
}

// Stats returns aggregate optimizer statistics.
func (o *Optimizer) Stats() map[string]interface{} {
	o.mu.Lock()
	byStatus := make(map[string]int)
	for _, opt := range o.optimizations {
		byStatus[string(opt.Status)]++
	}
	tracked := len(o.configs)
	o.mu.Unlock()

	return map[string]interface{}{
		"running":                 o.running.Load(),
		"tracked_providers":       tracked,
		"applied":                 o.applied.Load(),
		"reverted":                o.reverted.Load(),
		"failed":                  o.failed.Load(),
		"optimizations_by_status": byStatus,
	}
}

func newOptimization(name string, cat Category, parameter string, oldV, newV float64, reason string, expected float64) Optimization {
	return Optimization{
		ID:                  uuid.New().String(),
		Timestamp:           time.Now(),
		Provider:            name,
		Category:            cat,
		Parameter:           parameter,
		OldValue:            oldV,
		NewValue:            newV,
		Reason:              reason,
		ExpectedImprovement: expected,
		Status:              StatusPending,
	}
}
