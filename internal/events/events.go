package events

import (
	"time"
)

// Kind identifies an event variant. The set of kinds is closed: every
// payload type in this package maps to exactly one kind.
type Kind string

const (
	KindBreakerTripped      Kind = "breaker_tripped"
	KindBreakerStateChanged Kind = "breaker_state_changed"

	KindProviderHealthy   Kind = "provider_healthy"
	KindProviderDegraded  Kind = "provider_degraded"
	KindProviderUnhealthy Kind = "provider_unhealthy"

	KindHealingTriggered          Kind = "healing_triggered"
	KindProviderRecovered         Kind = "provider_recovered"
	KindFailoverTriggered         Kind = "failover_triggered"
	KindFailoverFailed            Kind = "failover_failed"
	KindOptimizationRequested     Kind = "optimization_requested"
	KindCriticalSystemState       Kind = "critical_system_state"
	KindMaxHealingAttemptsReached Kind = "max_healing_attempts_reached"

	KindPredictionCreated    Kind = "prediction_created"
	KindMaintenanceScheduled Kind = "maintenance_scheduled"

	KindOptimizationApplied  Kind = "optimization_applied"
	KindOptimizationReverted Kind = "optimization_reverted"

	KindScalingExecuted Kind = "scaling_executed"
	KindScaleCommand    Kind = "scale_command"
)

// Event is the closed union of domain events. Only types in this package
// implement it.
type Event interface {
	Kind() Kind
	OccurredAt() time.Time
}

type Base struct {
	Timestamp time.Time
}

func (b Base) OccurredAt() time.Time { return b.Timestamp }

// Now returns a Base stamped with the current time. Constructors in other
// packages use it so every published event carries a timestamp.
func Now() Base {
	return Base{Timestamp: time.Now()}
}

// BreakerTripped is emitted when a circuit breaker opens.
type BreakerTripped struct {
	Base
	Breaker      string
	FailureCount int
}

func (BreakerTripped) Kind() Kind { return KindBreakerTripped }

// BreakerStateChanged is emitted on every breaker state transition,
// including manual trips and resets.
type BreakerStateChanged struct {
	Base
	Breaker string
	From    string
	To      string
}

func (BreakerStateChanged) Kind() Kind { return KindBreakerStateChanged }

// ProviderHealthy is emitted when a provider transitions to healthy.
type ProviderHealthy struct {
	Base
	Provider     string
	ResponseTime time.Duration
}

func (ProviderHealthy) Kind() Kind { return KindProviderHealthy }

// ProviderDegraded is emitted when a provider transitions to degraded.
type ProviderDegraded struct {
	Base
	Provider            string
	ResponseTime        time.Duration
	ConsecutiveFailures int
	Reason              string
}

func (ProviderDegraded) Kind() Kind { return KindProviderDegraded }

// ProviderUnhealthy is emitted when a provider transitions to unhealthy.
type ProviderUnhealthy struct {
	Base
	Provider            string
	ConsecutiveFailures int
	Reason              string
}

func (ProviderUnhealthy) Kind() Kind { return KindProviderUnhealthy }

// HealingTriggered is emitted when the self-healer starts a healing attempt.
type HealingTriggered struct {
	Base
	Provider string
	Reason   string
	Attempt  int
}

func (HealingTriggered) Kind() Kind { return KindHealingTriggered }

// ProviderRecovered is emitted when a provider in recovery turns healthy again.
type ProviderRecovered struct {
	Base
	Provider     string
	RecoveryTime time.Duration
}

func (ProviderRecovered) Kind() Kind { return KindProviderRecovered }

// FailoverTriggered is emitted when traffic is redirected to a backup provider.
type FailoverTriggered struct {
	Base
	Primary string
	Backup  string
	Reason  string
}

func (FailoverTriggered) Kind() Kind { return KindFailoverTriggered }

// FailoverFailed is emitted when no configured backup is healthy.
type FailoverFailed struct {
	Base
	Primary string
	Reason  string
}

func (FailoverFailed) Kind() Kind { return KindFailoverFailed }

// OptimizationRequested signals that a degraded provider should be tuned
// rather than restarted.
type OptimizationRequested struct {
	Base
	Provider string
	Reason   string
}

func (OptimizationRequested) Kind() Kind { return KindOptimizationRequested }

// CriticalSystemState is emitted when more than half the fleet is unhealthy.
type CriticalSystemState struct {
	Base
	UnhealthyCount int
	TotalCount     int
}

func (CriticalSystemState) Kind() Kind { return KindCriticalSystemState }

// MaxHealingAttemptsReached is emitted when a provider exhausts its healing
// budget. No further automatic action is taken until an operator intervenes.
type MaxHealingAttemptsReached struct {
	Base
	Provider string
	Attempts int
}

func (MaxHealingAttemptsReached) Kind() Kind { return KindMaxHealingAttemptsReached }

// PredictionCreated is emitted when trend analysis produces a new prediction.
type PredictionCreated struct {
	Base
	ID         string
	Provider   string
	Type       string
	Severity   string
	Confidence float64
}

func (PredictionCreated) Kind() Kind { return KindPredictionCreated }

// MaintenanceScheduled is emitted when a maintenance window is booked for
// a high-confidence critical prediction.
type MaintenanceScheduled struct {
	Base
	WindowID    string
	Providers   []string
	ScheduledAt time.Time
	Reason      string
}

func (MaintenanceScheduled) Kind() Kind { return KindMaintenanceScheduled }

// OptimizationApplied is emitted when the optimizer mutates a provider's
// runtime config.
type OptimizationApplied struct {
	Base
	ID        string
	Provider  string
	Category  string
	Parameter string
	OldValue  float64
	NewValue  float64
}

func (OptimizationApplied) Kind() Kind { return KindOptimizationApplied }

// OptimizationReverted is emitted when a post-evaluation rollback restores
// the previous value.
type OptimizationReverted struct {
	Base
	ID          string
	Provider    string
	Category    string
	Parameter   string
	Improvement float64
}

func (OptimizationReverted) Kind() Kind { return KindOptimizationReverted }

// ScalingExecuted records a completed (or failed) scaling action.
type ScalingExecuted struct {
	Base
	ID          string
	Action      string
	From        int
	To          int
	Utilization float64
	Predicted   bool
	Success     bool
	Err         string
}

func (ScalingExecuted) Kind() Kind { return KindScalingExecuted }

// ScaleCommand is the declarative target an executor emits for an external
// actuator. Only the fields relevant to the executor type are set.
type ScaleCommand struct {
	Base
	Executor   string
	Replicas   int
	Namespace  string
	Deployment string
	Service    string
	Group      string
}

func (ScaleCommand) Kind() Kind { return KindScaleCommand }
