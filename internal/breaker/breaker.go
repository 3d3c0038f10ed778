package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/africapayments/fleetd/internal/events"
)

// State is the circuit breaker state.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config contains circuit breaker thresholds.
type Config struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// DefaultConfig returns the default breaker thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker is a per-provider three-state failure guard. All state is
// owned by the breaker and mutated only through RecordFailure, RecordSuccess,
// Trip and Reset.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger
	bus    *events.Bus

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastStateChange time.Time
}

// New creates a circuit breaker in the closed state.
func New(name string, config Config, logger *zap.Logger, bus *events.Bus) *CircuitBreaker {
	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger,
		bus:             bus,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// RecordFailure records a failed call. The breaker opens once the failure
// count reaches the threshold; any failure in half-open reopens it.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
			cb.emitTrip()
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
		cb.emitTrip()
	}
}

// RecordSuccess records a successful call. In half-open, enough consecutive
// successes close the breaker and reset both counters.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateHalfOpen {
		return
	}

	cb.successCount++
	if cb.successCount >= cb.config.SuccessThreshold {
		cb.failureCount = 0
		cb.successCount = 0
		cb.transition(StateClosed)
	}
}

// CanExecute reports whether a call may proceed. An open breaker transitions
// to half-open once the reset timeout has elapsed since the last state change.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastStateChange) >= cb.config.ResetTimeout {
			cb.successCount = 0
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// Trip manually opens the breaker.
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		return
	}
	cb.transition(StateOpen)
	cb.emitTrip()
}

// Reset manually closes the breaker and clears both counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.successCount = 0
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Status holds a point-in-time breaker snapshot.
type Status struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	FailureCount     int       `json:"failure_count"`
	SuccessCount     int       `json:"success_count"`
	LastStateChange  time.Time `json:"last_state_change"`
	FailureThreshold int       `json:"failure_threshold"`
	SuccessThreshold int       `json:"success_threshold"`
}

// Status returns a snapshot of the breaker.
func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Status{
		Name:             cb.name,
		State:            cb.state.String(),
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		LastStateChange:  cb.lastStateChange,
		FailureThreshold: cb.config.FailureThreshold,
		SuccessThreshold: cb.config.SuccessThreshold,
	}
}

// transition must be called with the mutex held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	cb.lastStateChange = time.Now()

	cb.logger.Info("Circuit breaker state change",
		zap.String("breaker", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)

	if cb.bus != nil {
		cb.bus.Publish(events.BreakerStateChanged{
			Base:    events.Now(),
			Breaker: cb.name,
			From:    from.String(),
			To:      to.String(),
		})
	}
}

// emitTrip must be called with the mutex held, after a transition to open.
func (cb *CircuitBreaker) emitTrip() {
	if cb.bus != nil {
		cb.bus.Publish(events.BreakerTripped{
			Base:         events.Now(),
			Breaker:      cb.name,
			FailureCount: cb.failureCount,
		})
	}
}
