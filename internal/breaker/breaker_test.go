package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/africapayments/fleetd/internal/events"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		ResetTimeout:     50 * time.Millisecond,
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger)
	sub, cancel := bus.Subscribe(16, events.KindBreakerStateChanged)
	defer cancel()

	cb := New("mpesa", testConfig(), logger, bus)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	// Exactly one closed->open transition.
	ev := <-sub
	change, ok := ev.(events.BreakerStateChanged)
	require.True(t, ok)
	assert.Equal(t, "closed", change.From)
	assert.Equal(t, "open", change.To)
	select {
	case ev := <-sub:
		t.Fatalf("unexpected extra transition: %+v", ev)
	default:
	}
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cb := New("mpesa", testConfig(), logger, nil)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())

	// Still open inside the reset timeout.
	assert.False(t, cb.CanExecute())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, cb.CanExecute())
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cb := New("mpesa", testConfig(), logger, nil)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)
	require.True(t, cb.CanExecute())
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())

	status := cb.Status()
	assert.Equal(t, 0, status.FailureCount)
	assert.Equal(t, 0, status.SuccessCount)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cb := New("mtn", testConfig(), logger, nil)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)
	require.True(t, cb.CanExecute())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_TripEmitsEvent(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger)
	sub, cancel := bus.Subscribe(16, events.KindBreakerTripped)
	defer cancel()

	cb := New("vodafone", testConfig(), logger, bus)
	cb.Trip()
	assert.Equal(t, StateOpen, cb.State())

	ev := <-sub
	tripped, ok := ev.(events.BreakerTripped)
	require.True(t, ok)
	assert.Equal(t, "vodafone", tripped.Breaker)

	// Trip while already open is a no-op.
	cb.Trip()
	select {
	case ev := <-sub:
		t.Fatalf("unexpected second trip event: %+v", ev)
	default:
	}
}

func TestBreaker_ManualReset(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cb := New("mtn", testConfig(), logger, nil)

	cb.Trip()
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.CanExecute())
}

func TestRegistry_GetCreatesOnFirstUse(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := NewRegistry(testConfig(), logger, nil)

	cb := reg.Get("mpesa")
	require.NotNil(t, cb)
	assert.Same(t, cb, reg.Get("mpesa"))
	assert.Equal(t, []string{"mpesa"}, reg.Names())
}

func TestRegistry_TripAndReset(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := NewRegistry(testConfig(), logger, nil)
	reg.Get("mpesa")

	require.NoError(t, reg.Trip("mpesa"))
	status, err := reg.GetStatus("mpesa")
	require.NoError(t, err)
	assert.Equal(t, "open", status.State)

	require.NoError(t, reg.Reset("mpesa"))
	status, err = reg.GetStatus("mpesa")
	require.NoError(t, err)
	assert.Equal(t, "closed", status.State)

	assert.Error(t, reg.Trip("unknown"))
	assert.Error(t, reg.Reset("unknown"))
}

func TestRegistry_AllStatusesSorted(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := NewRegistry(testConfig(), logger, nil)
	reg.Get("vodafone")
	reg.Get("airtel")
	reg.Get("mpesa")

	statuses := reg.AllStatuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, "airtel", statuses[0].Name)
	assert.Equal(t, "mpesa", statuses[1].Name)
	assert.Equal(t, "vodafone", statuses[2].Name)
}
