package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/africapayments/fleetd/internal/events"
)

func openTestStore(t *testing.T) *Store {
	s, err := Open(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHealingRoundTrip(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	require.NoError(t, s.SaveHealing(now, "mpesa", "unhealthy after 3 consecutive failures", 1))
	require.NoError(t, s.SaveHealing(now.Add(time.Minute), "mpesa", "circuit breaker tripped", 2))

	got, err := s.RecentHealing(10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// newest first
	assert.Equal(t, 2, got[0].Attempt)
	assert.Equal(t, "mpesa", got[0].Provider)

	got, err = s.RecentHealing(1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFailoverRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveFailover(time.Now(), "mpesa", "mtn", "restart failed"))
	got, err := s.RecentFailovers(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mpesa", got[0].Primary)
	assert.Equal(t, "mtn", got[0].Backup)
}

func TestScalingRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveScaling(ScalingRecord{
		Timestamp:   time.Now(),
		EventID:     "ev-1",
		Action:      "scale_up",
		From:        2,
		To:          4,
		Utilization: 0.95,
		Predicted:   true,
		Success:     true,
	}))

	got, err := s.RecentScaling(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].To)
	assert.True(t, got[0].Predicted)
	assert.True(t, got[0].Success)
	assert.Empty(t, got[0].Error)
}

func TestOptimizationAndPredictionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveOptimization(OptimizationRecord{
		Timestamp: time.Now(),
		OptID:     "opt-1",
		Provider:  "paystack",
		Category:  "timeout",
		Parameter: "timeout_ms",
		OldValue:  20000,
		NewValue:  30000,
		Outcome:   "applied",
	}))
	opts, err := s.RecentOptimizations(10)
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, "timeout", opts[0].Category)

	require.NoError(t, s.SavePrediction(PredictionRecord{
		Timestamp:    time.Now(),
		PredictionID: "p-1",
		Provider:     "mtn",
		Type:         "failure",
		Severity:     "critical",
		Confidence:   0.92,
	}))
	preds, err := s.RecentPredictions(10)
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.InDelta(t, 0.92, preds[0].Confidence, 1e-9)
}

func TestPersisterWritesBusEvents(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger)
	s := openTestStore(t)

	p := NewPersister(s, logger, bus)
	require.NoError(t, p.Start())
	assert.Error(t, p.Start())

	bus.Publish(events.HealingTriggered{Base: events.Now(), Provider: "mpesa", Reason: "test", Attempt: 1})
	bus.Publish(events.FailoverTriggered{Base: events.Now(), Primary: "mpesa", Backup: "mtn", Reason: "test"})
	bus.Publish(events.ScalingExecuted{Base: events.Now(), ID: "ev-1", Action: "scale_up", From: 2, To: 3, Success: true})

	// writes happen on the drain goroutine
	require.Eventually(t, func() bool {
		h, err := s.RecentHealing(10)
		if err != nil || len(h) != 1 {
			return false
		}
		f, err := s.RecentFailovers(10)
		if err != nil || len(f) != 1 {
			return false
		}
		sc, err := s.RecentScaling(10)
		return err == nil && len(sc) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, p.Stop())
	assert.Error(t, p.Stop())
}
