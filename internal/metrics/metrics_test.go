package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/africapayments/fleetd/internal/events"
)

func TestPrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.ProviderStatus("mpesa", "healthy")
	sink.BreakerTrip("mpesa")
	sink.BreakerTrip("mpesa")
	sink.Scaling("scale_up", 4)

	assert.InDelta(t, 2, testutil.ToFloat64(sink.providerStatus.WithLabelValues("mpesa")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(sink.breakerTrips.WithLabelValues("mpesa")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(sink.scalings.WithLabelValues("scale_up")), 1e-9)
	assert.InDelta(t, 4, testutil.ToFloat64(sink.instances), 1e-9)
}

func TestRecorderBridgesEvents(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger)
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	rec := NewRecorder(sink, logger, bus)
	require.NoError(t, rec.Start())
	assert.Error(t, rec.Start())

	bus.Publish(events.ProviderUnhealthy{Base: events.Now(), Provider: "mtn"})
	bus.Publish(events.HealingTriggered{Base: events.Now(), Provider: "mtn", Attempt: 1})
	bus.Publish(events.FailoverTriggered{Base: events.Now(), Primary: "mtn", Backup: "airtel"})
	bus.Publish(events.ScalingExecuted{Base: events.Now(), Action: "scale_up", To: 5, Success: true})
	bus.Publish(events.ScalingExecuted{Base: events.Now(), Action: "scale_up", To: 6, Success: false})

	// the recorder drains asynchronously
	time.Sleep(50 * time.Millisecond)

	assert.InDelta(t, 0, testutil.ToFloat64(sink.providerStatus.WithLabelValues("mtn")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(sink.healings.WithLabelValues("mtn")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(sink.failovers.WithLabelValues("mtn", "airtel")), 1e-9)
	// failed scaling is not recorded
	assert.InDelta(t, 1, testutil.ToFloat64(sink.scalings.WithLabelValues("scale_up")), 1e-9)

	require.NoError(t, rec.Stop())
	assert.Error(t, rec.Stop())
}

func TestNopSinkRecorder(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger)

	rec := NewRecorder(nil, logger, bus)
	require.NoError(t, rec.Start())
	bus.Publish(events.BreakerTripped{Base: events.Now(), Breaker: "mpesa"})
	require.NoError(t, rec.Stop())
}
