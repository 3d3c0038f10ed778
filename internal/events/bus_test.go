package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	ch1, cancel1 := bus.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(4)
	defer cancel2()

	bus.Publish(BreakerTripped{Base: Now(), Breaker: "mpesa", FailureCount: 5})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			tripped, ok := ev.(BreakerTripped)
			require.True(t, ok)
			assert.Equal(t, "mpesa", tripped.Breaker)
			assert.Equal(t, 5, tripped.FailureCount)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBusFiltersByKind(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	ch, cancel := bus.Subscribe(4, KindProviderHealthy)
	defer cancel()

	bus.Publish(BreakerTripped{Base: Now(), Breaker: "mtn"})
	bus.Publish(ProviderHealthy{Base: Now(), Provider: "mtn", ResponseTime: 20 * time.Millisecond})

	select {
	case ev := <-ch:
		assert.Equal(t, KindProviderHealthy, ev.Kind())
	case <-time.After(time.Second):
		t.Fatal("filtered subscriber did not receive matching event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event %q", ev.Kind())
	default:
	}
}

func TestBusDropsWhenBufferFull(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	_, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(ProviderHealthy{Base: Now(), Provider: "airtel"})
	bus.Publish(ProviderHealthy{Base: Now(), Provider: "airtel"})

	stats := bus.Stats()
	assert.Equal(t, uint64(2), stats["published"])
	assert.Equal(t, uint64(1), stats["dropped"])
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	ch, cancel := bus.Subscribe(4)
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic or count a drop for the
	// removed subscriber.
	bus.Publish(BreakerTripped{Base: Now(), Breaker: "paystack"})
	assert.Equal(t, 0, bus.Stats()["subscribers"])

	// Cancel is safe to call twice.
	cancel()
}
