package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Bus fans out domain events to subscribers over buffered channels.
// Publish never blocks: a subscriber whose buffer is full loses the event
// and the drop is counted. Control loops must not stall on slow consumers.
type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int

	published atomic.Uint64
	dropped   atomic.Uint64
}

type subscriber struct {
	ch    chan Event
	kinds map[Kind]struct{} // nil means all kinds
}

// NewBus creates a new event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[int]*subscriber),
	}
}

// Subscribe registers a subscriber for the given kinds (all kinds if none are
// given) and returns the receive channel plus a cancel function. The channel
// is closed by the cancel function, never by Publish.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}

	return sub.ch, cancel
}

// Publish delivers an event to all matching subscribers without blocking.
func (b *Bus) Publish(ev Event) {
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.kinds != nil {
			if _, ok := sub.kinds[ev.Kind()]; !ok {
				continue
			}
		}

		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Warn("Dropping event for slow subscriber",
				zap.String("kind", string(ev.Kind())),
			)
		}
	}
}

// Stats returns publish/drop counters.
func (b *Bus) Stats() map[string]interface{} {
	b.mu.RLock()
	subscribers := len(b.subs)
	b.mu.RUnlock()

	return map[string]interface{}{
		"published":   b.published.Load(),
		"dropped":     b.dropped.Load(),
		"subscribers": subscribers,
	}
}
