package healing

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType is the kind of healing action a record describes.
type EventType string

const (
	EventRestart             EventType = "restart"
	EventCircuitReset        EventType = "circuit_reset"
	EventFailover            EventType = "failover"
	EventDegradationRecovery EventType = "degradation_recovery"
)

// EventStatus is the outcome phase of a healing action.
type EventStatus string

const (
	StatusStarted   EventStatus = "started"
	StatusCompleted EventStatus = "completed"
	StatusFailed    EventStatus = "failed"
)

// Event is one entry in the healing audit log.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Provider  string            `json:"provider"`
	Type      EventType         `json:"type"`
	Status    EventStatus       `json:"status"`
	Reason    string            `json:"reason"`
	Details   map[string]string `json:"details,omitempty"`
	Error     string            `json:"error,omitempty"`
}

const maxEventHistory = 1000

// eventLog is an append-only capped ring of healing events.
type eventLog struct {
	mu     sync.RWMutex
	events []Event
}

func (l *eventLog) append(provider string, typ EventType, status EventStatus, reason string, details map[string]string, err error) Event {
	ev := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Provider:  provider,
		Type:      typ,
		Status:    status,
		Reason:    reason,
		Details:   details,
	}
	if err != nil {
		ev.Error = err.Error()
	}

	l.mu.Lock()
	l.events = append(l.events, ev)
	if len(l.events) > maxEventHistory {
		l.events = l.events[len(l.events)-maxEventHistory:]
	}
	l.mu.Unlock()

	return ev
}

// recent returns up to limit events, most recent last.
func (l *eventLog) recent(limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.events) {
		limit = len(l.events)
	}
	out := make([]Event, limit)
	copy(out, l.events[len(l.events)-limit:])
	return out
}

func (l *eventLog) size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
