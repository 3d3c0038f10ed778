package predictive

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/africapayments/fleetd/internal/events"
)

// WindowStatus is the lifecycle state of a maintenance window.
type WindowStatus string

const (
	WindowScheduled  WindowStatus = "scheduled"
	WindowInProgress WindowStatus = "in_progress"
	WindowCompleted  WindowStatus = "completed"
	WindowCancelled  WindowStatus = "cancelled"
)

// MaintenanceWindow is a booked slot for acting on predicted trouble.
type MaintenanceWindow struct {
	ID          string        `json:"id"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	Duration    time.Duration `json:"duration"`
	Providers   []string      `json:"providers"`
	Reason      string        `json:"reason"`
	Status      WindowStatus  `json:"status"`
	Predictions []string      `json:"predictions,omitempty"`
}

// Low-traffic slot preference, UTC.
const (
	quietHourStart = 2
	quietHourEnd   = 5
)

const maxWindowHistory = 200

// windowBook owns maintenance windows and drives their status
// transitions on a per-minute cron tick.
type windowBook struct {
	logger *zap.Logger
	bus    *events.Bus

	mu      sync.Mutex
	windows []*MaintenanceWindow

	cron *cron.Cron
}

func newWindowBook(logger *zap.Logger, bus *events.Bus) *windowBook {
	return &windowBook{logger: logger, bus: bus}
}

func (b *windowBook) start() error {
	b.cron = cron.New()
	if _, err := b.cron.AddFunc("* * * * *", func() { b.tick(time.Now()) }); err != nil {
		return err
	}
	b.cron.Start()
	return nil
}

func (b *windowBook) stop() {
	if b.cron != nil {
		b.cron.Stop()
	}
}

// tick advances window statuses: scheduled windows whose start time has
// passed go in_progress, in_progress windows past their duration complete.
func (b *windowBook) tick(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range b.windows {
		switch w.Status {
		case WindowScheduled:
			if !now.Before(w.ScheduledAt) {
				w.Status = WindowInProgress
				b.logger.Info("Maintenance window started",
					zap.String("window_id", w.ID),
					zap.Strings("providers", w.Providers),
				)
			}
		case WindowInProgress:
			if !now.Before(w.ScheduledAt.Add(w.Duration)) {
				w.Status = WindowCompleted
				b.logger.Info("Maintenance window completed",
					zap.String("window_id", w.ID),
				)
			}
		}
	}
}

func (b *windowBook) schedule(providers []string, at time.Time, duration time.Duration, reason string, predictionIDs []string) MaintenanceWindow {
	w := &MaintenanceWindow{
		ID:          uuid.New().String(),
		ScheduledAt: at,
		Duration:    duration,
		Providers:   append([]string(nil), providers...),
		Reason:      reason,
		Status:      WindowScheduled,
		Predictions: append([]string(nil), predictionIDs...),
	}

	b.mu.Lock()
	b.windows = append(b.windows, w)
	if len(b.windows) > maxWindowHistory {
		b.windows = b.windows[len(b.windows)-maxWindowHistory:]
	}
	b.mu.Unlock()

	b.bus.Publish(events.MaintenanceScheduled{
		Base:        events.Now(),
		WindowID:    w.ID,
		Providers:   w.Providers,
		ScheduledAt: w.ScheduledAt,
		Reason:      w.Reason,
	})
	return *w
}

func (b *windowBook) cancel(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range b.windows {
		if w.ID != id {
			continue
		}
		if w.Status != WindowScheduled {
			return fmt.Errorf("window %s is %s, cannot cancel", id, w.Status)
		}
		w.Status = WindowCancelled
		return nil
	}
	return fmt.Errorf("unknown maintenance window: %s", id)
}

// findSlot returns the nearest quiet-hours start at least ahead out,
// preferring the 02:00-05:00 UTC band.
func (b *windowBook) findSlot(now time.Time, ahead time.Duration) time.Time {
	earliest := now.Add(ahead).UTC()
	if h := earliest.Hour(); h >= quietHourStart && h < quietHourEnd {
		return earliest
	}

	slot := time.Date(earliest.Year(), earliest.Month(), earliest.Day(),
		quietHourStart, 0, 0, 0, time.UTC)
	if !slot.After(earliest) {
		slot = slot.AddDate(0, 0, 1)
	}
	return slot
}

func (b *windowBook) snapshot() []MaintenanceWindow {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]MaintenanceWindow, 0, len(b.windows))
	for _, w := range b.windows {
		out = append(out, *w)
	}
	return out
}

func (b *windowBook) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.windows)
}
