package store

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/africapayments/fleetd/internal/events"
)

// Persister drains the event bus into the audit store. Write failures
// are logged and never propagate back to the emitting loop.
type Persister struct {
	logger *zap.Logger
	bus    *events.Bus
	store  *Store

	mu      sync.Mutex
	cancel  func()
	stopped chan struct{}
}

func NewPersister(store *Store, logger *zap.Logger, bus *events.Bus) *Persister {
	return &Persister{logger: logger, bus: bus, store: store}
}

func (p *Persister) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return fmt.Errorf("persister already running")
	}

	sub, cancel := p.bus.Subscribe(256,
		events.KindHealingTriggered,
		events.KindFailoverTriggered,
		events.KindScalingExecuted,
		events.KindOptimizationApplied,
		events.KindOptimizationReverted,
		events.KindPredictionCreated,
	)
	p.cancel = cancel
	p.stopped = make(chan struct{})

	go func() {
		defer close(p.stopped)
		for ev := range sub {
			p.persist(ev)
		}
	}()
	return nil
}

func (p *Persister) Stop() error {
	p.mu.Lock()
	cancel := p.cancel
	stopped := p.stopped
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return fmt.Errorf("persister not running")
	}
	cancel()
	<-stopped
	return nil
}

func (p *Persister) persist(ev events.Event) {
	var err error
	switch e := ev.(type) {
	case events.HealingTriggered:
		err = p.store.SaveHealing(e.OccurredAt(), e.Provider, e.Reason, e.Attempt)
	case events.FailoverTriggered:
		err = p.store.SaveFailover(e.OccurredAt(), e.Primary, e.Backup, e.Reason)
	case events.ScalingExecuted:
		err = p.store.SaveScaling(ScalingRecord{
			Timestamp:   e.OccurredAt(),
			EventID:     e.ID,
			Action:      e.Action,
			From:        e.From,
			To:          e.To,
			Utilization: e.Utilization,
			Predicted:   e.Predicted,
			Success:     e.Success,
			Error:       e.Err,
		})
	case events.OptimizationApplied:
		err = p.store.SaveOptimization(OptimizationRecord{
			Timestamp: e.OccurredAt(),
			OptID:     e.ID,
			Provider:  e.Provider,
			Category:  e.Category,
			Parameter: e.Parameter,
			OldValue:  e.OldValue,
			NewValue:  e.NewValue,
			Outcome:   "applied",
		})
	case events.OptimizationReverted:
		err = p.store.SaveOptimization(OptimizationRecord{
			Timestamp: e.OccurredAt(),
			OptID:     e.ID,
			Provider:  e.Provider,
			Category:  e.Category,
			Parameter: e.Parameter,
			Outcome:   "reverted",
		})
	case events.PredictionCreated:
		err = p.store.SavePrediction(PredictionRecord{
			Timestamp:    e.OccurredAt(),
			PredictionID: e.ID,
			Provider:     e.Provider,
			Type:         e.Type,
			Severity:     e.Severity,
			Confidence:   e.Confidence,
		})
	}
	if err != nil {
		p.logger.Error("Audit write failed",
			zap.String("kind", string(ev.Kind())),
			zap.Error(err),
		)
	}
}
