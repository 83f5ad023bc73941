package clock

import (
	"context"
	"time"

	"go.uber.org/zap"

	"laundry-sync-backend/internal/event"
)

// Ticker is swept once per interval while it reports activity.
type Ticker interface {
	ApplyTick() (active bool)
}

// Clock drives a Ticker with a single periodic sweep. It sleeps while nothing
// is counting down and is woken by MachineStarted events.
type Clock struct {
	interval time.Duration
	target   Ticker
	wake     chan struct{}
	log      *zap.Logger
}

// New creates a clock sweeping target every interval.
func New(interval time.Duration, target Ticker, log *zap.Logger) *Clock {
	if log == nil {
		log = zap.NewNop()
	}
	return &Clock{
		interval: interval,
		target:   target,
		wake:     make(chan struct{}, 1),
		log:      log,
	}
}

// Wake asks the clock to start sweeping. It never blocks; wakes coalesce.
func (c *Clock) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Handle implements event.Handler.
func (c *Clock) Handle(e event.Event) {
	if e.Kind == event.MachineStarted {
		c.Wake()
	}
}

// Run sweeps until ctx is cancelled.
func (c *Clock) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.wake:
		}

		c.log.Debug("clock running")
		if err := c.sweep(ctx); err != nil {
			return nil
		}
		c.log.Debug("clock idle")
	}
}

// sweep ticks once per interval until the target goes idle.
func (c *Clock) sweep(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !c.target.ApplyTick() {
				// A start that raced the last sweep left a pending wake; the
				// outer loop picks it up.
				return nil
			}
		}
	}
}
