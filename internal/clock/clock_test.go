package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laundry-sync-backend/internal/event"
	"laundry-sync-backend/internal/identity"
	"laundry-sync-backend/internal/machine"
	"laundry-sync-backend/internal/model"
)

type countingTicker struct {
	calls     atomic.Int32
	remaining atomic.Int32
}

func (c *countingTicker) ApplyTick() bool {
	c.calls.Add(1)
	return c.remaining.Add(-1) > 0
}

func TestClock_IdleUntilWoken(t *testing.T) {
	target := &countingTicker{}
	target.remaining.Store(3)
	c := New(5*time.Millisecond, target, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, target.calls.Load(), "no sweep before a wake")

	c.Handle(event.Event{Kind: event.MachineStarted})
	require.Eventually(t, func() bool { return target.calls.Load() == 3 }, time.Second, 5*time.Millisecond)

	// Idle again: no further sweeps.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), target.calls.Load())

	cancel()
	wg.Wait()
}

func TestClock_IgnoresOtherEvents(t *testing.T) {
	c := New(time.Millisecond, &countingTicker{}, nil)
	c.Handle(event.Event{Kind: event.MachineCancelled})
	assert.Len(t, c.wake, 0)

	c.Wake()
	c.Wake()
	assert.Len(t, c.wake, 1, "wakes coalesce")
}

func TestClock_DrivesRegistryToCompletion(t *testing.T) {
	bus := event.NewBus()
	sink := &event.Collector{}
	catalog, err := machine.NewCatalog(map[string]map[string]int{"washer": {"quick": 1}})
	require.NoError(t, err)
	reg := machine.NewRegistry(catalog, bus)
	require.NoError(t, reg.Load(machine.Provisioned(1, 0)))

	c := New(time.Millisecond, reg, nil)
	bus.Subscribe(c)
	bus.Subscribe(sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	_, err = reg.Start(1, identity.Identity{UserID: "S1"}, "quick")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		m, _ := reg.Get(1)
		return m.Status == model.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	var ticks int
	for _, e := range sink.Events() {
		if e.Kind == event.MachineTicked {
			ticks++
		}
	}
	assert.Equal(t, 60, ticks, "one sweep per second of cycle time")
}
