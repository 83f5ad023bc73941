package waitlist

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laundry-sync-backend/internal/apperr"
	"laundry-sync-backend/internal/event"
	"laundry-sync-backend/internal/identity"
	"laundry-sync-backend/internal/model"
)

var (
	alice = identity.Identity{UserID: "alice"}
	bob   = identity.Identity{UserID: "bob"}
	carol = identity.Identity{UserID: "carol"}
	admin = identity.Identity{UserID: "warden", Admin: true}
)

func TestService_JoinIsFIFOAndIdempotent(t *testing.T) {
	sink := &event.Collector{}
	s := New(sink, nil)

	first, err := s.Join(model.Washer, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Position)

	second, err := s.Join(model.Washer, bob)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Position)

	again, err := s.Join(model.Washer, alice)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, again.Position)

	assert.Equal(t, []event.Kind{event.WaitlistJoined, event.WaitlistJoined}, sink.Kinds())
	assert.Len(t, sink.Events()[1].Waitlist, 2)

	items := s.List(model.Washer)
	require.Len(t, items, 2)
	assert.Equal(t, "alice", items[0].UserID)
	assert.Equal(t, "bob", items[1].UserID)
	assert.Empty(t, s.List(model.Dryer), "queues are per type")
}

func TestService_JoinRejectsUnknownType(t *testing.T) {
	s := New(&event.Collector{}, nil)
	_, err := s.Join("oven", alice)
	assert.True(t, errors.Is(err, apperr.ErrInvalidMachineType))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestService_Leave(t *testing.T) {
	sink := &event.Collector{}
	s := New(sink, nil)
	_, _ = s.Join(model.Dryer, alice)
	bobItem, _ := s.Join(model.Dryer, bob)
	_, _ = s.Join(model.Dryer, carol)

	_, err := s.Leave(model.Dryer, alice, "bob")
	assert.True(t, errors.Is(err, apperr.ErrNotOwner))

	_, err = s.Leave(model.Dryer, alice, "nobody")
	assert.True(t, errors.Is(err, apperr.ErrWaitlistItemNotFound))

	left, err := s.Leave(model.Dryer, bob, "")
	require.NoError(t, err)
	assert.Equal(t, bobItem.ID, left.ID)

	assert.Equal(t, 2, s.Position(model.Dryer, "carol"))
	assert.Zero(t, s.Position(model.Dryer, "bob"))

	_, err = s.Leave(model.Dryer, admin, s.List(model.Dryer)[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Position(model.Dryer, "carol"))
	assert.Equal(t, event.WaitlistLeft, sink.Kinds()[len(sink.Kinds())-1])
}

func TestService_FreedMachineOffersToHeadWithoutRemoving(t *testing.T) {
	bus := event.NewBus()
	s := New(bus, nil)
	sink := &event.Collector{}
	bus.Subscribe(s)
	bus.Subscribe(sink)

	_, _ = s.Join(model.Washer, alice)
	_, _ = s.Join(model.Washer, bob)
	sink.Reset()

	bus.Publish(event.Event{Kind: event.MachineFreed, MachineID: 3, MachineType: model.Washer})

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, event.MachineFreed, events[0].Kind)
	assert.Equal(t, event.WaitlistOpportunity, events[1].Kind)
	assert.Equal(t, "alice", events[1].Recipient)
	assert.Equal(t, int64(3), events[1].MachineID)

	front, ok := s.PeekFront(model.Washer)
	require.True(t, ok)
	assert.Equal(t, "alice", front.UserID, "no reservation, no removal")
}

func TestService_FreedMachineWithEmptyQueue(t *testing.T) {
	sink := &event.Collector{}
	s := New(sink, nil)
	_, _ = s.Join(model.Washer, alice)
	sink.Reset()

	s.Handle(event.Event{Kind: event.MachineFreed, MachineID: 9, MachineType: model.Dryer})
	s.Handle(event.Event{Kind: event.MachineCancelled, MachineID: 1, MachineType: model.Washer})

	assert.Empty(t, sink.Events())
}

func TestService_RestoreRebuildsQueues(t *testing.T) {
	sink := &event.Collector{}
	s := New(sink, nil)
	_, _ = s.Join(model.Washer, carol)
	sink.Reset()

	now := time.Now()
	s.Restore([]model.WaitlistItem{
		{ID: "w1", UserID: "alice", Type: model.Dryer, JoinedAt: now, Position: 7},
		{ID: "w2", UserID: "bob", Type: model.Washer, JoinedAt: now.Add(time.Second)},
		{ID: "w3", UserID: "bob", Type: model.Dryer, JoinedAt: now.Add(2 * time.Second)},
		{ID: "w4", UserID: "alice", Type: model.Dryer, JoinedAt: now.Add(3 * time.Second)},
		{ID: "w5", UserID: "dave", Type: "oven", JoinedAt: now.Add(4 * time.Second)},
	})

	assert.Empty(t, sink.Kinds(), "restoring publishes nothing")

	dryers := s.List(model.Dryer)
	require.Len(t, dryers, 2)
	assert.Equal(t, "w1", dryers[0].ID)
	assert.Equal(t, 1, dryers[0].Position)
	assert.Equal(t, "w3", dryers[1].ID)
	assert.Equal(t, 2, dryers[1].Position)

	washers := s.List(model.Washer)
	require.Len(t, washers, 1, "restore replaces what was queued before")
	assert.Equal(t, "bob", washers[0].UserID)

	front, ok := s.PeekFront(model.Dryer)
	require.True(t, ok)
	assert.Equal(t, "alice", front.UserID)

	again, err := s.Join(model.Dryer, alice)
	require.NoError(t, err)
	assert.Equal(t, "w1", again.ID, "a restored entry still counts as joined")

	snap := s.Snapshot()
	assert.Len(t, snap, 2)
	assert.Len(t, snap[model.Dryer], 2)
}
