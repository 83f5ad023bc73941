package realtime

import (
	"fmt"
	"sort"
	"sync"

	"laundry-sync-backend/internal/model"
)

// View is a local projection of the shared state built from sync messages.
// Observers never mutate it directly; every change comes from the server.
type View struct {
	mu        sync.RWMutex
	machines  map[int64]model.Machine
	waitlists map[model.MachineType][]model.WaitlistItem
	unread    []model.Notification
}

// NewView creates an empty projection.
func NewView() *View {
	return &View{
		machines:  make(map[int64]model.Machine),
		waitlists: make(map[model.MachineType][]model.WaitlistItem),
	}
}

// Apply folds one message into the view. Unknown and control messages are
// ignored.
func (v *View) Apply(msg Message) error {
	switch msg.Event {
	case KindConnected:
		var snap Snapshot
		if err := msg.Decode(&snap); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		v.Reset(snap)

	case KindMachineUpdate:
		var update MachineUpdate
		if err := msg.Decode(&update); err != nil {
			return fmt.Errorf("decode machine update: %w", err)
		}
		v.mu.Lock()
		for _, m := range update.Machines {
			v.machines[m.ID] = m
		}
		v.mu.Unlock()

	case KindWaitlistUpdate:
		var update WaitlistUpdate
		if err := msg.Decode(&update); err != nil {
			return fmt.Errorf("decode waitlist update: %w", err)
		}
		v.mu.Lock()
		v.waitlists[update.MachineType] = update.Items
		v.mu.Unlock()

	case KindFaultReported:
		var notice FaultNotice
		if err := msg.Decode(&notice); err != nil {
			return fmt.Errorf("decode fault notice: %w", err)
		}
		if notice.Machine != nil {
			v.mu.Lock()
			v.machines[notice.Machine.ID] = *notice.Machine
			v.mu.Unlock()
		}

	case KindNotificationReceived:
		var notice NotificationNotice
		if err := msg.Decode(&notice); err != nil {
			return fmt.Errorf("decode notification: %w", err)
		}
		v.mu.Lock()
		v.unread = append(v.unread, notice.Notification)
		v.mu.Unlock()
	}
	return nil
}

// Reset replaces the machines and waitlists with snap.
func (v *View) Reset(snap Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.machines = make(map[int64]model.Machine, len(snap.Machines))
	for _, m := range snap.Machines {
		v.machines[m.ID] = m
	}
	v.waitlists = make(map[model.MachineType][]model.WaitlistItem, len(snap.Waitlists))
	for typ, items := range snap.Waitlists {
		v.waitlists[typ] = items
	}
}

// Snapshot returns the current projection.
func (v *View) Snapshot() Snapshot {
	return Snapshot{Machines: v.Machines(), Waitlists: v.Waitlists()}
}

// Machines returns every known machine ordered by id.
func (v *View) Machines() []model.Machine {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]model.Machine, 0, len(v.machines))
	for _, m := range v.machines {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Machine returns one machine.
func (v *View) Machine(id int64) (model.Machine, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	m, ok := v.machines[id]
	return m, ok
}

// Waitlist returns the queue for one type.
func (v *View) Waitlist(typ model.MachineType) []model.WaitlistItem {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]model.WaitlistItem(nil), v.waitlists[typ]...)
}

// Waitlists returns every queue, with an entry for each machine type.
func (v *View) Waitlists() map[model.MachineType][]model.WaitlistItem {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[model.MachineType][]model.WaitlistItem, len(model.MachineTypes))
	for _, typ := range model.MachineTypes {
		items := v.waitlists[typ]
		if items == nil {
			items = []model.WaitlistItem{}
		}
		out[typ] = append([]model.WaitlistItem(nil), items...)
	}
	return out
}

// Notifications returns notifications received since the view was created.
func (v *View) Notifications() []model.Notification {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]model.Notification(nil), v.unread...)
}
