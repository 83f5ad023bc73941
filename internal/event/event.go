package event

import (
	"time"

	"laundry-sync-backend/internal/model"
)

// Kind names a domain event.
type Kind string

const (
	MachineStarted            Kind = "machine_started"
	MachineCancelled          Kind = "machine_cancelled"
	MachineCompleted          Kind = "machine_completed"
	MachineAwaitingCollection Kind = "machine_awaiting_collection"
	MachineFreed              Kind = "machine_freed"
	MachineDisabled           Kind = "machine_disabled"
	MachineEnabled            Kind = "machine_enabled"
	MachineTicked             Kind = "machine_ticked"
	MaintenanceRecorded       Kind = "maintenance_recorded"
	FaultReported             Kind = "fault_reported"
	WaitlistJoined            Kind = "waitlist_joined"
	WaitlistLeft              Kind = "waitlist_left"
	WaitlistOpportunity       Kind = "waitlist_opportunity"
	NotificationCreated       Kind = "notification_created"
)

// Event is a committed state change. Only the fields relevant to Kind are set.
type Event struct {
	Kind Kind
	At   time.Time

	// Actor is the identity that caused the change; Recipient is set for
	// events addressed to a single user.
	Actor     string
	Recipient string

	MachineID   int64
	MachineType model.MachineType

	// Machines holds post-change snapshots: one for a transition, every
	// swept machine for MachineTicked.
	Machines []model.Machine

	// Evicted is the user removed by a forced disable.
	Evicted string

	Fault      *model.FaultReport
	OpenFaults int

	Item     *model.WaitlistItem
	Waitlist []model.WaitlistItem

	Notification *model.Notification

	Details string
}

// Machine returns the first snapshot carried by the event.
func (e Event) Machine() (model.Machine, bool) {
	if len(e.Machines) == 0 {
		return model.Machine{}, false
	}
	return e.Machines[0], true
}

// Personal reports whether the event targets a single recipient.
func (e Event) Personal() bool {
	return e.Recipient != ""
}
