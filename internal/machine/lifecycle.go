package machine

import (
	"context"

	"github.com/looplab/fsm"

	"laundry-sync-backend/internal/model"
)

const (
	EventStart    = "start"
	EventCancel   = "cancel"
	EventComplete = "complete"
	EventAwait    = "await"
	EventCollect  = "collect"
	EventDisable  = "disable"
	EventEnable   = "enable"
)

var lifecycleEvents = fsm.Events{
	{Name: EventStart, Src: []string{string(model.StatusAvailable)}, Dst: string(model.StatusInUse)},
	{Name: EventCancel, Src: []string{string(model.StatusInUse)}, Dst: string(model.StatusAvailable)},
	{Name: EventComplete, Src: []string{string(model.StatusInUse)}, Dst: string(model.StatusCompleted)},
	{Name: EventAwait, Src: []string{string(model.StatusCompleted)}, Dst: string(model.StatusAwaitingCollection)},
	{Name: EventCollect, Src: []string{
		string(model.StatusCompleted),
		string(model.StatusAwaitingCollection),
	}, Dst: string(model.StatusAvailable)},

	// Administrative
	{Name: EventDisable, Src: []string{
		string(model.StatusAvailable),
		string(model.StatusInUse),
		string(model.StatusCompleted),
		string(model.StatusAwaitingCollection),
	}, Dst: string(model.StatusDisabled)},
	{Name: EventEnable, Src: []string{string(model.StatusDisabled)}, Dst: string(model.StatusAvailable)},
}

// newLifecycle wraps m in a state machine whose transitions write the new
// status back to m.
func newLifecycle(m *model.Machine) *fsm.FSM {
	return fsm.NewFSM(
		string(m.Status),
		lifecycleEvents,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.Status = model.MachineStatus(e.Dst)
			},
		},
	)
}

// transition fires event on m, leaving m untouched when the event is not
// legal from its current status.
func transition(m *model.Machine, event string) error {
	return newLifecycle(m).Event(context.Background(), event)
}

// can reports whether event is legal from m's current status.
func can(m *model.Machine, event string) bool {
	return newLifecycle(m).Can(event)
}
