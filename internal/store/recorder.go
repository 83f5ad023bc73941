package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"laundry-sync-backend/internal/event"
	"laundry-sync-backend/internal/model"
)

// TickPersistInterval throttles how often countdown progress is written.
const TickPersistInterval = 30 * time.Second

// Recorder persists domain events in the background. Handle never blocks: when
// the queue is full the event is dropped and logged.
type Recorder struct {
	store    Store
	events   chan event.Event
	log      *zap.Logger
	lastTick time.Time

	// OnDropped, when set, is called for every event dropped on a full queue.
	OnDropped func(event.Event)
}

// NewRecorder creates a recorder with a queue of the given depth.
func NewRecorder(store Store, queue int, log *zap.Logger) *Recorder {
	if queue <= 0 {
		queue = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{store: store, events: make(chan event.Event, queue), log: log}
}

// Handle implements event.Handler.
func (r *Recorder) Handle(e event.Event) {
	select {
	case r.events <- e:
	default:
		r.log.Warn("recorder queue full, dropping event", zap.String("kind", string(e.Kind)), zap.Int64("machine_id", e.MachineID))
		if r.OnDropped != nil {
			r.OnDropped(e)
		}
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case e := <-r.events:
			r.record(ctx, e)
		case <-ctx.Done():
			r.drain()
			return nil
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-r.events:
			r.record(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) record(ctx context.Context, e event.Event) {
	if err := r.persist(ctx, e); err != nil {
		r.log.Error("failed to persist event", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

func (r *Recorder) persist(ctx context.Context, e event.Event) error {
	switch e.Kind {
	case event.MachineTicked:
		if !r.lastTick.IsZero() && e.At.Sub(r.lastTick) < TickPersistInterval {
			return nil
		}
		r.lastTick = e.At
		for _, m := range e.Machines {
			if err := r.store.SaveMachine(ctx, m); err != nil {
				return err
			}
		}
		return nil

	case event.MachineStarted, event.MachineCancelled, event.MachineCompleted,
		event.MachineAwaitingCollection, event.MachineFreed, event.MachineEnabled:
		if err := r.saveMachines(ctx, e); err != nil {
			return err
		}

	case event.MachineDisabled:
		if err := r.saveMachines(ctx, e); err != nil {
			return err
		}
		// Policy-driven disables carry the issue note they appended.
		if e.Details != "" {
			if note, ok := lastIssue(e); ok {
				if err := r.store.AppendIssue(ctx, note); err != nil {
					return err
				}
			}
		}

	case event.FaultReported:
		if e.Fault == nil {
			return fmt.Errorf("fault_reported event without report")
		}
		if err := r.store.InsertFault(ctx, *e.Fault); err != nil {
			return err
		}

	case event.MaintenanceRecorded:
		note, ok := lastIssue(e)
		if !ok {
			return fmt.Errorf("maintenance_recorded event without issue note")
		}
		if err := r.store.RecordMaintenance(ctx, note); err != nil {
			return err
		}

	case event.NotificationCreated:
		if e.Notification == nil {
			return fmt.Errorf("notification_created event without notification")
		}
		return r.store.SaveNotification(ctx, *e.Notification)

	case event.WaitlistJoined:
		if e.Item == nil {
			return fmt.Errorf("waitlist_joined event without item")
		}
		if err := r.store.InsertWaitlistItem(ctx, *e.Item); err != nil {
			return err
		}

	case event.WaitlistLeft:
		if e.Item == nil {
			return fmt.Errorf("waitlist_left event without item")
		}
		if err := r.store.DeleteWaitlistItem(ctx, e.Item.ID); err != nil {
			return err
		}

	case event.WaitlistOpportunity:
		// history only

	default:
		return nil
	}
	return r.store.AppendActivity(ctx, activityFor(e))
}

func (r *Recorder) saveMachines(ctx context.Context, e event.Event) error {
	for _, m := range e.Machines {
		if err := r.store.SaveMachine(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func lastIssue(e event.Event) (model.MaintenanceNote, bool) {
	m, ok := e.Machine()
	if !ok || len(m.Issues) == 0 {
		return model.MaintenanceNote{}, false
	}
	return m.Issues[len(m.Issues)-1], true
}

func activityFor(e event.Event) model.Activity {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	details := e.Details
	switch e.Kind {
	case event.MachineDisabled:
		if e.Evicted != "" {
			details = fmt.Sprintf("%s evicted=%s", details, e.Evicted)
		}
	case event.WaitlistOpportunity:
		details = "offered to " + e.Recipient
	case event.WaitlistJoined, event.WaitlistLeft:
		if e.Item != nil {
			details = "user=" + e.Item.UserID
		}
	}
	return model.Activity{
		MachineID:   e.MachineID,
		MachineType: e.MachineType,
		Kind:        string(e.Kind),
		Actor:       e.Actor,
		Details:     strings.TrimSpace(details),
		CreatedAt:   at,
	}
}
