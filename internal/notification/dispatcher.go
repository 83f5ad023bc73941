package notification

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"laundry-sync-backend/internal/apperr"
	"laundry-sync-backend/internal/event"
	"laundry-sync-backend/internal/model"
)

// Queue accepts notifications for asynchronous delivery without blocking.
type Queue interface {
	TryDispatch(n model.Notification) bool
}

// Archive persists inbox changes made through the dispatcher.
type Archive interface {
	MarkNotificationRead(ctx context.Context, id string) error
	DeleteNotification(ctx context.Context, id string) error
}

// Dispatcher turns completions and waitlist opportunities into
// notifications, keeps an inbox per recipient and forwards each notification
// to the alert queue.
type Dispatcher struct {
	mu    sync.Mutex
	inbox map[string][]*model.Notification

	pub     event.Publisher
	queue   Queue
	archive Archive
	now     func() time.Time
	log     *zap.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueue forwards every new notification to q.
func WithQueue(q Queue) DispatcherOption {
	return func(d *Dispatcher) { d.queue = q }
}

// WithArchive persists read and delete operations to a.
func WithArchive(a Archive) DispatcherOption {
	return func(d *Dispatcher) { d.archive = a }
}

// NewDispatcher creates a dispatcher publishing NotificationCreated on pub.
func NewDispatcher(pub event.Publisher, log *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		inbox: make(map[string][]*model.Notification),
		pub:   pub,
		now:   time.Now,
		log:   log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Restore seeds the inbox, typically from the store at boot.
func (d *Dispatcher) Restore(notifications []model.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range notifications {
		n := notifications[i]
		d.inbox[n.Recipient] = append(d.inbox[n.Recipient], &n)
	}
	for _, list := range d.inbox {
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	}
}

// Handle implements event.Handler.
func (d *Dispatcher) Handle(e event.Event) {
	var n model.Notification
	switch e.Kind {
	case event.MachineCompleted:
		if e.Recipient == "" {
			return
		}
		n = model.Notification{
			Kind:    model.NotifyCycleComplete,
			Title:   "Cycle complete",
			Message: fmt.Sprintf("Your %s #%d has finished. Please collect your laundry.", e.MachineType, e.MachineID),
		}
	case event.WaitlistOpportunity:
		n = model.Notification{
			Kind:    model.NotifyMachineAvailable,
			Title:   fmt.Sprintf("%s available", titleCase(string(e.MachineType))),
			Message: fmt.Sprintf("%s #%d is free and you are first in line.", titleCase(string(e.MachineType)), e.MachineID),
		}
	default:
		return
	}
	n.ID = uuid.NewString()
	n.Recipient = e.Recipient
	n.MachineID = e.MachineID
	n.MachineType = e.MachineType
	n.CreatedAt = d.now()

	d.mu.Lock()
	stored := n
	d.inbox[n.Recipient] = append(d.inbox[n.Recipient], &stored)
	d.mu.Unlock()

	d.pub.Publish(event.Event{
		Kind:         event.NotificationCreated,
		At:           n.CreatedAt,
		Actor:        e.Actor,
		Recipient:    n.Recipient,
		MachineID:    n.MachineID,
		MachineType:  n.MachineType,
		Notification: &n,
	})

	if d.queue != nil && !d.queue.TryDispatch(n) {
		d.log.Warn("alert queue full, notification kept for polling only",
			zap.String("notification_id", n.ID),
			zap.String("recipient", n.Recipient))
	}
}

// List returns a user's notifications, newest first.
func (d *Dispatcher) List(userID string) []model.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.inbox[userID]
	out := make([]model.Notification, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, *list[i])
	}
	return out
}

// UnreadCount returns how many of a user's notifications are unread.
func (d *Dispatcher) UnreadCount(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var count int
	for _, n := range d.inbox[userID] {
		if !n.Read {
			count++
		}
	}
	return count
}

// MarkRead acknowledges one of the user's notifications.
func (d *Dispatcher) MarkRead(ctx context.Context, userID, id string) (model.Notification, error) {
	d.mu.Lock()
	n, _, ok := d.find(userID, id)
	if !ok {
		d.mu.Unlock()
		return model.Notification{}, apperr.New(apperr.ErrNotificationNotFound, "notification %s not found", id)
	}
	n.Read = true
	out := *n
	d.mu.Unlock()

	if d.archive != nil {
		if err := d.archive.MarkNotificationRead(ctx, id); err != nil {
			d.log.Error("failed to persist read flag", zap.String("notification_id", id), zap.Error(err))
		}
	}
	return out, nil
}

// Delete removes one of the user's notifications.
func (d *Dispatcher) Delete(ctx context.Context, userID, id string) error {
	d.mu.Lock()
	_, idx, ok := d.find(userID, id)
	if !ok {
		d.mu.Unlock()
		return apperr.New(apperr.ErrNotificationNotFound, "notification %s not found", id)
	}
	list := d.inbox[userID]
	d.inbox[userID] = append(list[:idx:idx], list[idx+1:]...)
	d.mu.Unlock()

	if d.archive != nil {
		if err := d.archive.DeleteNotification(ctx, id); err != nil {
			d.log.Error("failed to persist notification delete", zap.String("notification_id", id), zap.Error(err))
		}
	}
	return nil
}

func (d *Dispatcher) find(userID, id string) (*model.Notification, int, bool) {
	for i, n := range d.inbox[userID] {
		if n.ID == id {
			return n, i, true
		}
	}
	return nil, -1, false
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
