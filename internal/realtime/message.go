package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"laundry-sync-backend/internal/event"
	"laundry-sync-backend/internal/model"
)

// Kind is the event name carried on the wire.
type Kind string

const (
	KindMachineUpdate        Kind = "machine_update"
	KindWaitlistUpdate       Kind = "waitlist_update"
	KindFaultReported        Kind = "fault_reported"
	KindNotificationReceived Kind = "notification_received"
	KindConnected            Kind = "connected"
	KindDisconnected         Kind = "disconnected"
	KindError                Kind = "error"
)

// Message is the envelope of every frame on the sync channel.
type Message struct {
	Event     Kind            `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handshake is the first frame a client sends.
type Handshake struct {
	Token string `json:"token"`
}

// MachineUpdate carries post-change machine snapshots.
type MachineUpdate struct {
	Reason   string          `json:"reason"`
	Machines []model.Machine `json:"machines"`
}

// WaitlistUpdate carries the full queue for one machine type.
type WaitlistUpdate struct {
	Reason      string               `json:"reason"`
	MachineType model.MachineType    `json:"machine_type"`
	Items       []model.WaitlistItem `json:"items"`
}

// FaultNotice announces a new fault report.
type FaultNotice struct {
	MachineID   int64             `json:"machine_id"`
	Report      model.FaultReport `json:"report"`
	OpenReports int               `json:"open_reports"`
	Machine     *model.Machine    `json:"machine,omitempty"`
}

// NotificationNotice delivers a personal notification.
type NotificationNotice struct {
	Notification model.Notification `json:"notification"`
}

// Snapshot is the payload of the connected frame.
type Snapshot struct {
	UserID    string                                     `json:"user_id,omitempty"`
	Machines  []model.Machine                            `json:"machines"`
	Waitlists map[model.MachineType][]model.WaitlistItem `json:"waitlists"`
}

// ErrorNotice is the payload of error frames.
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage encodes payload into a message stamped with at.
func NewMessage(kind Kind, payload any, at time.Time) (Message, error) {
	msg := Message{Event: kind, Timestamp: at.UTC()}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	msg.Data = data
	return msg, nil
}

// Decode unmarshals the message payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no payload", m.Event)
	}
	return json.Unmarshal(m.Data, v)
}

// FromEvent maps a domain event to its wire message. recipient is empty for
// messages every observer receives. ok is false for events that are not
// broadcast on their own.
func FromEvent(e event.Event) (msg Message, recipient string, ok bool, err error) {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	switch e.Kind {
	case event.MachineStarted, event.MachineCancelled, event.MachineCompleted,
		event.MachineAwaitingCollection, event.MachineFreed, event.MachineDisabled,
		event.MachineEnabled, event.MachineTicked, event.MaintenanceRecorded:
		msg, err = NewMessage(KindMachineUpdate, MachineUpdate{Reason: string(e.Kind), Machines: e.Machines}, at)

	case event.WaitlistJoined, event.WaitlistLeft:
		items := e.Waitlist
		if items == nil {
			items = []model.WaitlistItem{}
		}
		msg, err = NewMessage(KindWaitlistUpdate, WaitlistUpdate{Reason: string(e.Kind), MachineType: e.MachineType, Items: items}, at)

	case event.FaultReported:
		notice := FaultNotice{MachineID: e.MachineID, OpenReports: e.OpenFaults}
		if e.Fault != nil {
			notice.Report = *e.Fault
			notice.Report.PhotoData = ""
		}
		if m, found := e.Machine(); found {
			notice.Machine = &m
		}
		msg, err = NewMessage(KindFaultReported, notice, at)

	case event.NotificationCreated:
		if e.Notification == nil {
			return Message{}, "", false, nil
		}
		msg, err = NewMessage(KindNotificationReceived, NotificationNotice{Notification: *e.Notification}, at)
		recipient = e.Recipient

	default:
		// WaitlistOpportunity reaches its recipient as the notification it produces.
		return Message{}, "", false, nil
	}
	if err != nil {
		return Message{}, "", false, err
	}
	return msg, recipient, true, nil
}
