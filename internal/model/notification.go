package model

import "time"

// NotificationKind names the event a notification originates from.
type NotificationKind string

const (
	NotifyCycleComplete    NotificationKind = "cycle_complete"
	NotifyMachineAvailable NotificationKind = "machine_available"
)

// Notification is a user-facing alert kept for polling and acknowledgement.
type Notification struct {
	ID          string           `gorm:"primaryKey;size:36" json:"id"`
	Recipient   string           `gorm:"size:64;index;not null" json:"recipient"`
	Kind        NotificationKind `gorm:"size:32;not null" json:"kind"`
	MachineID   int64            `json:"machine_id"`
	MachineType MachineType      `gorm:"size:16" json:"machine_type"`
	Title       string           `gorm:"size:255;not null" json:"title"`
	Message     string           `gorm:"not null" json:"message"`
	Read        bool             `gorm:"not null" json:"read"`
	CreatedAt   time.Time        `gorm:"not null" json:"created_at"`
}
