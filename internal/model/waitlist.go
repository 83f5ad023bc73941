package model

import "time"

// WaitlistItem is a requester waiting for a machine of a given type. Position
// is derived from queue order and never stored.
type WaitlistItem struct {
	ID       string      `gorm:"primaryKey;size:36" json:"id"`
	UserID   string      `gorm:"size:64;not null" json:"user_id"`
	Type     MachineType `gorm:"column:machine_type;size:16;not null;index" json:"machine_type"`
	JoinedAt time.Time   `gorm:"not null" json:"joined_at"`
	Position int         `gorm:"-" json:"position"`
}
