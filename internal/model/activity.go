package model

import (
	"time"
)

// Activity is one entry of the usage history (append-only).
type Activity struct {
	ID          int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	MachineID   int64       `gorm:"index" json:"machine_id,omitempty"`
	MachineType MachineType `gorm:"size:16" json:"machine_type,omitempty"`
	Kind        string      `gorm:"size:64;not null" json:"kind"`
	Actor       string      `gorm:"size:64" json:"actor,omitempty"`
	Details     string      `json:"details,omitempty"`
	CreatedAt   time.Time   `gorm:"not null;index" json:"created_at"`
}
