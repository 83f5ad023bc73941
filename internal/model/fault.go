package model

import "time"

// FaultReport is an open complaint against a machine. PhotoData is an optional
// base64 image; machine snapshots never carry it.
type FaultReport struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	MachineID   int64     `gorm:"index;not null" json:"machine_id"`
	Reporter    string    `gorm:"size:64;not null" json:"reporter"`
	Description string    `gorm:"size:500;not null" json:"description"`
	PhotoData   string    `gorm:"type:text" json:"photo_data,omitempty"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

// MaintenanceNote is one entry of a machine's issue log.
type MaintenanceNote struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	MachineID int64     `gorm:"index;not null" json:"machine_id"`
	Note      string    `gorm:"not null" json:"note"`
	Actor     string    `gorm:"size:64;not null" json:"actor"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}
