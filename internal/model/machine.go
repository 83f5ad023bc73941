package model

import (
	"fmt"
	"time"
)

// MachineType is the kind of resource a machine provides.
type MachineType string

const (
	Washer MachineType = "washer"
	Dryer  MachineType = "dryer"
)

// MachineTypes lists every supported type in display order.
var MachineTypes = []MachineType{Washer, Dryer}

// ParseMachineType validates a raw machine type string.
func ParseMachineType(raw string) (MachineType, bool) {
	switch MachineType(raw) {
	case Washer, Dryer:
		return MachineType(raw), true
	}
	return "", false
}

// MachineStatus is the lifecycle state of a machine.
type MachineStatus string

const (
	StatusAvailable          MachineStatus = "available"
	StatusInUse              MachineStatus = "in_use"
	StatusCompleted          MachineStatus = "completed"
	StatusAwaitingCollection MachineStatus = "awaiting_collection"
	StatusDisabled           MachineStatus = "disabled"
)

// Occupied reports whether the status requires an owner.
func (s MachineStatus) Occupied() bool {
	return s == StatusInUse || s == StatusCompleted || s == StatusAwaitingCollection
}

// Machine represents a washer or dryer and its current cycle.
type Machine struct {
	ID              int64         `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Type            MachineType   `gorm:"size:16;not null;index" json:"machine_type"`
	Status          MachineStatus `gorm:"size:32;not null" json:"status"`
	Category        string        `gorm:"size:32" json:"category,omitempty"`
	TimeLeftSeconds int           `gorm:"not null" json:"time_left_seconds"`
	CurrentUser     string        `gorm:"size:64" json:"current_user,omitempty"`
	Enabled         bool          `gorm:"not null" json:"enabled"`
	TotalCycles     int64         `gorm:"not null" json:"total_cycles"`
	LastMaintenance *time.Time    `json:"last_maintenance,omitempty"`
	CreatedAt       time.Time     `json:"-"`
	UpdatedAt       time.Time     `json:"-"`

	// Associations
	Issues       []MaintenanceNote `gorm:"foreignKey:MachineID" json:"issues"`
	FaultReports []FaultReport     `gorm:"foreignKey:MachineID" json:"fault_reports"`
}

// Clone returns a deep copy safe to hand outside the registry.
func (m *Machine) Clone() Machine {
	c := *m
	if m.LastMaintenance != nil {
		t := *m.LastMaintenance
		c.LastMaintenance = &t
	}
	c.Issues = append([]MaintenanceNote(nil), m.Issues...)
	c.FaultReports = append([]FaultReport(nil), m.FaultReports...)
	return c
}

// CheckInvariants verifies the occupancy rules that must hold after every operation.
func (m *Machine) CheckInvariants() error {
	if m.Status.Occupied() != (m.CurrentUser != "") {
		return fmt.Errorf("machine %d: status %s with current user %q", m.ID, m.Status, m.CurrentUser)
	}
	if m.TimeLeftSeconds < 0 {
		return fmt.Errorf("machine %d: negative time left %d", m.ID, m.TimeLeftSeconds)
	}
	if m.TimeLeftSeconds > 0 && m.Status != StatusInUse {
		return fmt.Errorf("machine %d: %d seconds left while %s", m.ID, m.TimeLeftSeconds, m.Status)
	}
	if m.Enabled == (m.Status == StatusDisabled) {
		return fmt.Errorf("machine %d: enabled=%t with status %s", m.ID, m.Enabled, m.Status)
	}
	return nil
}
