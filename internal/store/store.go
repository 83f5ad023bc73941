package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"laundry-sync-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	EnsureMachines(ctx context.Context, machines []model.Machine) error
	LoadMachines(ctx context.Context) ([]model.Machine, error)
	SaveMachine(ctx context.Context, m model.Machine) error

	InsertFault(ctx context.Context, report model.FaultReport) error
	ListFaults(ctx context.Context, limit int) ([]model.FaultReport, error)
	AppendIssue(ctx context.Context, note model.MaintenanceNote) error
	RecordMaintenance(ctx context.Context, note model.MaintenanceNote) error

	AppendActivity(ctx context.Context, a model.Activity) error
	ListActivities(ctx context.Context, filter ActivityFilter) ([]model.Activity, error)

	SaveNotification(ctx context.Context, n model.Notification) error
	ListNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	DeleteNotification(ctx context.Context, id string) error

	PutSubscription(ctx context.Context, sub model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error)

	InsertWaitlistItem(ctx context.Context, item model.WaitlistItem) error
	DeleteWaitlistItem(ctx context.Context, id string) error
	ListWaitlistItems(ctx context.Context) ([]model.WaitlistItem, error)
}

// ActivityFilter narrows ListActivities. Zero values mean no filter.
type ActivityFilter struct {
	MachineID int64
	Actor     string
	Limit     int
}

// DefaultActivityLimit caps history reads without an explicit limit.
const DefaultActivityLimit = 100

// DefaultFaultLimit caps fault report reads without an explicit limit.
const DefaultFaultLimit = 200

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// EnsureMachines inserts provisioned machines that do not exist yet and
// leaves existing rows untouched.
func (s *gormStore) EnsureMachines(ctx context.Context, machines []model.Machine) error {
	if len(machines) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Omit(clause.Associations).
		Create(&machines).Error
	if err != nil {
		return fmt.Errorf("failed to provision machines: %w", err)
	}
	return nil
}

// LoadMachines returns every machine with its issue log and open fault reports.
func (s *gormStore) LoadMachines(ctx context.Context) ([]model.Machine, error) {
	var machines []model.Machine
	err := s.db.WithContext(ctx).
		Preload("Issues", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at, id") }).
		Preload("FaultReports", func(tx *gorm.DB) *gorm.DB { return tx.Omit("photo_data").Order("created_at, id") }).
		Order("id").
		Find(&machines).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load machines: %w", err)
	}
	return machines, nil
}

// SaveMachine writes the machine row; issues and fault reports are written
// by their own methods.
func (s *gormStore) SaveMachine(ctx context.Context, m model.Machine) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations, "created_at").Save(&m).Error; err != nil {
		return fmt.Errorf("failed to save machine %d: %w", m.ID, err)
	}
	return nil
}

func (s *gormStore) InsertFault(ctx context.Context, report model.FaultReport) error {
	if err := s.db.WithContext(ctx).Create(&report).Error; err != nil {
		return fmt.Errorf("failed to insert fault report for machine %d: %w", report.MachineID, err)
	}
	return nil
}

// ListFaults returns open fault reports across all machines, newest first.
func (s *gormStore) ListFaults(ctx context.Context, limit int) ([]model.FaultReport, error) {
	if limit <= 0 || limit > DefaultFaultLimit {
		limit = DefaultFaultLimit
	}
	var reports []model.FaultReport
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("failed to list fault reports: %w", err)
	}
	return reports, nil
}

func (s *gormStore) AppendIssue(ctx context.Context, note model.MaintenanceNote) error {
	note.ID = 0
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		return fmt.Errorf("failed to append issue for machine %d: %w", note.MachineID, err)
	}
	return nil
}

// RecordMaintenance appends the note and clears the machine's open fault
// reports in one transaction.
func (s *gormStore) RecordMaintenance(ctx context.Context, note model.MaintenanceNote) error {
	note.ID = 0
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&note).Error; err != nil {
			return fmt.Errorf("failed to append maintenance note for machine %d: %w", note.MachineID, err)
		}
		if err := tx.Where("machine_id = ?", note.MachineID).Delete(&model.FaultReport{}).Error; err != nil {
			return fmt.Errorf("failed to clear fault reports for machine %d: %w", note.MachineID, err)
		}
		if err := tx.Model(&model.Machine{}).Where("id = ?", note.MachineID).
			Update("last_maintenance", note.CreatedAt).Error; err != nil {
			return fmt.Errorf("failed to stamp maintenance on machine %d: %w", note.MachineID, err)
		}
		return nil
	})
}

func (s *gormStore) AppendActivity(ctx context.Context, a model.Activity) error {
	a.ID = 0
	if err := s.db.WithContext(ctx).Create(&a).Error; err != nil {
		return fmt.Errorf("failed to append activity %s: %w", a.Kind, err)
	}
	return nil
}

// ListActivities returns history newest first.
func (s *gormStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]model.Activity, error) {
	limit := filter.Limit
	if limit <= 0 || limit > DefaultActivityLimit {
		limit = DefaultActivityLimit
	}
	q := s.db.WithContext(ctx).Model(&model.Activity{})
	if filter.MachineID != 0 {
		q = q.Where("machine_id = ?", filter.MachineID)
	}
	if filter.Actor != "" {
		q = q.Where("actor = ?", filter.Actor)
	}
	var activities []model.Activity
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&activities).Error; err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	return activities, nil
}

func (s *gormStore) SaveNotification(ctx context.Context, n model.Notification) error {
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		return fmt.Errorf("failed to save notification %s: %w", n.ID, err)
	}
	return nil
}

func (s *gormStore) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	var notifications []model.Notification
	if err := s.db.WithContext(ctx).Order("created_at").Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

func (s *gormStore) MarkNotificationRead(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ?", id).
		Update("read", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	return nil
}

func (s *gormStore) DeleteNotification(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&model.Notification{ID: id}).Error; err != nil {
		return fmt.Errorf("failed to delete notification %s: %w", id, err)
	}
	return nil
}

// PutSubscription creates or refreshes a browser push subscription.
func (s *gormStore) PutSubscription(ctx context.Context, sub model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "user_id"}),
	}).Create(&sub).Error
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func (s *gormStore) SubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions for %s: %w", userID, err)
	}
	return subs, nil
}

func (s *gormStore) InsertWaitlistItem(ctx context.Context, item model.WaitlistItem) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&item).Error
	if err != nil {
		return fmt.Errorf("failed to insert waitlist item %s: %w", item.ID, err)
	}
	return nil
}

func (s *gormStore) DeleteWaitlistItem(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&model.WaitlistItem{ID: id}).Error; err != nil {
		return fmt.Errorf("failed to delete waitlist item %s: %w", id, err)
	}
	return nil
}

// ListWaitlistItems returns every queued item in join order across all types.
func (s *gormStore) ListWaitlistItems(ctx context.Context) ([]model.WaitlistItem, error) {
	var items []model.WaitlistItem
	if err := s.db.WithContext(ctx).Order("joined_at, id").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list waitlist items: %w", err)
	}
	return items, nil
}
