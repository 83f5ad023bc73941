package fault

import (
	"encoding/base64"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"laundry-sync-backend/internal/apperr"
	"laundry-sync-backend/internal/identity"
	"laundry-sync-backend/internal/machine"
	"laundry-sync-backend/internal/model"
)

const (
	// DefaultThreshold is the number of open reports that retires a machine.
	DefaultThreshold = 3

	MinDescriptionLength = 5
	MaxDescriptionLength = 500

	// MaxPhotoBytes bounds the decoded size of an attached photo.
	MaxPhotoBytes = 2 << 20
)

// Aggregator records fault reports and enforces the auto-disable policy.
type Aggregator struct {
	registry  *machine.Registry
	threshold int
	now       func() time.Time
}

// NewAggregator creates an aggregator over registry. A non-positive threshold
// falls back to DefaultThreshold.
func NewAggregator(registry *machine.Registry, threshold int) *Aggregator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Aggregator{registry: registry, threshold: threshold, now: time.Now}
}

// Threshold returns the configured auto-disable threshold.
func (a *Aggregator) Threshold() int {
	return a.threshold
}

// ReportFault files a complaint against machine id. photo may be empty.
func (a *Aggregator) ReportFault(id int64, reporter identity.Identity, description, photo string) (machine.FaultOutcome, error) {
	description = strings.TrimSpace(description)
	if n := utf8.RuneCountInString(description); n < MinDescriptionLength || n > MaxDescriptionLength {
		return machine.FaultOutcome{}, apperr.New(apperr.ErrInvalidDescription,
			"description must be %d to %d characters, got %d", MinDescriptionLength, MaxDescriptionLength, n)
	}
	photo = strings.TrimSpace(photo)
	if err := checkPhoto(photo); err != nil {
		return machine.FaultOutcome{}, err
	}
	report := model.FaultReport{
		ID:          uuid.NewString(),
		Reporter:    reporter.UserID,
		Description: description,
		PhotoData:   photo,
		CreatedAt:   a.now(),
	}
	return a.registry.AddFaultReport(id, report, a.threshold)
}

// RecordMaintenance logs a maintenance note and clears the machine's open
// reports. Administrators only.
func (a *Aggregator) RecordMaintenance(id int64, note string, actor identity.Identity) (model.Machine, error) {
	if !actor.Admin {
		return model.Machine{}, apperr.New(apperr.ErrAdminRequired, "recording maintenance requires administrative capability")
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return model.Machine{}, apperr.New(apperr.ErrMalformed, "maintenance note is empty")
	}
	return a.registry.RecordMaintenance(id, model.MaintenanceNote{
		Note:      note,
		Actor:     actor.UserID,
		CreatedAt: a.now(),
	})
}

// OpenReports lists the reports filed since the last maintenance.
func (a *Aggregator) OpenReports(id int64) ([]model.FaultReport, error) {
	m, err := a.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return m.FaultReports, nil
}

// checkPhoto accepts an empty string, raw base64 or a base64 data URL.
func checkPhoto(photo string) error {
	if photo == "" {
		return nil
	}
	payload := photo
	if rest, ok := strings.CutPrefix(photo, "data:"); ok {
		meta, data, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return apperr.New(apperr.ErrInvalidPhoto, "photo data URL must be base64 encoded")
		}
		payload = data
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxPhotoBytes+2 {
		return apperr.New(apperr.ErrInvalidPhoto, "photo exceeds %d bytes", MaxPhotoBytes)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return apperr.New(apperr.ErrInvalidPhoto, "photo is not valid base64")
	}
	if len(raw) == 0 || len(raw) > MaxPhotoBytes {
		return apperr.New(apperr.ErrInvalidPhoto, "photo must be 1 to %d bytes", MaxPhotoBytes)
	}
	return nil
}
