package store

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"gorm.io/gorm"
)

// ErrMedicationNotFound is returned by catalog lookups that should fall back
// to manual entry
var ErrMedicationNotFound = apperrors.New(apperrors.ErrNotFound.Code, "medication not found in catalog")

// ==================== Medication Methods ====================

// CreateMedication stores catalog or manually entered reference data
func (s *Store) CreateMedication(ctx context.Context, med *Medication) error {
	med.Name = strings.TrimSpace(med.Name)
	if med.Name == "" {
		return apperrors.BadRequest("medication name is required")
	}
	if err := s.conn(ctx).Create(med).Error; err != nil {
		return apperrors.Backend("creating medication", err)
	}
	return nil
}

// GetMedication retrieves a medication by ID
func (s *Store) GetMedication(ctx context.Context, id string) (*Medication, error) {
	var med Medication
	err := s.conn(ctx).First(&med, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("medication")
	}
	if err != nil {
		return nil, apperrors.Backend("loading medication", err)
	}
	return &med, nil
}

// FindMedicationByBarcode resolves a scanned code against the catalog
func (s *Store) FindMedicationByBarcode(ctx context.Context, barcode string) (*Medication, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, ErrMedicationNotFound
	}

	var med Medication
	err := s.conn(ctx).Where("barcode = ?", barcode).First(&med).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMedicationNotFound
	}
	if err != nil {
		return nil, apperrors.Backend("looking up barcode", err)
	}
	return &med, nil
}

// SearchMedications does a case-insensitive prefix search on name
func (s *Store) SearchMedications(ctx context.Context, query string, limit int) ([]Medication, error) {
	if limit <= 0 {
		limit = 20
	}
	var meds []Medication
	err := s.conn(ctx).
		Where("LOWER(name) LIKE ?", strings.ToLower(strings.TrimSpace(query))+"%").
		Order("name ASC").
		Limit(limit).
		Find(&meds).Error
	if err != nil {
		return nil, apperrors.Backend("searching medications", err)
	}
	return meds, nil
}

// ==================== Schedule Methods ====================

// CreateSchedule stores a schedule and its times
func (s *Store) CreateSchedule(ctx context.Context, sch *Schedule) error {
	if err := validateSchedule(sch); err != nil {
		return err
	}
	if len(sch.Times) == 0 {
		sch.AsNeeded = true
	}
	if sch.RemainingQuantity == 0 && sch.InitialQuantity > 0 {
		sch.RemainingQuantity = sch.InitialQuantity
	}

	if _, err := s.GetMedication(ctx, sch.MedicationID); err != nil {
		return err
	}

	if err := s.conn(ctx).Omit("Medication").Create(sch).Error; err != nil {
		return apperrors.Backend("creating schedule", err)
	}
	return nil
}

func validateSchedule(sch *Schedule) error {
	if sch.PatientID == "" {
		return apperrors.BadRequest("patient is required")
	}
	if sch.MedicationID == "" {
		return apperrors.BadRequest("medication is required")
	}
	if sch.DurationDays < 0 {
		return apperrors.BadRequest("duration must be >= 0")
	}
	if sch.RemainingQuantity < 0 || sch.InitialQuantity < 0 {
		return apperrors.BadRequest("quantity must be >= 0")
	}
	if sch.ReminderLeadMinutes < 0 {
		return apperrors.BadRequest("reminder lead time must be >= 0")
	}
	if len(sch.Times) > MaxScheduleTimes {
		return apperrors.BadRequest("at most %d dosing times per schedule", MaxScheduleTimes)
	}
	if sch.StartDate.IsZero() {
		return apperrors.BadRequest("start date is required")
	}
	return nil
}

// GetSchedule loads one of the patient's schedules with its times
func (s *Store) GetSchedule(ctx context.Context, patientID, id string) (*Schedule, error) {
	var sch Schedule
	err := s.conn(ctx).
		Preload("Times", func(db *gorm.DB) *gorm.DB { return db.Order("time_of_day ASC, id ASC") }).
		Preload("Medication").
		Where("id = ? AND patient_id = ?", id, patientID).
		First(&sch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("schedule")
	}
	if err != nil {
		return nil, apperrors.Backend("loading schedule", err)
	}
	return &sch, nil
}

// ListSchedules lists every schedule of a patient with times preloaded
func (s *Store) ListSchedules(ctx context.Context, patientID string) ([]Schedule, error) {
	var schedules []Schedule
	err := s.conn(ctx).
		Preload("Times", func(db *gorm.DB) *gorm.DB { return db.Order("time_of_day ASC, id ASC") }).
		Preload("Medication").
		Where("patient_id = ?", patientID).
		Order("start_date ASC, id ASC").
		Find(&schedules).Error
	if err != nil {
		return nil, apperrors.Backend("listing schedules", err)
	}
	return schedules, nil
}

// ListPatientIDs returns every patient that owns at least one schedule
func (s *Store) ListPatientIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.conn(ctx).Model(&Schedule{}).Distinct().Order("patient_id").Pluck("patient_id", &ids).Error
	if err != nil {
		return nil, apperrors.Backend("listing patients", err)
	}
	return ids, nil
}

// ScheduleUpdate carries the editable schedule fields; nil means unchanged
type ScheduleUpdate struct {
	Dosage              *string
	DurationDays        *int
	RemindersEnabled    *bool
	ReminderLeadMinutes *int
}

// UpdateSchedule applies the non-nil fields of upd
func (s *Store) UpdateSchedule(ctx context.Context, patientID, id string, upd ScheduleUpdate) (*Schedule, error) {
	fields := map[string]interface{}{"updated_at": time.Now()}
	if upd.Dosage != nil {
		fields["dosage"] = *upd.Dosage
	}
	if upd.DurationDays != nil {
		if *upd.DurationDays < 0 {
			return nil, apperrors.BadRequest("duration must be >= 0")
		}
		fields["duration_days"] = *upd.DurationDays
	}
	if upd.RemindersEnabled != nil {
		fields["reminders_enabled"] = *upd.RemindersEnabled
	}
	if upd.ReminderLeadMinutes != nil {
		if *upd.ReminderLeadMinutes < 0 {
			return nil, apperrors.BadRequest("reminder lead time must be >= 0")
		}
		fields["reminder_lead_minutes"] = *upd.ReminderLeadMinutes
	}

	res := s.conn(ctx).Model(&Schedule{}).Where("id = ? AND patient_id = ?", id, patientID).Updates(fields)
	if res.Error != nil {
		return nil, apperrors.Backend("updating schedule", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.NotFound("schedule")
	}
	return s.GetSchedule(ctx, patientID, id)
}

// DeleteSchedule removes a schedule and cascades to its times. Pill logs
// keep their weak reference.
func (s *Store) DeleteSchedule(ctx context.Context, patientID, id string) error {
	return s.Transaction(ctx, func(tx *Store) error {
		res := tx.db.Where("id = ? AND patient_id = ?", id, patientID).Delete(&Schedule{})
		if res.Error != nil {
			return apperrors.Backend("deleting schedule", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFound("schedule")
		}
		if err := tx.db.Where("schedule_id = ?", id).Delete(&ScheduleTime{}).Error; err != nil {
			return apperrors.Backend("deleting schedule times", err)
		}
		return nil
	})
}

// AddScheduleTime appends a dosing time; a schedule that gains its first
// time stops being as-needed
func (s *Store) AddScheduleTime(ctx context.Context, patientID, scheduleID string, st *ScheduleTime) (*Schedule, error) {
	err := s.Transaction(ctx, func(tx *Store) error {
		sch, err := tx.GetSchedule(ctx, patientID, scheduleID)
		if err != nil {
			return err
		}
		if len(sch.Times) >= MaxScheduleTimes {
			return apperrors.BadRequest("at most %d dosing times per schedule", MaxScheduleTimes)
		}

		st.ScheduleID = scheduleID
		if err := tx.db.Create(st).Error; err != nil {
			return apperrors.Backend("creating schedule time", err)
		}
		if sch.AsNeeded {
			if err := tx.db.Model(&Schedule{}).Where("id = ?", scheduleID).
				Updates(map[string]interface{}{"as_needed": false, "updated_at": time.Now()}).Error; err != nil {
				return apperrors.Backend("updating schedule", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetSchedule(ctx, patientID, scheduleID)
}

// DeleteScheduleTime removes a dosing time. Deleting the last time of a
// fixed schedule flips it to as-needed.
func (s *Store) DeleteScheduleTime(ctx context.Context, patientID, scheduleID, timeID string) (*Schedule, error) {
	err := s.Transaction(ctx, func(tx *Store) error {
		if _, err := tx.GetSchedule(ctx, patientID, scheduleID); err != nil {
			return err
		}

		res := tx.db.Where("id = ? AND schedule_id = ?", timeID, scheduleID).Delete(&ScheduleTime{})
		if res.Error != nil {
			return apperrors.Backend("deleting schedule time", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFound("schedule time")
		}

		var left int64
		if err := tx.db.Model(&ScheduleTime{}).Where("schedule_id = ?", scheduleID).Count(&left).Error; err != nil {
			return apperrors.Backend("counting schedule times", err)
		}
		if left == 0 {
			if err := tx.db.Model(&Schedule{}).Where("id = ? AND as_needed = ?", scheduleID, false).
				Updates(map[string]interface{}{"as_needed": true, "updated_at": time.Now()}).Error; err != nil {
				return apperrors.Backend("updating schedule", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetSchedule(ctx, patientID, scheduleID)
}

// Refill atomically adds quantity to the remaining pill count
func (s *Store) Refill(ctx context.Context, patientID, scheduleID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, apperrors.BadRequest("refill quantity must be > 0")
	}

	res := s.conn(ctx).Model(&Schedule{}).
		Where("id = ? AND patient_id = ?", scheduleID, patientID).
		Updates(map[string]interface{}{
			"remaining_quantity": gorm.Expr("remaining_quantity + ?", quantity),
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return 0, apperrors.Backend("refilling schedule", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, apperrors.NotFound("schedule")
	}
	return s.remaining(ctx, scheduleID)
}

// DecrementRemaining takes one pill off the schedule only if any remain. The
// condition and the write are one statement, so concurrent takers cannot
// drive the count below zero or lose an update.
func (s *Store) DecrementRemaining(ctx context.Context, scheduleID string) (remaining int, decremented bool, err error) {
	res := s.conn(ctx).Model(&Schedule{}).
		Where("id = ? AND remaining_quantity > 0", scheduleID).
		Updates(map[string]interface{}{
			"remaining_quantity": gorm.Expr("remaining_quantity - 1"),
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return 0, false, apperrors.Backend("decrementing inventory", res.Error)
	}

	remaining, err = s.remaining(ctx, scheduleID)
	if err != nil {
		return 0, false, err
	}
	return remaining, res.RowsAffected == 1, nil
}

func (s *Store) remaining(ctx context.Context, scheduleID string) (int, error) {
	var sch Schedule
	err := s.conn(ctx).Select("remaining_quantity").First(&sch, "id = ?", scheduleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apperrors.NotFound("schedule")
	}
	if err != nil {
		return 0, apperrors.Backend("reading inventory", err)
	}
	return sch.RemainingQuantity, nil
}
