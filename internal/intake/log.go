// Package intake records patient responses to dose occurrences.
package intake

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/gmsas95/pillpal/internal/dose"
	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/metrics"
	"github.com/gmsas95/pillpal/internal/session"
	"github.com/gmsas95/pillpal/internal/store"
	"go.uber.org/zap"
)

// SnoozeArmer schedules the reminder for a snoozed dose
type SnoozeArmer interface {
	ArmSnooze(ctx context.Context, patient session.Patient, entry *store.PillLog, title string) (string, error)
}

// DoseRef addresses one dose occurrence
type DoseRef struct {
	ScheduleID string `json:"schedule_id"`
	TimeID     string `json:"schedule_time_id"`
	DoseDate   string `json:"dose_date"`
}

// Result describes the effect of one intake action
type Result struct {
	Entry     *Entry `json:"entry,omitempty"`
	Changed   bool   `json:"changed"`
	Remaining int    `json:"remaining_quantity"`
}

// Config holds intake log settings
type Config struct {
	DefaultSnooze time.Duration
	Now           func() time.Time
}

// Log is the append-only intake log
type Log struct {
	store   *store.Store
	armer   SnoozeArmer
	metrics *metrics.Metrics
	logger  *zap.Logger
	config  Config
}

// NewLog creates an intake log. armer may be nil.
func NewLog(config Config, st *store.Store, armer SnoozeArmer, m *metrics.Metrics, logger *zap.Logger) *Log {
	if config.DefaultSnooze <= 0 {
		config.DefaultSnooze = 10 * time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Log{store: st, armer: armer, metrics: m, logger: logger, config: config}
}

// resolve loads the schedule and checks the reference addresses one of its
// planned occurrences on or before the patient's current day
func resolve(ctx context.Context, tx *store.Store, patient session.Patient, ref DoseRef, now time.Time) (*store.Schedule, error) {
	sch, err := tx.GetSchedule(ctx, patient.ID, ref.ScheduleID)
	if err != nil {
		return nil, err
	}

	day, err := dose.ParseDate(ref.DoseDate)
	if err != nil {
		return nil, apperrors.BadRequest("invalid dose date %q", ref.DoseDate)
	}
	found := false
	for _, st := range sch.Times {
		if st.ID == ref.TimeID {
			found = true
			break
		}
	}
	if !found {
		return nil, apperrors.NotFound("schedule time")
	}
	if !dose.ActiveOn(sch, day) {
		return nil, apperrors.BadRequest("schedule is not active on %s", ref.DoseDate)
	}
	if day.After(dose.Day(patient.Today(now))) {
		return nil, apperrors.BadRequest("dose date %s is in the future", ref.DoseDate)
	}
	return sch, nil
}

// Take records none -> taken and takes one pill off the inventory. The
// insert and the decrement share a transaction; a second taken for the
// same occurrence, concurrent or not, changes nothing.
func (l *Log) Take(ctx context.Context, patient session.Patient, ref DoseRef, note string) (*Result, error) {
	result := &Result{}
	err := l.store.Transaction(ctx, func(tx *store.Store) error {
		sch, err := resolve(ctx, tx, patient, ref, l.config.Now())
		if err != nil {
			return err
		}
		result.Remaining = sch.RemainingQuantity

		latest, err := tx.LatestForOccurrence(ctx, patient.ID, ref.ScheduleID, ref.TimeID, ref.DoseDate)
		if err != nil {
			return err
		}
		switch StatusOf(latest).(type) {
		case Taken:
			e := EntryFrom(latest)
			result.Entry = &e
			return nil
		case Skipped:
			return apperrors.New(apperrors.ErrInvalidTransition.Code, "dose already skipped")
		}

		timeID := ref.TimeID
		key := store.TakenKeyFor(ref.TimeID, ref.DoseDate)
		row := &store.PillLog{
			PatientID:      patient.ID,
			ScheduleID:     ref.ScheduleID,
			ScheduleTimeID: &timeID,
			DoseDate:       ref.DoseDate,
			LoggedAt:       l.config.Now(),
			Note:           note,
			TakenKey:       &key,
		}
		inserted, err := tx.InsertTaken(ctx, row)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		remaining, _, err := tx.DecrementRemaining(ctx, ref.ScheduleID)
		if err != nil {
			return err
		}
		e := EntryFrom(row)
		result.Entry = &e
		result.Changed = true
		result.Remaining = remaining
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		l.metrics.RecordIntake(store.StatusTaken)
		l.logger.Info("Dose taken",
			zap.String("patient_id", patient.ID),
			zap.String("schedule_id", ref.ScheduleID),
			zap.String("dose_date", ref.DoseDate),
			zap.Int("remaining", result.Remaining),
		)
	}
	return result, nil
}

// Skip records none -> skipped
func (l *Log) Skip(ctx context.Context, patient session.Patient, ref DoseRef, note string) (*Result, error) {
	result := &Result{}
	err := l.store.Transaction(ctx, func(tx *store.Store) error {
		sch, err := resolve(ctx, tx, patient, ref, l.config.Now())
		if err != nil {
			return err
		}
		result.Remaining = sch.RemainingQuantity

		latest, err := tx.LatestForOccurrence(ctx, patient.ID, ref.ScheduleID, ref.TimeID, ref.DoseDate)
		if err != nil {
			return err
		}
		switch StatusOf(latest).(type) {
		case Skipped:
			e := EntryFrom(latest)
			result.Entry = &e
			return nil
		case Taken:
			return apperrors.New(apperrors.ErrInvalidTransition.Code, "dose already taken")
		}

		timeID := ref.TimeID
		row := &store.PillLog{
			PatientID:      patient.ID,
			ScheduleID:     ref.ScheduleID,
			ScheduleTimeID: &timeID,
			DoseDate:       ref.DoseDate,
			LoggedAt:       l.config.Now(),
			Status:         store.StatusSkipped,
			Note:           note,
		}
		if err := tx.AppendLog(ctx, row); err != nil {
			return err
		}
		e := EntryFrom(row)
		result.Entry = &e
		result.Changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		l.metrics.RecordIntake(store.StatusSkipped)
		l.logger.Info("Dose skipped",
			zap.String("patient_id", patient.ID),
			zap.String("schedule_id", ref.ScheduleID),
			zap.String("dose_date", ref.DoseDate),
		)
	}
	return result, nil
}

// Snooze records none -> snoozed resolving after d, or the default snooze
// when d is zero, and arms a reminder for the resolution time
func (l *Log) Snooze(ctx context.Context, patient session.Patient, ref DoseRef, d time.Duration) (*Result, error) {
	if d < 0 {
		return nil, apperrors.BadRequest("snooze duration must be positive")
	}
	if d == 0 {
		d = l.config.DefaultSnooze
	}

	result := &Result{}
	var row *store.PillLog
	var title string
	err := l.store.Transaction(ctx, func(tx *store.Store) error {
		sch, err := resolve(ctx, tx, patient, ref, l.config.Now())
		if err != nil {
			return err
		}
		result.Remaining = sch.RemainingQuantity
		if sch.Medication != nil {
			title = "Snoozed: " + sch.Medication.Name
		}

		latest, err := tx.LatestForOccurrence(ctx, patient.ID, ref.ScheduleID, ref.TimeID, ref.DoseDate)
		if err != nil {
			return err
		}
		if s := StatusOf(latest); s.Terminal() {
			return apperrors.New(apperrors.ErrInvalidTransition.Code, "dose already "+s.Name())
		}

		now := l.config.Now()
		until := now.Add(d)
		timeID := ref.TimeID
		row = &store.PillLog{
			PatientID:      patient.ID,
			ScheduleID:     ref.ScheduleID,
			ScheduleTimeID: &timeID,
			DoseDate:       ref.DoseDate,
			LoggedAt:       now,
			Status:         store.StatusSnoozed,
			SnoozeUntil:    &until,
		}
		return tx.AppendLog(ctx, row)
	})
	if err != nil {
		return nil, err
	}

	e := EntryFrom(row)
	result.Entry = &e
	result.Changed = true
	l.metrics.RecordIntake(store.StatusSnoozed)

	if l.armer != nil {
		if _, err := l.armer.ArmSnooze(ctx, patient, row, title); err != nil {
			// the entry stands; reconciliation still resets it
			l.logger.Warn("Failed to arm snooze reminder",
				zap.String("patient_id", patient.ID),
				zap.Uint64("entry_id", row.ID),
				zap.Error(err),
			)
		}
	}
	return result, nil
}

// TakeAsNeeded records an ad-hoc dose of an as-needed schedule
func (l *Log) TakeAsNeeded(ctx context.Context, patient session.Patient, scheduleID, note string) (*Result, error) {
	result := &Result{}
	err := l.store.Transaction(ctx, func(tx *store.Store) error {
		sch, err := tx.GetSchedule(ctx, patient.ID, scheduleID)
		if err != nil {
			return err
		}
		if !sch.AsNeeded {
			return apperrors.BadRequest("schedule has fixed dosing times")
		}

		now := l.config.Now()
		row := &store.PillLog{
			PatientID:  patient.ID,
			ScheduleID: scheduleID,
			DoseDate:   now.In(patient.Loc()).Format(dose.DateLayout),
			LoggedAt:   now,
			Status:     store.StatusTaken,
			Note:       note,
		}
		if err := tx.AppendLog(ctx, row); err != nil {
			return err
		}
		remaining, _, err := tx.DecrementRemaining(ctx, scheduleID)
		if err != nil {
			return err
		}
		e := EntryFrom(row)
		result.Entry = &e
		result.Changed = true
		result.Remaining = remaining
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.metrics.RecordIntake(store.StatusTaken)
	return result, nil
}

// DoseStatus is the current state of one occurrence of a day
type DoseStatus struct {
	ScheduleID     string  `json:"schedule_id"`
	TimeID         string  `json:"schedule_time_id"`
	DoseDate       string  `json:"dose_date"`
	Time           string  `json:"time,omitempty"`
	MedicationName string  `json:"medication_name,omitempty"`
	Dosage         string  `json:"dosage,omitempty"`
	Status         string  `json:"status"`
	ResolvedAt     *string `json:"resolved_at,omitempty"`
	EntryID        uint64  `json:"entry_id,omitempty"`

	at time.Time
}

// Today lists every planned occurrence on day with the status of its
// latest entry that day
func (l *Log) Today(ctx context.Context, patient session.Patient, day time.Time) ([]DoseStatus, error) {
	schedules, err := l.store.ListSchedules(ctx, patient.ID)
	if err != nil {
		return nil, err
	}
	date := dose.Day(day)
	key := date.Format(dose.DateLayout)
	logs, err := l.store.LogsBetween(ctx, patient.ID, key, key)
	if err != nil {
		return nil, err
	}
	latest := store.LatestPerOccurrence(logs)
	loc := patient.Loc()

	var out []DoseStatus
	for i := range schedules {
		sch := &schedules[i]
		for occ := range dose.Generate(sch, sch.Times, date, date) {
			ds := DoseStatus{
				ScheduleID: sch.ID,
				TimeID:     occ.TimeID,
				DoseDate:   key,
				Dosage:     sch.Dosage,
				Status:     store.StatusNone,
				at:         occ.At(loc),
			}
			if occ.Time != nil {
				ds.Time = occ.Time.String()
			}
			if sch.Medication != nil {
				ds.MedicationName = sch.Medication.Name
			}
			if entry, ok := latest[store.TakenKeyFor(occ.TimeID, key)]; ok {
				status := StatusOf(&entry)
				ds.Status = status.Name()
				ds.EntryID = entry.ID
				if s, ok := status.(Snoozed); ok {
					r := s.ResolvedAt.Format(time.RFC3339)
					ds.ResolvedAt = &r
				}
			}
			out = append(out, ds)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].at.Equal(out[j].at) {
			return out[i].at.Before(out[j].at)
		}
		return out[i].ScheduleID < out[j].ScheduleID
	})
	return out, nil
}

// Reconcile resets the patient's snoozed doses whose resolution time has
// passed and returns how many were reset
func (l *Log) Reconcile(ctx context.Context, patient session.Patient) (int, error) {
	return l.reconcile(ctx, patient.ID)
}

// ReconcileAll runs reconciliation for every patient
func (l *Log) ReconcileAll(ctx context.Context) (int, error) {
	return l.reconcile(ctx, "")
}

// reconcile marks each due snoozed entry processed and appends one fresh
// none entry in the same transaction. Only the caller that flips processed
// inserts, so overlapping passes never duplicate a reset. An entry that was
// superseded by a later action is marked processed without a reset.
func (l *Log) reconcile(ctx context.Context, patientID string) (int, error) {
	now := l.config.Now()
	due, err := l.store.DueSnoozes(ctx, patientID, now)
	if err != nil {
		return 0, err
	}

	reset := 0
	var errs []error
	for _, entry := range due {
		var inserted bool
		err := l.store.Transaction(ctx, func(tx *store.Store) error {
			flipped, err := tx.MarkProcessed(ctx, entry.ID)
			if err != nil || !flipped {
				return err
			}
			if entry.ScheduleTimeID == nil {
				return nil
			}

			latest, err := tx.LatestForOccurrence(ctx, entry.PatientID, entry.ScheduleID, *entry.ScheduleTimeID, entry.DoseDate)
			if err != nil {
				return err
			}
			if latest == nil || latest.ID != entry.ID {
				return nil
			}

			timeID := *entry.ScheduleTimeID
			if err := tx.AppendLog(ctx, &store.PillLog{
				PatientID:      entry.PatientID,
				ScheduleID:     entry.ScheduleID,
				ScheduleTimeID: &timeID,
				DoseDate:       entry.DoseDate,
				LoggedAt:       now,
				Status:         store.StatusNone,
			}); err != nil {
				return err
			}
			inserted = true
			return nil
		})
		if err != nil {
			l.logger.Error("Failed to reconcile snooze",
				zap.String("patient_id", entry.PatientID),
				zap.Uint64("entry_id", entry.ID),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		if inserted {
			reset++
			l.metrics.RecordSnoozeResolved()
		}
	}

	if reset > 0 {
		l.logger.Info("Snoozed doses reset", zap.Int("count", reset), zap.String("patient_id", patientID))
	}
	return reset, errors.Join(errs...)
}
