package store

import (
	"context"
	"time"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"gorm.io/gorm/clause"
)

// ==================== Pill Log Methods ====================

// normalizeTimes stores instants in UTC so that SQLite's text comparison
// orders them correctly
func normalizeTimes(entry *PillLog) {
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now()
	}
	entry.LoggedAt = entry.LoggedAt.UTC()
	if entry.SnoozeUntil != nil {
		until := entry.SnoozeUntil.UTC()
		entry.SnoozeUntil = &until
	}
}

// AppendLog inserts a new intake entry
func (s *Store) AppendLog(ctx context.Context, entry *PillLog) error {
	normalizeTimes(entry)
	if err := s.conn(ctx).Create(entry).Error; err != nil {
		return apperrors.Backend("appending pill log", err)
	}
	return nil
}

// InsertTaken inserts a taken entry guarded by its taken key. It reports
// false when another taken entry for the same occurrence already exists.
func (s *Store) InsertTaken(ctx context.Context, entry *PillLog) (bool, error) {
	normalizeTimes(entry)
	entry.Status = StatusTaken

	res := s.conn(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "taken_key"}}, DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return false, apperrors.Backend("recording taken dose", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// LatestForOccurrence returns the newest entry for one schedule time on one
// day, or nil when the occurrence has no entries
func (s *Store) LatestForOccurrence(ctx context.Context, patientID, scheduleID, timeID, doseDate string) (*PillLog, error) {
	var logs []PillLog
	err := s.conn(ctx).
		Where("patient_id = ? AND schedule_id = ? AND schedule_time_id = ? AND dose_date = ?",
			patientID, scheduleID, timeID, doseDate).
		Order("logged_at DESC, id DESC").
		Limit(1).
		Find(&logs).Error
	if err != nil {
		return nil, apperrors.Backend("loading pill log", err)
	}
	if len(logs) == 0 {
		return nil, nil
	}
	return &logs[0], nil
}

// LogsBetween returns a patient's entries with dose dates in [from, to],
// newest first within each occurrence
func (s *Store) LogsBetween(ctx context.Context, patientID, fromDate, toDate string) ([]PillLog, error) {
	var logs []PillLog
	err := s.conn(ctx).
		Where("patient_id = ? AND dose_date >= ? AND dose_date <= ?", patientID, fromDate, toDate).
		Order("dose_date ASC, logged_at DESC, id DESC").
		Find(&logs).Error
	if err != nil {
		return nil, apperrors.Backend("listing pill logs", err)
	}
	return logs, nil
}

// LatestPerOccurrence reduces entries to the newest one per schedule time
// and day. Untimed entries are dropped. logs must be ordered newest first
// within each occurrence, as LogsBetween returns them.
func LatestPerOccurrence(logs []PillLog) map[string]PillLog {
	latest := make(map[string]PillLog)
	for _, l := range logs {
		if l.ScheduleTimeID == nil {
			continue
		}
		key := TakenKeyFor(*l.ScheduleTimeID, l.DoseDate)
		if _, seen := latest[key]; !seen {
			latest[key] = l
		}
	}
	return latest
}

// DueSnoozes lists unprocessed snoozed entries that resolved at or before now
func (s *Store) DueSnoozes(ctx context.Context, patientID string, now time.Time) ([]PillLog, error) {
	q := s.conn(ctx).
		Where("status = ? AND processed = ? AND snooze_until IS NOT NULL AND snooze_until <= ?",
			StatusSnoozed, false, now.UTC())
	if patientID != "" {
		q = q.Where("patient_id = ?", patientID)
	}

	var logs []PillLog
	if err := q.Order("snooze_until ASC, id ASC").Find(&logs).Error; err != nil {
		return nil, apperrors.Backend("listing due snoozes", err)
	}
	return logs, nil
}

// PendingSnoozes returns unprocessed snoozes of patientID that end after now
// and are still the latest entry for their occurrence
func (s *Store) PendingSnoozes(ctx context.Context, patientID string, now time.Time) ([]PillLog, error) {
	var logs []PillLog
	err := s.conn(ctx).
		Where("patient_id = ? AND status = ? AND processed = ? AND snooze_until IS NOT NULL AND snooze_until > ?",
			patientID, StatusSnoozed, false, now.UTC()).
		Where(`NOT EXISTS (SELECT 1 FROM pill_logs l2
			WHERE l2.patient_id = pill_logs.patient_id
			AND l2.schedule_id = pill_logs.schedule_id
			AND l2.dose_date = pill_logs.dose_date
			AND (l2.schedule_time_id = pill_logs.schedule_time_id
				OR (l2.schedule_time_id IS NULL AND pill_logs.schedule_time_id IS NULL))
			AND l2.id > pill_logs.id)`).
		Order("snooze_until ASC, id ASC").
		Find(&logs).Error
	if err != nil {
		return nil, apperrors.Backend("listing pending snoozes", err)
	}
	return logs, nil
}

// MarkProcessed flips processed from false to true. It reports false when
// the entry was already processed.
func (s *Store) MarkProcessed(ctx context.Context, id uint64) (bool, error) {
	res := s.conn(ctx).Model(&PillLog{}).
		Where("id = ? AND processed = ?", id, false).
		UpdateColumn("processed", true)
	if res.Error != nil {
		return false, apperrors.Backend("marking pill log processed", res.Error)
	}
	return res.RowsAffected == 1, nil
}
