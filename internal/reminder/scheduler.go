// Package reminder maps future dose occurrences to notification triggers.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gmsas95/pillpal/internal/dose"
	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/metrics"
	"github.com/gmsas95/pillpal/internal/notify"
	"github.com/gmsas95/pillpal/internal/session"
	"github.com/gmsas95/pillpal/internal/store"
	"go.uber.org/zap"
)

// ScheduleSource enumerates a patient's schedules with their times and
// the snoozes still waiting to resolve
type ScheduleSource interface {
	ListSchedules(ctx context.Context, patientID string) ([]store.Schedule, error)
	PendingSnoozes(ctx context.Context, patientID string, now time.Time) ([]store.PillLog, error)
}

// TriggerSet persists the ids created for a patient
type TriggerSet interface {
	LoadTriggerIDs(patientID string) ([]string, error)
	SaveTriggerIDs(patientID string, ids []string) error
	AddTriggerID(patientID, id string) error
}

// Config holds scheduler settings
type Config struct {
	// HorizonDays caps how far ahead triggers are created; 0 means the
	// whole schedule window
	HorizonDays int
	Now         func() time.Time
}

// Result summarizes one resync
type Result struct {
	Cancelled int      `json:"cancelled"`
	Scheduled int      `json:"scheduled"`
	Failed    int      `json:"failed"`
	Disabled  bool     `json:"disabled"`
	IDs       []string `json:"-"`
}

// Scheduler performs full resyncs and arms snooze reminders
type Scheduler struct {
	schedules ScheduleSource
	triggers  TriggerSet
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu     sync.RWMutex
	config Config

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewScheduler creates a reminder scheduler
func NewScheduler(config Config, schedules ScheduleSource, triggers TriggerSet, notifier notify.Notifier, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Scheduler{
		schedules: schedules,
		triggers:  triggers,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		config:    config,
		locks:     make(map[string]*sync.Mutex),
	}
}

// SetHorizon changes the horizon for later resyncs
func (s *Scheduler) SetHorizon(days int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.HorizonDays = days
}

func (s *Scheduler) settings() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *Scheduler) patientLock(patientID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[patientID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[patientID] = l
	}
	return l
}

// Eligible reports whether a schedule should carry reminders on day today
func Eligible(sch *store.Schedule, today time.Time) bool {
	if !sch.RemindersEnabled || sch.RemainingQuantity <= 0 || sch.AsNeeded || len(sch.Times) == 0 {
		return false
	}
	return !dose.Day(sch.StartDate).After(dose.Day(today))
}

// LeadTime resolves the offset for one time: the per-time override when
// set, otherwise the schedule lead time
func LeadTime(sch *store.Schedule, st store.ScheduleTime) time.Duration {
	minutes := sch.ReminderLeadMinutes
	if st.ReminderOffsetMinutes != nil {
		minutes = *st.ReminderOffsetMinutes
	}
	if minutes < 0 {
		minutes = 0
	}
	return time.Duration(minutes) * time.Minute
}

type plannedTrigger struct {
	notification notify.Notification
	fireAt       time.Time
}

// Resync cancels every trigger previously created for the patient and
// creates one trigger per future occurrence of each eligible schedule,
// plus one per pending snooze. Resyncs and snoozes of one patient never
// interleave.
func (s *Scheduler) Resync(ctx context.Context, patient session.Patient) (*Result, error) {
	lock := s.patientLock(patient.ID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	cfg := s.settings()
	now := cfg.Now()

	// Enumerate everything before touching existing triggers
	schedules, err := s.schedules.ListSchedules(ctx, patient.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate schedules: %w", err)
	}
	snoozes, err := s.schedules.PendingSnoozes(ctx, patient.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate snoozes: %w", err)
	}
	previous, err := s.triggers.LoadTriggerIDs(patient.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trigger ids: %w", err)
	}
	planned := s.plan(schedules, snoozes, patient, now, cfg.HorizonDays)

	result := &Result{}
	// Ids that fail to cancel stay persisted so a later resync retries them
	var kept []string
	for _, id := range previous {
		if err := s.notifier.Cancel(ctx, id); err != nil {
			s.logger.Warn("Failed to cancel trigger",
				zap.String("patient_id", patient.ID),
				zap.String("trigger_id", id),
				zap.Error(err),
			)
			kept = append(kept, id)
			continue
		}
		result.Cancelled++
	}

	ids := make([]string, 0, len(planned))
	for _, p := range planned {
		id, err := s.notifier.Schedule(ctx, p.notification, notify.At(p.fireAt))
		if errors.Is(err, apperrors.ErrPermissionDenied) {
			result.Disabled = true
			break
		}
		if err != nil {
			result.Failed++
			s.logger.Warn("Failed to schedule trigger",
				zap.String("patient_id", patient.ID),
				zap.String("schedule_id", p.notification.Payload.ScheduleID),
				zap.Time("fire_at", p.fireAt),
				zap.Error(err),
			)
			continue
		}
		ids = append(ids, id)
	}
	result.Scheduled = len(ids)
	result.IDs = ids

	if err := s.triggers.SaveTriggerIDs(patient.ID, append(kept, ids...)); err != nil {
		return nil, fmt.Errorf("failed to persist trigger ids: %w", err)
	}

	if result.Disabled {
		s.metrics.RecordResyncDisabled()
		s.logger.Info("Local reminders disabled", zap.String("patient_id", patient.ID))
	}
	s.metrics.RecordResync(result.Scheduled, result.Failed, time.Since(start))
	s.logger.Info("Reminders resynced",
		zap.String("patient_id", patient.ID),
		zap.Int("cancelled", result.Cancelled),
		zap.Int("scheduled", result.Scheduled),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// plan lists the triggers for every eligible schedule whose fire time is
// still ahead of now. Untimed slots get no trigger.
func (s *Scheduler) plan(schedules []store.Schedule, snoozes []store.PillLog, patient session.Patient, now time.Time, horizonDays int) []plannedTrigger {
	loc := patient.Loc()
	today := patient.Today(now)

	var out []plannedTrigger
	eligible := make(map[string]*store.Schedule, len(schedules))
	for i := range schedules {
		sch := &schedules[i]
		if !Eligible(sch, today) {
			continue
		}
		eligible[sch.ID] = sch
		_, last, ok := dose.Window(sch)
		if !ok {
			continue
		}
		to := last
		if horizonDays > 0 {
			if h := dose.Day(today).AddDate(0, 0, horizonDays); h.Before(to) {
				to = h
			}
		}

		times := make(map[string]store.ScheduleTime, len(sch.Times))
		for _, st := range sch.Times {
			times[st.ID] = st
		}

		for occ := range dose.Generate(sch, sch.Times, today, to) {
			if occ.Time == nil {
				continue
			}
			fireAt := occ.At(loc).Add(-LeadTime(sch, times[occ.TimeID]))
			if !fireAt.After(now) {
				continue
			}
			out = append(out, plannedTrigger{
				notification: DoseNotification(sch, occ),
				fireAt:       fireAt,
			})
		}
	}

	for i := range snoozes {
		entry := &snoozes[i]
		sch, ok := eligible[entry.ScheduleID]
		if !ok || entry.SnoozeUntil == nil || !entry.SnoozeUntil.After(now) {
			continue
		}
		out = append(out, plannedTrigger{
			notification: snoozeNotification(patient.ID, entry, snoozeTitle(sch)),
			fireAt:       *entry.SnoozeUntil,
		})
	}
	return out
}

// DoseNotification builds the reminder content for an occurrence
func DoseNotification(sch *store.Schedule, occ dose.Occurrence) notify.Notification {
	name := "your medication"
	if sch.Medication != nil && sch.Medication.Name != "" {
		name = sch.Medication.Name
		if sch.Medication.Strength != "" {
			name += " " + sch.Medication.Strength
		}
	}
	body := sch.Dosage
	if occ.Time != nil {
		if body != "" {
			body += " at "
		}
		body += occ.Time.String()
	}
	return notify.Notification{
		Title: "Time to take " + name,
		Body:  body,
		Payload: notify.Payload{
			PatientID:  sch.PatientID,
			ScheduleID: sch.ID,
			TimeID:     occ.TimeID,
			DoseDate:   occ.DateKey(),
			Kind:       "dose",
		},
	}
}

// snoozeTitle names the medication in a snooze reminder
func snoozeTitle(sch *store.Schedule) string {
	if sch != nil && sch.Medication != nil && sch.Medication.Name != "" {
		return "Snoozed: " + sch.Medication.Name
	}
	return ""
}

func snoozeNotification(patientID string, entry *store.PillLog, title string) notify.Notification {
	payload := notify.Payload{
		PatientID:  patientID,
		ScheduleID: entry.ScheduleID,
		DoseDate:   entry.DoseDate,
		Kind:       "snooze",
	}
	if entry.ScheduleTimeID != nil {
		payload.TimeID = *entry.ScheduleTimeID
	}
	if title == "" {
		title = "Snoozed dose"
	}
	return notify.Notification{
		Title:   title,
		Body:    "Your snooze is over, time to take your dose.",
		Payload: payload,
	}
}

// ArmSnooze schedules a one-shot reminder at the snooze resolution time and
// records its id so the next resync cancels it
func (s *Scheduler) ArmSnooze(ctx context.Context, patient session.Patient, entry *store.PillLog, title string) (string, error) {
	if entry.SnoozeUntil == nil {
		return "", apperrors.BadRequest("entry is not snoozed")
	}

	lock := s.patientLock(patient.ID)
	lock.Lock()
	defer lock.Unlock()

	id, err := s.notifier.Schedule(ctx, snoozeNotification(patient.ID, entry, title), notify.At(*entry.SnoozeUntil))
	if err != nil {
		return "", err
	}
	if err := s.triggers.AddTriggerID(patient.ID, id); err != nil {
		return "", err
	}

	s.metrics.RecordReminderScheduled()
	s.logger.Debug("Snooze reminder armed",
		zap.String("patient_id", patient.ID),
		zap.String("trigger_id", id),
		zap.Time("fire_at", *entry.SnoozeUntil),
	)
	return id, nil
}
