// Package ical renders a patient's upcoming doses as an iCalendar feed
package ical

import (
	"context"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/gmsas95/pillpal/internal/dose"
	"github.com/gmsas95/pillpal/internal/reminder"
	"github.com/gmsas95/pillpal/internal/session"
	"github.com/gmsas95/pillpal/internal/store"
)

const (
	DefaultDays = 14
	MaxDays     = 60

	eventLength = 15 * time.Minute
)

// ScheduleSource lists a patient's schedules with times and medication
type ScheduleSource interface {
	ListSchedules(ctx context.Context, patientID string) ([]store.Schedule, error)
}

// Feed builds calendars
type Feed struct {
	schedules ScheduleSource
	now       func() time.Time
}

// NewFeed creates a feed. now defaults to time.Now.
func NewFeed(schedules ScheduleSource, now func() time.Time) *Feed {
	if now == nil {
		now = time.Now
	}
	return &Feed{schedules: schedules, now: now}
}

// Build returns a calendar with one event per timed occurrence from today
// through the next days days. Schedules with reminders enabled carry a
// display alarm at their lead time.
func (f *Feed) Build(ctx context.Context, patient session.Patient, days int) (*ics.Calendar, error) {
	if days <= 0 {
		days = DefaultDays
	}
	if days > MaxDays {
		days = MaxDays
	}

	schedules, err := f.schedules.ListSchedules(ctx, patient.ID)
	if err != nil {
		return nil, err
	}

	now := f.now()
	loc := patient.Loc()
	from := patient.Today(now)
	to := from.AddDate(0, 0, days-1)

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//pillpal//medication reminders//EN")
	cal.SetXWRCalName("Medications")
	cal.SetXWRTimezone(loc.String())

	for i := range schedules {
		sch := &schedules[i]
		if sch.AsNeeded || len(sch.Times) == 0 {
			continue
		}
		times := make(map[string]store.ScheduleTime, len(sch.Times))
		for _, st := range sch.Times {
			times[st.ID] = st
		}

		for occ := range dose.Generate(sch, sch.Times, from, to) {
			if occ.Time == nil {
				continue
			}
			n := reminder.DoseNotification(sch, occ)
			start := occ.At(loc)

			event := cal.AddEvent(fmt.Sprintf("%s-%s-%s@pillpal", sch.ID, occ.TimeID, occ.DateKey()))
			event.SetDtStampTime(now)
			event.SetCreatedTime(sch.CreatedAt)
			event.SetStartAt(start)
			event.SetEndAt(start.Add(eventLength))
			event.SetSummary(n.Title)
			if n.Body != "" {
				event.SetDescription(n.Body)
			}

			if sch.RemindersEnabled {
				alarm := event.AddAlarm()
				alarm.SetAction(ics.ActionDisplay)
				alarm.SetTrigger(triggerDuration(reminder.LeadTime(sch, times[occ.TimeID])))
				alarm.SetProperty(ics.ComponentPropertyDescription, n.Title)
			}
		}
	}

	return cal, nil
}

// triggerDuration formats a lead time as an RFC 5545 negative duration
func triggerDuration(lead time.Duration) string {
	minutes := int(lead / time.Minute)
	if minutes <= 0 {
		return "PT0M"
	}
	if minutes%60 == 0 {
		return fmt.Sprintf("-PT%dH", minutes/60)
	}
	return fmt.Sprintf("-PT%dM", minutes)
}
