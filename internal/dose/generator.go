// Package dose expands schedules into concrete dose occurrences.
package dose

import (
	"iter"
	"sort"
	"time"

	"github.com/gmsas95/pillpal/internal/store"
)

// DateLayout is the calendar-day format used in pill_logs.dose_date
const DateLayout = "2006-01-02"

// Occurrence is one planned intake of one schedule time on one day. Date is
// midnight UTC of the calendar day; Time is nil for untimed slots.
type Occurrence struct {
	ScheduleID string
	TimeID     string
	Date       time.Time
	Time       *TimeOfDay
}

// DateKey returns the day as YYYY-MM-DD
func (o Occurrence) DateKey() string {
	return o.Date.Format(DateLayout)
}

// At is the wall-clock instant of the occurrence in loc. Untimed slots sit
// at 23:59 so they never precede a timed slot of the same day.
func (o Occurrence) At(loc *time.Location) time.Time {
	if o.Time == nil {
		return time.Date(o.Date.Year(), o.Date.Month(), o.Date.Day(), 23, 59, 0, 0, loc)
	}
	return o.Time.On(o.Date, loc)
}

// Day truncates t to its calendar day, expressed as midnight UTC
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses YYYY-MM-DD into a calendar day
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// Window returns the first and last active day of a schedule. A duration of
// D days covers D calendar days starting at the start date; ok is false for
// an empty window.
func Window(sch *store.Schedule) (first, last time.Time, ok bool) {
	if sch.DurationDays <= 0 {
		return time.Time{}, time.Time{}, false
	}
	first = Day(sch.StartDate)
	return first, first.AddDate(0, 0, sch.DurationDays-1), true
}

// ActiveOn reports whether day falls inside the schedule window
func ActiveOn(sch *store.Schedule, day time.Time) bool {
	first, last, ok := Window(sch)
	if !ok {
		return false
	}
	day = Day(day)
	return !day.Before(first) && !day.After(last)
}

// PlannedOn counts the fixed occurrences of a schedule on day
func PlannedOn(sch *store.Schedule, times []store.ScheduleTime, day time.Time) int {
	if sch.AsNeeded || !ActiveOn(sch, day) {
		return 0
	}
	return len(times)
}

type slot struct {
	id string
	at *TimeOfDay
}

// sortedSlots orders times ascending with untimed or unparsable entries
// last, ties broken by id
func sortedSlots(times []store.ScheduleTime) []slot {
	slots := make([]slot, 0, len(times))
	for _, st := range times {
		s := slot{id: st.ID}
		if t, err := ParseTimeOfDay(st.TimeOfDay); err == nil && st.TimeOfDay != "" {
			s.at = &t
		}
		slots = append(slots, s)
	}
	sort.SliceStable(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		switch {
		case a.at != nil && b.at != nil && *a.at != *b.at:
			return *a.at < *b.at
		case (a.at == nil) != (b.at == nil):
			return a.at != nil
		}
		return a.id < b.id
	})
	return slots
}

// Generate lazily yields the occurrences of sch on every day in [from, to]
// that also lies inside the schedule window, day by day. As-needed
// schedules and schedules without times yield nothing.
func Generate(sch *store.Schedule, times []store.ScheduleTime, from, to time.Time) iter.Seq[Occurrence] {
	return func(yield func(Occurrence) bool) {
		if sch.AsNeeded || len(times) == 0 {
			return
		}
		first, last, ok := Window(sch)
		if !ok {
			return
		}
		if f := Day(from); f.After(first) {
			first = f
		}
		if t := Day(to); t.Before(last) {
			last = t
		}

		slots := sortedSlots(times)
		for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
			for _, s := range slots {
				if !yield(Occurrence{ScheduleID: sch.ID, TimeID: s.id, Date: day, Time: s.at}) {
					return
				}
			}
		}
	}
}

// All yields every occurrence in the schedule window
func All(sch *store.Schedule) iter.Seq[Occurrence] {
	first, last, ok := Window(sch)
	if !ok {
		return func(func(Occurrence) bool) {}
	}
	return Generate(sch, sch.Times, first, last)
}
