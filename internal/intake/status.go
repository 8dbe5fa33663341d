package intake

import (
	"encoding/json"
	"time"

	"github.com/gmsas95/pillpal/internal/store"
)

// Status is the outcome recorded for a dose occurrence: None, Taken,
// Skipped or Snoozed
type Status interface {
	Name() string
	// Terminal statuses accept no further transitions
	Terminal() bool
}

type None struct{}

type Taken struct{}

type Skipped struct{}

// Snoozed resets to None once ResolvedAt has passed
type Snoozed struct {
	ResolvedAt time.Time
}

func (None) Name() string    { return store.StatusNone }
func (Taken) Name() string   { return store.StatusTaken }
func (Skipped) Name() string { return store.StatusSkipped }
func (Snoozed) Name() string { return store.StatusSnoozed }

func (None) Terminal() bool    { return false }
func (Taken) Terminal() bool   { return true }
func (Skipped) Terminal() bool { return true }
func (Snoozed) Terminal() bool { return false }

// StatusOf decodes a persisted entry; nil means no entry yet
func StatusOf(l *store.PillLog) Status {
	if l == nil {
		return None{}
	}
	switch l.Status {
	case store.StatusTaken:
		return Taken{}
	case store.StatusSkipped:
		return Skipped{}
	case store.StatusSnoozed:
		if l.SnoozeUntil != nil {
			return Snoozed{ResolvedAt: *l.SnoozeUntil}
		}
		return Snoozed{}
	}
	return None{}
}

// Entry is the API view of one intake log row
type Entry struct {
	ID         uint64    `json:"id"`
	ScheduleID string    `json:"schedule_id"`
	TimeID     string    `json:"schedule_time_id,omitempty"`
	DoseDate   string    `json:"dose_date"`
	LoggedAt   time.Time `json:"logged_at"`
	Status     Status    `json:"-"`
	Note       string    `json:"note,omitempty"`
	Processed  bool      `json:"processed"`
}

// EntryFrom converts a persisted row
func EntryFrom(l *store.PillLog) Entry {
	e := Entry{
		ID:         l.ID,
		ScheduleID: l.ScheduleID,
		DoseDate:   l.DoseDate,
		LoggedAt:   l.LoggedAt,
		Status:     StatusOf(l),
		Note:       l.Note,
		Processed:  l.Processed,
	}
	if l.ScheduleTimeID != nil {
		e.TimeID = *l.ScheduleTimeID
	}
	return e
}

// MarshalJSON flattens the status variant into status and resolved_at
func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	out := struct {
		plain
		Status     string     `json:"status"`
		ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	}{plain: plain(e), Status: None{}.Name()}

	if e.Status != nil {
		out.Status = e.Status.Name()
	}
	if s, ok := e.Status.(Snoozed); ok {
		out.ResolvedAt = &s.ResolvedAt
	}
	return json.Marshal(out)
}
