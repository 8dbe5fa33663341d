// Package notify arms timed reminder triggers and delivers them to the
// patient's registered channels when they fire.
package notify

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerKind selects how a trigger computes its fire time
type TriggerKind string

const (
	KindDelay    TriggerKind = "delay"
	KindDate     TriggerKind = "date"
	KindCalendar TriggerKind = "calendar"
)

// Trigger is a relative delay, an absolute date or a calendar-field
// pattern in standard five-field cron syntax
type Trigger struct {
	Kind    TriggerKind   `json:"kind"`
	Delay   time.Duration `json:"delay,omitempty"`
	Date    time.Time     `json:"date,omitempty"`
	Pattern string        `json:"pattern,omitempty"`
}

// After fires once, d after scheduling
func After(d time.Duration) Trigger {
	return Trigger{Kind: KindDelay, Delay: d}
}

// At fires once at t
func At(t time.Time) Trigger {
	return Trigger{Kind: KindDate, Date: t}
}

// Calendar fires at every time matching pattern, e.g. "0 9 * * *"
func Calendar(pattern string) Trigger {
	return Trigger{Kind: KindCalendar, Pattern: pattern}
}

// Repeats reports whether the trigger re-arms after firing
func (t Trigger) Repeats() bool {
	return t.Kind == KindCalendar
}

// Validate checks the trigger can produce a fire time
func (t Trigger) Validate() error {
	switch t.Kind {
	case KindDelay:
		if t.Delay < 0 {
			return fmt.Errorf("negative delay %s", t.Delay)
		}
	case KindDate:
		if t.Date.IsZero() {
			return fmt.Errorf("date trigger without a date")
		}
	case KindCalendar:
		if _, err := cron.ParseStandard(t.Pattern); err != nil {
			return fmt.Errorf("invalid calendar pattern %q: %w", t.Pattern, err)
		}
	default:
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
	return nil
}

// Next returns the first fire time strictly after now for calendar
// triggers, or the single fire time otherwise
func (t Trigger) Next(now time.Time) (time.Time, error) {
	switch t.Kind {
	case KindDelay:
		return now.Add(t.Delay), nil
	case KindDate:
		return t.Date, nil
	case KindCalendar:
		sched, err := cron.ParseStandard(t.Pattern)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid calendar pattern %q: %w", t.Pattern, err)
		}
		return sched.Next(now), nil
	}
	return time.Time{}, fmt.Errorf("unknown trigger kind %q", t.Kind)
}
