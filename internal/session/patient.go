// Package session carries the acting patient's identity into every core
// operation.
package session

import (
	"fmt"
	"time"
)

// Patient identifies who an operation acts for and the timezone their
// calendar days are computed in.
type Patient struct {
	ID       string
	Location *time.Location
}

// NewPatient builds a Patient, defaulting to time.Local when loc is nil.
func NewPatient(id string, loc *time.Location) (Patient, error) {
	if id == "" {
		return Patient{}, fmt.Errorf("patient id is required")
	}
	if loc == nil {
		loc = time.Local
	}
	return Patient{ID: id, Location: loc}, nil
}

// Loc never returns nil.
func (p Patient) Loc() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

// Today is the patient's current calendar day at midnight.
func (p Patient) Today(now time.Time) time.Time {
	return StartOfDay(now.In(p.Loc()))
}

// StartOfDay truncates t to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// WithLocation returns a copy of p in another timezone.
func (p Patient) WithLocation(loc *time.Location) Patient {
	p.Location = loc
	return p
}
