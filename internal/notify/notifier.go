package notify

import (
	"context"
	"time"
)

// Payload identifies what a reminder is about
type Payload struct {
	PatientID  string `json:"patient_id"`
	ScheduleID string `json:"schedule_id,omitempty"`
	TimeID     string `json:"time_id,omitempty"`
	DoseDate   string `json:"dose_date,omitempty"`
	Kind       string `json:"kind"` // dose, snooze
}

// Notification is the content shown to the patient
type Notification struct {
	Title   string  `json:"title"`
	Body    string  `json:"body"`
	Payload Payload `json:"payload"`
}

// Pending is an armed trigger
type Pending struct {
	ID           string       `json:"id"`
	Notification Notification `json:"notification"`
	Trigger      Trigger      `json:"trigger"`
	FireAt       time.Time    `json:"fire_at"`
}

// Notifier schedules device-level timed triggers
type Notifier interface {
	// Schedule arms a trigger and returns its opaque id
	Schedule(ctx context.Context, n Notification, t Trigger) (string, error)
	Cancel(ctx context.Context, id string) error
	CancelAll(ctx context.Context) error
	List(ctx context.Context) ([]Pending, error)
}

// Dispatcher delivers fired triggers
type Dispatcher interface {
	Deliver(ctx context.Context, p Pending) error
	// Available reports whether any delivery channel can be used
	Available() bool
}
