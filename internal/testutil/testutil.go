// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gmsas95/pillpal/internal/session"
	"github.com/gmsas95/pillpal/internal/store"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestStore opens a migrated store on in-memory SQLite and badger
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// every connection to :memory: is a separate database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	kv, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)

	s, err := store.NewWithDB(db, kv)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Patient returns a UTC patient with the given id
func Patient(id string) session.Patient {
	return session.Patient{ID: id, Location: time.UTC}
}

// Date builds midnight UTC on the given day
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Clock is a settable time source
type Clock struct {
	T time.Time
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	return c.T
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}

// SeedSchedule creates a medication and a fixed schedule with the given
// dosing times
func SeedSchedule(t *testing.T, s *store.Store, patientID string, start time.Time, days, quantity int, times ...string) *store.Schedule {
	t.Helper()
	ctx := t.Context()

	med := &store.Medication{Name: "Amoxicillin", Strength: "500mg"}
	require.NoError(t, s.CreateMedication(ctx, med))

	sch := &store.Schedule{
		PatientID:         patientID,
		MedicationID:      med.ID,
		StartDate:         start,
		DurationDays:      days,
		Dosage:            "1 tablet",
		InitialQuantity:   quantity,
		RemainingQuantity: quantity,
		RemindersEnabled:  true,
	}
	for _, tm := range times {
		sch.Times = append(sch.Times, store.ScheduleTime{TimeOfDay: tm})
	}
	require.NoError(t, s.CreateSchedule(ctx, sch))

	loaded, err := s.GetSchedule(ctx, patientID, sch.ID)
	require.NoError(t, err)
	return loaded
}
