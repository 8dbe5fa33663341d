package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	kv, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)

	s, err := NewWithDB(db, kv)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSchedule(t *testing.T, s *Store, times ...string) *Schedule {
	ctx := context.Background()
	med := &Medication{Name: "Lisinopril", Strength: "10mg", Barcode: "0123456789"}
	require.NoError(t, s.CreateMedication(ctx, med))

	sch := &Schedule{
		PatientID:        "patient_1",
		MedicationID:     med.ID,
		StartDate:        time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC),
		DurationDays:     2,
		InitialQuantity:  10,
		RemindersEnabled: true,
	}
	for _, tm := range times {
		sch.Times = append(sch.Times, ScheduleTime{TimeOfDay: tm})
	}
	require.NoError(t, s.CreateSchedule(ctx, sch))
	return sch
}

// Medication Tests

func TestStore_MedicationCatalog(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	med := &Medication{Name: "Metformin", Strength: "500mg", Barcode: "999", Source: SourceCatalog}
	require.NoError(t, s.CreateMedication(ctx, med))
	assert.Contains(t, med.ID, "med_")

	found, err := s.FindMedicationByBarcode(ctx, "999")
	require.NoError(t, err)
	assert.Equal(t, "Metformin", found.Name)

	_, err = s.FindMedicationByBarcode(ctx, "000")
	assert.ErrorIs(t, err, ErrMedicationNotFound)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	results, err := s.SearchMedications(ctx, "met", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestStore_CreateMedicationManualDefault(t *testing.T) {
	s := setupTestStore(t)

	med := &Medication{Name: "  Ibuprofen "}
	require.NoError(t, s.CreateMedication(context.Background(), med))
	assert.Equal(t, "Ibuprofen", med.Name)
	assert.Equal(t, SourceManual, med.Source)

	err := s.CreateMedication(context.Background(), &Medication{Name: " "})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

// Schedule Tests

func TestStore_CreateSchedule(t *testing.T) {
	s := setupTestStore(t)
	sch := seedSchedule(t, s, "21:00", "09:00")

	loaded, err := s.GetSchedule(context.Background(), "patient_1", sch.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.RemainingQuantity)
	assert.False(t, loaded.AsNeeded)
	require.Len(t, loaded.Times, 2)
	assert.Equal(t, "09:00", loaded.Times[0].TimeOfDay)
	require.NotNil(t, loaded.Medication)
	assert.Equal(t, "Lisinopril", loaded.Medication.Name)

	_, err = s.GetSchedule(context.Background(), "someone_else", sch.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_CreateScheduleValidation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		sch  Schedule
	}{
		{"missing patient", Schedule{MedicationID: "m", StartDate: time.Now()}},
		{"negative duration", Schedule{PatientID: "p", MedicationID: "m", StartDate: time.Now(), DurationDays: -1}},
		{"negative quantity", Schedule{PatientID: "p", MedicationID: "m", StartDate: time.Now(), RemainingQuantity: -3}},
		{"too many times", Schedule{PatientID: "p", MedicationID: "m", StartDate: time.Now(),
			Times: []ScheduleTime{{TimeOfDay: "08:00"}, {TimeOfDay: "12:00"}, {TimeOfDay: "16:00"}, {TimeOfDay: "20:00"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CreateSchedule(ctx, &tt.sch)
			assert.ErrorIs(t, err, apperrors.ErrBadRequest)
		})
	}
}

func TestStore_ScheduleWithoutTimesIsAsNeeded(t *testing.T) {
	s := setupTestStore(t)
	sch := seedSchedule(t, s)
	assert.True(t, sch.AsNeeded)
}

func TestStore_DeleteLastTimeFlipsAsNeeded(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sch := seedSchedule(t, s, "09:00")

	updated, err := s.DeleteScheduleTime(ctx, "patient_1", sch.ID, sch.Times[0].ID)
	require.NoError(t, err)
	assert.True(t, updated.AsNeeded)
	assert.Empty(t, updated.Times)

	updated, err = s.AddScheduleTime(ctx, "patient_1", sch.ID, &ScheduleTime{TimeOfDay: "10:00"})
	require.NoError(t, err)
	assert.False(t, updated.AsNeeded)
	assert.Len(t, updated.Times, 1)
}

func TestStore_AddScheduleTimeLimit(t *testing.T) {
	s := setupTestStore(t)
	sch := seedSchedule(t, s, "08:00", "14:00", "20:00")

	_, err := s.AddScheduleTime(context.Background(), "patient_1", sch.ID, &ScheduleTime{TimeOfDay: "23:00"})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestStore_UpdateAndDeleteSchedule(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sch := seedSchedule(t, s, "09:00")

	off := false
	lead := 15
	updated, err := s.UpdateSchedule(ctx, "patient_1", sch.ID, ScheduleUpdate{
		RemindersEnabled:    &off,
		ReminderLeadMinutes: &lead,
	})
	require.NoError(t, err)
	assert.False(t, updated.RemindersEnabled)
	assert.Equal(t, 15, updated.ReminderLeadMinutes)

	require.NoError(t, s.DeleteSchedule(ctx, "patient_1", sch.ID))
	_, err = s.GetSchedule(ctx, "patient_1", sch.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	var count int64
	s.DB().Model(&ScheduleTime{}).Where("schedule_id = ?", sch.ID).Count(&count)
	assert.Zero(t, count)

	assert.ErrorIs(t, s.DeleteSchedule(ctx, "patient_1", sch.ID), apperrors.ErrNotFound)
}

func TestStore_ListPatientIDs(t *testing.T) {
	s := setupTestStore(t)
	seedSchedule(t, s, "09:00")
	seedSchedule(t, s, "10:00")

	ids, err := s.ListPatientIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"patient_1"}, ids)
}

// Inventory Tests

func TestStore_RefillAndDecrement(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sch := seedSchedule(t, s, "09:00")

	remaining, err := s.Refill(ctx, "patient_1", sch.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 15, remaining)

	_, err = s.Refill(ctx, "patient_1", sch.ID, 0)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	remaining, ok, err := s.DecrementRemaining(ctx, sch.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 14, remaining)
}

func TestStore_DecrementNeverBelowZero(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sch := seedSchedule(t, s, "09:00")
	require.NoError(t, s.DB().Model(&Schedule{}).Where("id = ?", sch.ID).Update("remaining_quantity", 1).Error)

	var wg sync.WaitGroup
	var mu sync.Mutex
	decrements := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.DecrementRemaining(ctx, sch.ID)
			if err == nil && ok {
				mu.Lock()
				decrements++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, decrements)
	remaining, _, err := s.DecrementRemaining(ctx, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

// Pill Log Tests

func TestStore_InsertTakenOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sch := seedSchedule(t, s, "09:00")
	timeID := sch.Times[0].ID
	key := TakenKeyFor(timeID, "2025-04-15")

	first := &PillLog{PatientID: "patient_1", ScheduleID: sch.ID, ScheduleTimeID: &timeID, DoseDate: "2025-04-15", TakenKey: &key}
	inserted, err := s.InsertTaken(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	second := &PillLog{PatientID: "patient_1", ScheduleID: sch.ID, ScheduleTimeID: &timeID, DoseDate: "2025-04-15", TakenKey: &key}
	inserted, err = s.InsertTaken(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestStore_LatestForOccurrence(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sch := seedSchedule(t, s, "09:00")
	timeID := sch.Times[0].ID
	at := time.Date(2025, 4, 15, 9, 0, 0, 0, time.UTC)

	latest, err := s.LatestForOccurrence(ctx, "patient_1", sch.ID, timeID, "2025-04-15")
	require.NoError(t, err)
	assert.Nil(t, latest)

	// same timestamp: insertion order breaks the tie
	for _, status := range []string{StatusSnoozed, StatusNone} {
		require.NoError(t, s.AppendLog(ctx, &PillLog{
			PatientID: "patient_1", ScheduleID: sch.ID, ScheduleTimeID: &timeID,
			DoseDate: "2025-04-15", LoggedAt: at, Status: status,
		}))
	}

	latest, err = s.LatestForOccurrence(ctx, "patient_1", sch.ID, timeID, "2025-04-15")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, StatusNone, latest.Status)
}

func TestStore_DueSnoozesAndMarkProcessed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sch := seedSchedule(t, s, "09:00")
	timeID := sch.Times[0].ID
	now := time.Date(2025, 4, 15, 9, 30, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	later := now.Add(time.Hour)

	require.NoError(t, s.AppendLog(ctx, &PillLog{PatientID: "patient_1", ScheduleID: sch.ID, ScheduleTimeID: &timeID,
		DoseDate: "2025-04-15", Status: StatusSnoozed, SnoozeUntil: &due}))
	require.NoError(t, s.AppendLog(ctx, &PillLog{PatientID: "patient_1", ScheduleID: sch.ID, ScheduleTimeID: &timeID,
		DoseDate: "2025-04-15", Status: StatusSnoozed, SnoozeUntil: &later}))

	logs, err := s.DueSnoozes(ctx, "patient_1", now)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	ok, err := s.MarkProcessed(ctx, logs[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkProcessed(ctx, logs[0].ID)
	require.NoError(t, err)
	assert.False(t, ok)

	logs, err = s.DueSnoozes(ctx, "", now)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestStore_PendingSnoozes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sch := seedSchedule(t, s, "09:00")
	timeID := sch.Times[0].ID
	now := time.Date(2025, 4, 15, 9, 30, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	later := now.Add(time.Hour)

	require.NoError(t, s.AppendLog(ctx, &PillLog{PatientID: "patient_1", ScheduleID: sch.ID, ScheduleTimeID: &timeID,
		DoseDate: "2025-04-14", Status: StatusSnoozed, SnoozeUntil: &due}))
	pending := &PillLog{PatientID: "patient_1", ScheduleID: sch.ID, ScheduleTimeID: &timeID,
		DoseDate: "2025-04-15", Status: StatusSnoozed, SnoozeUntil: &later}
	require.NoError(t, s.AppendLog(ctx, pending))

	logs, err := s.PendingSnoozes(ctx, "patient_1", now)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, pending.ID, logs[0].ID)

	other, err := s.PendingSnoozes(ctx, "patient_2", now)
	require.NoError(t, err)
	assert.Empty(t, other)

	// a later entry for the same occurrence supersedes the snooze
	require.NoError(t, s.AppendLog(ctx, &PillLog{PatientID: "patient_1", ScheduleID: sch.ID, ScheduleTimeID: &timeID,
		DoseDate: "2025-04-15", Status: StatusTaken}))
	logs, err = s.PendingSnoozes(ctx, "patient_1", now)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestStore_PatientTimezones(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePatientTimezone(ctx, "patient_1", "Asia/Tokyo"))
	require.NoError(t, s.SavePatientTimezone(ctx, "patient_2", "America/New_York"))
	require.NoError(t, s.SavePatientTimezone(ctx, "patient_1", "Europe/Berlin"))

	zones, err := s.PatientTimezones(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"patient_1": "Europe/Berlin",
		"patient_2": "America/New_York",
	}, zones)
}

func TestLatestPerOccurrence(t *testing.T) {
	a, b := "tm_a", "tm_b"
	logs := []PillLog{
		{ID: 3, ScheduleTimeID: &a, DoseDate: "2025-04-15", Status: StatusTaken},
		{ID: 1, ScheduleTimeID: &a, DoseDate: "2025-04-15", Status: StatusSnoozed},
		{ID: 2, ScheduleTimeID: &b, DoseDate: "2025-04-15", Status: StatusSkipped},
		{ID: 4, DoseDate: "2025-04-15", Status: StatusTaken},
	}

	latest := LatestPerOccurrence(logs)
	assert.Len(t, latest, 2)
	assert.Equal(t, StatusTaken, latest[TakenKeyFor(a, "2025-04-15")].Status)
	assert.Equal(t, StatusSkipped, latest[TakenKeyFor(b, "2025-04-15")].Status)
}

// Interaction Cache Tests

func TestStore_InteractionCache(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	row, err := s.GetMedicationInteraction(ctx, "aspirin|warfarin")
	require.NoError(t, err)
	assert.Nil(t, row)

	require.NoError(t, s.SaveMedicationInteraction(ctx, &MedicationInteraction{
		PairKey: "aspirin|warfarin", MedicationA: "aspirin", MedicationB: "warfarin",
		Result: []byte(`{"interactions":[]}`),
	}))
	require.NoError(t, s.SaveMedicationInteraction(ctx, &MedicationInteraction{
		PairKey: "aspirin|warfarin", MedicationA: "aspirin", MedicationB: "warfarin",
		Result: []byte(`{"interactions":[{"severity":"major"}]}`),
	}))

	row, err = s.GetMedicationInteraction(ctx, "aspirin|warfarin")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.JSONEq(t, `{"interactions":[{"severity":"major"}]}`, string(row.Result))

	require.NoError(t, s.SaveFoodInteraction(ctx, &FoodInteraction{
		PairKey: "grapefruit|simvastatin", Medication: "simvastatin", Food: "grapefruit",
		Result: []byte(`{"interactions":[]}`),
	}))
	food, err := s.GetFoodInteraction(ctx, "grapefruit|simvastatin")
	require.NoError(t, err)
	require.NotNil(t, food)
	assert.Equal(t, "grapefruit", food.Food)
}

// Push Token Tests

func TestStore_PushTokens(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterPushToken(ctx, &PushToken{PatientID: "patient_1", Channel: "Telegram", Token: "42"}))
	require.NoError(t, s.RegisterPushToken(ctx, &PushToken{PatientID: "patient_1", Channel: "telegram", Token: "42"}))
	assert.ErrorIs(t, s.RegisterPushToken(ctx, &PushToken{PatientID: "patient_1", Channel: "sms", Token: "1"}), apperrors.ErrBadRequest)

	tokens, err := s.ListPushTokens(ctx, "patient_1")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, ChannelTelegram, tokens[0].Channel)

	require.NoError(t, s.DeletePushToken(ctx, "patient_1", tokens[0].ID))
	assert.ErrorIs(t, s.DeletePushToken(ctx, "patient_1", tokens[0].ID), apperrors.ErrNotFound)
}

// Trigger Set Tests

func TestStore_TriggerIDs(t *testing.T) {
	s := setupTestStore(t)

	ids, err := s.LoadTriggerIDs("patient_1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.SaveTriggerIDs("patient_1", []string{"a", "b"}))
	require.NoError(t, s.AddTriggerID("patient_1", "c"))
	require.NoError(t, s.AddTriggerID("patient_1", "c"))

	ids, err = s.LoadTriggerIDs("patient_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	require.NoError(t, s.SaveTriggerIDs("patient_1", nil))
	ids, err = s.LoadTriggerIDs("patient_1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_PendingTriggers(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.PutPending("t2", []byte("two")))
	require.NoError(t, s.PutPending("t1", []byte("one")))

	ids, err := s.PendingIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, ids)

	require.NoError(t, s.DeletePending("t1"))
	pending, err := s.ListPending()
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"t2": []byte("two")}, pending)
}
