package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OngoingDays is the duration sentinel for schedules with no end date.
const OngoingDays = 36500

// MaxScheduleTimes caps dosing times per fixed schedule.
const MaxScheduleTimes = 3

// Intake statuses as persisted in pill_logs.status
const (
	StatusNone    = "none"
	StatusTaken   = "taken"
	StatusSkipped = "skipped"
	StatusSnoozed = "snoozed"
)

// Medication sources
const (
	SourceCatalog = "catalog"
	SourceManual  = "manual"
)

// Medication is immutable reference data from the catalog or manual entry
type Medication struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"index;not null"`
	Strength  string    `json:"strength,omitempty"`
	PillCount int       `json:"pill_count,omitempty"`
	Barcode   string    `json:"barcode,omitempty" gorm:"index"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

func (Medication) TableName() string {
	return "medication"
}

// Schedule is a patient's planned course of a medication
type Schedule struct {
	ID           string      `json:"id" gorm:"primaryKey"`
	PatientID    string      `json:"patient_id" gorm:"index;not null"`
	MedicationID string      `json:"medication_id" gorm:"index;not null"`
	Medication   *Medication `json:"medication,omitempty" gorm:"foreignKey:MedicationID"`

	StartDate    time.Time `json:"start_date"`
	DurationDays int       `json:"duration_days" gorm:"check:duration_days >= 0"`
	Dosage       string    `json:"dosage"`

	InitialQuantity   int `json:"initial_quantity"`
	RemainingQuantity int `json:"remaining_quantity" gorm:"check:remaining_quantity >= 0"`

	RemindersEnabled    bool `json:"reminders_enabled"`
	ReminderLeadMinutes int  `json:"reminder_lead_minutes"`
	AsNeeded            bool `json:"as_needed"`

	Times []ScheduleTime `json:"times" gorm:"foreignKey:ScheduleID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Schedule) TableName() string {
	return "medication_schedule"
}

// Ongoing reports whether the schedule uses the open-ended sentinel
func (s *Schedule) Ongoing() bool {
	return s.DurationDays >= OngoingDays
}

// ScheduleTime is one dosing time-of-day of a schedule
type ScheduleTime struct {
	ID         string `json:"id" gorm:"primaryKey"`
	ScheduleID string `json:"schedule_id" gorm:"index;not null"`
	// TimeOfDay is "HH:MM"; empty means untimed
	TimeOfDay             string    `json:"time_of_day"`
	ReminderOffsetMinutes *int      `json:"reminder_offset_minutes,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

func (ScheduleTime) TableName() string {
	return "medication_schedule_times"
}

// PillLog is one append-only intake action. ID order is insertion order.
type PillLog struct {
	ID             uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	PatientID      string     `json:"patient_id" gorm:"index;not null"`
	ScheduleID     string     `json:"schedule_id" gorm:"index;not null"`
	ScheduleTimeID *string    `json:"schedule_time_id,omitempty" gorm:"index"`
	DoseDate       string     `json:"dose_date" gorm:"index"` // YYYY-MM-DD
	LoggedAt       time.Time  `json:"logged_at" gorm:"index"`
	Status         string     `json:"status" gorm:"not null"`
	SnoozeUntil    *time.Time `json:"snooze_until,omitempty"`
	Note           string     `json:"note,omitempty"`
	Processed      bool       `json:"processed"`
	// TakenKey is set only on taken rows of timed occurrences so a second
	// taken insert for the same occurrence conflicts.
	TakenKey *string `json:"-" gorm:"uniqueIndex"`
}

func (PillLog) TableName() string {
	return "pill_logs"
}

// TakenKeyFor builds the unique key guarding a taken occurrence
func TakenKeyFor(scheduleTimeID, doseDate string) string {
	return scheduleTimeID + "/" + doseDate
}

// MedicationInteraction caches a drug-drug lookup by unordered pair
type MedicationInteraction struct {
	PairKey     string          `json:"pair_key" gorm:"primaryKey"`
	MedicationA string          `json:"medication_a"`
	MedicationB string          `json:"medication_b"`
	Result      json.RawMessage `json:"result" gorm:"type:text"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (MedicationInteraction) TableName() string {
	return "medication_interactions"
}

// FoodInteraction caches a drug-food lookup
type FoodInteraction struct {
	PairKey    string          `json:"pair_key" gorm:"primaryKey"`
	Medication string          `json:"medication"`
	Food       string          `json:"food"`
	Result     json.RawMessage `json:"result" gorm:"type:text"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (FoodInteraction) TableName() string {
	return "medication_food_interactions"
}

// PushToken is a delivery address for a patient's reminders
type PushToken struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	PatientID string    `json:"patient_id" gorm:"uniqueIndex:idx_push_token;not null"`
	Channel   string    `json:"channel" gorm:"uniqueIndex:idx_push_token;not null"`
	Token     string    `json:"token" gorm:"uniqueIndex:idx_push_token;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (PushToken) TableName() string {
	return "user_push_tokens"
}

// PatientProfile records the timezone a patient last authenticated with
type PatientProfile struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Timezone  string    `json:"timezone"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PatientProfile) TableName() string {
	return "patients"
}

// BeforeCreate hook for Medication
func (m *Medication) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = generateID("med")
	}
	if m.Source == "" {
		m.Source = SourceManual
	}
	return nil
}

// BeforeCreate hook for Schedule
func (s *Schedule) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = generateID("sch")
	}
	return nil
}

// BeforeCreate hook for ScheduleTime
func (t *ScheduleTime) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = generateID("tm")
	}
	return nil
}

// BeforeCreate hook for PushToken
func (p *PushToken) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = generateID("tok")
	}
	return nil
}

func generateID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
