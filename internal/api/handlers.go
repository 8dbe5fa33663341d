package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gmsas95/pillpal/internal/dose"
	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/session"
	"github.com/gmsas95/pillpal/internal/store"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var version = "0.1.0"

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   version,
		"timestamp": s.now().Unix(),
	})
}

func bindJSON(c *fiber.Ctx, v interface{}) error {
	if err := c.BodyParser(v); err != nil {
		return apperrors.BadRequest("invalid request body")
	}
	return nil
}

// today is the patient's current day as YYYY-MM-DD
func (s *Server) today(p session.Patient) string {
	return p.Today(s.now()).Format(dose.DateLayout)
}

// resyncAfterChange rebuilds the patient's reminders once a schedule write
// has committed. A failed resync is logged; the write stands.
func (s *Server) resyncAfterChange(ctx context.Context, patient session.Patient) {
	if s.scheduler == nil {
		return
	}
	if _, err := s.scheduler.Resync(ctx, patient); err != nil {
		s.logger.Warn("Reminder resync after schedule change failed",
			zap.String("patient", patient.ID),
			zap.Error(err),
		)
	}
}

// ==================== Medication Handlers ====================

func (s *Server) handleSearchMedications(c *fiber.Ctx) error {
	meds, err := s.store.SearchMedications(c.UserContext(), c.Query("q"), c.QueryInt("limit", 20))
	if err != nil {
		return err
	}
	return c.JSON(meds)
}

func (s *Server) handleBarcode(c *fiber.Ctx) error {
	med, err := s.store.FindMedicationByBarcode(c.UserContext(), c.Params("code"))
	if errors.Is(err, store.ErrMedicationNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":        "medication not found",
			"code":         apperrors.ErrNotFound.Code,
			"manual_entry": true,
		})
	}
	if err != nil {
		return err
	}
	return c.JSON(med)
}

func (s *Server) handleGetMedication(c *fiber.Ctx) error {
	med, err := s.store.GetMedication(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(med)
}

type createMedicationRequest struct {
	Name      string `json:"name"`
	Strength  string `json:"strength"`
	PillCount int    `json:"pill_count"`
	Barcode   string `json:"barcode"`
}

func (s *Server) handleCreateMedication(c *fiber.Ctx) error {
	var req createMedicationRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.PillCount < 0 {
		return apperrors.BadRequest("pill count must be >= 0")
	}

	med := &store.Medication{
		Name:      req.Name,
		Strength:  strings.TrimSpace(req.Strength),
		PillCount: req.PillCount,
		Barcode:   strings.TrimSpace(req.Barcode),
		Source:    store.SourceManual,
	}
	if err := s.store.CreateMedication(c.UserContext(), med); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(med)
}

// ==================== Schedule Handlers ====================

type scheduleTimeRequest struct {
	TimeOfDay             string `json:"time_of_day"`
	ReminderOffsetMinutes *int   `json:"reminder_offset_minutes"`
}

func (r scheduleTimeRequest) toModel() (store.ScheduleTime, error) {
	tod, err := dose.Normalize(r.TimeOfDay)
	if err != nil {
		return store.ScheduleTime{}, apperrors.BadRequest("invalid time of day %q", r.TimeOfDay)
	}
	if r.ReminderOffsetMinutes != nil && *r.ReminderOffsetMinutes < 0 {
		return store.ScheduleTime{}, apperrors.BadRequest("reminder offset must be >= 0")
	}
	return store.ScheduleTime{TimeOfDay: tod, ReminderOffsetMinutes: r.ReminderOffsetMinutes}, nil
}

type createScheduleRequest struct {
	MedicationID        string                `json:"medication_id"`
	StartDate           string                `json:"start_date"`
	DurationDays        int                   `json:"duration_days"`
	Dosage              string                `json:"dosage"`
	InitialQuantity     int                   `json:"initial_quantity"`
	RemindersEnabled    *bool                 `json:"reminders_enabled"`
	ReminderLeadMinutes int                   `json:"reminder_lead_minutes"`
	Times               []scheduleTimeRequest `json:"times"`
}

func (s *Server) handleListSchedules(c *fiber.Ctx) error {
	schedules, err := s.store.ListSchedules(c.UserContext(), patientFrom(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(schedules)
}

func (s *Server) handleCreateSchedule(c *fiber.Ctx) error {
	patient := patientFrom(c)
	var req createScheduleRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	startDate := req.StartDate
	if startDate == "" {
		startDate = s.today(patient)
	}
	start, err := dose.ParseDate(startDate)
	if err != nil {
		return apperrors.BadRequest("invalid start date %q, want YYYY-MM-DD", req.StartDate)
	}

	sch := &store.Schedule{
		PatientID:           patient.ID,
		MedicationID:        req.MedicationID,
		StartDate:           start,
		DurationDays:        req.DurationDays,
		Dosage:              strings.TrimSpace(req.Dosage),
		InitialQuantity:     req.InitialQuantity,
		RemainingQuantity:   req.InitialQuantity,
		RemindersEnabled:    req.RemindersEnabled == nil || *req.RemindersEnabled,
		ReminderLeadMinutes: req.ReminderLeadMinutes,
	}
	for _, t := range req.Times {
		st, err := t.toModel()
		if err != nil {
			return err
		}
		sch.Times = append(sch.Times, st)
	}

	ctx := c.UserContext()
	if err := s.store.CreateSchedule(ctx, sch); err != nil {
		return err
	}
	s.resyncAfterChange(ctx, patient)

	created, err := s.store.GetSchedule(ctx, patient.ID, sch.ID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (s *Server) handleGetSchedule(c *fiber.Ctx) error {
	sch, err := s.store.GetSchedule(c.UserContext(), patientFrom(c).ID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(sch)
}

type updateScheduleRequest struct {
	Dosage              *string `json:"dosage"`
	DurationDays        *int    `json:"duration_days"`
	RemindersEnabled    *bool   `json:"reminders_enabled"`
	ReminderLeadMinutes *int    `json:"reminder_lead_minutes"`
}

func (s *Server) handleUpdateSchedule(c *fiber.Ctx) error {
	patient := patientFrom(c)
	var req updateScheduleRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	ctx := c.UserContext()
	sch, err := s.store.UpdateSchedule(ctx, patient.ID, c.Params("id"), store.ScheduleUpdate{
		Dosage:              req.Dosage,
		DurationDays:        req.DurationDays,
		RemindersEnabled:    req.RemindersEnabled,
		ReminderLeadMinutes: req.ReminderLeadMinutes,
	})
	if err != nil {
		return err
	}
	s.resyncAfterChange(ctx, patient)
	return c.JSON(sch)
}

func (s *Server) handleDeleteSchedule(c *fiber.Ctx) error {
	patient := patientFrom(c)
	ctx := c.UserContext()
	if err := s.store.DeleteSchedule(ctx, patient.ID, c.Params("id")); err != nil {
		return err
	}
	s.resyncAfterChange(ctx, patient)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleAddTime(c *fiber.Ctx) error {
	patient := patientFrom(c)
	var req scheduleTimeRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	st, err := req.toModel()
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	sch, err := s.store.AddScheduleTime(ctx, patient.ID, c.Params("id"), &st)
	if err != nil {
		return err
	}
	s.resyncAfterChange(ctx, patient)
	return c.Status(fiber.StatusCreated).JSON(sch)
}

func (s *Server) handleDeleteTime(c *fiber.Ctx) error {
	patient := patientFrom(c)
	ctx := c.UserContext()
	sch, err := s.store.DeleteScheduleTime(ctx, patient.ID, c.Params("id"), c.Params("timeId"))
	if err != nil {
		return err
	}
	s.resyncAfterChange(ctx, patient)
	return c.JSON(sch)
}

func (s *Server) handleRefill(c *fiber.Ctx) error {
	patient := patientFrom(c)
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	ctx := c.UserContext()
	remaining, err := s.store.Refill(ctx, patient.ID, c.Params("id"), req.Quantity)
	if err != nil {
		return err
	}
	s.resyncAfterChange(ctx, patient)
	return c.JSON(fiber.Map{"remaining_quantity": remaining})
}

// ==================== Push Token Handlers ====================

func (s *Server) handleListPushTokens(c *fiber.Ctx) error {
	tokens, err := s.store.ListPushTokens(c.UserContext(), patientFrom(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(tokens)
}

func (s *Server) handleRegisterPushToken(c *fiber.Ctx) error {
	var req struct {
		Channel string `json:"channel"`
		Token   string `json:"token"`
	}
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	tok := &store.PushToken{
		PatientID: patientFrom(c).ID,
		Channel:   req.Channel,
		Token:     req.Token,
		CreatedAt: time.Now(),
	}
	if err := s.store.RegisterPushToken(c.UserContext(), tok); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(tok)
}

func (s *Server) handleDeletePushToken(c *fiber.Ctx) error {
	if err := s.store.DeletePushToken(c.UserContext(), patientFrom(c).ID, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
