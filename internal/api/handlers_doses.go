package api

import (
	"bytes"
	"time"

	"github.com/gmsas95/pillpal/internal/adherence"
	"github.com/gmsas95/pillpal/internal/dose"
	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/intake"
	"github.com/gofiber/fiber/v2"
)

type doseRequest struct {
	ScheduleID string `json:"schedule_id"`
	TimeID     string `json:"schedule_time_id"`
	DoseDate   string `json:"dose_date"`
	Note       string `json:"note"`
	Minutes    int    `json:"minutes"`
}

func (s *Server) bindDose(c *fiber.Ctx) (doseRequest, intake.DoseRef, error) {
	var req doseRequest
	if err := bindJSON(c, &req); err != nil {
		return req, intake.DoseRef{}, err
	}
	if req.DoseDate == "" {
		req.DoseDate = s.today(patientFrom(c))
	}
	return req, intake.DoseRef{ScheduleID: req.ScheduleID, TimeID: req.TimeID, DoseDate: req.DoseDate}, nil
}

// ==================== Intake Handlers ====================

func (s *Server) handleTake(c *fiber.Ctx) error {
	req, ref, err := s.bindDose(c)
	if err != nil {
		return err
	}
	res, err := s.intake.Take(c.UserContext(), patientFrom(c), ref, req.Note)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) handleSkip(c *fiber.Ctx) error {
	req, ref, err := s.bindDose(c)
	if err != nil {
		return err
	}
	res, err := s.intake.Skip(c.UserContext(), patientFrom(c), ref, req.Note)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) handleSnooze(c *fiber.Ctx) error {
	req, ref, err := s.bindDose(c)
	if err != nil {
		return err
	}
	if req.Minutes < 0 {
		return apperrors.BadRequest("snooze minutes must be >= 0")
	}
	res, err := s.intake.Snooze(c.UserContext(), patientFrom(c), ref, time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) handleTakeAsNeeded(c *fiber.Ctx) error {
	var req struct {
		Note string `json:"note"`
	}
	if len(c.Body()) > 0 {
		if err := bindJSON(c, &req); err != nil {
			return err
		}
	}
	res, err := s.intake.TakeAsNeeded(c.UserContext(), patientFrom(c), c.Params("id"), req.Note)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) handleToday(c *fiber.Ctx) error {
	patient := patientFrom(c)
	day, err := s.dayParam(c, "date", s.today(patient))
	if err != nil {
		return err
	}
	doses, err := s.intake.Today(c.UserContext(), patient, day)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"date":  day.Format(dose.DateLayout),
		"doses": doses,
	})
}

func (s *Server) dayParam(c *fiber.Ctx, name, fallback string) (time.Time, error) {
	v := c.Query(name, fallback)
	day, err := dose.ParseDate(v)
	if err != nil {
		return time.Time{}, apperrors.BadRequest("invalid %s %q, want YYYY-MM-DD", name, v)
	}
	return day, nil
}

// ==================== Adherence Handlers ====================

func (s *Server) handleAdherenceRange(c *fiber.Ctx) error {
	patient := patientFrom(c)
	today := patient.Today(s.now())

	to, err := s.dayParam(c, "to", today.Format(dose.DateLayout))
	if err != nil {
		return err
	}
	from, err := s.dayParam(c, "from", to.AddDate(0, 0, -29).Format(dose.DateLayout))
	if err != nil {
		return err
	}

	stats, err := s.adherence.Range(c.UserContext(), patient, from, to)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"days":    stats,
		"summary": adherence.Summarize(stats),
	})
}

func (s *Server) handleAdherenceMonth(c *fiber.Ctx) error {
	patient := patientFrom(c)
	month := c.Query("month", patient.Today(s.now()).Format("2006-01"))
	year, m, err := adherence.ParseMonth(month)
	if err != nil {
		return err
	}

	report, err := s.adherence.Month(c.UserContext(), patient, year, m)
	if err != nil {
		return err
	}

	format := c.Query("format", "json")
	if format == "json" {
		return c.JSON(report)
	}
	var buf bytes.Buffer
	if err := report.Export(&buf, format); err != nil {
		return apperrors.BadRequest("%v", err)
	}
	c.Set(fiber.HeaderContentType, "application/yaml")
	return c.Send(buf.Bytes())
}

// ==================== Reminder Handlers ====================

func (s *Server) handleResync(c *fiber.Ctx) error {
	res, err := s.scheduler.Resync(c.UserContext(), patientFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) handleReconcile(c *fiber.Ctx) error {
	n, err := s.intake.Reconcile(c.UserContext(), patientFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"resolved": n})
}

func (s *Server) handleCalendar(c *fiber.Ctx) error {
	cal, err := s.feed.Build(c.UserContext(), patientFrom(c), c.QueryInt("days", 0))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "text/calendar; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="pillpal.ics"`)
	return c.SendString(cal.Serialize())
}

// ==================== Interaction Handlers ====================

func (s *Server) handleMedicationInteraction(c *fiber.Ctx) error {
	var req struct {
		MedicationA string `json:"medication_a"`
		MedicationB string `json:"medication_b"`
	}
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if s.checker == nil {
		return apperrors.ErrProviderNotConfigured
	}
	res, err := s.checker.Medications(c.UserContext(), req.MedicationA, req.MedicationB)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) handleFoodInteraction(c *fiber.Ctx) error {
	var req struct {
		Medication string `json:"medication"`
		Food       string `json:"food"`
	}
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if s.checker == nil {
		return apperrors.ErrProviderNotConfigured
	}
	res, err := s.checker.Food(c.UserContext(), req.Medication, req.Food)
	if err != nil {
		return err
	}
	return c.JSON(res)
}
