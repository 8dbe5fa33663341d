package api

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/session"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const patientKey = "patient"

// Claims are the bearer token claims. Subject is the patient id and
// Timezone an IANA zone name for the patient's calendar days.
type Claims struct {
	Timezone string `json:"tz,omitempty"`
	jwt.RegisteredClaims
}

func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get("Authorization")
		if auth == "" {
			return apperrors.New(apperrors.ErrUnauthorized.Code, "missing authorization header")
		}

		patient, err := s.parseToken(c.UserContext(), strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			return err
		}
		c.Locals(patientKey, patient)
		return c.Next()
	}
}

// parseToken resolves the patient of a bearer token and records its
// timezone claim for the nightly resync
func (s *Server) parseToken(ctx context.Context, tokenString string) (session.Patient, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.Security.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return session.Patient{}, apperrors.New(apperrors.ErrUnauthorized.Code, "invalid token")
	}

	loc := s.defaultLoc
	if claims.Timezone != "" {
		loc, err = time.LoadLocation(claims.Timezone)
		if err != nil {
			return session.Patient{}, apperrors.New(apperrors.ErrUnauthorized.Code, "invalid timezone claim")
		}
	}

	patient, err := session.NewPatient(claims.Subject, loc)
	if err != nil {
		return session.Patient{}, apperrors.New(apperrors.ErrUnauthorized.Code, "token has no subject")
	}
	if claims.Timezone != "" {
		s.recordTimezone(ctx, patient.ID, claims.Timezone)
	}
	return patient, nil
}

// recordTimezone writes the zone only when it differs from the last one
// seen for the patient
func (s *Server) recordTimezone(ctx context.Context, patientID, tz string) {
	if prev, ok := s.zones.Load(patientID); ok && prev.(string) == tz {
		return
	}
	if err := s.store.SavePatientTimezone(ctx, patientID, tz); err != nil {
		s.logger.Warn("Failed to record patient timezone",
			zap.String("patient_id", patientID),
			zap.String("timezone", tz),
			zap.Error(err),
		)
		return
	}
	s.zones.Store(patientID, tz)
}

func patientFrom(c *fiber.Ctx) session.Patient {
	p, _ := c.Locals(patientKey).(session.Patient)
	return p
}

func (s *Server) metricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		code := c.Response().StatusCode()
		if err != nil {
			code = statusFor(err)
		}
		s.metrics.RecordHTTPRequest(c.Method(), c.Route().Path, code)
		return err
	}
}
