package api

import (
	"errors"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func statusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}

	switch apperrors.GetCode(err) {
	case apperrors.ErrNotFound.Code:
		return fiber.StatusNotFound
	case apperrors.ErrBadRequest.Code:
		return fiber.StatusBadRequest
	case apperrors.ErrInvalidTransition.Code:
		return fiber.StatusConflict
	case apperrors.ErrUnauthorized.Code:
		return fiber.StatusUnauthorized
	case apperrors.ErrRateLimited.Code:
		return fiber.StatusTooManyRequests
	case apperrors.ErrProviderUnavailable.Code,
		apperrors.ErrProviderNotConfigured.Code,
		apperrors.ErrPermissionDenied.Code:
		return fiber.StatusServiceUnavailable
	case apperrors.ErrBackend.Code:
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// handleError renders every handler error as {"error", "code"}
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	body := fiber.Map{"error": "internal error"}

	var fe *fiber.Error
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &fe):
		body["error"] = fe.Message
	case errors.As(err, &appErr):
		body["code"] = appErr.Code
		if status != fiber.StatusInternalServerError {
			body["error"] = appErr.Message
		}
	}

	if status >= fiber.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(body)
}
