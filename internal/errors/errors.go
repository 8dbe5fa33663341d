package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError with the same code, so wrapped
// errors match the sentinels below through errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigNotFound = &AppError{Code: "CONFIG_001", Message: "configuration not found"}
	ErrConfigInvalid  = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}

	ErrBackend = &AppError{Code: "STORE_001", Message: "backend request failed"}

	ErrInvalidTransition = &AppError{Code: "INTAKE_001", Message: "dose already resolved"}

	ErrPermissionDenied = &AppError{Code: "NOTIFY_001", Message: "local reminders disabled"}
	ErrTriggerFailed    = &AppError{Code: "NOTIFY_002", Message: "failed to schedule trigger"}

	ErrMalformedResponse     = &AppError{Code: "AI_001", Message: "malformed model response"}
	ErrProviderUnavailable   = &AppError{Code: "AI_002", Message: "LLM provider unavailable"}
	ErrProviderNotConfigured = &AppError{Code: "AI_003", Message: "no LLM provider configured"}
	ErrRateLimited           = &AppError{Code: "AI_004", Message: "rate limit exceeded"}

	ErrUnauthorized = &AppError{Code: "AUTH_001", Message: "unauthorized"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Backend wraps a storage failure as STORE_001.
func Backend(op string, err error) *AppError {
	return Wrap(err, ErrBackend.Code, op)
}

// NotFound builds a GEN_001 error naming the missing resource.
func NotFound(what string) *AppError {
	return New(ErrNotFound.Code, what+" not found")
}

// BadRequest builds a GEN_002 error with a caller-facing message.
func BadRequest(format string, args ...interface{}) *AppError {
	return New(ErrBadRequest.Code, fmt.Sprintf(format, args...))
}
