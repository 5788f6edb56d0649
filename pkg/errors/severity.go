// Package errors provides severity-aware error types.
package errors

import (
	"fmt"
	"net/http"
)

// Severity indicates error impact level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// MarshalText renders the severity by name in JSON bodies.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AppError is a structured error with context.
type AppError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Field       string   `json:"field,omitempty"`
	Recoverable bool     `json:"recoverable"`
}

func (e *AppError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s (field: %s)", e.Severity, e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Code, e.Message)
}

// Error codes
const (
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeDatasetUnavailable = "DATASET_UNAVAILABLE"
	ErrCodeAdviceUnavailable  = "ADVICE_UNAVAILABLE"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternal           = "INTERNAL"
)

// HTTPStatus maps an error code to the response status used by the API.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeDatasetUnavailable, ErrCodeAdviceUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError reports an invalid request field.
func NewValidationError(field, message string) *AppError {
	return &AppError{
		Code:        ErrCodeValidation,
		Message:     message,
		Severity:    SeverityError,
		Field:       field,
		Recoverable: true,
	}
}

// NewNotFoundError reports a missing record.
func NewNotFoundError(kind string) *AppError {
	return &AppError{
		Code:        ErrCodeNotFound,
		Message:     fmt.Sprintf("%s not found", kind),
		Severity:    SeverityError,
		Recoverable: true,
	}
}

// NewConflictError reports a uniqueness violation.
func NewConflictError(message string) *AppError {
	return &AppError{
		Code:        ErrCodeConflict,
		Message:     message,
		Severity:    SeverityError,
		Recoverable: true,
	}
}

// NewUnauthorizedError reports failed authentication.
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:        ErrCodeUnauthorized,
		Message:     message,
		Severity:    SeverityError,
		Recoverable: true,
	}
}

// NewDatasetUnavailableError reports a missing reference dataset. Retrying
// will not help until the deployment is fixed.
func NewDatasetUnavailableError(err error) *AppError {
	msg := "reference dataset is not configured"
	if err != nil {
		msg = err.Error()
	}
	return &AppError{
		Code:        ErrCodeDatasetUnavailable,
		Message:     msg,
		Severity:    SeverityFatal,
		Recoverable: false,
	}
}

// NewAdviceUnavailableError reports a failing or unconfigured model.
func NewAdviceUnavailableError(message string) *AppError {
	return &AppError{
		Code:        ErrCodeAdviceUnavailable,
		Message:     message,
		Severity:    SeverityWarning,
		Recoverable: true,
	}
}

// NewRateLimitedError reports a throttled request.
func NewRateLimitedError() *AppError {
	return &AppError{
		Code:        ErrCodeRateLimited,
		Message:     "too many requests, retry later",
		Severity:    SeverityWarning,
		Recoverable: true,
	}
}

// NewInternalError hides the cause from clients.
func NewInternalError() *AppError {
	return &AppError{
		Code:        ErrCodeInternal,
		Message:     "internal error",
		Severity:    SeverityError,
		Recoverable: false,
	}
}
