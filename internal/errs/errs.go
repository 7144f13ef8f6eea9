// Package errs defines the application error taxonomy.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for errors.Is checks.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state transition")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// AppError carries a machine-readable code and HTTP status alongside the
// wrapped sentinel.
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// Validation creates a validation error. Inputs that fail validation are
// rejected at the boundary and never partially applied.
func Validation(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// NotFound creates an unknown-id error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// InvalidState creates an illegal-transition error. Illegal transitions are
// surfaced, never silently coerced.
func InvalidState(message string) *AppError {
	return &AppError{
		Err:        ErrInvalidState,
		Message:    message,
		Code:       "INVALID_STATE",
		HTTPStatus: http.StatusConflict,
	}
}

// Upstream wraps a failed scorer or store call. The core performs no retries
// itself; retry policy belongs to the calling orchestrator.
func Upstream(service string, err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, service, err),
		Message:    fmt.Sprintf("%s unavailable", service),
		Code:       "UPSTREAM_UNAVAILABLE",
		HTTPStatus: http.StatusBadGateway,
	}
}

// RangeWarning records an out-of-bounds but recoverable value. It is the one
// condition that is clamped and logged rather than surfaced as an error.
type RangeWarning struct {
	Field   string
	Value   float64
	Clamped float64
}

func (w RangeWarning) String() string {
	return fmt.Sprintf("%s=%g clamped to %g", w.Field, w.Value, w.Clamped)
}

// HTTPStatus resolves the status code for an error, defaulting to 500.
func HTTPStatus(err error) int {
	var app *AppError
	if errors.As(err, &app) {
		return app.HTTPStatus
	}
	return http.StatusInternalServerError
}
