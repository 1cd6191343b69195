package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types
var (
	ErrNotFound   = errors.New("resource not found")
	ErrBadRequest = errors.New("bad request")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")
	ErrValidation = errors.New("validation error")

	// Engine error classes
	ErrFactSourceUnavailable = errors.New("fact source unavailable")
	ErrInvalidEvent          = errors.New("invalid event")
	ErrStoreConflict         = errors.New("store conflict")
	ErrCalculatorFailure     = errors.New("calculator failure")
	ErrDeadlineExceeded      = errors.New("deadline exceeded")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Retriable  bool              `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		Code:       "BAD_REQUEST",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Validation creates a validation error with field details
func Validation(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    message,
		Code:       "CONFLICT",
		HTTPStatus: http.StatusConflict,
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// FactSourceUnavailable marks a transient upstream read failure.
// Units of work hitting this error are re-queued, never dropped.
func FactSourceUnavailable(err error) *AppError {
	return &AppError{
		Err:        ErrFactSourceUnavailable,
		Message:    fmt.Sprintf("fact source unavailable: %v", err),
		Code:       "FACT_SOURCE_UNAVAILABLE",
		HTTPStatus: http.StatusServiceUnavailable,
		Retriable:  true,
	}
}

// InvalidEvent marks a malformed or unknown-kind event.
// These are logged and dropped, never retried.
func InvalidEvent(message string) *AppError {
	return &AppError{
		Err:        ErrInvalidEvent,
		Message:    message,
		Code:       "INVALID_EVENT",
		HTTPStatus: http.StatusBadRequest,
	}
}

// StoreConflict marks a write lost to a concurrent writer; the unit of
// work is re-queued and succeeds under per-key serialization.
func StoreConflict(message string) *AppError {
	return &AppError{
		Err:        ErrStoreConflict,
		Message:    message,
		Code:       "STORE_CONFLICT",
		HTTPStatus: http.StatusConflict,
		Retriable:  true,
	}
}

// CalculatorFailure marks an unexpected derivation failure; it is
// logged with full context and dead-lettered.
func CalculatorFailure(err error, bucket string) *AppError {
	return &AppError{
		Err:        ErrCalculatorFailure,
		Message:    fmt.Sprintf("calculator failure for %s: %v", bucket, err),
		Code:       "CALCULATOR_FAILURE",
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]string{"bucket": bucket},
	}
}

// DeadlineExceeded marks a recomputation cancelled past its deadline;
// retriable subject to the backoff cap.
func DeadlineExceeded(operation string) *AppError {
	return &AppError{
		Err:        ErrDeadlineExceeded,
		Message:    fmt.Sprintf("%s exceeded its deadline", operation),
		Code:       "DEADLINE_EXCEEDED",
		HTTPStatus: http.StatusGatewayTimeout,
		Retriable:  true,
	}
}

// IsRetriable reports whether the error is a transient condition that
// should be re-queued with backoff.
func IsRetriable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retriable
	}
	return false
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) *AppError {
	if appErr, ok := err.(*AppError); ok {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}
