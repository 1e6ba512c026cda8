package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Status  int         `json:"status"`
	Details interface{} `json:"details,omitempty"`
	Err     error       `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")

	// Allocator taxonomy.
	ErrAllocationContention  = New("ALLOCATION_CONTENTION", http.StatusConflict, "allocation retries exhausted, retry the operation")
	ErrDuplicateProfile      = New("DUPLICATE_PROFILE", http.StatusConflict, "profile already assigned in this scenario")
	ErrBatchAllocationFailed = New("BATCH_ALLOCATION_FAILED", http.StatusUnprocessableEntity, "batch allocation rejected")
	ErrAlreadyAssigned       = New("ALREADY_ASSIGNED", http.StatusConflict, "assignment already carries a sequential number")
	ErrScenarioExists        = New("SCENARIO_EXISTS", http.StatusConflict, "a scenario already exists, delete it before creating a new one")
	ErrInvalidShortCode      = New("INVALID_SHORT_CODE", http.StatusBadRequest, "short code must be alphabetic only")
	ErrShortCodeImmutable    = New("SHORT_CODE_IMMUTABLE", http.StatusConflict, "short code cannot change while assignments reference it")
)

// ErrCacheMiss signals a cache lookup that found nothing. It is internal
// plumbing and never reaches an HTTP response.
var ErrCacheMiss = errors.New("cache miss")

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of the error carrying structured details,
// e.g. the invalid profile ids of a rejected batch.
func WithDetails(err *Error, details interface{}) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Details = details
	return &clone
}
