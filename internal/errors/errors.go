package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound           = newInternal(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists      = newInternal(ErrCodeAlreadyExists, "resource already exists")
	ErrValidation         = newInternal(ErrCodeValidation, "validation error")
	ErrInvalidOperation   = newInternal(ErrCodeInvalidOperation, "invalid operation")
	ErrConflictingDefault = newInternal(ErrCodeConflictingDefault, "conflicting default tax rule")
	ErrNoApplicableTier   = newInternal(ErrCodeNoApplicableTier, "no applicable tier")
	ErrDatabase           = newInternal(ErrCodeDatabase, "database error")
	ErrSystem             = newInternal(ErrCodeSystemError, "system error")

	// maps errors to http status codes
	statusCodeMap = map[error]int{
		ErrNotFound:           http.StatusNotFound,
		ErrAlreadyExists:      http.StatusConflict,
		ErrValidation:         http.StatusBadRequest,
		ErrInvalidOperation:   http.StatusBadRequest,
		ErrConflictingDefault: http.StatusConflict,
		ErrNoApplicableTier:   http.StatusUnprocessableEntity,
		ErrDatabase:           http.StatusInternalServerError,
		ErrSystem:             http.StatusInternalServerError,
	}
)

const (
	ErrCodeSystemError        = "system_error"
	ErrCodeNotFound           = "not_found"
	ErrCodeAlreadyExists      = "already_exists"
	ErrCodeValidation         = "validation_error"
	ErrCodeInvalidOperation   = "invalid_operation"
	ErrCodeConflictingDefault = "conflicting_default"
	ErrCodeNoApplicableTier   = "no_applicable_tier"
	ErrCodeDatabase           = "database_error"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Op      string // Logical operation name
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func newInternal(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidOperation checks if an error is an invalid operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsConflictingDefault checks if an error is a conflicting default rule error
func IsConflictingDefault(err error) bool {
	return errors.Is(err, ErrConflictingDefault)
}

// IsNoApplicableTier checks if an error is a tier configuration gap error
func IsNoApplicableTier(err error) bool {
	return errors.Is(err, ErrNoApplicableTier)
}

func HTTPStatusFromErr(err error) int {
	for e, status := range statusCodeMap {
		if errors.Is(err, e) {
			return status
		}
	}
	return http.StatusInternalServerError
}
