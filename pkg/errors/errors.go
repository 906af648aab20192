package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies a store error
type ErrorType string

const (
	// Caller errors
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeConcurrency  ErrorType = "CONCURRENCY"
	ErrorTypeNotSupported ErrorType = "NOT_SUPPORTED"

	// Infrastructure errors
	ErrorTypeDatabase ErrorType = "DATABASE"
	ErrorTypeTimeout  ErrorType = "TIMEOUT"
	ErrorTypeThrottle ErrorType = "THROTTLE"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// Constructor functions for common error types

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewConcurrencyError creates a concurrency conflict error. The stored
// concurrency token was missing or did not match the caller's copy.
func NewConcurrencyError(entity, id string) *AppError {
	return &AppError{
		Type:    ErrorTypeConcurrency,
		Message: fmt.Sprintf("%s '%s' was modified concurrently", entity, id),
	}
}

// NewNotSupportedError creates a not supported error. Arbitrary predicate
// queries are intentionally unimplemented and fail fast here.
func NewNotSupportedError(operation string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotSupported,
		Message: fmt.Sprintf("operation '%s' is not supported by the DynamoDB store", operation),
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeDatabase,
		Message: fmt.Sprintf("database operation '%s' failed", operation),
		Cause:   err,
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string) *AppError {
	return &AppError{
		Type:    ErrorTypeTimeout,
		Message: fmt.Sprintf("operation '%s' timed out", operation),
	}
}

// NewThrottleError creates a throttling error
func NewThrottleError(operation string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeThrottle,
		Message: fmt.Sprintf("database operation '%s' was throttled", operation),
		Cause:   err,
	}
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsConcurrencyConflict checks if an error is a concurrency conflict
func IsConcurrencyConflict(err error) bool {
	return IsType(err, ErrorTypeConcurrency)
}

// IsNotSupported checks if an error reports an unsupported operation
func IsNotSupported(err error) bool {
	return IsType(err, ErrorTypeNotSupported)
}

// IsDatabase checks if an error is an infrastructure error
func IsDatabase(err error) bool {
	return IsType(err, ErrorTypeDatabase)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	return NewDatabaseError(message, err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
