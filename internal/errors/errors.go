// Package errors defines the structured application error taxonomy shared by
// the admission, execution, and intake layers.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeValidation indicates a malformed enqueue request, rejected
	// before a ledger row is created.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeConflict indicates a conflict with existing data (unique
	// constraint violation).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeRetriable indicates a handler-reported failure that bounded
	// retries apply to.
	ErrCodeRetriable ErrorCode = "retriable"
	// ErrCodeFatal indicates a handler-reported or uncaught failure that
	// dead-letters immediately, with no retry.
	ErrCodeFatal ErrorCode = "fatal"
	// ErrCodeTimeout indicates a supervisor-detected execution timeout.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
)

// AppError is a structured application error with a code, message, and
// optional cause. It supports errors.Is and errors.As through Unwrap.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	// Field is the specific field that failed validation (optional).
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Validation creates a new validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// Validationf creates a new validation error with a formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationField creates a validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// Retriable wraps a handler failure that should be retried within the job's
// attempt budget.
func Retriable(err error, message string) *AppError {
	return &AppError{Code: ErrCodeRetriable, Message: message, Cause: err}
}

// Retriablef creates a retriable error with a formatted message.
func Retriablef(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeRetriable, Message: fmt.Sprintf(format, args...)}
}

// Fatal wraps a handler failure that must dead-letter immediately.
func Fatal(err error, message string) *AppError {
	return &AppError{Code: ErrCodeFatal, Message: message, Cause: err}
}

// Fatalf creates a fatal error with a formatted message.
func Fatalf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeFatal, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a new not-found error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// Internal creates a new internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool { return isCode(err, ErrCodeValidation) }

// IsConflict checks if an error is a conflict error.
func IsConflict(err error) bool { return isCode(err, ErrCodeConflict) }

// IsRetriable reports whether a handler failure is eligible for retry.
// Errors without an AppError code default to retriable; only explicitly
// fatal, timeout, or validation failures skip the retry budget.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	switch appErr.Code {
	case ErrCodeFatal, ErrCodeTimeout, ErrCodeValidation:
		return false
	default:
		return true
	}
}

// IsFatal checks if an error is a fatal execution error.
func IsFatal(err error) bool { return isCode(err, ErrCodeFatal) }

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool { return isCode(err, ErrCodeTimeout) }

// IsNotFound checks if an error is a not-found error.
func IsNotFound(err error) bool { return isCode(err, ErrCodeNotFound) }

// GetCode returns the ErrorCode from an error, or empty string if it carries
// no AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from a validation error, or empty string.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
