// Package errors defines common error types for the application.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the application.
const (
	CodeUnknown         = "UNKNOWN_ERROR"
	CodeMalformedRecord = "MALFORMED_RECORD"
	CodeTruncatedStream = "TRUNCATED_STREAM"
	CodeReuseViolation  = "REUSE_VIOLATION"
	CodeNotFrozen       = "NOT_FROZEN"
	CodeFrozen          = "FROZEN"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeDatabaseError   = "DATABASE_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeConfigError     = "CONFIG_ERROR"
	CodeStorageError    = "STORAGE_ERROR"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code string, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances.
var (
	ErrMalformedRecord = New(CodeMalformedRecord, "malformed record")
	ErrTruncatedStream = New(CodeTruncatedStream, "truncated stream")
	ErrReuseViolation  = New(CodeReuseViolation, "processor already used")
	ErrNotFrozen       = New(CodeNotFrozen, "heapshot not frozen")
	ErrFrozen          = New(CodeFrozen, "heapshot already frozen")
	ErrInvalidInput    = New(CodeInvalidInput, "invalid input")
	ErrDatabaseError   = New(CodeDatabaseError, "database error")
	ErrNotFound        = New(CodeNotFound, "resource not found")
	ErrConfigError     = New(CodeConfigError, "configuration error")
	ErrStorageError    = New(CodeStorageError, "storage error")
)

// IsMalformedRecord checks if the error is a malformed record error.
func IsMalformedRecord(err error) bool {
	return errors.Is(err, ErrMalformedRecord)
}

// IsTruncatedStream checks if the error is a truncated stream error.
func IsTruncatedStream(err error) bool {
	return errors.Is(err, ErrTruncatedStream)
}

// IsReuseViolation checks if the error is a reuse violation.
func IsReuseViolation(err error) bool {
	return errors.Is(err, ErrReuseViolation)
}

// IsNotFrozen checks if the error reports a heapshot that is still being ingested.
func IsNotFrozen(err error) bool {
	return errors.Is(err, ErrNotFrozen)
}

// IsDatabaseError checks if the error is a database error.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabaseError)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
