// Package errors provides error code definitions for the sync pipeline.
package errors

import "fmt"

// ErrorCode identifies a class of failure across the client, builder,
// engine and queue.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrDatabase ErrorCode = "DATABASE_ERROR"

	// API client errors
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	ErrTransport   ErrorCode = "TRANSPORT_ERROR"
	ErrAPI         ErrorCode = "API_ERROR"

	// Listing build errors (configuration gaps)
	ErrNoCategory ErrorCode = "NO_CATEGORY"
	ErrNoLocation ErrorCode = "NO_LOCATION"

	// Expected no-op outcomes
	ErrNotAvailable ErrorCode = "NOT_AVAILABLE"
	ErrNoListing    ErrorCode = "NO_LISTING"
	ErrExcluded     ErrorCode = "EXCLUDED"

	// Catalog errors
	ErrProductNotFound ErrorCode = "PRODUCT_NOT_FOUND"
)

// AppError represents an application error with code and message.
// Status carries the HTTP status for ErrAPI; RetryAfter carries the
// seconds until the rate limit window resets for ErrRateLimited.
type AppError struct {
	Code       ErrorCode
	Message    string
	Status     int
	RetryAfter int
	Err        error
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

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the error code of an AppError, or ErrInternal for any
// other error. A nil error has no code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}

// StatusOf returns the HTTP status carried by an API error, or 0.
func StatusOf(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Status
	}
	return 0
}
