// Package errors provides error code definitions shared by the sync core and its shells.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code that can be bridged to the app shell.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local storage errors
	ErrDatabase      ErrorCode = "DATABASE_ERROR"
	ErrMigration     ErrorCode = "MIGRATION_FAILED"
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Domain errors
	ErrProductNotFound     ErrorCode = "PRODUCT_NOT_FOUND"
	ErrAppointmentNotFound ErrorCode = "APPOINTMENT_NOT_FOUND"

	// Sync errors
	ErrSyncFailed         ErrorCode = "SYNC_FAILED"
	ErrSyncTimeout        ErrorCode = "SYNC_TIMEOUT"
	ErrOffline            ErrorCode = "OFFLINE"
	ErrUnresolvableAction ErrorCode = "UNRESOLVABLE_ACTION"
	ErrUnknownAction      ErrorCode = "UNKNOWN_ACTION"
	ErrRemoteWrite        ErrorCode = "REMOTE_WRITE_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
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

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
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

// Is reports whether any AppError in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// permanentCodes are failures that retrying the same action cannot fix.
var permanentCodes = []ErrorCode{
	ErrInvalid,
	ErrNotFound,
	ErrValidation,
	ErrUnresolvableAction,
	ErrUnknownAction,
}

// IsPermanent reports whether err is tagged with a code that a retry cannot fix.
func IsPermanent(err error) bool {
	for _, code := range permanentCodes {
		if Is(err, code) {
			return true
		}
	}
	return false
}
