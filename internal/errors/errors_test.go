// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty, distinct values.
func TestErrorCodeValues(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrValidation,
		ErrDatabase, ErrMigration, ErrConfigInvalid,
		ErrProductNotFound, ErrAppointmentNotFound,
		ErrSyncFailed, ErrSyncTimeout, ErrOffline,
		ErrUnresolvableAction, ErrUnknownAction, ErrRemoteWrite,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if code == "" {
			t.Error("error code should not be empty")
		}
		if seen[code] {
			t.Errorf("duplicate error code %q", code)
		}
		seen[code] = true
	}
}

// TestAppError_Error verifies message formatting with and without a cause.
func TestAppError_Error(t *testing.T) {
	plain := New(ErrProductNotFound, "product T1 not found")
	if got := plain.Error(); got != "[PRODUCT_NOT_FOUND] product T1 not found" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := Wrap(ErrRemoteWrite, "upsert productos/T1", errors.New("connection reset"))
	if !strings.Contains(wrapped.Error(), "connection reset") {
		t.Errorf("Error() = %q, want cause included", wrapped.Error())
	}
}

// TestAppError_Unwrap verifies errors.Is reaches the underlying cause.
func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(ErrDatabase, "persist queue", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

// TestIs_walksChain verifies codes are found through fmt wrapping and nested AppErrors.
func TestIs_walksChain(t *testing.T) {
	inner := New(ErrUnresolvableAction, "temp id")
	outer := Wrap(ErrSyncFailed, "replay", inner)
	wrapped := fmt.Errorf("pass: %w", outer)

	if !Is(wrapped, ErrSyncFailed) {
		t.Error("Is() should match the outer code")
	}
	if !Is(wrapped, ErrUnresolvableAction) {
		t.Error("Is() should match the nested code")
	}
	if Is(wrapped, ErrOffline) {
		t.Error("Is() should not match an absent code")
	}
	if Is(errors.New("plain"), ErrInternal) {
		t.Error("Is() should be false for non-AppError values")
	}
}

// TestCodeOf verifies the outermost code is returned.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(Wrap(ErrSyncTimeout, "x", New(ErrNotFound, "y"))); got != ErrSyncTimeout {
		t.Errorf("CodeOf() = %s, want SYNC_TIMEOUT", got)
	}
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf() = %s, want INTERNAL_ERROR", got)
	}
}

// TestIsPermanent verifies the permanent failure classification.
func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation", New(ErrValidation, "bad payload"), true},
		{"not found", Wrap(ErrNotFound, "update", errors.New("missing")), true},
		{"unknown action", New(ErrUnknownAction, "FOO"), true},
		{"unresolvable", New(ErrUnresolvableAction, "temp_1"), true},
		{"nested permanent", Wrap(ErrRemoteWrite, "update", New(ErrNotFound, "missing")), true},
		{"remote write", New(ErrRemoteWrite, "timeout"), false},
		{"timeout", New(ErrSyncTimeout, "deadline"), false},
		{"plain", errors.New("network down"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.want)
			}
		})
	}
}
