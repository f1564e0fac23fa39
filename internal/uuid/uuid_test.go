// Package uuid provides unit tests for UUID generation and synthetic ids.
package uuid

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

// TestNew tests that New() generates valid UUID v4 strings.
func TestNew(t *testing.T) {
	id := New()

	if !IsValid(id) {
		t.Errorf("Generated UUID does not match v4 format: %s", id)
	}
	if err := Validate(id); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

// TestNewFromString tests parsing and version checks.
func TestNewFromString(t *testing.T) {
	if _, err := NewFromString(New()); err != nil {
		t.Errorf("NewFromString(valid) = %v", err)
	}
	if _, err := NewFromString("not-a-uuid"); err == nil {
		t.Error("Expected error for malformed UUID")
	}
	// Version 1 UUID
	if _, err := NewFromString("6ba7b810-9dad-11d1-80b4-00c04fd430c8"); err == nil {
		t.Error("Expected error for non-v4 UUID")
	}
}

// TestNewPendingID tests the pending_<ms>_<random> format.
func TestNewPendingID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := NewPendingID(now)

	pattern := regexp.MustCompile(`^pending_1700000000123_[0-9a-f]{12}$`)
	if !pattern.MatchString(id) {
		t.Errorf("NewPendingID() = %q", id)
	}
	if NewPendingID(now) == id {
		t.Error("Two ids generated in the same millisecond must differ")
	}
}

// TestNewTempID tests the temp_<ms>_<random> format.
func TestNewTempID(t *testing.T) {
	id := NewTempID(time.UnixMilli(42))
	if !strings.HasPrefix(id, "temp_42_") {
		t.Errorf("NewTempID() = %q", id)
	}
	if !IsTempID(id) {
		t.Error("IsTempID should accept generated temp ids")
	}
}

// TestIsTempID tests synthetic id detection.
func TestIsTempID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"temp_1700000000000", true},
		{"pending_1700000000000_0.123", true},
		{"T1", false},
		{"", false},
		{"xtemp_1", false},
		{New(), false},
	}
	for _, tt := range tests {
		if got := IsTempID(tt.id); got != tt.want {
			t.Errorf("IsTempID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
