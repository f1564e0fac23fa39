// Package uuid provides UUID v4 generation plus the synthetic ids used for
// records and queue entries that only exist on the device.
package uuid

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefixes that mark an id as locally originated and not yet known remotely.
const (
	TempPrefix    = "temp_"
	PendingPrefix = "pending_"
)

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewFromString creates a UUID from a string.
// Returns an error if the string is not a valid UUID v4.
func NewFromString(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	if id.Version() != 4 {
		return uuid.Nil, fmt.Errorf("expected UUID v4, got v%d", id.Version())
	}
	return id, nil
}

// IsValid checks if a string is a valid UUID v4.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// Validate returns an error if the string is not a valid UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}

// NewPendingID returns a queue entry id: pending_<epoch-ms>_<random>.
func NewPendingID(now time.Time) string {
	return fmt.Sprintf("%s%d_%s", PendingPrefix, now.UnixMilli(), shortRandom())
}

// NewTempID returns a synthetic record id: temp_<epoch-ms>_<random>.
func NewTempID(now time.Time) string {
	return fmt.Sprintf("%s%d_%s", TempPrefix, now.UnixMilli(), shortRandom())
}

// IsTempID reports whether id was generated locally and must never be sent
// as the target of a remote update or delete.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempPrefix) || strings.HasPrefix(id, PendingPrefix)
}

func shortRandom() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
