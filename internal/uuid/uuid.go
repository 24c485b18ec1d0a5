// Package uuid provides entity id generation and validation.
//
// Ids are UUID v7: a 48-bit millisecond timestamp prefix followed by random
// bits, so they sort roughly by creation time and do not collide across
// devices or app restarts.
package uuid

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// UUID v7 format: xxxxxxxx-xxxx-7xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV7Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-7[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new UUID v7.
func New() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewFromString parses a UUID v7 string.
func NewFromString(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	if id.Version() != 7 {
		return uuid.Nil, fmt.Errorf("expected UUID v7, got v%d", id.Version())
	}
	return id, nil
}

// Timestamp returns the creation time embedded in a UUID v7 string.
func Timestamp(s string) (time.Time, error) {
	id, err := NewFromString(s)
	if err != nil {
		return time.Time{}, err
	}
	var buf [8]byte
	copy(buf[2:], id[:6])
	ms := int64(binary.BigEndian.Uint64(buf[:]))
	return time.UnixMilli(ms), nil
}

// IsValid checks if a string is a valid UUID v7.
func IsValid(s string) bool {
	return uuidV7Regex.MatchString(s)
}

// Validate returns an error if the string is not a valid UUID v7.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v7 format: %q", s)
	}
	return nil
}
