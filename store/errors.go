package store

import "errors"

var (
	// ErrNotFound is returned when a key has no live record (missing or expired).
	ErrNotFound = errors.New("kvlens: entry not found")

	// ErrConditionFailed is returned when a conditional write does not hold
	// (IfAbsent on a live record, or IfVersion mismatch).
	ErrConditionFailed = errors.New("kvlens: write condition failed")

	// ErrUnavailable is returned when the store cannot be reached. Bulk jobs
	// treat it as fatal.
	ErrUnavailable = errors.New("kvlens: store unavailable")

	// ErrConnectionNotFound is returned for unknown connection ids.
	ErrConnectionNotFound = errors.New("kvlens: connection not found")

	// ErrInvalidCursor is returned when a cursor was not issued for the scanned range.
	ErrInvalidCursor = errors.New("kvlens: invalid cursor")

	// ErrInvalidRange is returned when a selector does not describe a valid range.
	ErrInvalidRange = errors.New("kvlens: invalid range")
)
