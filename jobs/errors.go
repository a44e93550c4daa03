package jobs

import "errors"

var (
	// ErrFingerprintMismatch is returned when a selected fingerprint does not
	// match any cached entry. Nothing is touched.
	ErrFingerprintMismatch = errors.New("kvlens: selection does not match cached entries")

	// ErrEmptySelection is returned when a selection names no items.
	ErrEmptySelection = errors.New("kvlens: empty selection")

	// ErrItemFailed marks a recoverable per-item failure. Runs count these
	// and continue; they are never returned from a run.
	ErrItemFailed = errors.New("kvlens: item operation failed")

	// ErrJobPanicked is recorded when a run recovers from a panic.
	ErrJobPanicked = errors.New("kvlens: job panicked")

	// ErrInvalidSnapshot is returned when a snapshot file cannot be read.
	ErrInvalidSnapshot = errors.New("kvlens: invalid snapshot")
)
