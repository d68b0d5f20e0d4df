package services

import "errors"

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIllegalTransition is returned for status edges outside the
	// instance state machine.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrConcurrentModification is returned when a compare-and-set update
	// loses a race.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrSpawnLimitExceeded is returned when a principal's active-instance
	// cap would be exceeded. The check runs in the same transaction as the
	// insert, so concurrent spawns cannot both slip under the cap.
	ErrSpawnLimitExceeded = errors.New("spawn_limit_exceeded")
)
