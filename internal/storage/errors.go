package storage

import "errors"

// Audit records are write-once: a feed event, signal or run is inserted
// exactly once and never updated.
var (
	// ErrNotFound is returned by readers for an unknown signal_id or run_id.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a record with the same ID was already written.
	ErrDuplicateKey = errors.New("duplicate key: audit records are write-once")

	// ErrInvalidInput is returned for a nil record or one missing its identifying fields.
	ErrInvalidInput = errors.New("invalid input")
)
