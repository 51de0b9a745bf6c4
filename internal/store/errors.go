package store

import "errors"

var (
	// ErrNotFound is returned when a lookup by id finds no row.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateRun is returned by InsertAutomationRun when dedupe_key
	// collides with an existing row. Detected via sqlite's real constraint
	// violation, not by matching against the driver error's text.
	ErrDuplicateRun = errors.New("store: duplicate automation run")

	// ErrGateAlreadyPending is returned when a second gate is opened on a
	// mission run that already has one pending; only one gate may be open
	// at a time.
	ErrGateAlreadyPending = errors.New("store: a gate is already pending for this mission run")
)
