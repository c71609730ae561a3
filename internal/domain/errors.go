package domain

import (
	"errors"
	"fmt"
)

// Common domain errors. Everything in the extraction and reconciliation
// pipeline recovers from malformed input locally; these sentinels exist
// so callers can classify what was dropped, not to abort a turn.
var (
	// ErrMalformedPin indicates a token that resembles a pin identifier
	// but fails the canonical grammar. The token is dropped.
	ErrMalformedPin = errors.New("malformed pin identifier")

	// ErrAmbiguousBlock indicates a structured-block line that could not
	// be parsed. The line is dropped; the block is otherwise honored.
	ErrAmbiguousBlock = errors.New("ambiguous structured block line")

	// ErrEmptyFunction indicates an allocation with no peripheral-role
	// label, which the data model forbids.
	ErrEmptyFunction = errors.New("allocation function cannot be empty")

	// ErrSessionNotFound indicates that the requested session does not
	// exist or has expired.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidConfiguration indicates configuration that is invalid
	// or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// StateError represents an error that occurred during State operations.
// It provides context about which key and operation caused the error.
type StateError struct {
	// Key is the state key involved in the failed operation.
	Key string

	// Operation describes what was being performed when the error occurred.
	Operation string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for StateError.
func (e *StateError) Error() string {
	return fmt.Sprintf("state error: operation=%s, key=%s, err=%v", e.Operation, e.Key, e.Err)
}

// Unwrap returns the underlying error for errors.Is / errors.As.
func (e *StateError) Unwrap() error { return e.Err }

// NewStateError creates a new StateError with the given details.
func NewStateError(key, operation string, err error) *StateError {
	return &StateError{Key: key, Operation: operation, Err: err}
}
