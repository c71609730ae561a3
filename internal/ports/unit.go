// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"

	"github.com/ahrav/go-pinwire/internal/domain"
)

// Unit is one stage of the turn pipeline. Each Unit performs a specific
// transformation on the turn State: classifying intent, extracting
// candidate allocations, reconciling them into the session map, or
// detecting incomplete device setups.
// Units must be stateless and thread-safe; the same unit instance is
// shared across concurrent turns.
type Unit interface {
	// Name returns a unique identifier for this unit, used for
	// logging, metrics labels, and tracing.
	Name() string

	// Execute performs the unit's transformation on the provided State
	// and returns a new State containing the results. The original
	// State is never modified.
	//
	// Units recover from malformed input internally: a candidate that
	// fails validation is dropped, not surfaced as an error. Execute
	// returns an error only for programming mistakes such as a missing
	// upstream key.
	Execute(ctx context.Context, state domain.State) (domain.State, error)

	// Validate checks that the unit is properly configured and ready
	// for execution. It is called during pipeline construction.
	Validate() error
}
