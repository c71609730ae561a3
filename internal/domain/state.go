package domain

import (
	"fmt"
	"maps"
	"slices"
)

// Key represents a type-safe generic key for accessing values in State.
// The type parameter T ensures compile-time type safety when getting and
// setting values, eliminating runtime type assertions at call sites.
type Key[T any] struct{ name string }

// NewKey creates a new Key with the specified name and type.
// It is provided for creating keys outside of the domain package.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Predefined state keys used by the turn pipeline.
// Each key is strongly typed so units cannot misread each other's output.
var (
	// KeySessionID stores the identifier of the session this turn
	// belongs to, for logging and correlation.
	KeySessionID = Key[string]{"session_id"}

	// KeyUtterance stores the latest raw user utterance.
	KeyUtterance = Key[string]{"utterance"}

	// KeyReply stores the assistant's free-form reply text produced by
	// the text-generation oracle.
	KeyReply = Key[string]{"reply"}

	// KeyToolPayload stores the optional structured tool invocation
	// returned by the oracle alongside its reply.
	KeyToolPayload = Key[[]ToolAllocation]{"tool_payload"}

	// KeyIntent stores the classifier's verdict for the turn.
	KeyIntent = Key[Intent]{"intent"}

	// KeyCandidates stores the extractor's candidate allocations.
	KeyCandidates = Key[[]CandidateAllocation]{"candidates"}

	// KeyAllocations stores the session's allocation map. The
	// reconciler reads the prior map from this key and replaces it
	// with the merged map.
	KeyAllocations = Key[AllocationMap]{"allocations"}

	// KeyChangeSummary stores the reconciler's change summary.
	KeyChangeSummary = Key[ChangeSummary]{"change_summary"}

	// KeyWarnings stores incompleteness warnings for the merged map.
	KeyWarnings = Key[[]IncompletenessWarning]{"warnings"}
)

// State is an immutable collection of turn data that flows through the
// pipeline units. It uses copy-on-write semantics: With returns a new
// State and never mutates the receiver, so a unit can safely hold a
// snapshot while downstream units continue. Values stored in State are
// treated as immutable by convention; slices and maps are cloned on
// write where aliasing would leak.
type State struct {
	data map[string]any
}

// NewState creates a new empty State, ready to use and safe to share
// across goroutines.
func NewState() State {
	return State{data: make(map[string]any)}
}

// Get retrieves a value from the State with compile-time type safety.
// It returns the value and whether the key exists with a value of the
// correct type.
//
// Example:
//
//	utterance, ok := domain.Get(state, domain.KeyUtterance)
func Get[T any](s State, key Key[T]) (T, bool) {
	var zero T
	value, exists := s.data[key.name]
	if !exists {
		return zero, false
	}
	val, ok := value.(T)
	return val, ok
}

// With creates a new State with the key-value pair added or updated,
// leaving the original unchanged.
//
// Example:
//
//	next := domain.With(state, domain.KeyIntent, domain.IntentConnection)
func With[T any](s State, key Key[T], value T) State {
	newData := maps.Clone(s.data)
	if newData == nil {
		newData = make(map[string]any, 1)
	}
	newData[key.name] = value
	return State{data: newData}
}

// Keys returns all key names present in the State, sorted.
// The returned slice is safe to modify.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// String returns a debug representation of the State.
func (s State) String() string {
	return fmt.Sprintf("State%v", s.data)
}
