package domain

import (
	"maps"
	"slices"
)

// Allocation is one pin's current binding within a session.
// An Allocation is owned exclusively by the session's AllocationMap and
// is mutated only by wholesale replacement, never edited in place.
type Allocation struct {
	// Function is the short peripheral-role label for the pin,
	// e.g. "SCL" or "GPIO". It is never empty.
	Function string `json:"function"`

	// Device names the hardware device this pin is committed to.
	// Empty when the allocation was made without a device association.
	Device string `json:"device,omitempty"`

	// Notes carries free-form context captured at extraction time.
	Notes string `json:"notes,omitempty"`
}

// AllocationMap maps each committed pin to its current binding.
// A PinID appears at most once; the map is the single source of truth
// for which physical pins a session has spoken for.
type AllocationMap map[PinID]Allocation

// Clone returns an independent copy of the map.
// Allocation values are plain value types, so a shallow clone of the
// map suffices.
func (m AllocationMap) Clone() AllocationMap {
	if m == nil {
		return AllocationMap{}
	}
	return maps.Clone(m)
}

// PinsForDevice returns the sorted set of pins currently bound to the
// named device. An empty device name never matches; unnamed allocations
// are not considered part of any device group.
func (m AllocationMap) PinsForDevice(device string) []PinID {
	if device == "" {
		return nil
	}
	var pins []PinID
	for pin, alloc := range m {
		if alloc.Device == device {
			pins = append(pins, pin)
		}
	}
	slices.Sort(pins)
	return pins
}

// DeviceGroups returns the pins of the map grouped by device name,
// each group sorted for deterministic iteration. Unnamed allocations
// are omitted. The grouping is derived on demand and never stored.
func (m AllocationMap) DeviceGroups() map[string][]PinID {
	groups := make(map[string][]PinID)
	for pin, alloc := range m {
		if alloc.Device == "" {
			continue
		}
		groups[alloc.Device] = append(groups[alloc.Device], pin)
	}
	for device := range groups {
		slices.Sort(groups[device])
	}
	return groups
}

// SortedPins returns all allocated pins in deterministic order.
func (m AllocationMap) SortedPins() []PinID {
	pins := make([]PinID, 0, len(m))
	for pin := range m {
		pins = append(pins, pin)
	}
	slices.Sort(pins)
	return pins
}

// ExtractionTier identifies which extraction strategy produced a
// candidate allocation. Tiers are ordered by confidence; the extractor
// stops at the first tier that yields candidates.
type ExtractionTier string

const (
	// TierTool marks candidates taken from a structured tool-call
	// payload returned by the model. Highest confidence.
	TierTool ExtractionTier = "tool"

	// TierStructuredBlock marks candidates parsed from a delimited
	// block inside the assistant's reply text.
	TierStructuredBlock ExtractionTier = "structured-block"

	// TierHeuristic marks candidates recovered by the conservative
	// prose scan. Lowest confidence.
	TierHeuristic ExtractionTier = "heuristic"
)

// CandidateAllocation is the transient output of the extractor: an
// allocation that has not yet been reconciled against session state.
// Candidates are never persisted directly.
type CandidateAllocation struct {
	// Pin is the normalized pin identifier the candidate claims.
	Pin PinID `json:"pin"`

	// Function is the peripheral-role label, never empty.
	Function string `json:"function"`

	// Device names the device being wired, when known.
	Device string `json:"device,omitempty"`

	// Notes carries free-form context from the extraction source.
	Notes string `json:"notes,omitempty"`

	// Source records which extraction tier produced this candidate.
	Source ExtractionTier `json:"source"`
}

// Conflict records a candidate that was dropped because its pin already
// belongs to a different device. Conflicts are reported informationally
// and never abort a turn.
type Conflict struct {
	// Pin is the contested pin identifier.
	Pin PinID `json:"pin"`

	// ExistingDevice is the device that keeps the pin.
	ExistingDevice string `json:"existing_device"`

	// CandidateDevice is the device whose claim was dropped.
	CandidateDevice string `json:"candidate_device"`
}

// ChangeSummary describes what a reconciliation pass did to the map.
// It is advisory output for callers and observability; an all-empty
// summary means the turn left the map untouched.
type ChangeSummary struct {
	// Added lists pins newly inserted this turn.
	Added []PinID `json:"added,omitempty"`

	// Removed lists pins evicted by a device reassignment.
	Removed []PinID `json:"removed,omitempty"`

	// Updated lists pins whose stored binding changed in place.
	Updated []PinID `json:"updated,omitempty"`

	// Unchanged lists candidate pins that matched the stored binding
	// exactly and produced no write.
	Unchanged []PinID `json:"unchanged,omitempty"`

	// Conflicts lists candidates dropped by pin-reuse protection.
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// Empty reports whether the reconciliation pass made no changes and
// recorded no conflicts.
func (s ChangeSummary) Empty() bool {
	return len(s.Added) == 0 && len(s.Removed) == 0 &&
		len(s.Updated) == 0 && len(s.Conflicts) == 0
}

// IncompletenessWarning flags a device whose allocated pins cover only
// part of a known multi-pin interface, e.g. a two-wire bus with a clock
// line but no data line. Warnings are advisory and never mutate state.
type IncompletenessWarning struct {
	// Device is the device with partial pin coverage.
	Device string `json:"device"`

	// Interface is the interface class whose role set was matched,
	// e.g. "i2c".
	Interface string `json:"interface"`

	// MissingRoles lists the role labels not yet allocated, sorted.
	MissingRoles []string `json:"missing_roles"`
}

// ToolAllocation is one entry of the structured tool-call payload the
// model may return alongside its reply. The payload is untrusted:
// entries are validated individually and malformed ones are dropped.
type ToolAllocation struct {
	Pin      string `json:"pin" validate:"required"`
	Function string `json:"function" validate:"required"`
	Device   string `json:"device,omitempty"`
	Notes    string `json:"notes,omitempty"`
}
