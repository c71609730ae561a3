package units

import (
	"context"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-pinwire/internal/domain"
	"github.com/ahrav/go-pinwire/internal/ports"
)

var _ ports.Unit = (*ReconcilerUnit)(nil)

// ReconcilerUnit merges extracted candidate allocations into the
// session's allocation map under the conflict, reassignment, and
// carry-forward rules:
//
//   - When a device's candidate pin set differs in membership from its
//     existing pin set, the device is being reassigned: all of its
//     existing pins are removed before the new ones are inserted.
//   - When the pin sets are identical, candidates update matching pins
//     in place; stored notes survive unless the candidate sets notes.
//   - A candidate whose pin already belongs to a different device is
//     dropped and reported as a conflict; the existing allocation is
//     never disturbed.
//   - Pins untouched by any candidate are carried forward unchanged.
//
// The set-membership trigger matters because the model tends to
// re-emit the same allocations on every turn where the topic persists;
// keying reassignment on the device name alone would thrash state.
// The unit is stateless and thread-safe for concurrent execution.
type ReconcilerUnit struct {
	// name is the unique identifier for this unit instance.
	name string
	// tracer is the OpenTelemetry tracer for observability.
	tracer trace.Tracer
}

// NewReconcilerUnit creates a new ReconcilerUnit.
func NewReconcilerUnit(name string) (*ReconcilerUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	return &ReconcilerUnit{
		name:   name,
		tracer: otel.Tracer("reconciler-unit"),
	}, nil
}

// Name returns the unique identifier for this unit instance.
func (ru *ReconcilerUnit) Name() string { return ru.name }

// Reconcile merges candidates into the current map and returns the new
// map plus a change summary. The input map is never mutated. The
// operation is idempotent: reconciling the resulting map with the same
// candidate set again yields no further changes.
func Reconcile(
	current domain.AllocationMap,
	candidates []domain.CandidateAllocation,
) (domain.AllocationMap, domain.ChangeSummary) {
	next := current.Clone()
	var summary domain.ChangeSummary

	groups, order := groupCandidates(candidates)

	// Detect reassignments per named device group before inserting
	// anything: a changed pin-set membership evicts every pin the
	// device previously held.
	for _, device := range order {
		if device == "" {
			continue
		}
		existing := next.PinsForDevice(device)
		if len(existing) == 0 {
			continue
		}
		if slices.Equal(existing, candidatePinSet(groups[device])) {
			continue
		}
		for _, pin := range existing {
			delete(next, pin)
		}
	}

	// Insert candidates, honoring pin-reuse protection: an existing
	// allocation belonging to a different device keeps the pin and the
	// candidate is dropped as a conflict.
	touched := make(map[domain.PinID]bool)
	for _, device := range order {
		for _, c := range groups[device] {
			if existing, ok := next[c.Pin]; ok && existing.Device != c.Device {
				summary.Conflicts = append(summary.Conflicts, domain.Conflict{
					Pin:             c.Pin,
					ExistingDevice:  existing.Device,
					CandidateDevice: c.Device,
				})
				continue
			}

			alloc := domain.Allocation{
				Function: c.Function,
				Device:   c.Device,
				Notes:    c.Notes,
			}
			// A candidate without notes leaves stored notes alone.
			if existing, ok := next[c.Pin]; ok && c.Notes == "" {
				alloc.Notes = existing.Notes
			}
			next[c.Pin] = alloc
			touched[c.Pin] = true
		}
	}

	summarizeDiff(current, next, touched, &summary)
	return next, summary
}

// Execute reads the current allocation map and the extracted candidates
// from state, reconciles them, and stores the merged map and change
// summary.
func (ru *ReconcilerUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	_, span := ru.tracer.Start(ctx, "ReconcilerUnit.Execute",
		trace.WithAttributes(
			attribute.String("unit.type", "reconciler"),
			attribute.String("unit.id", ru.name),
		),
	)
	defer span.End()

	current, ok := domain.Get(state, domain.KeyAllocations)
	if !ok {
		err := newMissingStateErr(ru.name, "allocations")
		span.RecordError(err)
		return state, err
	}
	candidates, ok := domain.Get(state, domain.KeyCandidates)
	if !ok {
		err := newMissingStateErr(ru.name, "candidates")
		span.RecordError(err)
		return state, err
	}

	next, summary := Reconcile(current, candidates)

	span.SetAttributes(
		attribute.Int("pins.added", len(summary.Added)),
		attribute.Int("pins.removed", len(summary.Removed)),
		attribute.Int("pins.updated", len(summary.Updated)),
		attribute.Int("conflicts.dropped", len(summary.Conflicts)),
	)

	state = domain.With(state, domain.KeyAllocations, next)
	return domain.With(state, domain.KeyChangeSummary, summary), nil
}

// Validate checks that the unit is properly configured.
func (ru *ReconcilerUnit) Validate() error {
	if ru.name == "" {
		return ErrEmptyUnitName
	}
	return nil
}

// groupCandidates groups candidates by device name, preserving first
// appearance order of devices and input order within a group.
// Candidates with no device name all land in the "" group but are
// treated as singletons: they never participate in reassignment.
func groupCandidates(
	candidates []domain.CandidateAllocation,
) (map[string][]domain.CandidateAllocation, []string) {
	groups := make(map[string][]domain.CandidateAllocation)
	var order []string
	for _, c := range candidates {
		if c.Function == "" {
			// The data model forbids empty functions; such candidates
			// should have been dropped at extraction.
			continue
		}
		if _, ok := groups[c.Device]; !ok {
			order = append(order, c.Device)
		}
		groups[c.Device] = append(groups[c.Device], c)
	}
	return groups, order
}

// candidatePinSet returns the sorted unique pin set of a group.
func candidatePinSet(group []domain.CandidateAllocation) []domain.PinID {
	var pins []domain.PinID
	for _, c := range group {
		if !slices.Contains(pins, c.Pin) {
			pins = append(pins, c.Pin)
		}
	}
	slices.Sort(pins)
	return pins
}

// summarizeDiff fills the Added/Removed/Updated/Unchanged lists by
// diffing the prior and merged maps. Classifying off the final diff
// (rather than during insertion) keeps a pin that was evicted and
// re-inserted in the same turn out of the Removed list.
func summarizeDiff(
	current, next domain.AllocationMap,
	touched map[domain.PinID]bool,
	summary *domain.ChangeSummary,
) {
	for _, pin := range next.SortedPins() {
		prior, existed := current[pin]
		switch {
		case !existed:
			summary.Added = append(summary.Added, pin)
		case prior != next[pin]:
			summary.Updated = append(summary.Updated, pin)
		case touched[pin]:
			summary.Unchanged = append(summary.Unchanged, pin)
		}
	}
	for _, pin := range current.SortedPins() {
		if _, ok := next[pin]; !ok {
			summary.Removed = append(summary.Removed, pin)
		}
	}
}
