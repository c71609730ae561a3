package units

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-pinwire/internal/domain"
)

func TestReconcile_InsertIntoEmptyMap(t *testing.T) {
	candidates := []domain.CandidateAllocation{
		{Pin: "PB6", Function: "SCL", Device: "MPU6050", Source: domain.TierTool},
		{Pin: "PB7", Function: "SDA", Device: "MPU6050", Source: domain.TierTool},
	}

	next, summary := Reconcile(domain.AllocationMap{}, candidates)

	assert.Equal(t, domain.AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050"},
		"PB7": {Function: "SDA", Device: "MPU6050"},
	}, next)
	assert.Equal(t, []domain.PinID{"PB6", "PB7"}, summary.Added)
	assert.Empty(t, summary.Removed)
	assert.Empty(t, summary.Conflicts)
}

func TestReconcile_Reassignment(t *testing.T) {
	current := domain.AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050"},
		"PB7": {Function: "SDA", Device: "MPU6050"},
	}
	candidates := []domain.CandidateAllocation{
		{Pin: "PB8", Function: "SCL", Device: "MPU6050"},
		{Pin: "PB9", Function: "SDA", Device: "MPU6050"},
	}

	next, summary := Reconcile(current, candidates)

	assert.Equal(t, domain.AllocationMap{
		"PB8": {Function: "SCL", Device: "MPU6050"},
		"PB9": {Function: "SDA", Device: "MPU6050"},
	}, next)
	assert.Equal(t, []domain.PinID{"PB8", "PB9"}, summary.Added)
	assert.Equal(t, []domain.PinID{"PB6", "PB7"}, summary.Removed)
}

func TestReconcile_UpdateInPlaceDoesNotEvict(t *testing.T) {
	current := domain.AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050"},
		"PB7": {Function: "SDA", Device: "MPU6050"},
	}
	candidates := []domain.CandidateAllocation{
		{Pin: "PB6", Function: "SCL", Device: "MPU6050", Notes: "x"},
		{Pin: "PB7", Function: "SDA", Device: "MPU6050"},
	}

	next, summary := Reconcile(current, candidates)

	assert.Equal(t, domain.AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050", Notes: "x"},
		"PB7": {Function: "SDA", Device: "MPU6050"},
	}, next)
	assert.Equal(t, []domain.PinID{"PB6"}, summary.Updated)
	assert.Equal(t, []domain.PinID{"PB7"}, summary.Unchanged)
	assert.Empty(t, summary.Removed)
	assert.Empty(t, summary.Added)
}

func TestReconcile_StoredNotesSurviveSilentCandidate(t *testing.T) {
	current := domain.AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050", Notes: "4.7k pull-up"},
		"PB7": {Function: "SDA", Device: "MPU6050"},
	}
	// The model re-emits the same wiring without notes; the stored
	// notes must not be wiped.
	candidates := []domain.CandidateAllocation{
		{Pin: "PB6", Function: "SCL", Device: "MPU6050"},
		{Pin: "PB7", Function: "SDA", Device: "MPU6050"},
	}

	next, summary := Reconcile(current, candidates)

	assert.Equal(t, "4.7k pull-up", next["PB6"].Notes)
	assert.True(t, summary.Empty())
}

func TestReconcile_NoSilentPinTheft(t *testing.T) {
	current := domain.AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050"},
	}
	candidates := []domain.CandidateAllocation{
		{Pin: "PB6", Function: "TX", Device: "HC05"},
	}

	next, summary := Reconcile(current, candidates)

	// The existing entry keeps the pin; the candidate is dropped and
	// reported, never persisted.
	assert.Equal(t, current, next)
	require.Len(t, summary.Conflicts, 1)
	assert.Equal(t, domain.Conflict{
		Pin:             "PB6",
		ExistingDevice:  "MPU6050",
		CandidateDevice: "HC05",
	}, summary.Conflicts[0])
	assert.Empty(t, summary.Added)
}

func TestReconcile_UnnamedCandidateCannotStealNamedPin(t *testing.T) {
	current := domain.AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050"},
	}
	candidates := []domain.CandidateAllocation{
		{Pin: "PB6", Function: "GPIO"},
	}

	next, summary := Reconcile(current, candidates)

	assert.Equal(t, current, next)
	require.Len(t, summary.Conflicts, 1)
	assert.Equal(t, "MPU6050", summary.Conflicts[0].ExistingDevice)
}

func TestReconcile_CarryForwardUntouchedPins(t *testing.T) {
	current := domain.AllocationMap{
		"PA0": {Function: "ADC", Device: "POT1"},
		"PB6": {Function: "SCL", Device: "MPU6050"},
		"PB7": {Function: "SDA", Device: "MPU6050"},
	}
	candidates := []domain.CandidateAllocation{
		{Pin: "PB8", Function: "SCL", Device: "MPU6050"},
		{Pin: "PB9", Function: "SDA", Device: "MPU6050"},
	}

	next, _ := Reconcile(current, candidates)

	// POT1 is unrelated to the MPU6050 reassignment and survives.
	assert.Equal(t, domain.Allocation{Function: "ADC", Device: "POT1"}, next["PA0"])
	assert.NotContains(t, next, domain.PinID("PB6"))
	assert.NotContains(t, next, domain.PinID("PB7"))
}

func TestReconcile_RepeatedMentionDoesNotThrash(t *testing.T) {
	// The model repeats the same instruction across turns; the device
	// name matching an existing group with an identical pin set must
	// not evict anything.
	current := domain.AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050"},
		"PB7": {Function: "SDA", Device: "MPU6050"},
	}
	candidates := []domain.CandidateAllocation{
		{Pin: "PB6", Function: "SCL", Device: "MPU6050"},
		{Pin: "PB7", Function: "SDA", Device: "MPU6050"},
	}

	next, summary := Reconcile(current, candidates)
	assert.Equal(t, current, next)
	assert.True(t, summary.Empty())
	assert.Equal(t, []domain.PinID{"PB6", "PB7"}, summary.Unchanged)
}

func TestReconcile_Idempotence(t *testing.T) {
	current := domain.AllocationMap{
		"PA0": {Function: "ADC", Device: "POT1"},
		"PB6": {Function: "SCL", Device: "MPU6050"},
	}
	candidates := []domain.CandidateAllocation{
		{Pin: "PB8", Function: "SCL", Device: "MPU6050"},
		{Pin: "PB9", Function: "SDA", Device: "MPU6050", Notes: "short leads"},
		{Pin: "PA5", Function: "GPIO"},
	}

	once, _ := Reconcile(current, candidates)
	twice, summary := Reconcile(once, candidates)

	assert.Equal(t, once, twice)
	assert.True(t, summary.Empty(), "second application must be a no-op, got %+v", summary)
}

func TestReconcile_OverlappingReassignment(t *testing.T) {
	// {PB6, PB7} -> {PB6, PB8}: membership changed, so the device is
	// reassigned, but PB6 is re-inserted and must not appear removed.
	current := domain.AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050"},
		"PB7": {Function: "SDA", Device: "MPU6050"},
	}
	candidates := []domain.CandidateAllocation{
		{Pin: "PB6", Function: "SCL", Device: "MPU6050"},
		{Pin: "PB8", Function: "SDA", Device: "MPU6050"},
	}

	next, summary := Reconcile(current, candidates)

	assert.Equal(t, domain.AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050"},
		"PB8": {Function: "SDA", Device: "MPU6050"},
	}, next)
	assert.Equal(t, []domain.PinID{"PB8"}, summary.Added)
	assert.Equal(t, []domain.PinID{"PB7"}, summary.Removed)
	assert.NotContains(t, summary.Removed, domain.PinID("PB6"))
}

func TestReconcile_EmptyCandidatesIsNoChange(t *testing.T) {
	current := domain.AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050"},
	}

	next, summary := Reconcile(current, nil)

	assert.Equal(t, current, next)
	assert.True(t, summary.Empty())
}

func TestReconcile_InputMapNotMutated(t *testing.T) {
	current := domain.AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050"},
	}
	candidates := []domain.CandidateAllocation{
		{Pin: "PB8", Function: "SCL", Device: "MPU6050"},
	}

	_, _ = Reconcile(current, candidates)

	assert.Equal(t, domain.AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050"},
	}, current, "Reconcile must treat its input as a snapshot")
}

func TestReconcilerUnit_Execute(t *testing.T) {
	unit, err := NewReconcilerUnit("reconciler")
	require.NoError(t, err)
	require.NoError(t, unit.Validate())
	assert.Equal(t, "reconciler", unit.Name())

	state := domain.NewState()
	state = domain.With(state, domain.KeyAllocations, domain.AllocationMap{})
	state = domain.With(state, domain.KeyCandidates, []domain.CandidateAllocation{
		{Pin: "PB6", Function: "SCL", Device: "MPU6050", Source: domain.TierTool},
	})

	next, err := unit.Execute(context.Background(), state)
	require.NoError(t, err)

	merged, ok := domain.Get(next, domain.KeyAllocations)
	require.True(t, ok)
	assert.Contains(t, merged, domain.PinID("PB6"))

	summary, ok := domain.Get(next, domain.KeyChangeSummary)
	require.True(t, ok)
	assert.Equal(t, []domain.PinID{"PB6"}, summary.Added)
}

func TestReconcilerUnit_ExecuteMissingKeys(t *testing.T) {
	unit, err := NewReconcilerUnit("reconciler")
	require.NoError(t, err)

	_, err = unit.Execute(context.Background(), domain.NewState())
	assert.Error(t, err)

	state := domain.With(domain.NewState(), domain.KeyAllocations, domain.AllocationMap{})
	_, err = unit.Execute(context.Background(), state)
	assert.Error(t, err)
}
