package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_GetMissingKey(t *testing.T) {
	state := NewState()

	utterance, ok := Get(state, KeyUtterance)
	assert.False(t, ok)
	assert.Empty(t, utterance)
}

func TestState_WithDoesNotMutateOriginal(t *testing.T) {
	state := NewState()

	next := With(state, KeyUtterance, "connect the MPU6050")

	_, ok := Get(state, KeyUtterance)
	assert.False(t, ok, "original state must be unchanged")

	got, ok := Get(next, KeyUtterance)
	assert.True(t, ok)
	assert.Equal(t, "connect the MPU6050", got)
}

func TestState_TypedKeysRoundTrip(t *testing.T) {
	state := NewState()
	state = With(state, KeyIntent, IntentConnection)
	state = With(state, KeyCandidates, []CandidateAllocation{
		{Pin: "PB6", Function: "SCL", Device: "MPU6050", Source: TierTool},
	})
	state = With(state, KeyAllocations, AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050"},
	})

	intent, ok := Get(state, KeyIntent)
	assert.True(t, ok)
	assert.Equal(t, IntentConnection, intent)

	candidates, ok := Get(state, KeyCandidates)
	assert.True(t, ok)
	assert.Len(t, candidates, 1)
	assert.Equal(t, TierTool, candidates[0].Source)

	allocations, ok := Get(state, KeyAllocations)
	assert.True(t, ok)
	assert.Contains(t, allocations, PinID("PB6"))
}

func TestState_Keys(t *testing.T) {
	state := With(NewState(), KeyUtterance, "hi")
	state = With(state, KeySessionID, "s-1")

	assert.Equal(t, []string{"session_id", "utterance"}, state.Keys())
}
