package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocationMap_Clone(t *testing.T) {
	original := AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050"},
	}

	clone := original.Clone()
	clone["PB7"] = Allocation{Function: "SDA", Device: "MPU6050"}

	assert.Len(t, original, 1, "clone must not alias the original")
	assert.Len(t, clone, 2)
}

func TestAllocationMap_CloneNil(t *testing.T) {
	var m AllocationMap
	clone := m.Clone()
	assert.NotNil(t, clone)
	assert.Empty(t, clone)
}

func TestAllocationMap_PinsForDevice(t *testing.T) {
	m := AllocationMap{
		"PB7": {Function: "SDA", Device: "MPU6050"},
		"PB6": {Function: "SCL", Device: "MPU6050"},
		"PA0": {Function: "ADC", Device: "POT1"},
		"PA5": {Function: "GPIO"},
	}

	assert.Equal(t, []PinID{"PB6", "PB7"}, m.PinsForDevice("MPU6050"))
	assert.Equal(t, []PinID{"PA0"}, m.PinsForDevice("POT1"))
	assert.Nil(t, m.PinsForDevice("HC05"))
	assert.Nil(t, m.PinsForDevice(""), "empty device name never matches")
}

func TestAllocationMap_DeviceGroups(t *testing.T) {
	m := AllocationMap{
		"PB6": {Function: "SCL", Device: "MPU6050"},
		"PB7": {Function: "SDA", Device: "MPU6050"},
		"PA9": {Function: "TX", Device: "HC05"},
		"PA5": {Function: "GPIO"},
	}

	groups := m.DeviceGroups()
	assert.Len(t, groups, 2, "unnamed allocations form no group")
	assert.Equal(t, []PinID{"PB6", "PB7"}, groups["MPU6050"])
	assert.Equal(t, []PinID{"PA9"}, groups["HC05"])
}

func TestChangeSummary_Empty(t *testing.T) {
	assert.True(t, ChangeSummary{}.Empty())
	assert.True(t, ChangeSummary{Unchanged: []PinID{"PB6"}}.Empty(),
		"unchanged pins alone still count as no change")
	assert.False(t, ChangeSummary{Added: []PinID{"PB6"}}.Empty())
	assert.False(t, ChangeSummary{Conflicts: []Conflict{{Pin: "PB6"}}}.Empty())
}
