package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-pinwire/internal/domain"
)

func TestDecodeToolArguments(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		want      []domain.ToolAllocation
		wantError bool
	}{
		{
			name: "full entries",
			raw: `{"allocations":[
				{"pin":"PB6","function":"SCL","device":"MPU6050","notes":"4.7k pull-up"},
				{"pin":"PB7","function":"SDA","device":"MPU6050"}
			]}`,
			want: []domain.ToolAllocation{
				{Pin: "PB6", Function: "SCL", Device: "MPU6050", Notes: "4.7k pull-up"},
				{Pin: "PB7", Function: "SDA", Device: "MPU6050"},
			},
		},
		{
			name: "entries pass through unvalidated",
			raw:  `{"allocations":[{"pin":"PZ99","function":""}]}`,
			want: []domain.ToolAllocation{{Pin: "PZ99"}},
		},
		{
			name: "empty allocations",
			raw:  `{"allocations":[]}`,
			want: nil,
		},
		{
			name:      "malformed json",
			raw:       `{"allocations":`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeToolArguments([]byte(tt.raw))
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeToolArgumentMap(t *testing.T) {
	got, err := decodeToolArgumentMap(map[string]any{
		"allocations": []any{
			map[string]any{"pin": "PA9", "function": "TX", "device": "HC05"},
		},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.ToolAllocation{Pin: "PA9", Function: "TX", Device: "HC05"}, got[0])
}

func TestAllocationToolSchema(t *testing.T) {
	schema := allocationToolSchema()

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)

	allocations, ok := props["allocations"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "array", allocations["type"])

	items, ok := allocations["items"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"pin", "function"}, items["required"])
}
