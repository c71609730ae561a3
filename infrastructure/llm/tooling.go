package llm

import (
	"encoding/json"
	"fmt"

	"github.com/ahrav/go-pinwire/internal/domain"
)

// AllocationToolName is the function name every provider advertises to
// the model for recording pin allocations. All vendors expose the same
// name and argument shape so the extraction tier sees one payload
// format.
const AllocationToolName = "record_pin_allocations"

// AllocationToolDescription tells the model when to invoke the tool.
const AllocationToolDescription = "Record the pin assignments decided in this reply. " +
	"Call this whenever the reply assigns, moves, or frees microcontroller pins. " +
	"Do not call it for purely informational answers."

// allocationToolSchema is the JSON Schema for the tool's arguments,
// expressed as a generic map so each vendor SDK can consume it in its
// own schema type.
func allocationToolSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"allocations": map[string]any{
				"type":        "array",
				"description": "One entry per pin assigned in the reply.",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"pin": map[string]any{
							"type":        "string",
							"description": "Pin identifier, e.g. PB6.",
						},
						"function": map[string]any{
							"type":        "string",
							"description": "Signal role, e.g. SCL, TX, PWM, GPIO.",
						},
						"device": map[string]any{
							"type":        "string",
							"description": "Peripheral the pin serves, e.g. MPU6050.",
						},
						"notes": map[string]any{
							"type":        "string",
							"description": "Free-form caveats, e.g. pull-up values.",
						},
					},
					"required": []string{"pin", "function"},
				},
			},
		},
		"required": []string{"allocations"},
	}
}

// allocationToolArguments mirrors the tool's JSON argument shape.
type allocationToolArguments struct {
	Allocations []struct {
		Pin      string `json:"pin"`
		Function string `json:"function"`
		Device   string `json:"device"`
		Notes    string `json:"notes"`
	} `json:"allocations"`
}

// decodeToolArguments parses the raw JSON arguments of a tool call into
// the untrusted payload entries the extractor validates. Malformed JSON
// is an error; individually malformed entries are preserved verbatim
// because validation is the extractor's job, not the transport's.
func decodeToolArguments(raw []byte) ([]domain.ToolAllocation, error) {
	var args allocationToolArguments
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("malformed tool arguments: %w", err)
	}

	if len(args.Allocations) == 0 {
		return nil, nil
	}

	out := make([]domain.ToolAllocation, 0, len(args.Allocations))
	for _, a := range args.Allocations {
		out = append(out, domain.ToolAllocation{
			Pin:      a.Pin,
			Function: a.Function,
			Device:   a.Device,
			Notes:    a.Notes,
		})
	}
	return out, nil
}

// decodeToolArgumentMap converts already-decoded argument maps, as
// returned by SDKs that unmarshal function-call arguments themselves,
// into payload entries.
func decodeToolArgumentMap(args map[string]any) ([]domain.ToolAllocation, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("malformed tool arguments: %w", err)
	}
	return decodeToolArguments(raw)
}
