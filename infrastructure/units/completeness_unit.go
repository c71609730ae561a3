package units

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-pinwire/internal/domain"
	"github.com/ahrav/go-pinwire/internal/ports"
)

var _ ports.Unit = (*CompletenessUnit)(nil)

// DefaultInterfaceRoles returns the built-in table of expected role
// sets for known multi-pin interface classes. A device whose allocated
// roles overlap a class without covering it is flagged as incomplete.
func DefaultInterfaceRoles() map[string][]string {
	return map[string][]string{
		"i2c":  {"SCL", "SDA"},
		"spi":  {"SCK", "MOSI", "MISO"},
		"uart": {"TX", "RX"},
	}
}

// CompletenessUnit inspects the merged allocation map grouped by device
// and flags multi-pin protocols that have only partial pin coverage,
// e.g. a two-wire bus with a clock line allocated but no data line.
// Its warnings are advisory output for the conversation layer and
// never mutate the map. A device whose roles match no known interface
// class is never flagged.
// The unit is stateless and thread-safe for concurrent execution.
type CompletenessUnit struct {
	// name is the unique identifier for this unit instance.
	name string
	// roleSets maps interface class names to their expected role sets.
	roleSets map[string][]string
	// tracer is the OpenTelemetry tracer for observability.
	tracer trace.Tracer
}

// NewCompletenessUnit creates a new CompletenessUnit. A nil roleSets
// installs the built-in DefaultInterfaceRoles table; passing a custom
// table lets the reference layer extend coverage without touching this
// unit.
func NewCompletenessUnit(name string, roleSets map[string][]string) (*CompletenessUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	if roleSets == nil {
		roleSets = DefaultInterfaceRoles()
	}
	for class, roles := range roleSets {
		if class == "" || len(roles) < 2 {
			return nil, fmt.Errorf("interface class %q must name at least two roles", class)
		}
	}

	return &CompletenessUnit{
		name:     name,
		roleSets: roleSets,
		tracer:   otel.Tracer("completeness-unit"),
	}, nil
}

// Name returns the unique identifier for this unit instance.
func (cu *CompletenessUnit) Name() string { return cu.name }

// DetectIncomplete computes incompleteness warnings for the map,
// sorted by device then interface class for deterministic output.
func (cu *CompletenessUnit) DetectIncomplete(m domain.AllocationMap) []domain.IncompletenessWarning {
	groups := m.DeviceGroups()

	devices := make([]string, 0, len(groups))
	for device := range groups {
		devices = append(devices, device)
	}
	slices.Sort(devices)

	classes := make([]string, 0, len(cu.roleSets))
	for class := range cu.roleSets {
		classes = append(classes, class)
	}
	slices.Sort(classes)

	var warnings []domain.IncompletenessWarning
	for _, device := range devices {
		present := make(map[string]bool)
		for _, pin := range groups[device] {
			present[strings.ToUpper(m[pin].Function)] = true
		}

		for _, class := range classes {
			var hits int
			var missing []string
			for _, role := range cu.roleSets[class] {
				if present[role] {
					hits++
				} else {
					missing = append(missing, role)
				}
			}
			if hits == 0 || len(missing) == 0 {
				continue
			}
			slices.Sort(missing)
			warnings = append(warnings, domain.IncompletenessWarning{
				Device:       device,
				Interface:    class,
				MissingRoles: missing,
			})
		}
	}
	return warnings
}

// Execute reads the merged allocation map from state and stores the
// warning list under domain.KeyWarnings.
func (cu *CompletenessUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	_, span := cu.tracer.Start(ctx, "CompletenessUnit.Execute",
		trace.WithAttributes(
			attribute.String("unit.type", "completeness"),
			attribute.String("unit.id", cu.name),
		),
	)
	defer span.End()

	allocations, ok := domain.Get(state, domain.KeyAllocations)
	if !ok {
		err := newMissingStateErr(cu.name, "allocations")
		span.RecordError(err)
		return state, err
	}

	warnings := cu.DetectIncomplete(allocations)
	span.SetAttributes(attribute.Int("warnings.count", len(warnings)))

	return domain.With(state, domain.KeyWarnings, warnings), nil
}

// Validate checks that the unit is properly configured.
func (cu *CompletenessUnit) Validate() error {
	if cu.name == "" {
		return ErrEmptyUnitName
	}
	if len(cu.roleSets) == 0 {
		return fmt.Errorf("unit %s: no interface role sets configured", cu.name)
	}
	return nil
}
