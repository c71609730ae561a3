package units

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-pinwire/internal/domain"
	"github.com/ahrav/go-pinwire/internal/ports"
)

var _ ports.Unit = (*IntentClassifierUnit)(nil)

// defaultInformationalMarkers is the fixed lexical set associated with
// querying rather than committing. A hit on any of these classifies the
// turn as informational regardless of other signals: pure questions
// mentioning a device or pin family must never allocate.
var defaultInformationalMarkers = []string{
	"which pin",
	"what pin",
	"can i use",
	"could i use",
	"list ",
	"list?",
	"available",
	"tolerant",
	"tolerance",
	"how many",
	"what voltage",
	"what is the",
	"what are the",
	"difference between",
	"tell me about",
	"explain",
}

// defaultWiringVerbs is the fixed set of explicit wiring verbs.
// Substring matching deliberately catches inflections ("connecting",
// "wired up").
var defaultWiringVerbs = []string{
	"connect",
	"wire",
	"wiring",
	"hook up",
	"hook-up",
	"hooked up",
	"attach",
	"interface",
}

// IntentClassifierUnit decides whether a user turn is informational
// (no allocation should occur) or carries connection intent (allocation
// extraction should run). The classification is advisory to the
// extractor and never mutates state itself.
//
// Informational signals take precedence over connection signals, and a
// turn with neither signal defaults to informational: silent
// over-allocation is worse than silent under-allocation.
// The unit is stateless and thread-safe for concurrent execution.
type IntentClassifierUnit struct {
	// name is the unique identifier for this unit instance.
	name string
	// config contains the validated configuration parameters.
	config IntentClassifierConfig
	// tracer is the OpenTelemetry tracer for observability.
	tracer trace.Tracer
}

// IntentClassifierConfig defines optional extensions to the fixed
// lexical sets. The defaults are always active; configuration can only
// add markers, never remove them.
type IntentClassifierConfig struct {
	// ExtraInformationalMarkers are additional query phrases, matched
	// case-insensitively against the utterance.
	ExtraInformationalMarkers []string `yaml:"extra_informational_markers" json:"extra_informational_markers" validate:"max=50,dive,min=2"`

	// ExtraWiringVerbs are additional connection-intent verbs.
	ExtraWiringVerbs []string `yaml:"extra_wiring_verbs" json:"extra_wiring_verbs" validate:"max=50,dive,min=2"`
}

// NewIntentClassifierUnit creates a new IntentClassifierUnit with the
// specified configuration. Returns an error if validation fails.
func NewIntentClassifierUnit(name string, config IntentClassifierConfig) (*IntentClassifierUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &IntentClassifierUnit{
		name:   name,
		config: config,
		tracer: otel.Tracer("intent-classifier-unit"),
	}, nil
}

// Name returns the unique identifier for this unit instance.
func (icu *IntentClassifierUnit) Name() string { return icu.name }

// Classify applies the lexical rules to a single utterance.
// It is exported as a pure function so the classification contract can
// be exercised without constructing pipeline state.
func (icu *IntentClassifierUnit) Classify(utterance string) domain.Intent {
	folded := foldCaser.String(utterance)

	if containsAny(folded, defaultInformationalMarkers) ||
		containsAny(folded, icu.foldedExtras(icu.config.ExtraInformationalMarkers)) {
		return domain.IntentInformational
	}

	if containsAny(folded, defaultWiringVerbs) ||
		containsAny(folded, icu.foldedExtras(icu.config.ExtraWiringVerbs)) {
		return domain.IntentConnection
	}

	// A bare device mention ("MPU6050 on this board") implies wiring
	// interest even without an explicit verb. Pin tokens are excluded
	// by firstDeviceName, and with no device and no verb the
	// conservative default is informational.
	if firstDeviceName(utterance) != "" {
		return domain.IntentConnection
	}

	return domain.IntentInformational
}

// Execute reads the utterance from state and stores the classified
// intent under domain.KeyIntent.
func (icu *IntentClassifierUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	_, span := icu.tracer.Start(ctx, "IntentClassifierUnit.Execute",
		trace.WithAttributes(
			attribute.String("unit.type", "intent_classifier"),
			attribute.String("unit.id", icu.name),
		),
	)
	defer span.End()

	utterance, ok := domain.Get(state, domain.KeyUtterance)
	if !ok {
		err := newMissingStateErr(icu.name, "utterance")
		span.RecordError(err)
		return state, err
	}

	intent := icu.Classify(utterance)
	span.SetAttributes(attribute.String("intent", intent.String()))

	return domain.With(state, domain.KeyIntent, intent), nil
}

// Validate checks that the unit is properly configured.
func (icu *IntentClassifierUnit) Validate() error {
	if icu.name == "" {
		return ErrEmptyUnitName
	}
	if err := validate.Struct(icu.config); err != nil {
		return fmt.Errorf("unit %s: %w", icu.name, err)
	}
	return nil
}

// foldedExtras case-folds configured extra markers for matching.
func (icu *IntentClassifierUnit) foldedExtras(markers []string) []string {
	if len(markers) == 0 {
		return nil
	}
	folded := make([]string, len(markers))
	for i, m := range markers {
		folded[i] = foldCaser.String(m)
	}
	return folded
}
