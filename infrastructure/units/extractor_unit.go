package units

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-pinwire/internal/domain"
	"github.com/ahrav/go-pinwire/internal/ports"
)

var _ ports.Unit = (*ExtractorUnit)(nil)

// Extractor configuration constants.
const (
	// DefaultBlockStartMarker opens the delimited allocation block the
	// system prompt asks the model to emit.
	DefaultBlockStartMarker = "<<PIN_ALLOCATIONS>>"

	// DefaultBlockEndMarker closes the delimited allocation block.
	DefaultBlockEndMarker = "<<END_PIN_ALLOCATIONS>>"

	// DefaultWindowRadius is the number of bytes of surrounding text
	// the heuristic tier inspects around each pin mention.
	DefaultWindowRadius = 80
)

// negationMarkers disqualify a pin mention in the heuristic tier: text
// like "avoid PB3" or "use PB6 instead of PB3" must not allocate the
// mentioned pin.
var negationMarkers = []string{
	"avoid",
	"instead",
	"don't use",
	"do not use",
	"rather than",
	"not use",
	"steer clear",
}

// ExtractorUnit produces candidate allocations from the assistant's
// reply using the first extraction tier that yields unambiguous
// results: (1) the structured tool-call payload, (2) a delimited block
// in the reply text, (3) a conservative heuristic parse of the prose.
//
// The unit is a pure function of its inputs; the caller is responsible
// for not invoking it on informational turns. It is stateless and
// thread-safe for concurrent execution.
type ExtractorUnit struct {
	// name is the unique identifier for this unit instance.
	name string
	// config contains the validated configuration parameters.
	config ExtractorConfig
	// tracer is the OpenTelemetry tracer for observability.
	tracer trace.Tracer
}

// ExtractorConfig defines the configuration parameters for the
// ExtractorUnit. All fields are validated during unit creation.
type ExtractorConfig struct {
	// BlockStartMarker is the fixed marker that opens the structured
	// allocation block inside reply text.
	BlockStartMarker string `yaml:"block_start_marker" json:"block_start_marker" validate:"required,min=4"`

	// BlockEndMarker is the fixed marker that closes the block.
	BlockEndMarker string `yaml:"block_end_marker" json:"block_end_marker" validate:"required,min=4"`

	// WindowRadius bounds the heuristic tier's context window around
	// each pin mention, in bytes.
	WindowRadius int `yaml:"window_radius" json:"window_radius" validate:"min=16,max=512"`
}

// DefaultExtractorConfig returns an ExtractorConfig with the standard
// markers and window size.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		BlockStartMarker: DefaultBlockStartMarker,
		BlockEndMarker:   DefaultBlockEndMarker,
		WindowRadius:     DefaultWindowRadius,
	}
}

// NewExtractorUnit creates a new ExtractorUnit with the specified
// configuration. Returns an error if configuration validation fails.
func NewExtractorUnit(name string, config ExtractorConfig) (*ExtractorUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if config.BlockStartMarker == config.BlockEndMarker {
		return nil, fmt.Errorf("block start and end markers must differ")
	}

	return &ExtractorUnit{
		name:   name,
		config: config,
		tracer: otel.Tracer("extractor-unit"),
	}, nil
}

// Name returns the unique identifier for this unit instance.
func (eu *ExtractorUnit) Name() string { return eu.name }

// Extract runs the tiered extraction over the reply text, optional
// tool payload, and original user utterance, returning candidate
// allocations from the first tier that produced any. The returned
// slice may be empty; an empty extraction is a valid terminal state
// meaning "no change this turn", never an error.
func (eu *ExtractorUnit) Extract(
	reply string,
	toolPayload []domain.ToolAllocation,
	utterance string,
) []domain.CandidateAllocation {
	candidates, _ := eu.extract(reply, toolPayload, utterance)
	return candidates
}

// extract runs the tiers and additionally reports how many tool payload
// entries were dropped as malformed, for observability.
func (eu *ExtractorUnit) extract(
	reply string,
	toolPayload []domain.ToolAllocation,
	utterance string,
) ([]domain.CandidateAllocation, int) {
	candidates, dropped := eu.extractToolTier(toolPayload)
	if len(candidates) > 0 {
		return candidates, dropped
	}

	if candidates, blockPresent := eu.extractBlockTier(reply); blockPresent {
		// An explicit but empty block means "no allocations intended";
		// the heuristic tier must not second-guess it.
		return candidates, dropped
	}

	return eu.extractHeuristicTier(reply, utterance), dropped
}

// Execute reads the reply, tool payload, and utterance from state and
// stores the extracted candidates under domain.KeyCandidates.
func (eu *ExtractorUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	_, span := eu.tracer.Start(ctx, "ExtractorUnit.Execute",
		trace.WithAttributes(
			attribute.String("unit.type", "extractor"),
			attribute.String("unit.id", eu.name),
		),
	)
	defer span.End()

	reply, ok := domain.Get(state, domain.KeyReply)
	if !ok {
		err := newMissingStateErr(eu.name, "reply")
		span.RecordError(err)
		return state, err
	}
	utterance, _ := domain.Get(state, domain.KeyUtterance)
	toolPayload, _ := domain.Get(state, domain.KeyToolPayload)

	candidates, toolDropped := eu.extract(reply, toolPayload, utterance)

	tier := ""
	if len(candidates) > 0 {
		tier = string(candidates[0].Source)
	}
	span.SetAttributes(
		attribute.Int("candidates.count", len(candidates)),
		attribute.String("candidates.tier", tier),
		attribute.Int("tool_entries.dropped", toolDropped),
	)

	return domain.With(state, domain.KeyCandidates, candidates), nil
}

// Validate checks that the unit is properly configured.
func (eu *ExtractorUnit) Validate() error {
	if eu.name == "" {
		return ErrEmptyUnitName
	}
	if err := validate.Struct(eu.config); err != nil {
		return fmt.Errorf("unit %s: %w", eu.name, err)
	}
	return nil
}

// extractToolTier validates each tool payload entry individually and
// emits candidates for the ones that parse. Malformed entries are
// dropped without failing the tier and counted so the caller can
// surface them; a payload where every entry is malformed yields zero
// candidates and extraction falls through.
func (eu *ExtractorUnit) extractToolTier(payload []domain.ToolAllocation) ([]domain.CandidateAllocation, int) {
	var candidates []domain.CandidateAllocation
	dropped := 0
	for _, entry := range payload {
		if err := validate.Struct(entry); err != nil {
			dropped++
			continue
		}
		pin, err := domain.ParsePinID(entry.Pin)
		if err != nil {
			dropped++
			continue
		}
		function := strings.ToUpper(strings.TrimSpace(entry.Function))
		if function == "" {
			dropped++
			continue
		}
		candidates = append(candidates, domain.CandidateAllocation{
			Pin:      pin,
			Function: function,
			Device:   strings.TrimSpace(entry.Device),
			Notes:    strings.TrimSpace(entry.Notes),
			Source:   domain.TierTool,
		})
	}
	return candidates, dropped
}

// extractBlockTier parses the delimited allocation block, if present.
// The second return value reports whether the block marker was found
// at all: a present-but-empty block still terminates extraction.
// Lines that fail to parse are skipped, honoring the rest of the block.
func (eu *ExtractorUnit) extractBlockTier(reply string) ([]domain.CandidateAllocation, bool) {
	start := strings.Index(reply, eu.config.BlockStartMarker)
	if start < 0 {
		return nil, false
	}

	body := reply[start+len(eu.config.BlockStartMarker):]
	if end := strings.Index(body, eu.config.BlockEndMarker); end >= 0 {
		body = body[:end]
	}
	// A missing end marker is tolerated: truncated model output still
	// yields the lines that made it through.

	var candidates []domain.CandidateAllocation
	for _, line := range strings.Split(body, "\n") {
		candidate, err := parseBlockLine(line)
		if err != nil {
			continue
		}
		candidate.Source = domain.TierStructuredBlock
		candidates = append(candidates, candidate)
	}
	return candidates, true
}

// parseBlockLine parses one pipe-separated block line of the form
//
//	PIN: PB6 | FUNCTION: SCL | DEVICE: MPU6050 | NOTES: pull-up needed
//
// DEVICE and NOTES are optional. Lines without a valid PIN and
// FUNCTION return domain.ErrAmbiguousBlock.
func parseBlockLine(line string) (domain.CandidateAllocation, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return domain.CandidateAllocation{}, domain.ErrAmbiguousBlock
	}

	fields := make(map[string]string, 4)
	for _, segment := range strings.Split(line, "|") {
		key, value, found := strings.Cut(segment, ":")
		if !found {
			continue
		}
		fields[strings.ToUpper(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	pin, err := domain.ParsePinID(fields["PIN"])
	if err != nil {
		return domain.CandidateAllocation{}, errors.Join(domain.ErrAmbiguousBlock, err)
	}
	function := strings.ToUpper(fields["FUNCTION"])
	if function == "" {
		return domain.CandidateAllocation{}, errors.Join(domain.ErrAmbiguousBlock, domain.ErrEmptyFunction)
	}

	return domain.CandidateAllocation{
		Pin:      pin,
		Function: function,
		Device:   fields["DEVICE"],
		Notes:    fields["NOTES"],
	}, nil
}

// extractHeuristicTier scans the reply prose for canonical-looking pin
// tokens and infers function and device from a bounded window of
// surrounding text. It is deliberately conservative: a pin whose
// window carries negation or alternative language is discarded, and a
// missing role token falls back to the generic GPIO role rather than
// guessing. False negatives are preferred over false positives.
func (eu *ExtractorUnit) extractHeuristicTier(reply, utterance string) []domain.CandidateAllocation {
	utteranceDevice := firstDeviceName(utterance)

	var candidates []domain.CandidateAllocation
	seen := make(map[domain.PinID]bool)

	for _, loc := range pinTokenPattern.FindAllStringIndex(reply, -1) {
		pin, err := domain.ParsePinID(reply[loc[0]:loc[1]])
		if err != nil {
			continue
		}
		if seen[pin] {
			continue
		}

		window, pinStart, pinEnd := eu.window(reply, loc[0], loc[1])
		if containsAny(foldCaser.String(window), negationMarkers) {
			continue
		}
		seen[pin] = true

		device := utteranceDevice
		if device == "" {
			device = firstDeviceName(window)
		}

		candidates = append(candidates, domain.CandidateAllocation{
			Pin:      pin,
			Function: inferRole(window, pinStart, pinEnd),
			Device:   device,
			Source:   domain.TierHeuristic,
		})
	}
	return candidates
}

// window returns the bounded slice of text around a pin mention,
// clipped at clause boundaries so that "avoid PB3; use PA8" does not
// poison PA8 with PB3's negation. It also returns the pin span's
// position relative to the window.
func (eu *ExtractorUnit) window(text string, start, end int) (string, int, int) {
	lo := start - eu.config.WindowRadius
	if lo < 0 {
		lo = 0
	}
	hi := end + eu.config.WindowRadius
	if hi > len(text) {
		hi = len(text)
	}

	w := text[lo:hi]
	rel := start - lo

	if i := strings.LastIndexAny(w[:rel], clauseDelimiters); i >= 0 {
		w = w[i+1:]
		rel -= i + 1
	}
	relEnd := rel + (end - start)
	if i := strings.IndexAny(w[relEnd:], clauseDelimiters); i >= 0 {
		w = w[:relEnd+i]
	}
	return w, rel, relEnd
}

// clauseDelimiters end the heuristic tier's context window.
const clauseDelimiters = ".;!?\n"

// inferRole returns the role-vocabulary hit closest to the pin span,
// or DefaultRole when the window names no role. Proximity matters:
// in "SCL to PB6 and SDA to PB7" each pin must pick up its own role.
func inferRole(window string, pinStart, pinEnd int) string {
	best := ""
	bestDist := -1
	for _, loc := range roleTokenPattern.FindAllStringIndex(window, -1) {
		role, ok := roleVocabulary[strings.ToUpper(window[loc[0]:loc[1]])]
		if !ok {
			continue
		}
		var dist int
		switch {
		case loc[1] <= pinStart:
			dist = pinStart - loc[1]
		case loc[0] >= pinEnd:
			dist = loc[0] - pinEnd
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = role, dist
		}
	}
	if best == "" {
		return DefaultRole
	}
	return best
}
