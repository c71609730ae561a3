package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ahrav/go-pinwire/infrastructure/llm"
	"github.com/ahrav/go-pinwire/infrastructure/units"
	"github.com/ahrav/go-pinwire/internal/domain"
	"github.com/ahrav/go-pinwire/internal/ports"
)

// ErrEmptyUtterance is returned when a turn carries no user text.
var ErrEmptyUtterance = errors.New("utterance cannot be empty")

// defaultSystemPrompt is the built-in oracle instruction. It tells the
// model how to report allocations so the tool tier and the
// structured-block tier both have something to parse.
const defaultSystemPrompt = `You are a pin-allocation assistant for a microcontroller project.
You help the user assign peripheral signals (I2C, SPI, UART, PWM, ADC, GPIO) to MCU pins.

When the user asks you to wire or connect hardware, choose suitable pins and record
every assignment by calling the ` + llm.AllocationToolName + ` tool.
If you cannot call tools, append a block to your reply in exactly this form:

` + units.DefaultBlockStartMarker + `
PIN: PB6 | FUNCTION: SCL | DEVICE: MPU6050 | NOTES: needs pull-ups
` + units.DefaultBlockEndMarker + `

with one line per assignment. Pin identifiers use the form P<port><number>, e.g. PB6.
When the user only asks a question, answer it and do not record any assignments.`

// TurnResult is the outcome of one processed turn: the assistant's
// reply plus the reconciled allocation state and its advisory findings.
type TurnResult struct {
	// SessionID identifies the session the turn belongs to.
	SessionID string `json:"session_id"`

	// Intent is the classifier's verdict for the turn.
	Intent domain.Intent `json:"-"`

	// Reply is the assistant's free-form reply text.
	Reply string `json:"reply"`

	// Allocations is the session's allocation map after the turn.
	Allocations domain.AllocationMap `json:"allocations"`

	// Changes summarizes what reconciliation did this turn.
	Changes domain.ChangeSummary `json:"changes"`

	// Warnings flags devices with partial multi-pin interface coverage.
	Warnings []domain.IncompletenessWarning `json:"warnings,omitempty"`
}

// PipelineConfig tunes prompt assembly and oracle sampling for the
// turn pipeline.
type PipelineConfig struct {
	// ReferenceLimit caps reference entries folded into the system
	// prompt per turn. Zero disables enrichment.
	ReferenceLimit int

	// HistoryTokenBudget bounds conversation history sent to the
	// oracle, in estimated tokens. Zero means no bound.
	HistoryTokenBudget int

	// Temperature is the oracle sampling temperature.
	Temperature float64

	// MaxTokens caps the oracle's reply length. Zero uses the
	// provider default.
	MaxTokens int

	// SystemPrompt overrides the built-in system prompt when set.
	SystemPrompt string
}

// TurnPipeline processes conversation turns: it classifies intent,
// consults the oracle, extracts and reconciles allocations, and
// persists the result. The pipeline holds no per-turn state and is
// safe for concurrent use.
type TurnPipeline struct {
	store     ports.SessionStore
	reference ports.ReferenceStore
	oracle    ports.LLMClient

	classifier   *units.IntentClassifierUnit
	extractor    *units.ExtractorUnit
	reconciler   *units.ReconcilerUnit
	completeness *units.CompletenessUnit

	config  PipelineConfig
	logger  *zap.Logger
	metrics ports.MetricsCollector
	tracer  trace.Tracer
}

// NewTurnPipeline constructs the pipeline and its units. The reference
// store seeds the completeness role table; a nil logger logs nothing.
func NewTurnPipeline(
	store ports.SessionStore,
	reference ports.ReferenceStore,
	oracle ports.LLMClient,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	config PipelineConfig,
) (*TurnPipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("session store cannot be nil")
	}
	if reference == nil {
		return nil, fmt.Errorf("reference store cannot be nil")
	}
	if oracle == nil {
		return nil, fmt.Errorf("llm client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	classifier, err := units.NewIntentClassifierUnit("intent", units.IntentClassifierConfig{})
	if err != nil {
		return nil, fmt.Errorf("create intent classifier: %w", err)
	}
	extractor, err := units.NewExtractorUnit("extractor", units.DefaultExtractorConfig())
	if err != nil {
		return nil, fmt.Errorf("create extractor: %w", err)
	}
	reconciler, err := units.NewReconcilerUnit("reconciler")
	if err != nil {
		return nil, fmt.Errorf("create reconciler: %w", err)
	}
	completeness, err := units.NewCompletenessUnit("completeness", reference.InterfaceRoles())
	if err != nil {
		return nil, fmt.Errorf("create completeness detector: %w", err)
	}

	return &TurnPipeline{
		store:        store,
		reference:    reference,
		oracle:       oracle,
		classifier:   classifier,
		extractor:    extractor,
		reconciler:   reconciler,
		completeness: completeness,
		config:       config,
		logger:       logger,
		metrics:      metrics,
		tracer:       otel.Tracer("turn-pipeline"),
	}, nil
}

// ProcessTurn runs one conversation turn end to end. The returned
// result reflects persisted state: the session's allocation map and
// history are already updated when ProcessTurn returns nil error.
func (p *TurnPipeline) ProcessTurn(
	ctx context.Context, sessionID, utterance string,
) (*TurnResult, error) {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "pipeline.process_turn",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	if strings.TrimSpace(utterance) == "" {
		span.RecordError(ErrEmptyUtterance)
		return nil, ErrEmptyUtterance
	}

	sess, err := p.store.Get(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	state := domain.NewState()
	state = domain.With(state, domain.KeySessionID, sessionID)
	state = domain.With(state, domain.KeyUtterance, utterance)
	state = domain.With(state, domain.KeyAllocations, sess.Allocations.Clone())

	state, err = p.classifier.Execute(ctx, state)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("classify intent: %w", err)
	}
	intent, _ := domain.Get(state, domain.KeyIntent)
	span.SetAttributes(attribute.String("turn.intent", intent.String()))

	messages := p.buildMessages(sess, utterance)
	opts := p.requestOptions(intent)

	generated, err := p.oracle.Generate(ctx, messages, opts)
	if err != nil {
		p.recordTurn(intent, "error", time.Since(start))
		p.logger.Error("oracle request failed",
			zap.String("session_id", sessionID),
			zap.String("model", p.oracle.GetModel()),
			zap.Error(err),
		)
		span.RecordError(err)
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	state = domain.With(state, domain.KeyReply, generated.Reply)
	state = domain.With(state, domain.KeyToolPayload, generated.ToolCalls)

	result := &TurnResult{
		SessionID:   sessionID,
		Intent:      intent,
		Reply:       generated.Reply,
		Allocations: sess.Allocations.Clone(),
	}

	if intent == domain.IntentConnection {
		if state, err = p.runExtraction(ctx, state); err != nil {
			p.recordTurn(intent, "error", time.Since(start))
			span.RecordError(err)
			return nil, err
		}
		result.Allocations, _ = domain.Get(state, domain.KeyAllocations)
		result.Changes, _ = domain.Get(state, domain.KeyChangeSummary)
		result.Warnings, _ = domain.Get(state, domain.KeyWarnings)

		if candidates, _ := domain.Get(state, domain.KeyCandidates); len(candidates) > 0 && p.metrics != nil {
			p.metrics.RecordCounter("extraction_tier_total", 1,
				map[string]string{"tier": string(candidates[0].Source)})
		}
	}

	now := time.Now().UTC()
	delta := []domain.Message{
		{Role: domain.RoleUser, Content: utterance, CreatedAt: now},
		{Role: domain.RoleAssistant, Content: generated.Reply, CreatedAt: now},
	}
	if err := p.store.Put(ctx, sessionID, result.Allocations, delta); err != nil {
		p.recordTurn(intent, "error", time.Since(start))
		span.RecordError(err)
		return nil, fmt.Errorf("persist turn: %w", err)
	}

	p.recordTurn(intent, "success", time.Since(start))
	p.recordFindings(result)
	p.logger.Info("turn processed",
		zap.String("session_id", sessionID),
		zap.String("intent", intent.String()),
		zap.Int("added", len(result.Changes.Added)),
		zap.Int("updated", len(result.Changes.Updated)),
		zap.Int("removed", len(result.Changes.Removed)),
		zap.Int("conflicts", len(result.Changes.Conflicts)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Duration("duration", time.Since(start)),
	)

	return result, nil
}

// runExtraction executes the extraction, reconciliation, and
// completeness units in order on connection turns.
func (p *TurnPipeline) runExtraction(
	ctx context.Context, state domain.State,
) (domain.State, error) {
	var err error
	if state, err = p.extractor.Execute(ctx, state); err != nil {
		return state, fmt.Errorf("extract candidates: %w", err)
	}
	if state, err = p.reconciler.Execute(ctx, state); err != nil {
		return state, fmt.Errorf("reconcile allocations: %w", err)
	}
	if state, err = p.completeness.Execute(ctx, state); err != nil {
		return state, fmt.Errorf("detect incompleteness: %w", err)
	}
	return state, nil
}

// buildMessages assembles the oracle conversation: system prompt with
// reference and allocation context, bounded history, and the new
// utterance.
func (p *TurnPipeline) buildMessages(
	sess *domain.Session, utterance string,
) []domain.Message {
	var sb strings.Builder
	if p.config.SystemPrompt != "" {
		sb.WriteString(p.config.SystemPrompt)
	} else {
		sb.WriteString(defaultSystemPrompt)
	}

	if p.config.ReferenceLimit > 0 {
		if entries := p.reference.Search(utterance, p.config.ReferenceLimit); len(entries) > 0 {
			sb.WriteString("\n\nReference material:\n")
			for _, entry := range entries {
				sb.WriteString("- ")
				sb.WriteString(entry.Text)
				sb.WriteString("\n")
			}
		}
	}

	if len(sess.Allocations) > 0 {
		sb.WriteString("\nCurrent pin allocations:\n")
		for _, pin := range sess.Allocations.SortedPins() {
			alloc := sess.Allocations[pin]
			sb.WriteString(fmt.Sprintf("- %s: %s", pin, alloc.Function))
			if alloc.Device != "" {
				sb.WriteString(" (" + alloc.Device + ")")
			}
			if alloc.Notes != "" {
				sb.WriteString(" | " + alloc.Notes)
			}
			sb.WriteString("\n")
		}
	}

	messages := []domain.Message{{Role: domain.RoleSystem, Content: sb.String()}}
	messages = append(messages, p.trimHistory(sess.History)...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: utterance})
	return messages
}

// trimHistory drops the oldest history entries until the remainder
// fits the token budget. Estimation errors count the message at its
// character length so a flaky estimator never silently drops history.
func (p *TurnPipeline) trimHistory(history []domain.Message) []domain.Message {
	if p.config.HistoryTokenBudget <= 0 {
		return history
	}

	total := 0
	cut := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		tokens, err := p.oracle.EstimateTokens(history[i].Content)
		if err != nil {
			tokens = len(history[i].Content)
		}
		if total+tokens > p.config.HistoryTokenBudget {
			break
		}
		total += tokens
		cut = i
	}
	return history[cut:]
}

// requestOptions maps the pipeline configuration onto per-request
// oracle options. Informational turns suppress the allocation tool so
// a chatty model cannot mutate the map on a question.
func (p *TurnPipeline) requestOptions(intent domain.Intent) map[string]any {
	opts := map[string]any{
		"temperature": p.config.Temperature,
	}
	if p.config.MaxTokens > 0 {
		opts["max_tokens"] = p.config.MaxTokens
	}
	if intent == domain.IntentInformational {
		opts["disable_tools"] = true
	}
	return opts
}

func (p *TurnPipeline) recordTurn(intent domain.Intent, status string, elapsed time.Duration) {
	if p.metrics == nil {
		return
	}
	labels := map[string]string{
		"intent": intent.String(),
		"status": status,
	}
	p.metrics.RecordCounter("turns_total", 1, labels)
	p.metrics.RecordHistogram("turn_duration_seconds", elapsed.Seconds(), labels)
}

func (p *TurnPipeline) recordFindings(result *TurnResult) {
	if p.metrics == nil {
		return
	}
	if n := len(result.Changes.Conflicts); n > 0 {
		p.metrics.RecordCounter("allocation_conflicts_total", float64(n), nil)
	}
	if n := len(result.Warnings); n > 0 {
		p.metrics.RecordCounter("incompleteness_warnings_total", float64(n), nil)
	}
}
