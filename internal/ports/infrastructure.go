package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-pinwire/internal/domain"
)

// GenerateResult is the oracle's output for one turn: the free-form
// reply text and, when the model chose to invoke the allocation tool,
// the structured payload it supplied. The payload is untrusted and may
// be malformed; the extractor validates each entry individually.
type GenerateResult struct {
	// Reply is the assistant's free-form reply text.
	Reply string

	// ToolCalls holds the entries of the structured tool invocation,
	// or nil when the model returned text only.
	ToolCalls []domain.ToolAllocation

	// TokensIn and TokensOut report token usage for observability.
	TokensIn  int
	TokensOut int
}

// LLMClient is the text-generation oracle boundary. Given a role-tagged
// message sequence it returns free text and optionally a structured
// tool invocation. Implementations handle provider specifics, rate
// limiting, retries, and timeouts; the engine treats the result as
// untrusted input.
type LLMClient interface {
	// Generate sends the conversation to the model and returns its
	// reply. The options map carries provider-specific settings such
	// as "temperature" (float64) and "max_tokens" (int).
	Generate(ctx context.Context, messages []domain.Message, options map[string]any) (*GenerateResult, error)

	// EstimateTokens returns an approximate token count for the text,
	// used to keep the bounded history within model limits.
	EstimateTokens(text string) (int, error)

	// GetModel returns the model identifier, for logging and metrics.
	GetModel() string
}

// SessionStore is the persistence boundary for sessions. Each call is
// atomic; the store serializes read-modify-write per session key so the
// engine can treat the allocation map it reads as a consistent snapshot.
type SessionStore interface {
	// Create starts a new empty session and returns it.
	Create(ctx context.Context) (*domain.Session, error)

	// Get returns the session, or domain.ErrSessionNotFound.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Put replaces the session's allocation map and appends the
	// history delta in one atomic write. On failure the previously
	// persisted state is left untouched.
	Put(ctx context.Context, id string, allocations domain.AllocationMap, historyDelta []domain.Message) error

	// DeletePin removes a single pin's allocation from the session.
	// Removing an absent pin is not an error.
	DeletePin(ctx context.Context, id string, pin domain.PinID) error

	// Delete removes the session and its history.
	Delete(ctx context.Context, id string) error

	// Sweep deletes sessions idle longer than maxIdle and reports how
	// many were removed. Expiry is a scheduled storage responsibility,
	// not something the engine triggers per request.
	Sweep(ctx context.Context, maxIdle time.Duration) (int, error)
}

// ReferenceEntry is one hit from the read-only reference tables.
type ReferenceEntry struct {
	// Kind labels the table the entry came from, e.g. "pin" or "device".
	Kind string

	// Key is the entry's lookup key, e.g. "PB6" or "MPU6050".
	Key string

	// Text is a rendered snippet suitable for prompt context.
	Text string
}

// ReferenceStore is the read-only lookup service over static pin and
// device metadata. It is used only to enrich the oracle's input
// context and to seed the completeness role table; it plays no part in
// the extraction or reconciliation contract.
type ReferenceStore interface {
	// Search performs keyword search over the reference tables and
	// returns up to limit entries, best match first.
	Search(query string, limit int) []ReferenceEntry

	// InterfaceRoles returns the expected role sets for known
	// multi-pin interface classes, keyed by class name (e.g. "i2c").
	InterfaceRoles() map[string][]string
}

// MetricsCollector defines the interface for collecting operational
// metrics. Implementations should integrate with observability
// platforms like Prometheus or custom monitoring solutions.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
