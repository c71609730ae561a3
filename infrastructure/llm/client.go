// Package llm provides a unified interface for the text-generation
// providers behind the assistant, with built-in support for rate
// limiting, retries, circuit breaking, metrics, and tracing.
//
// The package abstracts multiple providers (OpenAI, Anthropic, Google)
// behind a common interface while adding operational cross-cutting
// concerns through a middleware pattern. Every provider advertises the
// same allocation-recording tool so the extraction tiers upstream see a
// uniform structured payload regardless of which vendor produced it.
//
// Basic usage:
//
//	client, err := llm.NewClient("openai", llm.ClientConfig{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Model:  "gpt-4o",
//	})
//	result, err := client.Generate(ctx, messages, nil)
//
// With middleware:
//
//	client, err := llm.NewClient("anthropic", llm.ClientConfig{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	    Model:  "claude-4-sonnet",
//	    Middleware: []llm.Middleware{
//	        llm.RateLimitMiddleware(20, 40),
//	        llm.RetryMiddleware(3, 500*time.Millisecond, 10*time.Second),
//	        llm.MetricsMiddleware(metricsCollector),
//	    },
//	})
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ahrav/go-pinwire/internal/domain"
	"github.com/ahrav/go-pinwire/internal/ports"
)

// CoreLLM defines the minimal interface that providers must implement.
// It abstracts the raw request so the middleware system can wrap any
// conforming implementation without knowing vendor details.
type CoreLLM interface {
	// DoRequest sends the role-tagged conversation to the provider and
	// returns the reply plus any structured tool invocation. The opts
	// parameter carries provider-tunable settings such as temperature
	// or max tokens.
	DoRequest(ctx context.Context, messages []domain.Message, opts map[string]any) (*ports.GenerateResult, error)

	// GetModel returns the currently configured model name.
	GetModel() string

	// SetModel updates the model for subsequent requests without
	// recreating the client.
	SetModel(model string)
}

// TokenEstimator provides pluggable token estimation strategies.
// Providers tokenize differently, so this interface allows
// customization of the counting logic used for history trimming
// and rate limiting.
type TokenEstimator interface {
	// EstimateTokens returns an approximate token count for the text.
	EstimateTokens(text string) int
}

// ClientConfig holds all configuration options for creating a client.
type ClientConfig struct {
	// APIKey authenticates requests to the provider.
	APIKey string

	// Model specifies which model to use for requests.
	Model string

	// BaseURL overrides the default API endpoint for the provider.
	// Leave empty to use the provider's default endpoint.
	BaseURL string

	// Timeout sets the maximum duration for individual requests.
	// Zero value means no timeout.
	Timeout time.Duration

	// TokenEstimator provides custom token counting logic.
	// If nil, a simple character-based estimator is used.
	TokenEstimator TokenEstimator

	// Middleware allows custom middleware insertion,
	// applied in the order specified.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM implementation to add cross-cutting
// functionality such as rate limiting, retries, or metrics collection
// without modifying provider logic.
type Middleware func(CoreLLM) CoreLLM

// Client implements ports.LLMClient by wrapping a provider-specific
// CoreLLM with the configured middleware chain.
type Client struct {
	core      CoreLLM
	estimator TokenEstimator
}

var _ ports.LLMClient = (*Client)(nil)

// NewClient creates a client for the named provider. It assembles the
// middleware chain and validates configuration before returning a
// ready-to-use instance.
func NewClient(providerType string, config ClientConfig) (ports.LLMClient, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	factory, ok := providerFactories[providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	// Apply middleware in reverse order so the first middleware is the outermost.
	for i := len(config.Middleware) - 1; i >= 0; i-- {
		core = config.Middleware[i](core)
	}

	estimator := config.TokenEstimator
	if estimator == nil {
		estimator = &SimpleTokenEstimator{}
	}

	return &Client{core: core, estimator: estimator}, nil
}

// Generate sends the conversation to the model and returns its reply
// along with any structured tool payload the model produced.
func (c *Client) Generate(
	ctx context.Context,
	messages []domain.Message,
	options map[string]any,
) (*ports.GenerateResult, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages cannot be empty")
	}
	return c.core.DoRequest(ctx, messages, options)
}

// EstimateTokens returns an approximate token count for the given text
// using the configured TokenEstimator.
func (c *Client) EstimateTokens(text string) (int, error) {
	return c.estimator.EstimateTokens(text), nil
}

// GetModel returns the model name from the underlying provider.
func (c *Client) GetModel() string { return c.core.GetModel() }

// SimpleTokenEstimator provides basic character-based token estimation,
// assuming roughly 4 characters per token. That heuristic works
// reasonably well for English text and pin reference snippets.
type SimpleTokenEstimator struct{}

// EstimateTokens returns an approximate token count for the text.
func (e *SimpleTokenEstimator) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// ProviderFactory creates a CoreLLM implementation from configuration.
// This signature allows the provider registry to create instances
// without knowing their implementation details.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

// Provider factory registry for extensibility. Providers register
// themselves in init so unused vendors can be excluded at build time.
var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory registers a custom provider factory,
// enabling extension with additional vendors without modifying
// the core package.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	providerFactories[providerType] = factory
}
