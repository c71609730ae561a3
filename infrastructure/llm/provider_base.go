package llm

import (
	"sync"

	"github.com/ahrav/go-pinwire/internal/domain"
)

// BaseProvider provides common, thread-safe functionality for all
// providers, primarily for managing the model name.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

// GetModel returns the currently configured model name.
// It is safe for concurrent use.
func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// SetModel updates the model name for the provider.
// It is safe for concurrent use.
func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// RequestOptions is a standardized set of request parameters
// consolidated across providers.
type RequestOptions struct {
	// MaxTokens specifies the maximum number of tokens to generate.
	MaxTokens int
	// Model is the identifier of the model to use for the request.
	Model string
	// Temperature controls the randomness of the output.
	// A nil value indicates that the provider's default should be used.
	Temperature *float64
	// TopP is nucleus sampling, an alternative to temperature.
	// A nil value indicates that the provider's default should be used.
	TopP *float64
	// DisableTools suppresses the allocation tool for this request,
	// e.g. for purely informational turns.
	DisableTools bool
	// Extra holds provider-specific options not in the standard set.
	Extra map[string]any
}

// ParseRequestOptions extracts and validates request parameters from a
// map, using defaults for missing or invalid entries. Unrecognized
// options are collected into Extra.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		MaxTokens: ExtractOptionalInt(opts, "max_tokens", DefaultMaxTokens, IsPositiveInt),
		Model:     ExtractOptionalString(opts, "model", defaultModel, IsNonEmptyString),
		Extra:     make(map[string]any),
	}

	if temp := ExtractOptionalFloat64(opts, "temperature", -1, IsValidTemperature); temp != -1 {
		options.Temperature = &temp
	}

	if topP := ExtractOptionalFloat64(opts, "top_p", -1, IsValidTopP); topP != -1 {
		options.TopP = &topP
	}

	if disable, ok := opts["disable_tools"].(bool); ok {
		options.DisableTools = disable
	}

	for k, v := range opts {
		switch k {
		case "max_tokens", "model", "temperature", "top_p", "disable_tools":
		// Standard options, already processed.
		default:
			options.Extra[k] = v
		}
	}

	return options
}

// splitSystemMessages separates leading system messages from the rest
// of the conversation. Providers that take the system prompt as a
// distinct parameter use the first return value; providers without a
// system role fold it back into the first user turn.
func splitSystemMessages(messages []domain.Message) (system string, rest []domain.Message) {
	rest = make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

// TokenCounter estimates token counts from text when an exact tokenizer
// is not available for a given model.
type TokenCounter struct {
	// CharactersPerToken is the average number of characters per token,
	// an approximation tunable per model or language.
	CharactersPerToken float64
}

// NewTokenCounter creates a TokenCounter with a default ratio suitable
// for English text.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{CharactersPerToken: 4.0}
}

// EstimateTokens calculates an estimated token count for the text.
func (tc *TokenCounter) EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text)) / tc.CharactersPerToken)
}

// GetTokenCount returns the actual token count if available and
// positive, otherwise an estimate based on the text.
func (tc *TokenCounter) GetTokenCount(actualCount int, text string) int {
	if actualCount > 0 {
		return actualCount
	}
	return tc.EstimateTokens(text)
}
