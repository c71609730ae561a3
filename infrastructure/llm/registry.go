package llm

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-pinwire/internal/ports"
)

// Registry manages clients for multiple providers with shared default
// settings. Clients are created lazily per provider/model pair and
// cached for reuse, so each pair carries its own rate limiter and
// circuit breaker state.
type Registry struct {
	// providers maps provider names to their configuration.
	providers map[string]ProviderConfig
	// clients maps "provider/model" keys to cached clients.
	clients map[string]ports.LLMClient
	// defaultProvider is the fallback when no provider is specified.
	defaultProvider string
	// defaultMiddleware is applied to all providers unless overridden.
	defaultMiddleware []Middleware
	// defaultTimeout is the default request timeout for all providers.
	defaultTimeout time.Duration
	// defaultEstimator is the token estimator given to every client
	// whose configuration does not supply its own.
	defaultEstimator TokenEstimator

	mu sync.RWMutex
}

// ProviderConfig holds provider-specific configuration, overriding
// registry defaults for a single provider.
type ProviderConfig struct {
	// Type specifies the provider implementation (openai, anthropic, google).
	Type string
	// EnvVar names the environment variable holding the API key.
	EnvVar string
	// DefaultModel is used when a spec omits the model.
	DefaultModel string
	// BaseURL overrides the provider's default API endpoint.
	BaseURL string
	// Middleware is provider-specific middleware, appended after the
	// registry defaults.
	Middleware []Middleware
}

// RegistryConfig holds configuration for the provider registry.
type RegistryConfig struct {
	// Providers defines the available providers and their configurations.
	Providers map[string]ProviderConfig
	// DefaultProvider is used when no provider is specified.
	DefaultProvider string
	// DefaultTimeout sets the default request timeout for all providers.
	DefaultTimeout time.Duration
	// DefaultMiddleware is applied to all providers.
	DefaultMiddleware []Middleware
	// DefaultTokenEstimator is the token estimator shared by all
	// clients the registry creates. Nil falls back to the simple
	// character-based estimator.
	DefaultTokenEstimator TokenEstimator
}

// DefaultProviders provides standard configurations for the supported
// vendors. Applications can use this as a starting point and override
// specific settings.
var DefaultProviders = map[string]ProviderConfig{
	"openai": {
		Type:         "openai",
		EnvVar:       "OPENAI_API_KEY",
		DefaultModel: OpenAIDefaultModel,
	},
	"anthropic": {
		Type:         "anthropic",
		EnvVar:       "ANTHROPIC_API_KEY",
		DefaultModel: AnthropicDefaultModel,
	},
	"google": {
		Type:         "google",
		EnvVar:       "GOOGLE_API_KEY",
		DefaultModel: GoogleDefaultModel,
	},
}

// NewRegistry creates a provider registry with the given configuration.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DefaultProvider == "" {
		return nil, fmt.Errorf("default provider cannot be empty")
	}

	if _, exists := config.Providers[config.DefaultProvider]; !exists {
		return nil, fmt.Errorf("default provider %q not found in providers configuration", config.DefaultProvider)
	}

	return &Registry{
		providers:         config.Providers,
		clients:           make(map[string]ports.LLMClient),
		defaultProvider:   config.DefaultProvider,
		defaultMiddleware: config.DefaultMiddleware,
		defaultTimeout:    config.DefaultTimeout,
		defaultEstimator:  config.DefaultTokenEstimator,
	}, nil
}

// GetDefaultClient returns a client for the default provider with its
// default model.
func (r *Registry) GetDefaultClient() (ports.LLMClient, error) {
	providerConfig, exists := r.providers[r.defaultProvider]
	if !exists {
		return nil, fmt.Errorf("default provider %q not found in configuration", r.defaultProvider)
	}

	return r.GetClient(r.defaultProvider + "/" + providerConfig.DefaultModel)
}

// GetClient retrieves a client by spec. Supported formats:
//   - "provider": the provider with its default model
//   - "provider/model": the provider with the given model
//
// Clients are created lazily on first request and cached.
func (r *Registry) GetClient(spec string) (ports.LLMClient, error) {
	if spec == "" {
		return nil, fmt.Errorf("provider specification cannot be empty; use GetDefaultClient() for default provider")
	}

	provider, model := r.parseSpec(spec)
	key := cacheKey(provider, model)

	r.mu.RLock()
	if client, exists := r.clients[key]; exists {
		r.mu.RUnlock()
		return client, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, exists := r.clients[key]; exists {
		return client, nil
	}

	client, err := r.createClient(provider, model)
	if err != nil {
		return nil, err
	}

	r.clients[key] = client
	return client, nil
}

// RegisterClient registers a client under the given spec using custom
// configuration, inheriting registry defaults.
func (r *Registry) RegisterClient(name string, config ClientConfig) error {
	if name == "" {
		return fmt.Errorf("client name cannot be empty")
	}

	provider, model := r.parseSpec(name)
	if model == "" {
		model = config.Model
	}

	providerConfig, exists := r.providers[provider]
	if !exists {
		return fmt.Errorf("unknown provider %q", provider)
	}

	if config.Timeout == 0 {
		config.Timeout = r.defaultTimeout
	}
	if config.TokenEstimator == nil {
		config.TokenEstimator = r.defaultEstimator
	}
	config.Middleware = append(append([]Middleware{}, r.defaultMiddleware...), config.Middleware...)

	client, err := NewClient(providerConfig.Type, config)
	if err != nil {
		return fmt.Errorf("failed to create client %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[cacheKey(provider, model)] = client
	return nil
}

// InitializeProviders creates clients for every provider whose API key
// environment variable is set. The default provider's key is required.
func (r *Registry) InitializeProviders() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for providerName, providerConfig := range r.providers {
		apiKey := os.Getenv(providerConfig.EnvVar)
		if apiKey == "" {
			if r.defaultProvider == providerName {
				return fmt.Errorf("%s environment variable not set for default provider %q",
					providerConfig.EnvVar, providerName)
			}
			continue
		}

		config := ClientConfig{
			APIKey:         apiKey,
			Model:          providerConfig.DefaultModel,
			BaseURL:        providerConfig.BaseURL,
			Timeout:        r.defaultTimeout,
			TokenEstimator: r.defaultEstimator,
			Middleware:     append(append([]Middleware{}, r.defaultMiddleware...), providerConfig.Middleware...),
		}

		client, err := NewClient(providerConfig.Type, config)
		if err != nil {
			return fmt.Errorf("failed to create %s client: %w", providerName, err)
		}

		r.clients[cacheKey(providerName, providerConfig.DefaultModel)] = client
	}

	return nil
}

// createClient builds a client for the given provider and model,
// loading the API key from the provider's environment variable and
// merging registry defaults.
func (r *Registry) createClient(provider, model string) (ports.LLMClient, error) {
	providerConfig, exists := r.providers[provider]
	if !exists {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	apiKey := os.Getenv(providerConfig.EnvVar)
	if apiKey == "" {
		return nil, fmt.Errorf("%s environment variable not set for provider %q", providerConfig.EnvVar, provider)
	}

	config := ClientConfig{
		APIKey:         apiKey,
		Model:          model,
		BaseURL:        providerConfig.BaseURL,
		Timeout:        r.defaultTimeout,
		TokenEstimator: r.defaultEstimator,
		Middleware:     append(append([]Middleware{}, r.defaultMiddleware...), providerConfig.Middleware...),
	}

	return NewClient(providerConfig.Type, config)
}

// parseSpec extracts provider name and model from a spec string.
func (r *Registry) parseSpec(spec string) (provider, model string) {
	parts := strings.SplitN(spec, "/", 2)
	provider = parts[0]

	if len(parts) > 1 {
		model = parts[1]
	} else if providerConfig, ok := r.providers[provider]; ok {
		model = providerConfig.DefaultModel
	}

	return
}

func cacheKey(provider, model string) string {
	if model == "" {
		return provider
	}
	return provider + "/" + model
}
