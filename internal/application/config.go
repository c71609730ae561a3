// Package application wires the pipeline units, the text-generation
// oracle, and the persistence layer into the turn-processing service.
package application

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-pinwire/internal/domain"
)

// Config is the complete service configuration, loaded from YAML with
// validated defaults for everything the file omits.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" validate:"required"`
	// LLM configures the text-generation oracle.
	LLM LLMConfig `yaml:"llm" validate:"required"`
	// Storage configures session persistence.
	Storage StorageConfig `yaml:"storage" validate:"required"`
	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`
	// Prompt configures how oracle prompts are assembled.
	Prompt PromptConfig `yaml:"prompt"`
}

// ServerConfig defines the HTTP listener settings.
type ServerConfig struct {
	// Addr is the listen address in host:port form.
	Addr string `yaml:"addr" validate:"required,hostname_port"`
	// ReadTimeoutSeconds bounds request header and body reads.
	ReadTimeoutSeconds int `yaml:"read_timeout_seconds" validate:"omitempty,min=1,max=300"`
	// WriteTimeoutSeconds bounds response writes.
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds" validate:"omitempty,min=1,max=300"`
	// ShutdownTimeoutSeconds bounds graceful shutdown on termination.
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds" validate:"omitempty,min=1,max=300"`
}

// LLMConfig defines the oracle provider and its resilience settings.
type LLMConfig struct {
	// Default selects the provider and model in "provider/model" form,
	// e.g. "openai/gpt-4o". The provider's API key is read from its
	// environment variable.
	Default string `yaml:"default" validate:"required,modelformat"`
	// TimeoutSeconds bounds a single oracle request.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"omitempty,min=1,max=600"`
	// MaxRetries caps retry attempts for retryable failures.
	MaxRetries int `yaml:"max_retries" validate:"min=0,max=10"`
	// RequestsPerSecond rate-limits outbound oracle requests.
	// Zero disables rate limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0,max=1000"`
	// Burst is the rate limiter's burst allowance.
	Burst int `yaml:"burst" validate:"omitempty,min=1,max=1000"`
	// CircuitFailures is the consecutive-failure count that opens the
	// circuit breaker. Zero disables the breaker.
	CircuitFailures int `yaml:"circuit_failures" validate:"min=0,max=100"`
	// CircuitCooldownSeconds is how long an open circuit waits before
	// probing the provider again.
	CircuitCooldownSeconds int `yaml:"circuit_cooldown_seconds" validate:"omitempty,min=1,max=3600"`
	// Temperature is the sampling temperature for oracle requests.
	Temperature float64 `yaml:"temperature" validate:"min=0,max=2"`
	// MaxTokens caps the oracle's reply length.
	MaxTokens int `yaml:"max_tokens" validate:"omitempty,min=1,max=100000"`
}

// StorageConfig defines session persistence settings.
type StorageConfig struct {
	// Path is the SQLite database file location.
	Path string `yaml:"path" validate:"required"`
	// MaxHistory bounds the per-session conversation history.
	MaxHistory int `yaml:"max_history" validate:"min=0,max=500"`
	// SessionTTLMinutes is how long an idle session survives before the
	// expiry sweep removes it.
	SessionTTLMinutes int `yaml:"session_ttl_minutes" validate:"omitempty,min=1,max=44640"`
	// SweepIntervalMinutes is how often the expiry sweep runs.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes" validate:"omitempty,min=1,max=1440"`
}

// LoggingConfig defines structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	// Encoding selects the log output format.
	Encoding string `yaml:"encoding" validate:"omitempty,oneof=json console"`
}

// PromptConfig defines how the oracle's prompt context is assembled.
type PromptConfig struct {
	// ReferenceLimit caps how many reference entries are folded into the
	// system prompt per turn. Zero disables reference enrichment.
	ReferenceLimit int `yaml:"reference_limit" validate:"min=0,max=20"`
	// HistoryTokenBudget bounds how much conversation history is sent to
	// the oracle, in estimated tokens. Oldest turns drop first.
	HistoryTokenBudget int `yaml:"history_token_budget" validate:"omitempty,min=100,max=100000"`
	// SystemPrompt overrides the built-in system prompt when set.
	SystemPrompt string `yaml:"system_prompt" validate:"max=8000"`
}

// DefaultConfig returns the configuration used when the file omits a
// setting.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:                   "127.0.0.1:8080",
			ReadTimeoutSeconds:     15,
			WriteTimeoutSeconds:    60,
			ShutdownTimeoutSeconds: 10,
		},
		LLM: LLMConfig{
			Default:                "openai/gpt-4o",
			TimeoutSeconds:         60,
			MaxRetries:             3,
			RequestsPerSecond:      5,
			Burst:                  10,
			CircuitFailures:        5,
			CircuitCooldownSeconds: 30,
			Temperature:            0.2,
			MaxTokens:              1024,
		},
		Storage: StorageConfig{
			Path:                 "pinwire.db",
			MaxHistory:           40,
			SessionTTLMinutes:    24 * 60,
			SweepIntervalMinutes: 15,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Prompt: PromptConfig{
			ReferenceLimit:     5,
			HistoryTokenBudget: 4000,
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults and
// validates the result. An empty path returns the validated defaults.
// Unknown fields are rejected to catch configuration typos.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(raw))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file (check for typos): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags. Failures
// wrap domain.ErrInvalidConfiguration so callers can classify them.
func (c Config) Validate() error {
	v := validator.New()
	if err := RegisterConfigValidators(v); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}
	return nil
}

// RequestTimeout returns the oracle request timeout.
func (c LLMConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CircuitCooldown returns the open-circuit probe delay.
func (c LLMConfig) CircuitCooldown() time.Duration {
	return time.Duration(c.CircuitCooldownSeconds) * time.Second
}

// SessionTTL returns the idle-session expiry threshold.
func (c StorageConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// SweepInterval returns the expiry sweep cadence.
func (c StorageConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// ReadTimeout returns the HTTP read timeout.
func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the HTTP write timeout.
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown deadline.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
