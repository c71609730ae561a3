package llm

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/go-pinwire/internal/domain"
	"github.com/ahrav/go-pinwire/internal/ports"
)

// MockCoreLLM provides a configurable mock implementation of CoreLLM
// for testing. It allows precise control over response behavior,
// timing, and error conditions to facilitate middleware testing.
type MockCoreLLM struct {
	mu sync.Mutex

	// Response configuration.
	Reply         string
	ToolCalls     []domain.ToolAllocation
	TokensIn      int
	TokensOut     int
	Error         error
	Model         string
	ResponseDelay time.Duration

	// FailUntilAttempt makes the first N calls fail, then succeed.
	FailUntilAttempt int

	// Tracking.
	CallCount      int
	LastMessages   []domain.Message
	LastOpts       map[string]any
	CallTimestamps []time.Time
}

// NewMockCoreLLM creates a mock CoreLLM with default successful behavior.
func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{
		Reply:     "test response",
		TokensIn:  10,
		TokensOut: 20,
		Model:     "test-model",
	}
}

// DoRequest implements the CoreLLM interface with configurable behavior.
func (m *MockCoreLLM) DoRequest(
	ctx context.Context,
	messages []domain.Message,
	opts map[string]any,
) (*ports.GenerateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	m.LastMessages = messages
	m.LastOpts = opts
	m.CallTimestamps = append(m.CallTimestamps, time.Now())

	if m.ResponseDelay > 0 {
		select {
		case <-time.After(m.ResponseDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.FailUntilAttempt > 0 && m.CallCount <= m.FailUntilAttempt {
		if m.Error != nil {
			return nil, m.Error
		}
		return nil, &testError{message: "simulated failure"}
	}

	if m.Error != nil {
		return nil, m.Error
	}

	return &ports.GenerateResult{
		Reply:     m.Reply,
		ToolCalls: m.ToolCalls,
		TokensIn:  m.TokensIn,
		TokensOut: m.TokensOut,
	}, nil
}

// GetModel returns the configured model name.
func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

// SetModel updates the model name.
func (m *MockCoreLLM) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Model = model
}

// GetCallCount returns the number of times DoRequest was called.
func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// testError is a simple error type for middleware tests. It carries no
// ProviderError classification, so the retry middleware treats it as
// retryable.
type testError struct {
	message string
}

func (e *testError) Error() string { return e.message }
