package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 100

	wrapped := CircuitBreakerMiddleware(3, time.Minute)(mock)

	for i := 0; i < 3; i++ {
		_, err := wrapped.DoRequest(context.Background(), testMessages(), nil)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	// The fourth request is rejected without reaching the provider.
	_, err := wrapped.DoRequest(context.Background(), testMessages(), nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, mock.GetCallCount())
}

func TestCircuitBreaker_RecoversAfterCooldown(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 2

	wrapped := CircuitBreakerMiddleware(2, 20*time.Millisecond)(mock)

	for i := 0; i < 2; i++ {
		_, err := wrapped.DoRequest(context.Background(), testMessages(), nil)
		require.Error(t, err)
	}

	_, err := wrapped.DoRequest(context.Background(), testMessages(), nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	time.Sleep(30 * time.Millisecond)

	// Half-open probe succeeds and closes the circuit.
	result, err := wrapped.DoRequest(context.Background(), testMessages(), nil)
	require.NoError(t, err)
	assert.Equal(t, "test response", result.Reply)

	_, err = wrapped.DoRequest(context.Background(), testMessages(), nil)
	assert.NoError(t, err)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 1

	wrapped := CircuitBreakerMiddleware(2, time.Minute)(mock)

	_, err := wrapped.DoRequest(context.Background(), testMessages(), nil)
	require.Error(t, err)

	for i := 0; i < 5; i++ {
		_, err := wrapped.DoRequest(context.Background(), testMessages(), nil)
		require.NoError(t, err)
	}
}

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	assert.Equal(t, StateClosed, cb.GetState())

	_ = cb.Call(func() error { return &testError{message: "boom"} })
	assert.Equal(t, StateOpen, cb.GetState())

	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen)

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}
