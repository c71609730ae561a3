package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutMiddleware_CancelsSlowRequests(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.ResponseDelay = 200 * time.Millisecond

	wrapped := TimeoutMiddleware(10 * time.Millisecond)(mock)

	_, err := wrapped.DoRequest(context.Background(), testMessages(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimeoutMiddleware_PassesFastRequests(t *testing.T) {
	mock := NewMockCoreLLM()

	wrapped := TimeoutMiddleware(time.Second)(mock)

	result, err := wrapped.DoRequest(context.Background(), testMessages(), nil)
	require.NoError(t, err)
	assert.Equal(t, "test response", result.Reply)
}

func TestTimeoutMiddleware_RespectsCallerDeadline(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.ResponseDelay = 200 * time.Millisecond

	// The caller's tighter deadline wins over the middleware's.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	wrapped := TimeoutMiddleware(time.Second)(mock)

	_, err := wrapped.DoRequest(ctx, testMessages(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimeoutMiddleware_ModelPassthrough(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := TimeoutMiddleware(time.Second)(mock)

	assert.Equal(t, "test-model", wrapped.GetModel())
	wrapped.SetModel("other-model")
	assert.Equal(t, "other-model", mock.GetModel())
}
