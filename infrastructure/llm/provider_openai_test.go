package llm

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-pinwire/internal/domain"
)

func newTestOpenAIProvider(t *testing.T) *openAIProvider {
	t.Helper()
	core, err := newOpenAIProvider(ClientConfig{APIKey: "test-key", Model: "gpt-4o"})
	require.NoError(t, err)
	return core.(*openAIProvider)
}

func TestNewOpenAIProvider(t *testing.T) {
	tests := []struct {
		name      string
		config    ClientConfig
		wantModel string
		wantError bool
	}{
		{
			name:      "explicit model",
			config:    ClientConfig{APIKey: "key", Model: "gpt-4o-mini"},
			wantModel: "gpt-4o-mini",
		},
		{
			name:      "default model",
			config:    ClientConfig{APIKey: "key"},
			wantModel: OpenAIDefaultModel,
		},
		{
			name:      "missing API key",
			config:    ClientConfig{Model: "gpt-4o"},
			wantError: true,
		},
		{
			name:      "invalid base URL",
			config:    ClientConfig{APIKey: "key", Model: "gpt-4o", BaseURL: "ftp://nope"},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, err := newOpenAIProvider(tt.config)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantModel, core.GetModel())
		})
	}
}

func TestOpenAIProvider_BuildMessages(t *testing.T) {
	p := newTestOpenAIProvider(t)

	got := p.buildMessages([]domain.Message{
		{Role: domain.RoleSystem, Content: "be helpful"},
		{Role: domain.RoleUser, Content: "connect the MPU6050"},
		{Role: domain.RoleAssistant, Content: "SCL to PB6"},
	})

	require.Len(t, got, 3)
	assert.Equal(t, openai.ChatMessageRoleSystem, got[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, got[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, got[2].Role)
}

func TestOpenAIProvider_BuildRequestAdvertisesTool(t *testing.T) {
	p := newTestOpenAIProvider(t)

	req := p.buildChatCompletionRequest(testMessages(), ParseRequestOptions(nil, "gpt-4o"))
	require.Len(t, req.Tools, 1)
	assert.Equal(t, AllocationToolName, req.Tools[0].Function.Name)

	req = p.buildChatCompletionRequest(testMessages(),
		ParseRequestOptions(map[string]any{"disable_tools": true}, "gpt-4o"))
	assert.Empty(t, req.Tools)
}

func TestOpenAIProvider_CollectToolCalls(t *testing.T) {
	p := newTestOpenAIProvider(t)

	calls := []openai.ToolCall{
		{Function: openai.FunctionCall{
			Name:      AllocationToolName,
			Arguments: `{"allocations":[{"pin":"PB6","function":"SCL","device":"MPU6050"}]}`,
		}},
		{Function: openai.FunctionCall{Name: "other_tool", Arguments: `{}`}},
	}

	got, err := p.collectToolCalls(calls)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "PB6", got[0].Pin)
}

func TestOpenAIProvider_CollectToolCallsMalformed(t *testing.T) {
	p := newTestOpenAIProvider(t)

	_, err := p.collectToolCalls([]openai.ToolCall{
		{Function: openai.FunctionCall{Name: AllocationToolName, Arguments: `{"allocations"`}},
	})
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.False(t, provErr.IsRetryable())
}

func TestOpenAIProvider_HandleError(t *testing.T) {
	p := newTestOpenAIProvider(t)

	tests := []struct {
		name          string
		err           error
		wantType      ErrorType
		wantRetryable bool
	}{
		{
			name:          "rate limit",
			err:           &openai.APIError{HTTPStatusCode: 429, Message: "slow down"},
			wantType:      ErrorTypeRateLimit,
			wantRetryable: true,
		},
		{
			name:          "authentication",
			err:           &openai.APIError{HTTPStatusCode: 401, Message: "bad key"},
			wantType:      ErrorTypeAuthentication,
			wantRetryable: false,
		},
		{
			name:          "server error",
			err:           &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"},
			wantType:      ErrorTypeServerError,
			wantRetryable: true,
		},
		{
			name:          "context deadline",
			err:           context.DeadlineExceeded,
			wantType:      ErrorTypeTimeout,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := p.handleError(tt.err)

			var provErr *ProviderError
			require.ErrorAs(t, wrapped, &provErr)
			assert.Equal(t, tt.wantType, provErr.Type)
			assert.Equal(t, tt.wantRetryable, provErr.IsRetryable())
		})
	}
}
