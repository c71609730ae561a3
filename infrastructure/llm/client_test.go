package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-pinwire/internal/domain"
	"github.com/ahrav/go-pinwire/internal/ports"
)

func testMessages() []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Content: "You are a pin allocation assistant."},
		{Role: domain.RoleUser, Content: "connect the MPU6050"},
	}
}

func TestNewClient(t *testing.T) {
	RegisterProviderFactory("test-provider", func(config ClientConfig) (CoreLLM, error) {
		mock := NewMockCoreLLM()
		mock.Model = config.Model
		return mock, nil
	})

	tests := []struct {
		name         string
		providerType string
		config       ClientConfig
		wantError    string
	}{
		{
			name:         "valid configuration",
			providerType: "test-provider",
			config:       ClientConfig{APIKey: "key", Model: "test-model"},
		},
		{
			name:         "missing API key",
			providerType: "test-provider",
			config:       ClientConfig{Model: "test-model"},
			wantError:    "API key",
		},
		{
			name:         "missing model",
			providerType: "test-provider",
			config:       ClientConfig{APIKey: "key"},
			wantError:    "model is required",
		},
		{
			name:         "unknown provider",
			providerType: "nope",
			config:       ClientConfig{APIKey: "key", Model: "test-model"},
			wantError:    "unknown provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.providerType, tt.config)
			if tt.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "test-model", client.GetModel())
		})
	}
}

func TestClient_Generate(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Reply = "SCL goes to PB6."
	mock.ToolCalls = []domain.ToolAllocation{
		{Pin: "PB6", Function: "SCL", Device: "MPU6050"},
	}
	client := &Client{core: mock, estimator: &SimpleTokenEstimator{}}

	result, err := client.Generate(context.Background(), testMessages(), map[string]any{"temperature": 0.2})
	require.NoError(t, err)

	assert.Equal(t, "SCL goes to PB6.", result.Reply)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "PB6", result.ToolCalls[0].Pin)
	assert.Equal(t, testMessages(), mock.LastMessages)
}

func TestClient_GenerateEmptyMessages(t *testing.T) {
	client := &Client{core: NewMockCoreLLM(), estimator: &SimpleTokenEstimator{}}

	_, err := client.Generate(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestClient_MiddlewareOrder(t *testing.T) {
	var order []string
	record := func(name string) Middleware {
		return func(next CoreLLM) CoreLLM {
			return &recordingLLM{next: next, name: name, order: &order}
		}
	}

	RegisterProviderFactory("order-test", func(ClientConfig) (CoreLLM, error) {
		return NewMockCoreLLM(), nil
	})

	client, err := NewClient("order-test", ClientConfig{
		APIKey:     "key",
		Model:      "m",
		Middleware: []Middleware{record("outer"), record("inner")},
	})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), testMessages(), nil)
	require.NoError(t, err)

	// The first configured middleware must be the outermost.
	assert.Equal(t, []string{"outer", "inner"}, order)
}

type recordingLLM struct {
	next  CoreLLM
	name  string
	order *[]string
}

func (r *recordingLLM) DoRequest(ctx context.Context, messages []domain.Message, opts map[string]any) (*ports.GenerateResult, error) {
	*r.order = append(*r.order, r.name)
	return r.next.DoRequest(ctx, messages, opts)
}

func (r *recordingLLM) GetModel() string  { return r.next.GetModel() }
func (r *recordingLLM) SetModel(m string) { r.next.SetModel(m) }

func TestSimpleTokenEstimator(t *testing.T) {
	estimator := &SimpleTokenEstimator{}

	assert.Equal(t, 0, estimator.EstimateTokens(""))
	assert.Equal(t, 1, estimator.EstimateTokens("abc"))
	assert.Equal(t, 3, estimator.EstimateTokens("twelve chars"))
}
