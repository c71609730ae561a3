package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ahrav/go-pinwire/internal/domain"
	"github.com/ahrav/go-pinwire/internal/ports"
)

// AnthropicDefaultModel is used when the configuration omits a model.
const AnthropicDefaultModel = "claude-3-5-sonnet-20241022"

func init() {
	RegisterProviderFactory("anthropic", newAnthropicProvider)
}

// anthropicProvider implements the CoreLLM interface for Anthropic's
// Claude API, translating the role-tagged conversation and tool
// advertisement into Anthropic-specific request shapes.
type anthropicProvider struct {
	BaseProvider
	client          anthropic.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

// newAnthropicProvider creates a new Anthropic provider instance.
func newAnthropicProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = AnthropicDefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithBaseURL(validatedURL))
	}

	return &anthropicProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          anthropic.NewClient(opts...),
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "anthropic"},
	}, nil
}

// DoRequest sends the conversation to the Claude API and returns the
// reply text plus any allocation tool use the model produced.
func (p *anthropicProvider) DoRequest(
	ctx context.Context,
	messages []domain.Message,
	opts map[string]any,
) (*ports.GenerateResult, error) {
	options := ParseRequestOptions(opts, p.GetModel())
	params := p.buildParams(messages, options)

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.handleError(err)
	}

	return p.processResponse(message, messages)
}

func (p *anthropicProvider) buildParams(
	messages []domain.Message,
	options RequestOptions,
) anthropic.MessageNewParams {
	system, rest := splitSystemMessages(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(options.Model),
		MaxTokens: int64(options.MaxTokens),
		Messages:  p.buildMessages(rest),
	}

	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if options.Temperature != nil {
		params.Temperature = anthropic.Float(ClampFloat64(*options.Temperature, 0.0, 1.0))
	}

	if options.TopP != nil {
		params.TopP = anthropic.Float(ClampFloat64(*options.TopP, 0.0, 1.0))
	}

	if !options.DisableTools {
		params.Tools = []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        AllocationToolName,
				Description: anthropic.String(AllocationToolDescription),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: allocationToolSchema()["properties"],
				},
			},
		}}
	}

	return params
}

func (p *anthropicProvider) buildMessages(messages []domain.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == domain.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// processResponse extracts reply text, tool payload entries, and token
// counts from the API response. Text blocks concatenate into the reply;
// tool_use blocks for the allocation tool contribute payload entries.
func (p *anthropicProvider) processResponse(
	message *anthropic.Message,
	sent []domain.Message,
) (*ports.GenerateResult, error) {
	var reply strings.Builder
	var toolCalls []domain.ToolAllocation

	for _, block := range message.Content {
		switch content := block.AsAny().(type) {
		case anthropic.TextBlock:
			reply.WriteString(content.Text)
		case anthropic.ToolUseBlock:
			if content.Name != AllocationToolName {
				continue
			}
			entries, err := decodeToolArguments(content.Input)
			if err != nil {
				return nil, NewProviderError("anthropic", ErrorTypeBadRequest, 0, "unparseable tool call", err)
			}
			toolCalls = append(toolCalls, entries...)
		}
	}

	replyStr := reply.String()
	if replyStr == "" && len(toolCalls) == 0 {
		return nil, ErrEmptyResponse
	}

	return &ports.GenerateResult{
		Reply:     replyStr,
		ToolCalls: toolCalls,
		TokensIn:  p.tokenCounter.GetTokenCount(int(message.Usage.InputTokens), joinContents(sent)),
		TokensOut: p.tokenCounter.GetTokenCount(int(message.Usage.OutputTokens), replyStr),
	}, nil
}

// handleError classifies and wraps errors from the Claude API.
func (p *anthropicProvider) handleError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return p.errorClassifier.ClassifyHTTPError(apiErr.StatusCode, apiErr.Error(), err)
	}

	return NewProviderError("anthropic", ErrorTypeUnknown, 0, "request failed", err)
}
