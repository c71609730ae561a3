package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/ahrav/go-pinwire/internal/domain"
	"github.com/ahrav/go-pinwire/internal/ports"
)

// GoogleDefaultModel is used when the configuration omits a model.
const GoogleDefaultModel = "gemini-2.0-flash"

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

// googleProvider implements the CoreLLM interface for Google's Gemini
// API, handling Google-specific authentication, request formatting,
// function calling, and error handling.
type googleProvider struct {
	BaseProvider
	client          *genai.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

// newGoogleProvider creates a new Google Gemini provider instance.
func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = GoogleDefaultModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &googleProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          client,
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "google"},
	}, nil
}

// DoRequest sends the conversation to the Gemini API and returns the
// reply text plus any allocation function call the model produced.
func (p *googleProvider) DoRequest(
	ctx context.Context,
	messages []domain.Message,
	opts map[string]any,
) (*ports.GenerateResult, error) {
	options := ParseRequestOptions(opts, p.GetModel())

	system, rest := splitSystemMessages(messages)
	contents := p.buildContents(rest)
	config := p.buildGenerationConfig(system, options)

	resp, err := p.client.Models.GenerateContent(ctx, options.Model, contents, config)
	if err != nil {
		return nil, p.handleError(err)
	}

	reply := resp.Text()
	toolCalls, err := p.collectFunctionCalls(resp.FunctionCalls())
	if err != nil {
		return nil, err
	}

	if reply == "" && len(toolCalls) == 0 {
		return nil, ErrEmptyResponse
	}

	return &ports.GenerateResult{
		Reply:     reply,
		ToolCalls: toolCalls,
		TokensIn:  p.getTokenCount(resp.UsageMetadata, true, joinContents(messages)),
		TokensOut: p.getTokenCount(resp.UsageMetadata, false, reply),
	}, nil
}

func (p *googleProvider) collectFunctionCalls(calls []*genai.FunctionCall) ([]domain.ToolAllocation, error) {
	var out []domain.ToolAllocation
	for _, call := range calls {
		if call == nil || call.Name != AllocationToolName {
			continue
		}
		entries, err := decodeToolArgumentMap(call.Args)
		if err != nil {
			return nil, NewProviderError("google", ErrorTypeBadRequest, 0, "unparseable function call", err)
		}
		out = append(out, entries...)
	}
	return out, nil
}

func (p *googleProvider) getTokenCount(usage *genai.GenerateContentResponseUsageMetadata, isInput bool, text string) int {
	if usage != nil {
		if isInput && usage.PromptTokenCount > 0 {
			return int(usage.PromptTokenCount)
		}
		if !isInput && usage.CandidatesTokenCount > 0 {
			return int(usage.CandidatesTokenCount)
		}
	}
	return p.tokenCounter.EstimateTokens(text)
}

func (p *googleProvider) buildContents(messages []domain.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		var role genai.Role = genai.RoleUser
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

func (p *googleProvider) buildGenerationConfig(system string, options RequestOptions) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	if !options.DisableTools {
		config.Tools = []*genai.Tool{{
			FunctionDeclarations: []*genai.FunctionDeclaration{allocationFunctionDeclaration()},
		}}
	}

	if options.Temperature != nil {
		// Gemini supports a temperature range of 0.0 to 2.0.
		config.Temperature = genai.Ptr(float32(ClampFloat64(*options.Temperature, 0.0, 2.0)))
	}

	if options.MaxTokens > 0 {
		if options.MaxTokens > math.MaxInt32 {
			config.MaxOutputTokens = math.MaxInt32
		} else {
			config.MaxOutputTokens = int32(options.MaxTokens)
		}
	}

	if options.TopP != nil {
		config.TopP = genai.Ptr(float32(ClampFloat64(*options.TopP, 0.0, 1.0)))
	}

	if topK, ok := options.Extra["top_k"].(int); ok {
		// Gemini supports top K in the range 1 to 40.
		config.TopK = genai.Ptr(float32(ClampInt(topK, 1, 40)))
	}

	return config
}

// allocationFunctionDeclaration renders the shared tool schema into the
// genai typed schema.
func allocationFunctionDeclaration() *genai.FunctionDeclaration {
	entry := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"pin":      {Type: genai.TypeString, Description: "Pin identifier, e.g. PB6."},
			"function": {Type: genai.TypeString, Description: "Signal role, e.g. SCL, TX, PWM, GPIO."},
			"device":   {Type: genai.TypeString, Description: "Peripheral the pin serves, e.g. MPU6050."},
			"notes":    {Type: genai.TypeString, Description: "Free-form caveats, e.g. pull-up values."},
		},
		Required: []string{"pin", "function"},
	}

	return &genai.FunctionDeclaration{
		Name:        AllocationToolName,
		Description: AllocationToolDescription,
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"allocations": {
					Type:        genai.TypeArray,
					Description: "One entry per pin assigned in the reply.",
					Items:       entry,
				},
			},
			Required: []string{"allocations"},
		},
	}
}

// handleError provides structured error handling for Google API
// responses, including content policy classification.
func (p *googleProvider) handleError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" && len(apiErr.Errors) > 0 {
			message = apiErr.Errors[0].Message
		}

		if containsContentPolicyError(apiErr) {
			return NewProviderError("google", ErrorTypeContentPolicy, apiErr.Code,
				"request blocked by safety filters", err)
		}

		return p.errorClassifier.ClassifyHTTPError(apiErr.Code, message, err)
	}

	return NewProviderError("google", ErrorTypeUnknown, 0, "request failed", err)
}

// containsContentPolicyError checks if a Google API error is related to
// content policy violations.
func containsContentPolicyError(apiErr *googleapi.Error) bool {
	if apiErr.Message != "" {
		lower := strings.ToLower(apiErr.Message)
		if strings.Contains(lower, "safety") ||
			strings.Contains(lower, "policy") ||
			strings.Contains(lower, "blocked") {
			return true
		}
	}

	for _, e := range apiErr.Errors {
		if e.Reason == "SAFETY" || e.Reason == "BLOCKED" {
			return true
		}
	}

	return false
}
