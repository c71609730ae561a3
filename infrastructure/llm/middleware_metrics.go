package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ahrav/go-pinwire/internal/domain"
	"github.com/ahrav/go-pinwire/internal/ports"
)

// metricsLLM collects request metrics for observability into request
// patterns, latency, token usage, and error rates.
type metricsLLM struct {
	next      CoreLLM
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that collects request metrics,
// enabling monitoring of model usage, performance, and costs across
// providers.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{next: next, collector: collector}
	}
}

// DoRequest executes the request while recording latency, status,
// token usage, and tool invocation counts.
func (m *metricsLLM) DoRequest(
	ctx context.Context,
	messages []domain.Message,
	opts map[string]any,
) (*ports.GenerateResult, error) {
	start := time.Now()
	result, err := m.next.DoRequest(ctx, messages, opts)

	labels := map[string]string{
		"provider": m.extractProvider(),
		"model":    m.next.GetModel(),
		"status":   "success",
	}

	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			labels["status"] = "circuit_open"
		} else if ctx.Err() == context.DeadlineExceeded {
			labels["status"] = "timeout"
		} else {
			labels["status"] = "error"
		}
	}

	if m.collector != nil {
		m.collector.RecordHistogram("llm_latency_seconds", time.Since(start).Seconds(), labels)
		m.collector.RecordCounter("llm_requests_total", 1, labels)

		if err == nil {
			if len(result.ToolCalls) > 0 {
				m.collector.RecordCounter("llm_tool_calls_total", 1, labels)
			}

			labels["token_type"] = "input"
			m.collector.RecordCounter("llm_tokens_total", float64(result.TokensIn), labels)

			labels["token_type"] = "output"
			m.collector.RecordCounter("llm_tokens_total", float64(result.TokensOut), labels)
		}
	}

	return result, err
}

func (m *metricsLLM) extractProvider() string {
	model := m.next.GetModel()
	if strings.Contains(model, "gpt") {
		return "openai"
	} else if strings.Contains(model, "claude") {
		return "anthropic"
	} else if strings.Contains(model, "gemini") {
		return "google"
	}
	return "unknown"
}

// GetModel returns the model name from the wrapped implementation.
func (m *metricsLLM) GetModel() string { return m.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (m *metricsLLM) SetModel(model string) { m.next.SetModel(model) }
