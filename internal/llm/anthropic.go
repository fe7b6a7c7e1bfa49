package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropic creates a client. Retries are left to the pipeline so the SDK's
// own retry loop is disabled.
func NewAnthropic(baseURL, apiKey, modelName string) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicClient{client: &client, model: modelName}
}

// Model returns the model name used for completions.
func (c *AnthropicClient) Model() string { return c.model }

// Complete sends one user turn with a system prompt.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Completion, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: req.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
		Temperature: anthropic.Float(req.Temperature),
	})
	if err != nil {
		return Completion{}, fmt.Errorf("Anthropic API call: %w", classify(err, anthropicStatus(err)))
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	if sb.Len() == 0 {
		return Completion{}, fmt.Errorf("Anthropic returned no text content")
	}
	slog.Debug("LLM response", "model", c.model, "raw", sb.String())

	stop := StopComplete
	if resp.StopReason == anthropic.StopReasonMaxTokens {
		stop = StopMaxTokens
	}
	return Completion{
		Text:       sb.String(),
		StopReason: stop,
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

func anthropicStatus(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
