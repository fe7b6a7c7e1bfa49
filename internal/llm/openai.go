package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient wraps an OpenAI-compatible API client.
type OpenAIClient struct {
	api   *openai.Client
	model string
}

// NewOpenAI creates a client for an OpenAI-compatible endpoint. An empty
// baseURL selects the public OpenAI API.
func NewOpenAI(baseURL, apiKey, modelName string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Model returns the model name used for completions.
func (c *OpenAIClient) Model() string { return c.model }

// Ping checks that the endpoint answers.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Complete sends a system and user message and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Completion, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return Completion{}, fmt.Errorf("LLM API call: %w", classify(err, openAIStatus(err)))
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("LLM returned no choices")
	}

	choice := resp.Choices[0]
	slog.Debug("LLM response", "model", c.model, "raw", choice.Message.Content)

	stop := StopComplete
	if choice.FinishReason == openai.FinishReasonLength {
		stop = StopMaxTokens
	}
	return Completion{
		Text:       choice.Message.Content,
		StopReason: stop,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
