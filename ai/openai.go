package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures OpenAIClient. BaseURL may point at any
// OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// Moderate runs every reply through the moderations endpoint. Endpoints
	// without one must turn it off.
	Moderate bool
}

// OpenAIClient generates replies through the chat completions API
type OpenAIClient struct {
	client   *openai.Client
	model    string
	hasKey   bool
	moderate bool
}

// NewOpenAIClient creates a new OpenAI-compatible generator
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient(cfg.Timeout)

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:    cfg.Model,
		hasKey:   cfg.APIKey != "",
		moderate: cfg.Moderate,
	}
}

func (c *OpenAIClient) Provider() string { return "openai" }

// Generate sends prompt as a single user message
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	if !c.hasKey {
		return "", ErrNotConfigured
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: Temperature,
		TopP:        TopP,
		MaxTokens:   MaxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	if c.moderate {
		if err := c.screen(ctx, text); err != nil {
			return "", err
		}
	}
	return text, nil
}

// screen rejects a reply the moderations endpoint flags, the same way a
// blocked Gemini candidate is rejected
func (c *OpenAIClient) screen(ctx context.Context, text string) error {
	resp, err := c.client.Moderations(ctx, openai.ModerationRequest{Input: text})
	if err != nil {
		return fmt.Errorf("openai moderation failed: %w", err)
	}
	for _, result := range resp.Results {
		if result.Flagged {
			return fmt.Errorf("openai reply flagged by moderation: %w", ErrEmptyResponse)
		}
	}
	return nil
}
