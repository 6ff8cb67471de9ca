package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiConfig configures GeminiClient
type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL and APIVersion override the public Gemini API endpoint
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
}

// GeminiClient calls Gemini generateContent through the genai SDK with an
// API key
type GeminiClient struct {
	cfg     GeminiConfig
	client  *genai.Client
	initErr error
}

// NewGeminiClient creates a new Gemini client. A missing key is reported by
// Generate so the service can still start without one.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	c := &GeminiClient{cfg: cfg}
	if cfg.APIKey == "" {
		c.initErr = ErrNotConfigured
		return c
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: newHTTPClient(cfg.Timeout),
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    cfg.BaseURL,
			APIVersion: cfg.APIVersion,
		},
	})
	if err != nil {
		c.initErr = fmt.Errorf("creating gemini client: %w", err)
		return c
	}
	c.client = client
	return c
}

var geminiSafetyCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

func (c *GeminiClient) Provider() string { return "gemini" }

// Generate sends prompt as a single-shot request and returns the first
// candidate's text.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.initErr != nil {
		return "", c.initErr
	}

	safety := make([]*genai.SafetySetting, 0, len(geminiSafetyCategories))
	for _, category := range geminiSafetyCategories {
		safety = append(safety, &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		})
	}

	temperature := float32(Temperature)
	topP := float32(TopP)
	topK := float32(TopK)
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		TopP:            &topP,
		TopK:            &topK,
		MaxOutputTokens: int32(MaxOutputTokens),
		SafetySettings:  safety,
	}

	res, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	if res.PromptFeedback != nil && res.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini blocked prompt: %s: %w", res.PromptFeedback.BlockReason, ErrEmptyResponse)
	}

	text := res.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
