// internal/llmclient/genai_client.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/trident-cli/api/schemas"
	"github.com/xkilldash9x/trident-cli/internal/config"
)

// GenAIClient implements schemas.LLMClient on the official google.golang.org/genai SDK.
// The SDK carries its own transport retry handling, so unlike the REST client this
// one does not wrap calls in backoff.
type GenAIClient struct {
	client *genai.Client
	model  string
	config config.LLMConfig
	logger *zap.Logger
}

// NewGenAIClient initializes the SDK-backed client.
func NewGenAIClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API Key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIClient{
		client: client,
		model:  cfg.Model,
		config: cfg,
		logger: logger.Named("llm_client.genai"),
	}, nil
}

// GenerateResponse sends the prompts through the SDK and returns the generated text.
func (c *GenAIClient) GenerateResponse(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	maxTokens := c.config.MaxTokens
	if req.Options.MaxTokens > 0 {
		maxTokens = req.Options.MaxTokens
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Options.Temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.Options.ForceJSONFormat {
		genCfg.ResponseMIMEType = "application/json"
	}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.UserPrompt), genCfg)
	if err != nil {
		return "", fmt.Errorf("genai generation failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("genai API returned empty content")
	}

	c.logger.Info("LLM generation complete (GenAI)", zap.String("model", c.model))
	return text, nil
}

// Close releases SDK resources. The genai SDK client holds no resources
// that require explicit release.
func (c *GenAIClient) Close() error {
	return nil
}
