// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
	"github.com/xkilldash9x/trident-cli/internal/config"
)

// NewClient is a factory function that creates an LLMClient based on the
// configuration, wrapped with the configured rate limiter.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	var (
		client schemas.LLMClient
		err    error
	)

	switch config.LLMProvider(strings.ToLower(string(cfg.Provider))) {
	case config.ProviderGemini:
		client, err = NewGeminiClient(cfg, logger)
	case config.ProviderGenAI:
		client, err = NewGenAIClient(ctx, cfg, logger)
	case config.ProviderMock:
		client = NewMockClient(logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: %q. Supported: [%s, %s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderGenAI, config.ProviderMock)
	}
	if err != nil {
		return nil, err
	}

	return Throttle(client, cfg.RateLimit, cfg.RateBurst, logger), nil
}
