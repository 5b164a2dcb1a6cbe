// internal/llmclient/throttle.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

// ThrottledClient implements schemas.LLMClient and gates calls to the wrapped
// client through a token-bucket limiter. Compiler and healer share one client
// per process, so this is the single choke point for provider quota.
type ThrottledClient struct {
	inner   schemas.LLMClient
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Throttle wraps client with a limiter of rps requests per second and the
// given burst. A non-positive rps disables throttling and returns the client
// unchanged.
func Throttle(client schemas.LLMClient, rps float64, burst int, logger *zap.Logger) schemas.LLMClient {
	if rps <= 0 {
		return client
	}
	if burst < 1 {
		burst = 1
	}
	return &ThrottledClient{
		inner:   client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.Named("llm_throttle"),
	}
}

// GenerateResponse blocks until the limiter admits the call, then delegates.
func (t *ThrottledClient) GenerateResponse(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait aborted: %w", err)
	}
	t.logger.Debug("Rate limiter admitted LLM call")
	return t.inner.GenerateResponse(ctx, req)
}

// Close delegates to the wrapped client.
func (t *ThrottledClient) Close() error {
	return t.inner.Close()
}
