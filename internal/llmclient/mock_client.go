// internal/llmclient/mock_client.go
package llmclient

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

// MockClient is an offline schemas.LLMClient returning canned responses in
// order, repeating the last one once exhausted. Missions that carry explicit
// action lists never reach the model, so the mock provider lets those runs
// execute without an API key; a compile or heal attempt against an empty mock
// fails loudly instead of hallucinating.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	calls     int
	logger    *zap.Logger
}

// NewMockClient builds a mock with the given canned responses.
func NewMockClient(logger *zap.Logger, responses ...string) *MockClient {
	return &MockClient{
		responses: responses,
		logger:    logger.Named("llm_client.mock"),
	}
}

// GenerateResponse returns the next canned response.
func (c *MockClient) GenerateResponse(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.responses) == 0 {
		return "", fmt.Errorf("mock LLM client has no canned responses configured")
	}

	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++

	c.logger.Debug("Serving canned LLM response", zap.Int("call", c.calls))
	return c.responses[idx], nil
}

// Calls reports how many generations have been served.
func (c *MockClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Close is a no-op.
func (c *MockClient) Close() error {
	return nil
}
