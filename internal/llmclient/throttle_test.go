package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottle_DisabledPassesThrough(t *testing.T) {
	logger := setupTestLogger(t)
	mock := NewMockClient(logger, "hello")

	client := Throttle(mock, 0, 0, logger)
	assert.Same(t, mock, client, "A non-positive rate must return the client unchanged")
}

func TestThrottle_AdmitsCallsAtRate(t *testing.T) {
	logger := setupTestLogger(t)
	mock := NewMockClient(logger, "one", "two", "three")

	// 50 rps with burst 1: the second and third call each wait ~20ms.
	client := Throttle(mock, 50, 1, logger)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.GenerateResponse(context.Background(), createTestRequest())
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond, "Throttled calls should be spaced by the limiter")
	assert.Equal(t, 3, mock.Calls())
}

func TestThrottle_ContextCancellationDuringWait(t *testing.T) {
	logger := setupTestLogger(t)
	mock := NewMockClient(logger, "never served")

	// One call per minute with burst 1: the second call would wait a long time.
	client := Throttle(mock, 1.0/60.0, 1, logger)

	_, err := client.GenerateResponse(context.Background(), createTestRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.GenerateResponse(ctx, createTestRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait aborted")
	assert.Equal(t, 1, mock.Calls(), "The inner client must not be reached when the limiter wait aborts")
}

func TestThrottle_CloseDelegates(t *testing.T) {
	logger := setupTestLogger(t)
	mock := NewMockClient(logger)

	client := Throttle(mock, 10, 1, logger)
	assert.NoError(t, client.Close())
}
