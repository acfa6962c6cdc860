package camunda

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "finance-orchestrator/internal/common/errors"
)

func testClient(maxRetries int) *Client {
	return &Client{config: &ClientConfig{
		ConnectionTimeout: time.Second,
		RetryConfig: &RetryConfig{
			MaxRetries: maxRetries,
			BaseDelay:  time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
		},
	}}
}

func TestExecuteWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantCode  apperrors.ErrorCode
	}{
		{"success first try", nil, 1, ""},
		{"transient then success", []error{errors.New("rpc error: code = Unavailable")}, 2, ""},
		{"permanent error not retried", []error{errors.New("process not found"), nil}, 1, "RESOURCE_NOT_FOUND"},
		{
			"retries exhausted",
			[]error{
				errors.New("connection refused"),
				errors.New("connection refused"),
				errors.New("connection refused"),
			},
			3,
			"EXTERNAL_SERVICE_ERROR",
		},
		{"timeout mapped", []error{errors.New("context deadline exceeded"), errors.New("context deadline exceeded"), errors.New("context deadline exceeded")}, 3, "TIMEOUT_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			result, err := testClient(2).ExecuteWithRetry(context.Background(), func(context.Context) (interface{}, error) {
				calls++
				if calls <= len(tt.errs) && tt.errs[calls-1] != nil {
					return nil, tt.errs[calls-1]
				}
				return "ok", nil
			}, "deploy")

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, "ok", result)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.FromError(err).Code)
		})
	}
}

func TestExecuteWithRetry_ContextCancelled(t *testing.T) {
	c := testClient(5)
	c.config.RetryConfig.BaseDelay = time.Hour
	c.config.RetryConfig.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ExecuteWithRetry(ctx, func(context.Context) (interface{}, error) {
		return nil, errors.New("unavailable")
	}, "topology")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryableZeebeError(t *testing.T) {
	assert.True(t, isRetryableZeebeError(errors.New("dial tcp: connection reset by peer")))
	assert.True(t, isRetryableZeebeError(errors.New("rpc error: code = Unavailable desc = broker unreachable")))
	assert.False(t, isRetryableZeebeError(errors.New("permission denied")))
	assert.False(t, isRetryableZeebeError(errors.New("invalid argument")))
}
