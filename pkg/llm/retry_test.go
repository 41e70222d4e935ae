package llm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reasonrt/pkg/llm/llmerrors"
)

func fastRetryConfig(max int) RetryConfig {
	return RetryConfig{
		MaxRetries:    max,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetryableClientRecoversFromTransient(t *testing.T) {
	mock := NewMockClient("test-model",
		ErrStep(llmerrors.New(llmerrors.ErrorTypeTransient, "connection reset")),
		ErrStep(llmerrors.New(llmerrors.ErrorTypeRateLimit, "429")),
		TextStep("recovered"),
	)
	client := NewRetryableClient(mock, fastRetryConfig(3))

	resp, err := client.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 3, mock.CallCount())
}

func TestRetryableClientStopsOnAuthError(t *testing.T) {
	mock := NewMockClient("test-model",
		ErrStep(llmerrors.New(llmerrors.ErrorTypeAuth, "bad api key")),
		TextStep("never reached"),
	)
	client := NewRetryableClient(mock, fastRetryConfig(3))

	_, err := client.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, mock.CallCount())

	var typed *llmerrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, llmerrors.ErrorTypeAuth, typed.Type)
}

func TestRetryableClientExhaustsRetries(t *testing.T) {
	mock := NewMockClient("test-model")
	for i := 0; i < 5; i++ {
		mock.Enqueue(ErrStep(fmt.Errorf("503 service unavailable")))
	}
	client := NewRetryableClient(mock, fastRetryConfig(2))

	_, err := client.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 3, mock.CallCount())
}

func TestRetryableClientHonorsContext(t *testing.T) {
	mock := NewMockClient("test-model",
		ErrStep(llmerrors.New(llmerrors.ErrorTypeTransient, "eof")),
		TextStep("late"),
	)
	cfg := fastRetryConfig(3)
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second
	client := NewRetryableClient(mock, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := client.Complete(ctx, CompletionRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
