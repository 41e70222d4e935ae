package llm

import (
	"context"
	"math"
	"math/rand"
	"time"

	"reasonrt/pkg/llm/llmerrors"
	"reasonrt/pkg/logx"
)

// RetryConfig defines backoff behavior for retryable LLM errors.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultRetryConfig provides reasonable defaults.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    4,
	InitialDelay:  250 * time.Millisecond,
	MaxDelay:      15 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// RetryableClient wraps a Client with classified-error retry logic.
type RetryableClient struct {
	client Client
	config RetryConfig
	logger *logx.Logger
}

// NewRetryableClient wraps client with the given retry configuration.
func NewRetryableClient(client Client, config RetryConfig) *RetryableClient {
	return &RetryableClient{
		client: client,
		config: config,
		logger: logx.NewLogger("llm-retry:" + client.ModelName()),
	}
}

// ModelName returns the wrapped client's model.
func (r *RetryableClient) ModelName() string {
	return r.client.ModelName()
}

// Complete retries the wrapped client on retryable classified errors with
// exponential backoff. Provider retry-after hints override computed delays.
func (r *RetryableClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	var lastErr *llmerrors.Error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delayFor(attempt, lastErr)
			r.logger.Warn("retrying after %s (attempt %d/%d): %s",
				delay, attempt, r.config.MaxRetries, lastErr.Type)
			select {
			case <-ctx.Done():
				return CompletionResponse{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := r.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = llmerrors.Classify(err)
		if !lastErr.Type.Retryable() {
			return CompletionResponse{}, lastErr
		}
	}
	return CompletionResponse{}, lastErr
}

func (r *RetryableClient) delayFor(attempt int, lastErr *llmerrors.Error) time.Duration {
	if lastErr != nil && lastErr.RetryAfter > 0 {
		return lastErr.RetryAfter
	}
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		delay *= 0.5 + rand.Float64()/2
	}
	return time.Duration(delay)
}
