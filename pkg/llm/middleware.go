package llm

import (
	"context"
	"time"

	"reasonrt/pkg/llm/llmerrors"
	"reasonrt/pkg/logx"
	"reasonrt/pkg/metrics"
)

// Pricing carries per-1K-token USD costs for cost accounting.
type Pricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// Cost computes the USD cost of one usage sample.
func (p Pricing) Cost(u Usage) float64 {
	return float64(u.PromptTokens)/1000*p.PromptPer1K +
		float64(u.CompletionTokens)/1000*p.CompletionPer1K
}

// InstrumentedClient wraps a Client with metrics recording and request
// logging. Applied outside the retry wrapper so each logical request is
// observed once.
type InstrumentedClient struct {
	client   Client
	recorder metrics.Recorder
	strategy string
	pricing  Pricing
	logger   *logx.Logger
}

// NewInstrumentedClient wraps client for the given strategy label.
func NewInstrumentedClient(client Client, recorder metrics.Recorder, strategy string, pricing Pricing) *InstrumentedClient {
	return &InstrumentedClient{
		client:   client,
		recorder: recorder,
		strategy: strategy,
		pricing:  pricing,
		logger:   logx.NewLogger("llm:" + client.ModelName()),
	}
}

// ModelName returns the wrapped client's model.
func (i *InstrumentedClient) ModelName() string {
	return i.client.ModelName()
}

// Complete forwards to the wrapped client and records the outcome.
func (i *InstrumentedClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	start := time.Now()
	resp, err := i.client.Complete(ctx, req)
	duration := time.Since(start)

	if err != nil {
		classified := llmerrors.Classify(err)
		i.recorder.ObserveLLMRequest(i.client.ModelName(), i.strategy,
			0, 0, 0, false, classified.Type.String(), duration)
		i.logger.Error("completion failed after %.2fs: %v", duration.Seconds(), err)
		return CompletionResponse{}, err
	}

	cost := i.pricing.Cost(resp.Usage)
	i.recorder.ObserveLLMRequest(i.client.ModelName(), i.strategy,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens, cost, true, "", duration)
	i.logger.Debug("completion in %.2fs: %d+%d tokens, %d tool calls",
		duration.Seconds(), resp.Usage.PromptTokens, resp.Usage.CompletionTokens, len(resp.ToolCalls))
	return resp, nil
}
