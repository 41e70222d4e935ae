package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// StrategyUsage aggregates token and cost totals for one strategy across all
// runtime instances, as recorded in Prometheus.
type StrategyUsage struct {
	Strategy         string  `json:"strategy"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService reads aggregated usage back out of a Prometheus server.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service against the given Prometheus URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// StrategyUsage returns aggregated token and cost totals for a strategy.
func (q *QueryService) StrategyUsage(ctx context.Context, strategy string) (*StrategyUsage, error) {
	usage := &StrategyUsage{Strategy: strategy}

	prompt, err := q.scalar(ctx, fmt.Sprintf(
		`sum(reasoning_llm_tokens_total{strategy=%q,type="prompt"})`, strategy))
	if err != nil {
		return nil, err
	}
	usage.PromptTokens = int64(prompt)

	completion, err := q.scalar(ctx, fmt.Sprintf(
		`sum(reasoning_llm_tokens_total{strategy=%q,type="completion"})`, strategy))
	if err != nil {
		return nil, err
	}
	usage.CompletionTokens = int64(completion)

	cost, err := q.scalar(ctx, fmt.Sprintf(
		`sum(reasoning_llm_costs_total{strategy=%q})`, strategy))
	if err != nil {
		return nil, err
	}
	usage.TotalCost = cost

	return usage, nil
}

// scalar evaluates a query and returns the single sample value, or zero when
// the series does not exist yet.
func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("prometheus query failed: %w", err)
	}
	vector, ok := result.(model.Vector)
	if !ok || len(vector) == 0 {
		return 0, nil
	}
	return float64(vector[0].Value), nil
}
