package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	llmRequestsTotal *prometheus.CounterVec
	llmTokensTotal   *prometheus.CounterVec
	llmCostsTotal    *prometheus.CounterVec
	llmDuration      *prometheus.HistogramVec
	toolExecsTotal   *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	workerSpawns     *prometheus.CounterVec
	requestOutcomes  *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder registered on the default registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	return newPrometheusRecorder(prometheus.DefaultRegisterer)
}

// NewPrometheusRecorderWithRegistry creates a recorder on a custom registry.
// Useful in tests to avoid duplicate registration.
func NewPrometheusRecorderWithRegistry(reg prometheus.Registerer) *PrometheusRecorder {
	return newPrometheusRecorder(reg)
}

func newPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		llmRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reasoning_llm_requests_total",
			Help: "Total number of LLM requests by model, strategy, status, and error type",
		}, []string{"model", "strategy", "status", "error_type"}),
		llmTokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reasoning_llm_tokens_total",
			Help: "Total tokens consumed by LLM requests",
		}, []string{"model", "strategy", "type"}),
		llmCostsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reasoning_llm_costs_total",
			Help: "Total LLM cost in USD",
		}, []string{"model", "strategy"}),
		llmDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reasoning_llm_request_duration_seconds",
			Help:    "Duration of LLM requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"model", "strategy"}),
		toolExecsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reasoning_tool_executions_total",
			Help: "Total terminal tool results by tool, status, and attempt count",
		}, []string{"tool", "status", "attempts"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reasoning_tool_duration_seconds",
			Help:    "Duration of tool executions including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		workerSpawns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reasoning_worker_spawns_total",
			Help: "Total child workers spawned by strategy",
		}, []string{"strategy"}),
		requestOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reasoning_request_outcomes_total",
			Help: "Terminal request outcomes by strategy",
		}, []string{"strategy", "outcome"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reasoning_request_duration_seconds",
			Help:    "End-to-end request duration",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"strategy", "outcome"}),
	}
}

// ObserveLLMRequest records one completed LLM request.
func (p *PrometheusRecorder) ObserveLLMRequest(model, strategy string, promptTokens, completionTokens int,
	cost float64, success bool, errorType string, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	} else {
		errorType = ""
	}
	p.llmRequestsTotal.WithLabelValues(model, strategy, status, errorType).Inc()
	if success {
		p.llmTokensTotal.WithLabelValues(model, strategy, "prompt").Add(float64(promptTokens))
		p.llmTokensTotal.WithLabelValues(model, strategy, "completion").Add(float64(completionTokens))
		p.llmCostsTotal.WithLabelValues(model, strategy).Add(cost)
	}
	p.llmDuration.WithLabelValues(model, strategy).Observe(duration.Seconds())
}

// ObserveToolExecution records one terminal tool result.
func (p *PrometheusRecorder) ObserveToolExecution(tool string, success bool, attempts int, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.toolExecsTotal.WithLabelValues(tool, status, strconv.Itoa(attempts)).Inc()
	p.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// IncWorkerSpawn counts one spawned child worker.
func (p *PrometheusRecorder) IncWorkerSpawn(strategy string) {
	p.workerSpawns.WithLabelValues(strategy).Inc()
}

// ObserveRequestOutcome counts one terminal request.
func (p *PrometheusRecorder) ObserveRequestOutcome(strategy, outcome string, duration time.Duration) {
	p.requestOutcomes.WithLabelValues(strategy, outcome).Inc()
	p.requestDuration.WithLabelValues(strategy, outcome).Observe(duration.Seconds())
}
