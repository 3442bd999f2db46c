package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting orchestration-core
// metrics on the default Prometheus registry:
//   - iteration count and termination reason per request
//   - tool dispatch phase latency (read phase / write phase)
//   - compaction trigger outcomes
//   - empty-response occurrences
//   - model request performance, token usage, and estimated cost
//   - errors by component and type
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordIteration()
//	defer metrics.ToolDispatchDuration("read").Observe(time.Since(start).Seconds())
type Metrics struct {
	// IterationCounter counts orchestrator loop iterations.
	IterationCounter prometheus.Counter

	// RequestOutcome counts requests by terminal outcome.
	// Labels: outcome (complete|max_iterations|context_overflow|empty_response|user_abort|global_timeout|error)
	RequestOutcome *prometheus.CounterVec

	// ToolDispatchDuration measures a dispatch phase's wall-clock latency.
	// Labels: phase (read|write)
	ToolDispatchDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// CompactionTriggered counts compaction passes by outcome status.
	// Labels: status (compacted|skipped|failed)
	CompactionTriggered *prometheus.CounterVec

	// EmptyResponseCounter counts turns the model produced no content for.
	EmptyResponseCounter prometheus.Counter

	// LLMRequestDuration measures model API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model requests by provider, model, and status.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (agent|tool|compaction|sanitizer), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. Call once at
// startup; metrics are registered with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		IterationCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentcore_iterations_total",
				Help: "Total number of orchestrator loop iterations across all requests",
			},
		),

		RequestOutcome: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_request_outcomes_total",
				Help: "Total number of requests by terminal outcome",
			},
			[]string{"outcome"},
		),

		ToolDispatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_dispatch_duration_seconds",
				Help:    "Duration of a tool dispatch phase in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"phase"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		CompactionTriggered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_compaction_total",
				Help: "Total number of compaction passes by outcome status",
			},
			[]string{"status"},
		),

		EmptyResponseCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentcore_empty_responses_total",
				Help: "Total number of turns the model produced no text or tool calls for",
			},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_llm_request_duration_seconds",
				Help:    "Duration of model API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_requests_total",
				Help: "Total number of model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_cost_usd_total",
				Help: "Estimated model API cost in USD",
			},
			[]string{"provider", "model"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordIteration increments the orchestrator loop iteration counter.
func (m *Metrics) RecordIteration() {
	m.IterationCounter.Inc()
}

// RecordRequestOutcome increments the request outcome counter for a
// terminal state.
func (m *Metrics) RecordRequestOutcome(outcome string) {
	m.RequestOutcome.WithLabelValues(outcome).Inc()
}

// ToolDispatchDurationTimer starts a histogram timer for a dispatch phase;
// the caller defers the returned ObserveDuration.
func (m *Metrics) ToolDispatchDurationTimer(phase string) *prometheus.Timer {
	return prometheus.NewTimer(m.ToolDispatchDuration.WithLabelValues(phase))
}

// RecordToolExecution records the outcome of a single tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
}

// RecordCompaction records a compaction pass's outcome status.
func (m *Metrics) RecordCompaction(status string) {
	m.CompactionTriggered.WithLabelValues(status).Inc()
}

// RecordEmptyResponse increments the empty-response counter.
func (m *Metrics) RecordEmptyResponse() {
	m.EmptyResponseCounter.Inc()
}

// RecordLLMRequest records metrics for a model API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int64) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordLLMCost records estimated API cost.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
