package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting Prometheus metrics
// about provider requests, tool executions, and retry behaviour.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	start := time.Now()
//	// ... call provider ...
//	metrics.RecordLLMRequest("anthropic", "claude-opus-4", "success", time.Since(start).Seconds(), 100, 500)
type Metrics struct {
	// LLMRequestDuration measures provider adapter call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts provider adapter calls by provider, model, and status.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output|cache_read|cache_write)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ContextWindowUsed tracks context window utilization per provider/model.
	ContextWindowUsed *prometheus.HistogramVec

	// RetryCounter counts retry attempts scheduled by the assistant request runner.
	// Labels: provider, reason (rate_limit|auth_error|timeout|server_error|...)
	RetryCounter *prometheus.CounterVec

	// FallbackCounter counts model fallback transitions.
	// Labels: from_provider, to_provider
	FallbackCounter *prometheus.CounterVec

	// RunOutcome counts agent runs by terminal stop reason.
	// Labels: stop_reason (stop|length|tool_use|error|aborted)
	RunOutcome *prometheus.CounterVec

	// CompactionCounter counts auto-compaction events by trigger.
	// Labels: trigger (proactive|overflow), outcome (llm_summary|rule_based)
	CompactionCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. Call once per process;
// registering the same metric name twice with prometheus.DefaultRegisterer panics.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_llm_request_duration_seconds",
				Help:    "Duration of provider adapter calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_requests_total",
				Help: "Total number of provider adapter calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_tokens_total",
				Help: "Total number of tokens accounted for by provider, model, and category",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_context_window_tokens",
				Help:    "Context tokens in use at the time of the last assistant response",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000, 200000},
			},
			[]string{"provider", "model"},
		),

		RetryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_retry_scheduled_total",
				Help: "Total number of retry attempts scheduled by the assistant request runner",
			},
			[]string{"provider", "reason"},
		),

		FallbackCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_model_fallback_total",
				Help: "Total number of model fallback transitions",
			},
			[]string{"from_provider", "to_provider"},
		),

		RunOutcome: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_run_outcomes_total",
				Help: "Total number of agent runs by terminal stop reason",
			},
			[]string{"stop_reason"},
		),

		CompactionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_compactions_total",
				Help: "Total number of auto-compaction events by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
	}
}

// RecordLLMRequest records metrics for a single provider adapter call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordContextWindow records context window utilization.
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}

// RecordRetry records a scheduled retry for the given provider, tagged with
// the classified reason for the failure that triggered it.
func (m *Metrics) RecordRetry(provider, reason string) {
	m.RetryCounter.WithLabelValues(provider, reason).Inc()
}

// RecordFallback records a model fallback transition.
func (m *Metrics) RecordFallback(fromProvider, toProvider string) {
	m.FallbackCounter.WithLabelValues(fromProvider, toProvider).Inc()
}

// RecordRunOutcome records the terminal stop reason of a completed run.
func (m *Metrics) RecordRunOutcome(stopReason string) {
	m.RunOutcome.WithLabelValues(stopReason).Inc()
}

// RecordCompaction records an auto-compaction event.
func (m *Metrics) RecordCompaction(trigger, outcome string) {
	m.CompactionCounter.WithLabelValues(trigger, outcome).Inc()
}
