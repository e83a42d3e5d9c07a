package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the runtime registers; this
// module serves no HTTP /metrics endpoint for them. Construct one with
// NewMetrics per process; registering the same name
// twice against the default registry panics, so tests that need isolation
// use NewMetricsWith against a private registry.
type Metrics struct {
	EventsEmitted *prometheus.CounterVec // event_type

	SignalsClassified *prometheus.CounterVec // signal_type
	NoiseFiltered     *prometheus.CounterVec // reason

	ContextAssemblyTokens *prometheus.HistogramVec // component

	ReactIterations        *prometheus.HistogramVec // outcome
	DoomLoopDetections     prometheus.Counter
	PlanSuspensions        prometheus.Counter

	ToolExecutionCounter  *prometheus.CounterVec   // tool_name, status
	ToolExecutionDuration *prometheus.HistogramVec // tool_name

	ProviderRequestCounter  *prometheus.CounterVec   // provider, model, status
	ProviderRequestDuration *prometheus.HistogramVec // provider, model
	ProviderTokensUsed      *prometheus.CounterVec   // provider, model, type
	ProviderCostUSD         *prometheus.CounterVec   // provider, model

	OrchestratorWaves       *prometheus.CounterVec // outcome (ok|cycle_collapsed|failed)
	OrchestratorSubAgents   *prometheus.CounterVec // status (success|error)
	OrchestratorWaveLatency *prometheus.HistogramVec

	ActiveSessions       prometheus.Gauge
	SessionDuration      prometheus.Histogram
	SessionIdleEvictions prometheus.Counter

	BudgetExceeded *prometheus.CounterVec // scope (turn|daily)
}

// NewMetrics registers every collector with the default Prometheus
// registry. Call once at process startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers against reg, letting tests use a private
// registry instead of the global default.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osa_events_emitted_total",
			Help: "Total events emitted on the Event Bus by type",
		}, []string{"event_type"}),

		SignalsClassified: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osa_signals_classified_total",
			Help: "Total inbound messages classified by signal type",
		}, []string{"signal_type"}),

		NoiseFiltered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osa_noise_filtered_total",
			Help: "Total messages dropped by the noise filter, by reason",
		}, []string{"reason"}),

		ContextAssemblyTokens: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "osa_context_assembly_tokens",
			Help:    "Token count of assembled context blocks by component",
			Buckets: []float64{100, 500, 1000, 2000, 4000, 8000, 16000, 32000, 64000},
		}, []string{"component"}),

		ReactIterations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "osa_react_iterations",
			Help:    "Number of think-act-observe iterations per request, by outcome",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}, []string{"outcome"}),

		DoomLoopDetections: factory.NewCounter(prometheus.CounterOpts{
			Name: "osa_doom_loop_detections_total",
			Help: "Total ReAct loop runs aborted for repeating the same tool calls",
		}),

		PlanSuspensions: factory.NewCounter(prometheus.CounterOpts{
			Name: "osa_plan_suspensions_total",
			Help: "Total ReAct loop runs suspended pending plan approval",
		}),

		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osa_tool_executions_total",
			Help: "Total tool invocations by tool name and status",
		}, []string{"tool_name", "status"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "osa_tool_execution_duration_seconds",
			Help:    "Tool execution latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),

		ProviderRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osa_provider_requests_total",
			Help: "Total LLM provider requests by provider, model, and status",
		}, []string{"provider", "model", "status"}),

		ProviderRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "osa_provider_request_duration_seconds",
			Help:    "LLM provider request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		ProviderTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osa_provider_tokens_total",
			Help: "Total tokens consumed by provider, model, and token type",
		}, []string{"provider", "model", "type"}),

		ProviderCostUSD: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osa_provider_cost_usd_total",
			Help: "Estimated LLM spend in USD by provider and model",
		}, []string{"provider", "model"}),

		OrchestratorWaves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osa_orchestrator_waves_total",
			Help: "Total orchestrator dependency waves executed, by outcome",
		}, []string{"outcome"}),

		OrchestratorSubAgents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osa_orchestrator_subagents_total",
			Help: "Total sub-agent runs dispatched by the orchestrator, by status",
		}, []string{"status"}),

		OrchestratorWaveLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "osa_orchestrator_wave_duration_seconds",
			Help:    "Wall-clock duration of one orchestrator wave",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "osa_active_sessions",
			Help: "Current number of sessions held by the Session Store",
		}),

		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "osa_session_duration_seconds",
			Help:    "Lifetime of a session from creation to eviction or close",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
		}),

		SessionIdleEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "osa_session_idle_evictions_total",
			Help: "Total sessions evicted by the idle sweeper",
		}),

		BudgetExceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osa_budget_exceeded_total",
			Help: "Total requests rejected for exceeding a spend cap, by scope",
		}, []string{"scope"}),
	}
}

// RecordProviderRequest records a completed LLM call: status, latency,
// token usage, and estimated cost in one call so sites that wrap a
// provider call don't have to touch five collectors individually.
func (m *Metrics) RecordProviderRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int, costUSD float64) {
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
	if costUSD > 0 {
		m.ProviderCostUSD.WithLabelValues(provider, model).Add(costUSD)
	}
}

// RecordToolExecution records one completed tool call.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordOrchestratorWave records one wave's outcome and latency.
func (m *Metrics) RecordOrchestratorWave(outcome string, durationSeconds float64, successCount, failureCount int) {
	m.OrchestratorWaves.WithLabelValues(outcome).Inc()
	m.OrchestratorWaveLatency.WithLabelValues(outcome).Observe(durationSeconds)
	if successCount > 0 {
		m.OrchestratorSubAgents.WithLabelValues("success").Add(float64(successCount))
	}
	if failureCount > 0 {
		m.OrchestratorSubAgents.WithLabelValues("error").Add(float64(failureCount))
	}
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active session gauge and records its
// lifetime.
func (m *Metrics) SessionEnded(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}
