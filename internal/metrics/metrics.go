package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent runtime
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	RunTurns        *prometheus.HistogramVec
	TokensTotal     *prometheus.CounterVec
	ModelCallsTotal *prometheus.CounterVec

	// Tool metrics
	ToolCallsTotal    *prometheus.CounterVec
	ToolCallDuration  *prometheus.HistogramVec
	ToolErrorsTotal   *prometheus.CounterVec
	ImagesInjected    prometheus.Counter
	SubAgentsSpawned  prometheus.Counter
	SubAgentsFailed   prometheus.Counter

	// Benchmark metrics
	BenchCasesTotal *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter
	SessionSaves   prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_runs_total",
				Help: "Total number of agent runs by termination reason",
			},
			[]string{"agent", "termination_reason"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_run_duration_seconds",
				Help:    "Duration of agent runs in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"agent"},
		),
		RunTurns: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_run_turns",
				Help:    "Number of turns consumed per run",
				Buckets: prometheus.LinearBuckets(1, 2, 15),
			},
			[]string{"agent"},
		),
		TokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tokens_total",
				Help: "Total tokens consumed by direction (input/output)",
			},
			[]string{"agent", "direction"},
		),
		ModelCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_model_calls_total",
				Help: "Total chat-completion calls by status",
			},
			[]string{"model", "status"},
		),

		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tool_calls_total",
				Help: "Total number of tool calls",
			},
			[]string{"tool_name", "status"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),
		ToolErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tool_errors_total",
				Help: "Total number of failed tool calls",
			},
			[]string{"tool_name"},
		),
		ImagesInjected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_images_injected_total",
				Help: "Total number of case image messages injected",
			},
		),
		SubAgentsSpawned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_subagents_spawned_total",
				Help: "Total number of sub-agents spawned",
			},
		),
		SubAgentsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_subagents_failed_total",
				Help: "Total number of sub-agent tasks that errored",
			},
		),

		BenchCasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_bench_cases_total",
				Help: "Total benchmark cases evaluated by outcome",
			},
			[]string{"outcome"},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_sessions_active",
				Help: "Number of session files on disk",
			},
		),
		SessionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_sessions_total",
				Help: "Total number of sessions created",
			},
		),
		SessionSaves: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_session_saves_total",
				Help: "Total number of session writes",
			},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.RunsTotal)
	m.registry.MustRegister(m.RunDuration)
	m.registry.MustRegister(m.RunTurns)
	m.registry.MustRegister(m.TokensTotal)
	m.registry.MustRegister(m.ModelCallsTotal)

	m.registry.MustRegister(m.ToolCallsTotal)
	m.registry.MustRegister(m.ToolCallDuration)
	m.registry.MustRegister(m.ToolErrorsTotal)
	m.registry.MustRegister(m.ImagesInjected)
	m.registry.MustRegister(m.SubAgentsSpawned)
	m.registry.MustRegister(m.SubAgentsFailed)

	m.registry.MustRegister(m.BenchCasesTotal)

	m.registry.MustRegister(m.SessionsActive)
	m.registry.MustRegister(m.SessionsTotal)
	m.registry.MustRegister(m.SessionSaves)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
