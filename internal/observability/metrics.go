package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/gridiron/pkg/models"
)

// Metrics collects gridiron's Prometheus series. It satisfies the observer
// interfaces of the engine, the tool dispatcher and the browser pool.
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	engine := agent.NewEngine(model, store, dispatcher, cfg, agent.WithObserver(metrics))
type Metrics struct {
	// TurnCounter counts finished turns.
	// Labels: outcome (done or an error kind)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures a turn from request to terminal event.
	TurnDuration prometheus.Histogram

	// ModelRequestDuration measures model invocations.
	// Labels: model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model invocations.
	// Labels: model, status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool calls.
	// Labels: tool_name, status (ok|error), error_kind
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool calls.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// CheckpointDuration measures checkpoint writes.
	// Labels: status (success|error)
	CheckpointDuration *prometheus.HistogramVec

	// BrowserSessionsActive is the number of open browser sessions.
	BrowserSessionsActive prometheus.Gauge

	// BrowserSessionsClosed counts closed browser sessions.
	// Labels: reason (explicit|idle|shutdown)
	BrowserSessionsClosed *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers every series with reg. Pass prometheus.NewRegistry()
// in tests so runs stay isolated.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridiron_turns_total",
				Help: "Total number of turns by outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gridiron_turn_duration_seconds",
				Help:    "Duration of turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gridiron_model_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
		ModelRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridiron_model_requests_total",
				Help: "Total number of model requests by model and status",
			},
			[]string{"model", "status"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridiron_tool_executions_total",
				Help: "Total number of tool executions by tool, status and error kind",
			},
			[]string{"tool_name", "status", "error_kind"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gridiron_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		CheckpointDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gridiron_checkpoint_save_duration_seconds",
				Help:    "Duration of checkpoint writes in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"status"},
		),
		BrowserSessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gridiron_browser_sessions_active",
				Help: "Number of open browser sessions",
			},
		),
		BrowserSessionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridiron_browser_sessions_closed_total",
				Help: "Total number of closed browser sessions by reason",
			},
			[]string{"reason"},
		),
		gatherer: reg,
	}
}

// TurnCompleted records a finished turn.
func (m *Metrics) TurnCompleted(outcome string, elapsed time.Duration) {
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(elapsed.Seconds())
}

// ModelInvoked records one model request.
func (m *Metrics) ModelInvoked(model string, elapsed time.Duration, err error) {
	m.ModelRequestDuration.WithLabelValues(model).Observe(elapsed.Seconds())
	m.ModelRequestCounter.WithLabelValues(model, statusOf(err)).Inc()
}

// CheckpointSaved records one checkpoint write.
func (m *Metrics) CheckpointSaved(err error, elapsed time.Duration) {
	m.CheckpointDuration.WithLabelValues(statusOf(err)).Observe(elapsed.Seconds())
}

// ToolExecuted records one dispatched tool call.
func (m *Metrics) ToolExecuted(name string, status models.ToolStatus, kind models.ToolErrorKind, elapsed time.Duration) {
	m.ToolExecutionCounter.WithLabelValues(name, string(status), string(kind)).Inc()
	m.ToolExecutionDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (m *Metrics) SessionsActive(n int) {
	m.BrowserSessionsActive.Set(float64(n))
}

func (m *Metrics) SessionsClosed(reason string, n int) {
	m.BrowserSessionsClosed.WithLabelValues(reason).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
