package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the server and the voice client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveRooms       prometheus.Gauge
	TokenRequests     *prometheus.CounterVec
	ToolCalls         *prometheus.CounterVec
	SessionStates     *prometheus.CounterVec
	ConnectAttempts   *prometheus.CounterVec
	Teardowns         *prometheus.CounterVec
	WakewordTriggers  prometheus.Counter
	ConnectLatency    prometheus.Histogram
	RecognitionErrors *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveRooms: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of issued rooms that have not expired.",
		}),
		TokenRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_requests_total",
			Help:      "Session token exchanges by outcome.",
		}, []string{"outcome"}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Task store tool calls by tool and HTTP status class.",
		}, []string{"tool", "status"}),
		SessionStates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_state_transitions_total",
			Help:      "Voice session state transitions by target state.",
		}, []string{"state"}),
		ConnectAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Voice session connect attempts by outcome.",
		}, []string{"outcome"}),
		Teardowns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_teardowns_total",
			Help:      "Voice session teardowns by reason.",
		}, []string{"reason"}),
		WakewordTriggers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wakeword_triggers_total",
			Help:      "Wakeword matches that armed a session.",
		}),
		ConnectLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_ms",
			Help:      "Latency from connect request to room connected in milliseconds.",
			Buckets:   []float64{250, 500, 750, 1000, 1500, 2000, 3000, 5000},
		}),
		RecognitionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_errors_total",
			Help:      "Wakeword recognition engine errors by code.",
		}, []string{"code"}),
	}
}

func (m *Metrics) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.SessionStates.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveConnect(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(outcome).Inc()
	if outcome == "connected" {
		m.ConnectLatency.Observe(float64(d.Milliseconds()))
	}
}

func (m *Metrics) ObserveTeardown(reason string) {
	if m == nil {
		return
	}
	m.Teardowns.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveWakeword() {
	if m == nil {
		return
	}
	m.WakewordTriggers.Inc()
}

func (m *Metrics) ObserveRecognitionError(code string) {
	if m == nil {
		return
	}
	m.RecognitionErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) ObserveToken(outcome string) {
	if m == nil {
		return
	}
	m.TokenRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveToolCall(tool string, status int) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, statusClass(status)).Inc()
}

func (m *Metrics) SetActiveRooms(n int) {
	if m == nil {
		return
	}
	m.ActiveRooms.Set(float64(n))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
