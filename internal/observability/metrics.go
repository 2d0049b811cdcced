package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay stages tracked in the latency window.
const (
	StageModelConnect          = "model_connect"
	StageSessionUpdateToCreate = "session_updated_to_response_created"
	StageCreateToFirstAudio    = "response_created_to_first_audio"
	StageFunctionCall          = "function_call"
	StagePersistItems          = "persist_items"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions         prometheus.Gauge
	SessionEvents          *prometheus.CounterVec
	WSMessages             *prometheus.CounterVec
	DroppedFrames          *prometheus.CounterVec
	FunctionCalls          *prometheus.CounterVec
	ResponseCreateRetries  prometheus.Counter
	PersistenceErrors      *prometheus.CounterVec
	ModelErrors            *prometheus.CounterVec
	ResponseCreatedLatency prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of calls currently relayed.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by leg, direction and type.",
		}, []string{"leg", "direction", "type"}),
		DroppedFrames: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Inbound frames discarded by leg and reason.",
		}, []string{"leg", "reason"}),
		FunctionCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "function_calls_total",
			Help:      "Function calls by name and outcome.",
		}, []string{"name", "outcome"}),
		ResponseCreateRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_create_retries_total",
			Help:      "response.create requests re-issued by the watchdog or after a failed response.",
		}),
		PersistenceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Conversation store failures by operation.",
		}, []string{"op"}),
		ModelErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_errors_total",
			Help:      "Realtime model error events by code.",
		}, []string{"code"}),
		ResponseCreatedLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_created_latency_ms",
			Help:      "Latency from session.updated to response.created in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 1000, 2000, 5000, 10000},
		}),
		stages: newStageWindow(256),
	}
}

// ObserveStage records d for stage in the rolling latency window. The
// session.updated to response.created stage also feeds the histogram.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	if stage == StageSessionUpdateToCreate {
		m.ResponseCreatedLatency.Observe(ms)
	}
	m.stages.Observe(stage, ms)
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

// LatencySnapshot summarizes the rolling latency window.
func (m *Metrics) LatencySnapshot() StageSnapshot {
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
