package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	registry *prometheus.Registry
	stages   *stageWindow

	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	OutboundMessages *prometheus.CounterVec
	BackendCalls     *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	SynthChunks      *prometheus.CounterVec
	TurnTransitions  *prometheus.CounterVec
	TurnLatency      *prometheus.HistogramVec
}

// NewMetrics registers instruments on a private registry so that several
// instances (tests, the CLI) can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stages:   newStageWindow(256),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of attached voice sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		OutboundMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound message delivery results by type.",
		}, []string{"type", "result"}),
		BackendCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Reasoning backend calls by backend and result.",
		}, []string{"backend", "result"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Answer cache lookups by result.",
		}, []string{"result"}),
		SynthChunks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_chunks_total",
			Help:      "Synthesized reply chunks by result.",
		}, []string{"result"}),
		TurnTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_transitions_total",
			Help:      "Turn controller phase transitions.",
		}, []string{"from", "to"}),
		TurnLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_ms",
			Help:      "Turn stage latency in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 700, 900, 1200, 2000, 4000, 8000},
		}, []string{"stage"}),
	}
}

// ObserveStage records a turn stage latency in both the histogram and the
// rolling percentile window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.TurnLatency.WithLabelValues(stage).Observe(ms)
	m.stages.Observe(stage, ms)
}

// ObserveIndicator counts a named turn indicator (barge-in, cache hit, ...).
func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	if m == nil {
		return
	}
	m.OutboundMessages.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) Event(name string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(name).Inc()
}

// StageSnapshot returns the rolling latency window.
func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) BackendCall(backend, result string) {
	if m == nil {
		return
	}
	m.BackendCalls.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) SynthChunk(result string) {
	if m == nil {
		return
	}
	m.SynthChunks.WithLabelValues(result).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.TurnTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) WSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
