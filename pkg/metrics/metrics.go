// Package metrics exposes Prometheus instruments for voice turns and a
// per-turn latency tracker.
//
// All Record methods are safe to call on a nil *Metrics, so components can
// take metrics as an optional dependency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	// Turns
	TurnsTotal    *prometheus.CounterVec
	FailuresTotal *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	// Degraded mode
	FallbackActive  prometheus.Gauge
	FallbackReplies prometheus.Counter

	// Recording
	RecordingsTotal   *prometheus.CounterVec
	RecordingDuration prometheus.Histogram

	// Speech
	SpeechTasksTotal *prometheus.CounterVec
	SpeechQueueDepth prometheus.Gauge

	// Sessions
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter
}

// New creates metrics registered on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "echospeak"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Completed voice turns by outcome",
			},
			[]string{"outcome"},
		),
		FailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Turn failures by kind",
			},
			[]string{"kind"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Latency of each turn stage measured from capture end",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"stage"},
		),
		FallbackActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fallback_active",
			Help:      "1 while replies come from the local fallback generator",
		}),
		FallbackReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_replies_total",
			Help:      "Replies produced by the local fallback generator",
		}),
		RecordingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recordings_total",
				Help:      "Finalized recording sessions by reason",
			},
			[]string{"reason"},
		),
		RecordingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Length of captured audio",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		SpeechTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "speech_tasks_total",
				Help:      "Speech queue tasks by status",
			},
			[]string{"status"},
		),
		SpeechQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speech_queue_depth",
			Help:      "Tasks waiting in or playing from the speech queue",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open conversation sessions",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Conversation sessions started",
		}),
	}

	registry.MustRegister(
		m.TurnsTotal,
		m.FailuresTotal,
		m.StageDuration,
		m.FallbackActive,
		m.FallbackReplies,
		m.RecordingsTotal,
		m.RecordingDuration,
		m.SpeechTasksTotal,
		m.SpeechQueueDepth,
		m.SessionsActive,
		m.SessionsTotal,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn counts a turn that reached Idle with a reply.
func (m *Metrics) RecordTurn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// RecordFailure counts one failure of the given kind.
func (m *Metrics) RecordFailure(kind string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(kind).Inc()
}

// RecordStage observes a stage latency.
func (m *Metrics) RecordStage(stage string, d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetFallback reports whether fallback mode is latched.
func (m *Metrics) SetFallback(active bool) {
	if m == nil {
		return
	}
	if active {
		m.FallbackActive.Set(1)
	} else {
		m.FallbackActive.Set(0)
	}
}

// RecordFallbackReply counts a locally generated reply.
func (m *Metrics) RecordFallbackReply() {
	if m == nil {
		return
	}
	m.FallbackReplies.Inc()
}

// RecordRecording counts a finalized recording.
func (m *Metrics) RecordRecording(reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.RecordingsTotal.WithLabelValues(reason).Inc()
	m.RecordingDuration.Observe(d.Seconds())
}

// RecordSpeech counts a finished speech task.
func (m *Metrics) RecordSpeech(status string) {
	if m == nil {
		return
	}
	m.SpeechTasksTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth reports the speech queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.SpeechQueueDepth.Set(float64(n))
}

// SessionStarted records a new session.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// SessionEnded records a session ending.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}
