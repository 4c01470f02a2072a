// Package metrics exposes Prometheus metrics for calls, audio and CRM tools.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for leadline. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Call metrics
	CallsActive   prometheus.Gauge
	CallsTotal    *prometheus.CounterVec
	CallDuration  prometheus.Histogram
	SetupFailures *prometheus.CounterVec

	// Audio metrics
	AudioBytesTotal    *prometheus.CounterVec
	AudioFramesDropped *prometheus.CounterVec
	PlaybackChunks     *prometheus.CounterVec
	Interruptions      prometheus.Counter

	// Tool metrics
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// Console metrics
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered on a
// private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "leadline"
	}

	registry := prometheus.NewRegistry()

	callsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of active calls (0 or 1)",
		},
	)

	callsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of calls by how they ended",
		},
		[]string{"reason"},
	)

	callDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	setupFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_setup_failures_total",
			Help:      "Total number of calls that failed before connecting",
		},
		[]string{"stage"},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total PCM bytes exchanged with the speech service",
		},
		[]string{"direction"},
	)

	audioFramesDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Captured frames dropped before reaching the speech service",
		},
		[]string{"reason"},
	)

	playbackChunks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_total",
			Help:      "Inbound audio chunks by outcome",
		},
		[]string{"outcome"},
	)

	interruptions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Number of times the caller interrupted the agent",
		},
	)

	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls dispatched",
		},
		[]string{"tool", "status"},
	)

	toolCallDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "CRM round-trip time per tool call",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"tool"},
	)

	httpRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Console HTTP requests",
		},
		[]string{"route", "status"},
	)

	registry.MustRegister(
		callsActive,
		callsTotal,
		callDuration,
		setupFailures,
		audioBytesTotal,
		audioFramesDropped,
		playbackChunks,
		interruptions,
		toolCallsTotal,
		toolCallDuration,
		httpRequestsTotal,
	)

	return &Metrics{
		registry:           registry,
		CallsActive:        callsActive,
		CallsTotal:         callsTotal,
		CallDuration:       callDuration,
		SetupFailures:      setupFailures,
		AudioBytesTotal:    audioBytesTotal,
		AudioFramesDropped: audioFramesDropped,
		PlaybackChunks:     playbackChunks,
		Interruptions:      interruptions,
		ToolCallsTotal:     toolCallsTotal,
		ToolCallDuration:   toolCallDuration,
		HTTPRequestsTotal:  httpRequestsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCallStart records a call entering the connected state.
func (m *Metrics) RecordCallStart() {
	if m == nil {
		return
	}
	m.CallsActive.Inc()
}

// RecordCallEnd records a connected call ending.
func (m *Metrics) RecordCallEnd(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CallsActive.Dec()
	m.CallsTotal.WithLabelValues(reason).Inc()
	m.CallDuration.Observe(duration.Seconds())
}

// RecordSetupFailure records a connect attempt that failed at stage.
func (m *Metrics) RecordSetupFailure(stage string) {
	if m == nil {
		return
	}
	m.SetupFailures.WithLabelValues(stage).Inc()
}

// RecordAudio records PCM bytes sent ("in") or received ("out").
func (m *Metrics) RecordAudio(direction string, bytes int) {
	if m == nil {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

// RecordDroppedFrame records a captured frame that was not sent.
func (m *Metrics) RecordDroppedFrame(reason string) {
	if m == nil {
		return
	}
	m.AudioFramesDropped.WithLabelValues(reason).Inc()
}

// RecordPlaybackChunk records the outcome of an inbound audio chunk.
func (m *Metrics) RecordPlaybackChunk(outcome string) {
	if m == nil {
		return
	}
	m.PlaybackChunks.WithLabelValues(outcome).Inc()
}

// RecordInterruption records a barge-in.
func (m *Metrics) RecordInterruption() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

// RecordToolCall records a dispatched tool call.
func (m *Metrics) RecordToolCall(tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	if duration > 0 {
		m.ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
	}
}

// RecordHTTPRequest records a console request.
func (m *Metrics) RecordHTTPRequest(route, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
}
