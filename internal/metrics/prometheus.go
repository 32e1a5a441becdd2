package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the recorder. Each instance owns
// its registry so several controllers (and tests) can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	// Capture metrics
	ChunksCaptured  prometheus.Counter
	ChunksDiscarded prometheus.Counter
	Overflows       prometheus.Counter
	ReadErrors      prometheus.Counter

	// Session metrics
	SessionsStarted prometheus.Counter
	State           prometheus.Gauge
	ElapsedSeconds  prometheus.Gauge

	// Save metrics
	Saves        prometheus.Counter
	SaveFailures prometheus.Counter
	BytesSaved   prometheus.Counter
	SaveDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// State gauge values
const (
	StateIdle      = 0
	StateRecording = 1
	StatePaused    = 2
	StateStopped   = 3
)

// NewMetrics creates and registers all Prometheus metrics on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		ChunksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "micrecorder_chunks_captured_total",
			Help: "Total number of audio chunks appended to the frame buffer",
		}),
		ChunksDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "micrecorder_chunks_discarded_total",
			Help: "Total number of audio chunks read and dropped while paused",
		}),
		Overflows: factory.NewCounter(prometheus.CounterOpts{
			Name: "micrecorder_input_overflows_total",
			Help: "Total number of input overflows reported by the device",
		}),
		ReadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "micrecorder_read_errors_total",
			Help: "Total number of fatal device read errors",
		}),

		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "micrecorder_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		State: factory.NewGauge(prometheus.GaugeOpts{
			Name: "micrecorder_state",
			Help: "Current recorder state (0=idle, 1=recording, 2=paused, 3=stopped)",
		}),
		ElapsedSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "micrecorder_elapsed_seconds",
			Help: "Seconds spent recording in the current session",
		}),

		Saves: factory.NewCounter(prometheus.CounterOpts{
			Name: "micrecorder_saves_total",
			Help: "Total number of recordings written to disk",
		}),
		SaveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "micrecorder_save_failures_total",
			Help: "Total number of failed save attempts",
		}),
		BytesSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "micrecorder_bytes_saved_total",
			Help: "Total PCM bytes written to recordings",
		}),
		SaveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "micrecorder_save_duration_seconds",
			Help:    "Time spent serializing a recording",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "micrecorder_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "micrecorder_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "micrecorder_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordChunk counts a chunk either kept or discarded
func (m *Metrics) RecordChunk(kept bool) {
	if kept {
		m.ChunksCaptured.Inc()
	} else {
		m.ChunksDiscarded.Inc()
	}
}

func (m *Metrics) RecordOverflow() {
	m.Overflows.Inc()
}

func (m *Metrics) RecordReadError() {
	m.ReadErrors.Inc()
}

// RecordSessionStarted increments the sessions counter and resets the elapsed gauge
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ElapsedSeconds.Set(0)
}

func (m *Metrics) SetState(value int) {
	m.State.Set(float64(value))
}

func (m *Metrics) SetElapsed(seconds int) {
	m.ElapsedSeconds.Set(float64(seconds))
}

// RecordSave records a successful save
func (m *Metrics) RecordSave(bytes int, durationSeconds float64) {
	m.Saves.Inc()
	m.BytesSaved.Add(float64(bytes))
	m.SaveDuration.Observe(durationSeconds)
}

// RecordSaveFailure records a failed save
func (m *Metrics) RecordSaveFailure(durationSeconds float64) {
	m.SaveFailures.Inc()
	m.SaveDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
