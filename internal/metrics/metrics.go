package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for camera sessions and document scans.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Camera sessions by outcome: "streaming", "error", "released_pending"
	SessionOutcome *prometheus.CounterVec

	// Currently open camera sessions
	ActiveSessions prometheus.Gauge

	// Capture attempts by result: "delivered", "rejected", "encoding_failed"
	Captures *prometheus.CounterVec

	// Time from Open to streaming
	AcquireLatency prometheus.Histogram

	// OCR scans by result: "ok", "invalid", "failed"
	Scans *prometheus.CounterVec

	// Scanner latency
	ScanLatency prometheus.Histogram
}

// New creates a new Metrics instance registered with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_camera_sessions_total",
			Help: "Total camera sessions by acquisition outcome",
		}, []string{"outcome"}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "idverify_camera_sessions_active",
			Help: "Camera sessions that have not been closed",
		}),

		Captures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_captures_total",
			Help: "Total capture attempts by result",
		}, []string{"result"}),

		AcquireLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "idverify_camera_acquire_duration_seconds",
			Help:    "Duration from opening a camera session until it streams",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		Scans: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_document_scans_total",
			Help: "Total document scans by result",
		}, []string{"result"}),

		ScanLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "idverify_document_scan_duration_seconds",
			Help:    "Duration of document scans including conversion",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

// ObserveSessionOutcome records how a session acquisition ended.
func (m *Metrics) ObserveSessionOutcome(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SessionOutcome.WithLabelValues(outcome).Inc()
	if outcome == "streaming" {
		m.AcquireLatency.Observe(d.Seconds())
	}
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}

// IncrementCapture records a capture attempt.
func (m *Metrics) IncrementCapture(result string) {
	if m != nil {
		m.Captures.WithLabelValues(result).Inc()
	}
}

// IncrementScan counts a scan request that never reached a scanner.
func (m *Metrics) IncrementScan(result string) {
	if m != nil {
		m.Scans.WithLabelValues(result).Inc()
	}
}

// ObserveScan records a document scan.
func (m *Metrics) ObserveScan(result string, d time.Duration) {
	if m != nil {
		m.Scans.WithLabelValues(result).Inc()
		m.ScanLatency.Observe(d.Seconds())
	}
}
