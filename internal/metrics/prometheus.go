package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Direction labels for relayed traffic.
const (
	DirectionInbound  = "inbound"  // caller to upstream
	DirectionOutbound = "outbound" // upstream to caller
)

// Metrics contains all Prometheus metrics for the relay service.
type Metrics struct {
	// Relay session metrics
	ActiveSessions prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// Traffic metrics
	FramesRelayed *prometheus.CounterVec
	BytesRelayed  *prometheus.CounterVec

	// Frames buffered per session before the upstream opened
	PendingFrames prometheus.Histogram

	// Upstream connection metrics
	UpstreamDialDuration prometheus.Histogram
	UpstreamDialFailures prometheus.Counter

	// Requests rejected before a session started
	RejectedRequests *prometheus.CounterVec
}

// New creates and registers all relay metrics. Passing nil registers
// on the default registry; tests pass their own to stay isolated.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asr_relay_active_sessions",
			Help: "Current number of active relay sessions",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_relay_sessions_total",
			Help: "Total number of relay sessions started",
		}),
		FramesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_relay_frames_total",
			Help: "Total number of frames relayed",
		}, []string{"direction"}),
		BytesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_relay_bytes_total",
			Help: "Total number of payload bytes relayed",
		}, []string{"direction"}),
		PendingFrames: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_relay_pending_frames",
			Help:    "Frames buffered per session before the upstream connection opened",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128 frames
		}),
		UpstreamDialDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_relay_upstream_dial_seconds",
			Help:    "Time spent establishing the upstream connection",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		}),
		UpstreamDialFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_relay_upstream_dial_failures_total",
			Help: "Total number of failed upstream dials",
		}),
		RejectedRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_relay_rejected_requests_total",
			Help: "Requests rejected before a relay session started",
		}, []string{"reason"}),
	}
}

// RecordSessionStarted tracks a new relay session.
func (m *Metrics) RecordSessionStarted() {
	m.SessionsTotal.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEnded tracks a finished relay session.
func (m *Metrics) RecordSessionEnded() {
	m.ActiveSessions.Dec()
}

// RecordFrameRelayed counts one relayed frame and its payload size.
func (m *Metrics) RecordFrameRelayed(direction string, sizeBytes int) {
	m.FramesRelayed.WithLabelValues(direction).Inc()
	m.BytesRelayed.WithLabelValues(direction).Add(float64(sizeBytes))
}

// RecordPendingFlush records how many frames waited for the upstream.
func (m *Metrics) RecordPendingFlush(count int) {
	m.PendingFrames.Observe(float64(count))
}

// RecordUpstreamDial records a dial attempt.
func (m *Metrics) RecordUpstreamDial(seconds float64, failed bool) {
	m.UpstreamDialDuration.Observe(seconds)
	if failed {
		m.UpstreamDialFailures.Inc()
	}
}

// RecordRejectedRequest counts a request turned away at the door.
func (m *Metrics) RecordRejectedRequest(reason string) {
	m.RejectedRequests.WithLabelValues(reason).Inc()
}
