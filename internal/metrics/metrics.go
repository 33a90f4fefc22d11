package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Link metrics
	ChunksTransmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hde_chunks_transmitted_total",
			Help: "Total chunks put on the air",
		},
	)

	ChunksReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hde_chunks_received_total",
			Help: "Total chunks taken off the air",
		},
	)

	TransmitTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hde_transmit_timeouts_total",
			Help: "Total transmissions not confirmed by the radio in time",
		},
	)

	LinkRSSI = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hde_link_rssi_dbm",
			Help: "Signal strength of the last received payload",
		},
	)

	LinkSNR = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hde_link_snr_db",
			Help: "Signal to noise ratio of the last received payload",
		},
	)

	// Codec metrics
	FramesDecoded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hde_frames_decoded_total",
			Help: "Total frames decoded",
		},
	)

	FrameErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hde_frame_errors_total",
			Help: "Total received frames dropped",
		},
		[]string{"reason"}, // "crc", "version", "truncated", "control", "radio"
	)

	BuffersEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hde_reassembly_buffers_evicted_total",
			Help: "Total partial batches dropped by the sweep",
		},
	)

	// Node metrics
	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hde_outbox_depth",
			Help: "Frames waiting for the transmit drainer",
		},
	)

	MessagesSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hde_messages_submitted_total",
			Help: "Total messages submitted locally",
		},
	)

	MessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hde_messages_received_total",
			Help: "Total new messages received from peers",
		},
	)

	Handshakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hde_handshakes_total",
			Help: "Total handshakes initiated",
		},
		[]string{"result"}, // "found", "not_found", "error"
	)

	SyncSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hde_sync_sessions_total",
			Help: "Total checksum-sync sessions",
		},
		[]string{"result"}, // "converged", "incomplete", "error"
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hde_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hde_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
		},
		[]string{"method", "path"},
	)
)
