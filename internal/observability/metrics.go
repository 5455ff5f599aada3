package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "comlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comlink",
			Subsystem: "tls",
			Name:      "handshakes_total",
			Help:      "TLS handshakes by role and outcome.",
		},
		[]string{"role", "success"},
	)
	handshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "comlink",
			Subsystem: "tls",
			Name:      "handshake_duration_seconds",
			Help:      "TLS handshake duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role"},
	)
	chunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comlink",
			Subsystem: "chunk",
			Name:      "total",
			Help:      "Chunks transferred by direction and outcome.",
		},
		[]string{"direction", "result"},
	)
	chunkBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comlink",
			Subsystem: "chunk",
			Name:      "content_bytes_total",
			Help:      "Chunk content bytes transferred, headers excluded.",
		},
		[]string{"direction"},
	)
	connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "comlink",
			Subsystem: "host",
			Name:      "connections_active",
			Help:      "Channels currently held by a host.",
		},
		[]string{"node"},
	)
)

const (
	DirectionRead  = "read"
	DirectionWrite = "write"

	ResultOK       = "ok"
	ResultTimeout  = "timeout"
	ResultChecksum = "checksum"
	ResultClosed   = "closed"
	ResultError    = "error"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			handshakes, handshakeDuration,
			chunks, chunkBytes,
			connections,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordHandshake(role string, duration time.Duration, success bool) {
	RegisterMetrics()
	handshakes.WithLabelValues(role, strconv.FormatBool(success)).Inc()
	handshakeDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// RecordChunk counts one chunk. size is the content length and is only
// added for successful transfers.
func RecordChunk(direction, result string, size int) {
	RegisterMetrics()
	chunks.WithLabelValues(direction, result).Inc()
	if result == ResultOK && size > 0 {
		chunkBytes.WithLabelValues(direction).Add(float64(size))
	}
}

func ConnectionOpened(node string) {
	RegisterMetrics()
	connections.WithLabelValues(node).Inc()
}

func ConnectionClosed(node string) {
	RegisterMetrics()
	connections.WithLabelValues(node).Dec()
}
