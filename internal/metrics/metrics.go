package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jarvis_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_ai_requests_total",
			Help: "Total number of AI completion requests by outcome.",
		},
		[]string{"outcome"},
	)

	AIRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jarvis_ai_request_duration_seconds",
			Help:    "AI completion request latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
	)

	StateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_state_transitions_total",
			Help: "Total number of orchestrator state transitions.",
		},
		[]string{"from", "to"},
	)

	CaptureTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jarvis_capture_timeouts_total",
			Help: "Total number of voice captures that ended without speech.",
		},
	)

	EmergencyStopsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jarvis_emergency_stops_total",
			Help: "Total number of emergency stops.",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jarvis_active_sessions",
			Help: "Number of open voice sessions.",
		},
	)

	DevicesConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jarvis_devices_connected",
			Help: "Number of connected device WebSockets.",
		},
	)

	NotificationsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jarvis_notifications_dropped_total",
			Help: "Total number of session notifications dropped because a sink queue was full.",
		},
	)

	SessionsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jarvis_sessions_reaped_total",
			Help: "Total number of idle sessions closed without a connected device.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AIRequestsTotal,
		AIRequestDuration,
		StateTransitionsTotal,
		CaptureTimeoutsTotal,
		EmergencyStopsTotal,
		ActiveSessions,
		DevicesConnected,
		NotificationsDroppedTotal,
		SessionsReapedTotal,
	)
}
