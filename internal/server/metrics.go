package server

import (
	"context"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/checkin"
	"github.com/MeKo-Tech/checkscan/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkscan_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checkscan_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Decode metrics
	decodeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkscan_decode_attempts_total",
			Help: "Decode strategy attempts by outcome",
		},
		[]string{"strategy", "status"}, // status: success, miss
	)

	decodeStrategyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checkscan_decode_strategy_duration_seconds",
			Help:    "Time spent in one decode strategy",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"strategy"},
	)

	decodeExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkscan_decode_exhausted_total",
			Help: "Uploads for which no strategy produced a payload",
		},
	)

	// Session metrics
	sessionPayloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkscan_session_payloads_total",
			Help: "Payloads offered to the session",
		},
		[]string{"origin", "status"}, // status: accepted, dropped
	)

	sessionResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkscan_session_results_total",
			Help: "Results shown to the operator",
		},
		[]string{"origin", "outcome"},
	)

	sessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkscan_session_transitions_total",
			Help: "Session state changes by target mode",
		},
		[]string{"mode"},
	)

	// Submission metrics
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkscan_submissions_total",
			Help: "Check-in submissions by outcome",
		},
		[]string{"outcome"},
	)

	submissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checkscan_submission_duration_seconds",
			Help:    "Check-in request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Upload metrics
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkscan_uploads_total",
			Help: "Uploaded files by kind and status",
		},
		[]string{"kind", "status"},
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checkscan_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkscan_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "checkscan_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkscan_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received, dropped
	)

	cameraFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkscan_camera_frames_total",
			Help: "Camera frames received over WebSocket",
		},
		[]string{"status"}, // status: queued, dropped, invalid
	)
)

// decodeMetrics exports decoder.Observer events.
type decodeMetrics struct{}

func (decodeMetrics) StrategyAttempted(strategy string, success bool, d time.Duration) {
	status := "miss"
	if success {
		status = "success"
	}
	decodeAttemptsTotal.WithLabelValues(strategy, status).Inc()
	decodeStrategyDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

func (decodeMetrics) Exhausted() {
	decodeExhaustedTotal.Inc()
}

// sessionMetrics exports session.Observer events.
type sessionMetrics struct{}

func (sessionMetrics) PayloadAccepted(origin session.Origin) {
	sessionPayloadsTotal.WithLabelValues(string(origin), "accepted").Inc()
}

func (sessionMetrics) PayloadDropped(origin session.Origin) {
	sessionPayloadsTotal.WithLabelValues(string(origin), "dropped").Inc()
}

func (sessionMetrics) ResultShown(origin session.Origin, outcome checkin.Outcome) {
	sessionResultsTotal.WithLabelValues(string(origin), string(outcome)).Inc()
}

// instrumentSubmitter records outcome and duration of every submission.
func instrumentSubmitter(next checkin.Submitter) checkin.Submitter {
	return checkin.SubmitterFunc(func(ctx context.Context, payload string, cc checkin.Context) checkin.Result {
		start := time.Now()
		res := next.Submit(ctx, payload, cc)
		submissionDuration.Observe(time.Since(start).Seconds())
		submissionsTotal.WithLabelValues(string(res.Outcome)).Inc()
		return res
	})
}
