// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	TicksTotal           prometheus.Counter
	RecordingsStarted    prometheus.Counter
	CaptureSpawnFailures prometheus.Counter
	CapturesCompleted    prometheus.Counter
	PollErrors           prometheus.Counter
	LivenessFailures     prometheus.Counter
	ConfigReloads        *prometheus.CounterVec // result=ok|failed
	PostProcessSucceeded prometheus.Counter
	PostProcessAbandoned prometheus.Counter

	// Histograms (seconds)
	CaptureDuration      prometheus.Observer
	RemuxDuration        prometheus.Observer
	MoveDuration         prometheus.Observer
	TotalProcessDuration prometheus.Observer

	// Gauges
	ActiveRecordings prometheus.Gauge
	HaltedStreams    prometheus.Gauge
	TrackedUsers     prometheus.Gauge
	QueueDepthGauge  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		TicksTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "recorder_ticks_total", Help: "Number of reconciliation ticks"})
		RecordingsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "recorder_recordings_started_total", Help: "Number of capture processes started"})
		CaptureSpawnFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "recorder_capture_spawn_failures_total", Help: "Number of capture processes that failed to start"})
		CapturesCompleted = promauto.NewCounter(prometheus.CounterOpts{Name: "recorder_captures_completed_total", Help: "Number of captures handed to post-processing"})
		PollErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "recorder_poll_errors_total", Help: "Number of capture polls that failed; the job is dropped"})
		LivenessFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "recorder_liveness_failures_total", Help: "Number of failed live stream queries"})
		ConfigReloads = promauto.NewCounterVec(prometheus.CounterOpts{Name: "recorder_config_reloads_total", Help: "Configuration reload attempts by result"}, []string{"result"})
		PostProcessSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "recorder_postprocess_succeeded_total", Help: "Number of jobs that reached the final directory"})
		PostProcessAbandoned = promauto.NewCounter(prometheus.CounterOpts{Name: "recorder_postprocess_abandoned_total", Help: "Number of jobs abandoned during post-processing"})
		CaptureDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "recorder_capture_duration_seconds", Help: "Capture duration seconds", Buckets: prometheus.ExponentialBuckets(60, 2, 10)})
		RemuxDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "recorder_remux_duration_seconds", Help: "Remux duration seconds", Buckets: prometheus.DefBuckets})
		MoveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "recorder_move_duration_seconds", Help: "Move duration seconds", Buckets: prometheus.DefBuckets})
		TotalProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "recorder_postprocess_total_duration_seconds", Help: "Total post-processing duration seconds", Buckets: prometheus.DefBuckets})
		ActiveRecordings = promauto.NewGauge(prometheus.GaugeOpts{Name: "recorder_active_recordings", Help: "Current number of capturing jobs"})
		HaltedStreams = promauto.NewGauge(prometheus.GaugeOpts{Name: "recorder_halted_streams", Help: "Current number of live streams excluded from recording"})
		TrackedUsers = promauto.NewGauge(prometheus.GaugeOpts{Name: "recorder_tracked_users", Help: "Current number of resolved channels"})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "recorder_postprocess_queue_depth", Help: "Jobs waiting for post-processing"})
	})
}

// SetQueueDepth records the number of jobs waiting for the worker.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// RecordReload counts a reload attempt.
func RecordReload(ok bool) {
	if ConfigReloads == nil {
		return
	}
	if ok {
		ConfigReloads.WithLabelValues("ok").Inc()
	} else {
		ConfigReloads.WithLabelValues("failed").Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
