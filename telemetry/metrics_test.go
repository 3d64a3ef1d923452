package telemetry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init() // second call must not re-register

	if TicksTotal == nil || RecordingsStarted == nil || ConfigReloads == nil {
		t.Fatal("counters not initialized")
	}
	if CaptureDuration == nil || RemuxDuration == nil || MoveDuration == nil || TotalProcessDuration == nil {
		t.Fatal("histograms not initialized")
	}
	if ActiveRecordings == nil || HaltedStreams == nil || TrackedUsers == nil || QueueDepthGauge == nil {
		t.Fatal("gauges not initialized")
	}
}

func TestRecordReload(t *testing.T) {
	Init()
	okBefore := testutil.ToFloat64(ConfigReloads.WithLabelValues("ok"))
	failedBefore := testutil.ToFloat64(ConfigReloads.WithLabelValues("failed"))

	RecordReload(true)
	RecordReload(false)
	RecordReload(false)

	if got := testutil.ToFloat64(ConfigReloads.WithLabelValues("ok")) - okBefore; got != 1 {
		t.Errorf("ok reloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ConfigReloads.WithLabelValues("failed")) - failedBefore; got != 2 {
		t.Errorf("failed reloads = %v, want 2", got)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	Init()
	for _, depth := range []int{0, 10, 3} {
		SetQueueDepth(depth)
		if got := testutil.ToFloat64(QueueDepthGauge); got != float64(depth) {
			t.Fatalf("queue depth = %v, want %d", got, depth)
		}
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})
	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || metric.Histogram.GetSampleCount() != 1 {
		t.Fatal("TimeFunc did not record observation in histogram")
	}

	// A nil observer only measures.
	if d := TimeFunc(nil, func() {}); d < 0 {
		t.Fatal("negative duration")
	}
}

func TestCaptureDurationBuckets(t *testing.T) {
	Init()
	h, ok := CaptureDuration.(prometheus.Histogram)
	if !ok {
		t.Fatal("CaptureDuration is not a histogram")
	}
	h.Observe((3 * time.Hour).Seconds())
	metric := &dto.Metric{}
	if err := h.Write(metric); err != nil {
		t.Fatal(err)
	}
	buckets := metric.Histogram.GetBucket()
	if len(buckets) < 10 || buckets[0].GetUpperBound() != 60 || buckets[9].GetUpperBound() != 60*512 {
		t.Fatalf("unexpected capture buckets: %v", buckets)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Fatal("expected empty correlation id")
	}
	if LoggerWithCorr(ctx) != slog.Default() {
		t.Fatal("expected default logger without correlation id")
	}
	ctx = WithCorrelation(ctx, "tick-1")
	if got := GetCorrelation(ctx); got != "tick-1" {
		t.Fatalf("correlation id = %q", got)
	}
	if LoggerWithCorr(ctx) == slog.Default() {
		t.Fatal("expected a derived logger")
	}
}
