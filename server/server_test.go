package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/stream-tender/recorder"
	"github.com/onnwee/stream-tender/telemetry"
)

type staticStatus recorder.Status

func (s staticStatus) Snapshot() recorder.Status { return recorder.Status(s) }

func serve(t *testing.T, h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		status     recorder.Status
		maxAge     time.Duration
		wantStatus int
	}{
		{"before first tick", recorder.Status{}, 0, http.StatusServiceUnavailable},
		{"ticking", recorder.Status{Ticks: 3, LastTick: now}, time.Minute, http.StatusOK},
		{"stale", recorder.Status{Ticks: 3, LastTick: now.Add(-time.Hour)}, time.Minute, http.StatusServiceUnavailable},
		{"no staleness check", recorder.Status{Ticks: 1, LastTick: now.Add(-time.Hour)}, 0, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(t, NewRouter(staticStatus(tt.status), tt.maxAge), "/healthz", nil)
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d, body=%s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if tt.wantStatus == http.StatusOK && rr.Body.String() != "ok" {
				t.Fatalf("expected ok body, got %q", rr.Body.String())
			}
		})
	}
}

func TestStatusJSON(t *testing.T) {
	st := recorder.Status{
		Recording: []recorder.Recording{{JobID: "j1", Login: "alice", StreamID: "123", Stage: "capturing"}},
		Halted:    []string{"9"},
		Tracked:   []string{"alice", "bob"},
		Ticks:     7,
	}
	rr := serve(t, NewRouter(staticStatus(st), 0), "/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var got recorder.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Recording) != 1 || got.Recording[0].Login != "alice" || got.Ticks != 7 || len(got.Tracked) != 2 {
		t.Fatalf("unexpected status %+v", got)
	}
}

func TestCorrelationHeader(t *testing.T) {
	h := NewRouter(staticStatus(recorder.Status{Ticks: 1}), 0)

	rr := serve(t, h, "/healthz", http.Header{"X-Correlation-Id": {"abc-123"}})
	if got := rr.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Fatalf("correlation id = %q, want abc-123", got)
	}
	rr = serve(t, h, "/healthz", nil)
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Fatal("expected a generated correlation id")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	telemetry.Init()
	telemetry.TicksTotal.Inc()
	rr := serve(t, NewRouter(staticStatus(recorder.Status{}), 0), "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "recorder_ticks_total") {
		t.Fatal("metrics output missing recorder_ticks_total")
	}
}

func TestUnknownRoute(t *testing.T) {
	rr := serve(t, NewRouter(staticStatus(recorder.Status{}), 0), "/vods", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, addr, staticStatus(recorder.Status{Ticks: 1}), 0) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server did not come up: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
