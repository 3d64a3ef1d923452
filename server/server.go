// Package server exposes the optional operations listener: liveness, a JSON
// snapshot of the recorder, and Prometheus metrics. Requests carry a correlation
// id in their context for consistent logging.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/stream-tender/recorder"
)

// StatusProvider returns the latest recorder snapshot. It must be safe for concurrent use.
type StatusProvider interface {
	Snapshot() recorder.Status
}

// NewRouter returns the handler with all routes. A positive maxTickAge makes
// /healthz fail when the loop has not ticked for that long.
func NewRouter(p StatusProvider, maxTickAge time.Duration) http.Handler {
	h := &handlers{status: p, maxTickAge: maxTickAge, now: time.Now}

	r := chi.NewRouter()
	r.Use(withCorrelation)
	r.Use(requestLogger)
	r.Get("/healthz", h.healthz)
	r.Get("/status", h.statusJSON)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, p StatusProvider, maxTickAge time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewRouter(p, maxTickAge),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
