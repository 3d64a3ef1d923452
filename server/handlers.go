package server

import (
	"encoding/json"
	"net/http"
	"time"
)

type handlers struct {
	status     StatusProvider
	maxTickAge time.Duration
	now        func() time.Time
}

// healthz reports ok once the loop has ticked, and while it keeps ticking.
func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	st := h.status.Snapshot()
	switch {
	case st.Ticks == 0:
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	case h.maxTickAge > 0 && h.now().Sub(st.LastTick) > h.maxTickAge:
		http.Error(w, "stale", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) statusJSON(w http.ResponseWriter, r *http.Request) {
	st := h.status.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		http.Error(w, "encode status", http.StatusInternalServerError)
	}
}
