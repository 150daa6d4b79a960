package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/onnwee/danmaku-relay/relay"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	hub    *relay.Hub
	ingest *relay.Ingest
	db     *sql.DB
}

// HandleHealthz responds to liveness probe requests.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with per-subsystem checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"hub", func() error {
			if h.hub.Closed() {
				return fmt.Errorf("hub shut down")
			}
			return nil
		}},
		{"database", func() error {
			if h.db == nil {
				return nil // archive disabled
			}
			return h.db.PingContext(r.Context())
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus returns a JSON snapshot of hub and ingest state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	stats := relay.Snapshot(h.hub, h.ingest)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
