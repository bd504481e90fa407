package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks a dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the store and queue are reachable
type HealthHandler struct {
	Store Pinger
	// Queue is nil when no queue is configured
	Queue Pinger
}

// HealthResponse is the body of /healthz
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Healthz pings every configured dependency
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK

	check := func(name string, p Pinger) {
		if err := p.Ping(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			return
		}
		resp.Checks[name] = "ok"
	}

	check("store", h.Store)
	if h.Queue != nil {
		check("queue", h.Queue)
	}

	writeJSON(w, status, resp)
}
