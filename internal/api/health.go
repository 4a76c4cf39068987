package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger is a dependency whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the unauthenticated service status endpoints.
type HealthHandler struct {
	store   Pinger
	backend Pinger // image workflow backend; nil when image mode is off
	version string
}

// NewHealthHandler creates the health endpoints. backend may be nil.
func NewHealthHandler(store Pinger, backend Pinger, version string) *HealthHandler {
	return &HealthHandler{store: store, backend: backend, version: version}
}

// HandleBanner returns the service banner.
// GET /
func (h *HealthHandler) HandleBanner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "ai-gateway",
		"version": h.version,
	})
}

// HandleHealth returns basic liveness status.
// GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady checks that the credential store (and the workflow backend,
// when configured) are reachable.
// GET /ready
// Returns 200 when everything answers, 503 otherwise.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]any{"status": "ok"}
	healthy := true

	if h.store == nil {
		status["database"] = "not configured"
		healthy = false
	} else if err := h.store.Ping(ctx); err != nil {
		status["database"] = "unavailable"
		healthy = false
	} else {
		status["database"] = "connected"
	}

	if h.backend != nil {
		if err := h.backend.Ping(ctx); err != nil {
			status["workflow_backend"] = "unavailable"
			healthy = false
		} else {
			status["workflow_backend"] = "connected"
		}
	}

	if !healthy {
		status["status"] = "error"
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
