package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

const healthCheckTimeout = 5 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthInfo describes the running service.
type HealthInfo struct {
	Environment  string
	StoreBackend string
	Gateway      string
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store Pinger
	info  HealthInfo
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store Pinger, info HealthInfo) *HealthHandler {
	return &HealthHandler{store: store, info: info}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]any{
		"status":      "healthy",
		"version":     Version,
		"environment": h.info.Environment,
		"store":       h.info.StoreBackend,
		"gateway":     h.info.Gateway,
		"using_cli":   h.info.Gateway == "cli",
		"checks":      checks,
	}
	statusCode := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["store"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
