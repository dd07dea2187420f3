package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"printcalc/internal/service"
	"printcalc/internal/service/analyzer"
	"printcalc/pkg/logger"
)

// DependencyChecker pings the stores the service depends on
type DependencyChecker interface {
	DependencyHealth(ctx context.Context) map[string]error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	backends service.BackendHealth
	deps     DependencyChecker
	logger   *logger.Logger
}

// NewHealthHandler creates a new health handler. backends and deps may be nil.
func NewHealthHandler(backends service.BackendHealth, deps DependencyChecker, logger *logger.Logger) *HealthHandler {
	return &HealthHandler{
		backends: backends,
		deps:     deps,
		logger:   logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string                   `json:"status"`
	Timestamp    time.Time                `json:"timestamp"`
	Version      string                   `json:"version"`
	Service      string                   `json:"service"`
	Backends     []analyzer.BackendStatus `json:"backends"`
	Dependencies map[string]string        `json:"dependencies,omitempty"`
}

// Check handles GET /health. A failing store makes the service unhealthy;
// unavailable analyzer backends only degrade it since fallback may still work.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Health check requested")

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   "1.0.0",
		Service:   "printcalc",
		Backends:  []analyzer.BackendStatus{},
	}
	statusCode := http.StatusOK

	if h.backends != nil {
		response.Backends = h.backends.Snapshot()
		available := 0
		for _, b := range response.Backends {
			if b.Available {
				available++
			}
		}
		if available < len(response.Backends) {
			response.Status = "degraded"
		}
	}

	if h.deps != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := h.deps.DependencyHealth(ctx)
		response.Dependencies = make(map[string]string, len(checks))
		for name, err := range checks {
			if err != nil {
				response.Dependencies[name] = err.Error()
				response.Status = "unhealthy"
				statusCode = http.StatusServiceUnavailable
				continue
			}
			response.Dependencies[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithError(err).Error("Failed to encode health check response")
		return
	}

	h.logger.WithField("status", response.Status).Debug("Health check completed")
}
