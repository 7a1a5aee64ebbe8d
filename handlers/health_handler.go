package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/chat-relay/repositories"
	"github.com/upb/chat-relay/utils"
)

// ChunkCounter reports how many chunks the similarity backend holds
type ChunkCounter interface {
	Count(ctx context.Context) (int, error)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp,omitempty"`
	Checks     map[string]string `json:"checks,omitempty"`
	ChunkCount *int              `json:"chunk_count,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db      repositories.HealthChecker
	chunks  ChunkCounter
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil when the
// similarity backend is not database backed.
func NewHealthHandler(db repositories.HealthChecker, chunks ChunkCounter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		chunks:  chunks,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// HandleHealth handles GET /healthz
// Liveness only: returns 200 whenever the process is serving
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string)
	ready := true

	if h.db != nil {
		if err := h.db.HealthCheck(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			checks["database"] = "unhealthy"
			ready = false
		} else {
			checks["database"] = "healthy"
		}
	}

	response := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if h.chunks != nil && ready {
		count, err := h.chunks.Count(ctx)
		if err != nil {
			h.logger.Warn("chunk count failed", zap.Error(err))
			checks["chunks"] = "unavailable"
			ready = false
		} else {
			checks["chunks"] = "available"
			if count == 0 {
				checks["chunks"] = "empty"
			}
			response.ChunkCount = &count
		}
	}

	httpStatus := http.StatusOK
	if !ready {
		response.Status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	if err := utils.WriteJSON(w, httpStatus, response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
