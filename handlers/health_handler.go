package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/api-gatekeeper/jwks"
	"github.com/upb/api-gatekeeper/utils"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	KeySet    *jwks.Stats       `json:"key_set,omitempty"`
}

// KeySetStatus reports the state of the signing key set
type KeySetStatus interface {
	Ready() bool
	Stats() jwks.Stats
}

// keySetWarmer is implemented by key sets that load lazily
type keySetWarmer interface {
	Warm(ctx context.Context) error
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	keys    KeySetStatus
	logger  *zap.Logger
	timeout time.Duration
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(keys KeySetStatus, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		keys:    keys,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// HandleHealth handles GET /api/health
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteJSON(w, http.StatusOK, response)
}

// HandleReadiness handles GET /api/ready
// Ready once the signing keys are loaded; a lazy key set is loaded on demand.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.checkKeySet(ctx); err != nil {
		h.logger.Warn("key set readiness check failed", zap.Error(err))
		checks["jwks"] = "unhealthy"
		allHealthy = false
	} else {
		checks["jwks"] = "healthy"
	}

	// Determine overall status
	status := "ready"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	if h.keys != nil {
		stats := h.keys.Stats()
		response.KeySet = &stats
	}

	if err := utils.WriteJSON(w, httpStatus, response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkKeySet loads the key set when it supports lazy loading and is not cached yet
func (h *HealthHandler) checkKeySet(ctx context.Context) error {
	if h.keys == nil {
		return errNoKeySet
	}
	if h.keys.Ready() {
		return nil
	}
	if w, ok := h.keys.(keySetWarmer); ok {
		return w.Warm(ctx)
	}
	return errKeySetNotReady
}
